// Package database provides SQLite connectivity for the smart parking server.
//
// This package manages:
//   - Database connection with WAL mode for concurrent reads
//   - Foreign key enforcement (subscriptions cascade with their space and user)
//   - Schema migrations from any fs.FS (the binary embeds migrations/*.sql)
//   - Classification of constraint failures for repositories
//
// Security Considerations:
//   - All queries use parameterised statements (no SQL injection)
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration Strategy:
//
// Migrations are additive. Each file pair is named
// YYYYMMDD_HHMMSS_description.up.sql / .down.sql and runs in its own transaction.
package database
