package parking

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/config"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/database"
	"github.com/fortune-cook1e/iot-smart-parking-system/migrations"
)

// testDB opens a temp-file database with the real migrations applied.
func testDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "parking-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	return db
}

// insertUser adds a bare user row so subscriptions have a valid owner.
func insertUser(t *testing.T, db *database.DB, id string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := db.Exec(`INSERT INTO users (id, username, email, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, 'h', ?, ?)`, id, id, id+"@parking.com", now, now)
	if err != nil {
		t.Fatalf("inserting user %s: %v", id, err)
	}
}

// testInput returns a valid create request for sensorID.
func testInput(sensorID string) SpaceInput {
	return SpaceInput{
		SensorID:     sensorID,
		Name:         "Bay " + sensorID,
		Address:      "Drottninggatan 1, Stockholm",
		Latitude:     ptr(59.3300),
		Longitude:    ptr(18.0600),
		CurrentPrice: 20,
	}
}

// steppingClock returns a clock that advances by step on every call.
func steppingClock(start time.Time, step time.Duration) func() time.Time {
	cur := start
	return func() time.Time {
		cur = cur.Add(step)
		return cur
	}
}
