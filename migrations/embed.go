// Package migrations embeds the SQL schema files into the binary so the
// server can migrate without the files on disk.
package migrations

import "embed"

// FS holds every *.sql migration at its root.
//
//go:embed *.sql
var FS embed.FS
