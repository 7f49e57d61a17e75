// Package migrations embeds the rollcall schema into the binary so the
// database can be brought up to date without SQL files on disk.
package migrations

import "embed"

// FS holds every *.sql migration at its root, ready for database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS
