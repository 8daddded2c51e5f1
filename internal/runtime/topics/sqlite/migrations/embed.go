package migrations

import "embed"

// FS contains embedded SQLite migrations for topic storage.
//
//go:embed *.sql
var FS embed.FS
