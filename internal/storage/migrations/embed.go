package migrations

import "embed"

// FS embeds the SQL migrations for the SQLite store, applied in filename order.
//
//go:embed *.sql
var FS embed.FS
