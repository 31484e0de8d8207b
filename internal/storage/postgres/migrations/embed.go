package migrations

import "embed"

// FS embeds the SQL migrations for the Postgres store.
//
//go:embed *.sql
var FS embed.FS
