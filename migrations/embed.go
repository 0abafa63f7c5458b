package migrations

import "embed"

// FS holds the goose SQL migrations for the Postgres store.
//
//go:embed *.sql
var FS embed.FS
