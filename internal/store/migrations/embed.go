package migrations

import "embed"

// FS contains the embedded schema migrations. They are written in the SQL
// subset shared by PostgreSQL and SQLite.
//
//go:embed *.sql
var FS embed.FS
