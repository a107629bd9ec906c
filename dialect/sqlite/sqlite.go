// Package sqlite registers the cgo-free modernc.org/sqlite database/sql
// driver the compiler's dialect/sql.Open(dialect.SQLite, dsn) expects to
// find under that name. Importing it for side effects is the only thing
// callers need:
//
//	import _ "github.com/arjunmenon/qcompile/dialect/sqlite"
package sqlite

import (
	_ "modernc.org/sqlite"
)

// DriverName is the database/sql driver name modernc.org/sqlite registers
// itself under, and the name dialect.SQLite resolves to for sql.Open.
const DriverName = "sqlite"
