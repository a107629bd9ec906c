// Package postgres registers the PostgreSQL database/sql driver the
// compiler's dialect/sql.Open(dialect.Postgres, dsn) expects to find under
// that name. Importing it for side effects is the only thing callers need:
//
//	import _ "github.com/arjunmenon/qcompile/dialect/postgres"
package postgres

import (
	_ "github.com/lib/pq"
)

// DriverName is the database/sql driver name lib/pq registers itself under,
// and the name dialect.Postgres resolves to for sql.Open.
const DriverName = "postgres"
