package dialect

import "fmt"

// For returns the shared Dialect instance for name (Postgres or SQLite).
func For(name string) (Dialect, error) {
	switch name {
	case Postgres:
		return PG, nil
	case SQLite:
		return Lite, nil
	default:
		return nil, fmt.Errorf("dialect: unsupported dialect %q", name)
	}
}
