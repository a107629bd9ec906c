package reduce

import sqlb "github.com/arjunmenon/qcompile/dialect/sql"

// ScanRows drains rs (the dialect package's own Rows wrapper around
// *sql.Rows) into flat Rows keyed by column alias, closing it when done.
// Destinations are generic `any` slots, so driver-native scan types
// (int64, string, bool, float64, time.Time, []byte, nil) pass through
// unmodified for downstream JSON/scalar decoding.
func ScanRows(rs sqlb.ColumnScanner) ([]Row, error) {
	defer rs.Close()
	cols, err := rs.Columns()
	if err != nil {
		return nil, err
	}
	var out []Row
	for rs.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rs.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = raw[i]
		}
		out = append(out, row)
	}
	return out, rs.Err()
}
