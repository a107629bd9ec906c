package dialect

import "strings"

// sqlite implements Dialect for SQLite, emulating PostgreSQL array/JSON
// operators through the json_each table-valued function since SQLite has
// no native array type.
type sqlite struct{}

// Lite is the shared SQLite Dialect instance.
var Lite Dialect = sqlite{}

func (sqlite) Name() string { return SQLite }

func (sqlite) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// BuildTableReference ignores schema: SQLite databases are single-schema
// (ATTACHed databases aside, which this compiler does not address).
func (d sqlite) BuildTableReference(_, table string) string {
	return d.QuoteIdent(table)
}

func (sqlite) PlaceholderFor(int) string { return "?" }

// InArray renders inline placeholders for short lists (len(phs) > 1, one
// per element) and a json_each expansion for a single placeholder bound
// to the JSON-encoded list (the caller decides which by consulting
// InlineINCutoff before allocating placeholders).
func (sqlite) InArray(expr string, phs []string) string {
	if len(phs) == 1 {
		return expr + " IN (SELECT value FROM json_each(" + phs[0] + "))"
	}
	return expr + " IN (" + strings.Join(phs, ", ") + ")"
}

func (d sqlite) NotInArray(expr string, phs []string) string {
	return "NOT (" + d.InArray(expr, phs) + ")"
}

func (sqlite) ArrayContains(expr, ph string) string {
	return "EXISTS (SELECT 1 FROM json_each(" + expr + ") WHERE json_each.value = " + ph + ")"
}

func (sqlite) ArrayOverlaps(expr, ph string) string {
	return "EXISTS (SELECT 1 FROM json_each(" + expr + ") WHERE json_each.value IN (SELECT value FROM json_each(" + ph + ")))"
}

func (sqlite) ArrayContainsAll(expr, ph string) string {
	return "NOT EXISTS (SELECT 1 FROM json_each(" + ph + ") WHERE value NOT IN (SELECT value FROM json_each(" + expr + ")))"
}

func (sqlite) ArrayIsEmpty(expr string) string {
	return "COALESCE(json_array_length(" + expr + "), 0) = 0"
}

func (sqlite) ArrayIsNotEmpty(expr string) string {
	return "COALESCE(json_array_length(" + expr + "), 0) > 0"
}

// ArrayEquals compares the JSON text of two arrays as plain text, so it
// matches only when ph is bound to the same canonical JSON text (stable
// key order, no insignificant whitespace) the column holds; this fragment
// does no normalization of its own.
func (sqlite) ArrayEquals(expr, ph string) string {
	return expr + " = " + ph
}

func (sqlite) JSONExtractText(expr, path string) string {
	return "json_extract(" + expr + ", " + path + ")"
}

func (sqlite) JSONExtractNumeric(expr, path string) string {
	return "CAST(json_extract(" + expr + ", " + path + ") AS NUMERIC)"
}

func (sqlite) JSONToText(expr string) string {
	return "CAST(" + expr + " AS TEXT)"
}

// CaseInsensitiveLike relies on SQLite's default ASCII case-folding LIKE.
func (sqlite) CaseInsensitiveLike(expr, ph string) string {
	return expr + " LIKE " + ph
}

func (sqlite) CaseInsensitiveEquals(expr, ph string) string {
	return "LOWER(" + expr + ") = LOWER(" + ph + ")"
}

// InlineINCutoff: the source this engine is modeled on switches to a
// json_each expansion above 30 inline elements; treat it as a tunable,
// not a semantic commitment (spec.md §9).
func (sqlite) InlineINCutoff() int { return 30 }

// MaxParams is 900, kept below SQLite's pre-3.32 compiled-in
// SQLITE_MAX_VARIABLE_NUMBER default of 999 (the post-3.32 default of
// 32766 is not assumed since it depends on the build).
func (sqlite) MaxParams() int { return 900 }
