package schema

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/go-openapi/inflect"
	"golang.org/x/text/unicode/norm"
)

// maxAliasLen is the truncation bound spec.md §4.3 names.
const maxAliasLen = 50

// reservedWords is the set of tokens SafeAlias refuses to hand back
// unmodified, so a generated alias never reads as an SQL keyword.
var reservedWords = map[string]struct{}{
	"select": {}, "from": {}, "where": {}, "group": {}, "order": {}, "by": {},
	"having": {}, "join": {}, "on": {}, "as": {}, "and": {}, "or": {}, "not": {},
	"in": {}, "is": {}, "null": {}, "limit": {}, "offset": {}, "distinct": {},
	"union": {}, "all": {}, "case": {}, "when": {}, "then": {}, "else": {},
	"end": {}, "table": {}, "into": {}, "values": {}, "insert": {}, "update": {},
	"delete": {}, "set": {}, "left": {}, "right": {}, "inner": {}, "outer": {},
	"exists": {}, "between": {}, "like": {}, "asc": {}, "desc": {},
}

var nonAlphaNumUnderscore = regexp.MustCompile(`[^a-z0-9_]`)

// SafeAlias derives a SQL-safe table alias from a physical table name per
// spec.md §4.3: NFC-normalize (so visually identical Unicode forms fold to
// the same alias), lowercase, substitute every character outside
// [a-z0-9_] with '_', truncate to maxAliasLen, prefix '_' if the result
// doesn't start with a letter or underscore, and append "_t" if the result
// collides with a reserved word.
func SafeAlias(table string) string {
	normalized := norm.NFC.String(table)
	lower := strings.ToLower(normalized)
	folded := nonAlphaNumUnderscore.ReplaceAllString(lower, "_")
	if len(folded) > maxAliasLen {
		folded = folded[:maxAliasLen]
	}
	if folded == "" {
		folded = "_"
	}
	if r := []rune(folded)[0]; !unicode.IsLetter(r) && r != '_' {
		folded = "_" + folded
		if len(folded) > maxAliasLen {
			folded = folded[:maxAliasLen]
		}
	}
	if _, reserved := reservedWords[folded]; reserved {
		folded += "_t"
	}
	return folded
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertSafeAlias reports whether alias matches the shape SafeAlias always
// produces, to catch a caller accidentally passing an unvalidated string
// somewhere an alias is expected.
func AssertSafeAlias(alias string) bool {
	return identRe.MatchString(alias) && len(alias) <= maxAliasLen
}

// AssertSafeTableRef reports whether ref is a bare identifier or a
// schema-qualified "schema.table" pair, each half matching identRe.
func AssertSafeTableRef(ref string) bool {
	parts := strings.Split(ref, ".")
	if len(parts) > 2 {
		return false
	}
	for _, p := range parts {
		if !identRe.MatchString(p) {
			return false
		}
	}
	return true
}

// DefaultTableName returns the physical table name for a model declared
// without an explicit override: the logical model name, lowercased and
// pluralized (e.g. "OrderItem" -> "order_items").
func DefaultTableName(modelName string) string {
	snake := inflect.Underscore(modelName)
	return inflect.Pluralize(snake)
}
