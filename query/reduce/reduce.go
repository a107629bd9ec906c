// Package reduce stitches the flat rows a joined SELECT returns back into
// the nested object graph an include plan describes, de-duplicating
// to-many children and decoding JSON scalar columns along the way.
package reduce

import (
	"encoding/json"
	"fmt"
	"strings"

	qcompile "github.com/arjunmenon/qcompile"
	"github.com/arjunmenon/qcompile/query"
)

// Row is one flat result row, keyed by the dotted column alias the
// compiler assigned each projected column ("<relationPath>.<field>").
type Row map[string]any

// Reduce groups rows by plan's primary-key columns and materializes one
// parent record per distinct key, in first-seen order. Relations the
// planner embedded via LEFT JOIN are reduced recursively from the same row
// set; relations left for a follow-up fetch are absent from the result and
// are the caller's responsibility to attach afterward (see query/fetch).
func Reduce(plan *query.IncludePlan, rows []Row) ([]map[string]any, error) {
	order, groups, err := groupRows(plan.PKAliases, rows)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(order))
	for _, key := range order {
		rec, err := materialize(plan, groups[key])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// groupRows partitions rows by the value of keyAliases, skipping any row
// whose key has a null column (no matching parent, or an outer-joined
// relation with no match), and preserving first-seen key order.
func groupRows(keyAliases []string, rows []Row) ([]string, map[string][]Row, error) {
	if len(keyAliases) == 0 {
		return nil, nil, qcompile.NewError(qcompile.KindStateCorruption, "reduce.pk", "include plan carries no primary key column aliases")
	}
	order := make([]string, 0, len(rows))
	groups := make(map[string][]Row, len(rows))
	for _, row := range rows {
		key, ok, err := rowKey(keyAliases, row)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			continue
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}
	return order, groups, nil
}

// rowKey concatenates the values at aliases into a single comparable key.
// It reports ok=false, not an error, when any column is null: that's the
// ordinary "no row here" case for an outer-joined relation, not a bug.
func rowKey(aliases []string, row Row) (string, bool, error) {
	parts := make([]string, len(aliases))
	for i, a := range aliases {
		v, present := row[a]
		if !present {
			return "", false, qcompile.NewError(qcompile.KindStateCorruption, "reduce.pk."+a, "row missing plan column %q", a)
		}
		if v == nil {
			return "", false, nil
		}
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, "\x1f"), true, nil
}

// materialize builds one parent record from the rows sharing its primary
// key. Scalar columns come from the first row in the group — they're
// constant across the group since the join key is the parent's own PK.
func materialize(plan *query.IncludePlan, group []Row) (map[string]any, error) {
	rec := make(map[string]any, len(plan.ColumnAliases)+len(plan.Relations))
	if err := scalarsInto(rec, plan.ColumnAliases, plan.JSONColumns, group[0]); err != nil {
		return nil, err
	}
	for i := range plan.Relations {
		rel := &plan.Relations[i]
		if !rel.Embedded {
			continue
		}
		val, err := materializeRelation(rel, group)
		if err != nil {
			return nil, err
		}
		rec[rel.Name] = val
	}
	return rec, nil
}

// materializeRelation reduces the rows of one embedded relation into
// either a single nested record (to-one) or a slice of them (to-many).
func materializeRelation(rel *query.IncludeRelationPlan, parentGroup []Row) (any, error) {
	subPlan := rel.Nested
	if subPlan == nil {
		subPlan = &query.IncludePlan{
			ParentModel:   rel.RelatedModel,
			PKAliases:     rel.PKAliases,
			ColumnAliases: rel.ColumnAliases,
			JSONColumns:   rel.JSONColumns,
		}
	}
	children, err := Reduce(subPlan, parentGroup)
	if err != nil {
		return nil, err
	}
	if rel.Many {
		if children == nil {
			children = []map[string]any{}
		}
		return children, nil
	}
	if len(children) == 0 {
		return nil, nil
	}
	return children[0], nil
}

func scalarsInto(dst map[string]any, aliases map[string]string, jsonCols map[string]bool, row Row) error {
	for name, alias := range aliases {
		v, ok := row[alias]
		if !ok {
			return qcompile.NewError(qcompile.KindStateCorruption, "reduce."+name, "row missing plan column %q", alias)
		}
		if jsonCols[alias] {
			decoded, err := decodeJSON(v)
			if err != nil {
				return err
			}
			v = decoded
		}
		dst[name] = v
	}
	return nil
}

// decodeJSON parses a JSON scalar column. Postgres's driver hands jsonb
// columns back as []byte; SQLite (TEXT-affinity JSON) hands back string.
// Both are accepted.
func decodeJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	var raw []byte
	switch t := v.(type) {
	case []byte:
		raw = t
	case string:
		raw = []byte(t)
	default:
		return nil, qcompile.NewError(qcompile.KindStateCorruption, "reduce.json", "json column holds unexpected type %T", v)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, qcompile.NewError(qcompile.KindStateCorruption, "reduce.json", "decode json column: %v", err)
	}
	return out, nil
}
