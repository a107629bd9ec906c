// Package fetch executes the follow-up queries an include plan defers to
// a WHERE-IN fetch instead of embedding via LEFT JOIN, and stitches each
// batch's rows back onto the parent records the row reducer already
// produced.
//
// PostgreSQL fetches run with bounded concurrency via
// golang.org/x/sync/errgroup, grounded on compiler/gen/writer.go's
// errgroup.WithContext/SetLimit pattern; SQLite runs them sequentially,
// since its single-connection driver gets nothing out of concurrent
// statements and the extra goroutines would only add scheduling noise.
package fetch

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	qcompile "github.com/arjunmenon/qcompile"
	"github.com/arjunmenon/qcompile/dialect"
	sqlb "github.com/arjunmenon/qcompile/dialect/sql"
	"github.com/arjunmenon/qcompile/query"
	"github.com/arjunmenon/qcompile/query/reduce"
)

// Attach walks plan's relation list and, for every relation the compiler
// deferred to a follow-up (IncludeRelationPlan.Embedded == false), issues
// one or more WHERE-IN queries against execer and stitches the results
// onto the matching records by their shared join key. Records already
// carry their embedded relations — reduce.Reduce fills those in from the
// main query's own row set — so Attach only ever adds the keys it fetches.
//
// It also descends into every embedded relation's already-materialized
// children (plan.Relations[i].Nested), since a relation embedded at one
// level can still have its own follow-up children one level deeper.
func Attach(ctx context.Context, execer dialect.ExecQuerier, dialectName string, sch query.Schema, stats query.Stats, o *query.Options, plan *query.IncludePlan, records []map[string]any) error {
	if plan == nil || len(records) == 0 {
		return nil
	}
	d, err := dialect.For(dialectName)
	if err != nil {
		return qcompile.NewError(qcompile.KindInvalidOption, "dialect", "%v", err)
	}

	for i := range plan.Relations {
		rel := &plan.Relations[i]
		if !rel.Embedded {
			continue
		}
		if rel.Nested == nil {
			continue
		}
		if err := Attach(ctx, execer, dialectName, sch, stats, o, rel.Nested, collectNested(records, rel)); err != nil {
			return err
		}
	}

	followUps := make([]*query.IncludeRelationPlan, 0, len(plan.Relations))
	for i := range plan.Relations {
		if !plan.Relations[i].Embedded {
			followUps = append(followUps, &plan.Relations[i])
		}
	}

	if len(followUps) > 0 {
		results := make([][]map[string]any, len(followUps))
		childPlans := make([]*query.IncludePlan, len(followUps))

		run := func(runCtx context.Context, idx int) error {
			recs, childPlan, err := fetchRelation(runCtx, execer, d, dialectName, sch, stats, o, followUps[idx], records)
			if err != nil {
				return err
			}
			results[idx] = recs
			childPlans[idx] = childPlan
			return nil
		}

		if dialectName == dialect.Postgres {
			eg, egCtx := errgroup.WithContext(ctx)
			eg.SetLimit(maxInt(o.MaxConcurrency, 1))
			for idx := range followUps {
				idx := idx
				eg.Go(func() error { return run(egCtx, idx) })
			}
			if err := eg.Wait(); err != nil {
				return err
			}
		} else {
			for idx := range followUps {
				if err := run(ctx, idx); err != nil {
					return err
				}
			}
		}

		for idx, rel := range followUps {
			if childPlans[idx] != nil {
				if err := Attach(ctx, execer, dialectName, sch, stats, o, childPlans[idx], results[idx]); err != nil {
					return err
				}
			}
			attachRelation(rel, records, results[idx])
		}
	}

	for name := range plan.Hidden {
		for _, rec := range records {
			delete(rec, name)
		}
	}
	return nil
}

// collectNested pulls out the already-materialized children of rel from
// parent records, flattening to-one values into single-element runs and
// to-many slices in place, for recursion into rel.Nested.
func collectNested(records []map[string]any, rel *query.IncludeRelationPlan) []map[string]any {
	var out []map[string]any
	for _, parent := range records {
		v, ok := parent[rel.Name]
		if !ok || v == nil {
			continue
		}
		if rel.Many {
			children, _ := v.([]map[string]any)
			out = append(out, children...)
			continue
		}
		if child, ok := v.(map[string]any); ok {
			out = append(out, child)
		}
	}
	return out
}

// fetchRelation collects the distinct non-null LocalField values across
// records, chunks them to fit both the dialect's parameter limit and
// Options.FetchBatchSize, runs one compiled query per chunk, and returns
// the union of reduced (or flat) child records along with the IncludePlan
// the last chunk's compile produced (structurally identical across
// chunks, since every chunk shares the same relation spec).
func fetchRelation(ctx context.Context, execer dialect.ExecQuerier, d dialect.Dialect, dialectName string, sch query.Schema, stats query.Stats, o *query.Options, rel *query.IncludeRelationPlan, records []map[string]any) ([]map[string]any, *query.IncludePlan, error) {
	keys := distinctKeys(records, rel.LocalField)
	if len(keys) == 0 {
		return nil, nil, nil
	}

	chunkSize := o.FetchBatchSize
	if max := d.MaxParams(); max > 0 && max < chunkSize {
		chunkSize = max
	}
	if chunkSize <= 0 {
		chunkSize = len(keys)
	}

	var (
		all      []map[string]any
		lastPlan *query.IncludePlan
		extraKey bool
	)
	for start := 0; start < len(keys); start += chunkSize {
		end := start + chunkSize
		if end > len(keys) {
			end = len(keys)
		}
		req, addedKey := buildChildRequest(rel, keys[start:end])
		extraKey = addedKey

		cq, err := query.Compile(req, dialectName, sch, stats, query.WithMaxDepth(o.MaxDepth), query.WithMaxArraySize(o.MaxArraySize), query.WithMaxConcurrency(o.MaxConcurrency), query.WithFetchBatchSize(o.FetchBatchSize), query.WithEmbedThresholds(o.EmbedMaxAvgChildren, o.EmbedMaxP99))
		if err != nil {
			return nil, nil, err
		}

		args := make([]any, len(cq.Params))
		for i, b := range cq.Params {
			if b.IsDynamic() {
				return nil, nil, qcompile.NewError(qcompile.KindUnsupported, "include."+rel.Name, "follow-up fetch for relation %q produced an unresolved dynamic parameter", rel.Name)
			}
			args[i] = b.LiteralValue
		}

		var rows sqlb.Rows
		if err := execer.Query(ctx, cq.SQL, args, &rows); err != nil {
			return nil, nil, fmt.Errorf("fetch relation %q: %w", rel.Name, err)
		}
		scanned, err := reduce.ScanRows(&rows)
		if err != nil {
			return nil, nil, fmt.Errorf("fetch relation %q: %w", rel.Name, err)
		}

		// cq.IncludePlan is non-nil for every find-method compile, Include
		// or not: it's what maps this SELECT's "<alias>.<field>" column
		// aliases back to plain field names, not only what describes
		// embedded joins.
		chunkRecords, err := reduce.Reduce(cq.IncludePlan, scanned)
		if err != nil {
			return nil, nil, err
		}
		lastPlan = cq.IncludePlan
		all = append(all, chunkRecords...)
	}

	if extraKey {
		for _, rec := range all {
			delete(rec, rel.ForeignField)
		}
	}
	return all, lastPlan, nil
}

// buildChildRequest rebuilds the relation's original request shape
// (select/where/orderBy/include) from rel.Spec, intersected with a
// membership filter over the batch of parent keys. It reports whether it
// had to force rel.ForeignField into the projection because the caller's
// own Select omitted it — grouping needs that column in the result rows
// even when the caller never asked for it.
func buildChildRequest(rel *query.IncludeRelationPlan, keys []any) (*query.QueryRequest, bool) {
	membership := query.Filter(&query.FieldFilter{Field: rel.ForeignField, Op: query.In{Values: keys}})

	req := &query.QueryRequest{
		Model:  rel.RelatedModel,
		Method: query.FindMany,
		Where:  membership,
	}
	if rel.Spec == nil {
		return req, false
	}

	req.Select = rel.Spec.Select
	req.Include = rel.Spec.Include
	req.OrderBy = rel.Spec.OrderBy
	if rel.Spec.Where != nil {
		req.Where = &query.And{Children: []query.Filter{rel.Spec.Where, membership}}
	}

	addedKey := false
	if len(req.Select) > 0 {
		found := false
		for _, name := range req.Select {
			if name == rel.ForeignField {
				found = true
				break
			}
		}
		if !found {
			sel := make([]string, len(req.Select), len(req.Select)+1)
			copy(sel, req.Select)
			req.Select = append(sel, rel.ForeignField)
			addedKey = true
		}
	}
	return req, addedKey
}

// attachRelation groups children by rel.ForeignField and writes
// rel.Name's value onto every record whose rel.LocalField matches a
// group, in the shape Many asks for: a slice for a to-many relation, a
// single record (or nil) for a to-one.
func attachRelation(rel *query.IncludeRelationPlan, records []map[string]any, children []map[string]any) {
	groups := make(map[string][]map[string]any, len(children))
	for _, child := range children {
		v, ok := child[rel.ForeignField]
		if !ok || v == nil {
			continue
		}
		key := keyString(v)
		groups[key] = append(groups[key], child)
	}
	for _, rec := range records {
		v, ok := rec[rel.LocalField]
		if !ok || v == nil {
			if rel.Many {
				rec[rel.Name] = []map[string]any{}
			} else {
				rec[rel.Name] = nil
			}
			continue
		}
		matches := groups[keyString(v)]
		if rel.Many {
			if matches == nil {
				matches = []map[string]any{}
			}
			rec[rel.Name] = matches
			continue
		}
		if len(matches) == 0 {
			rec[rel.Name] = nil
			continue
		}
		rec[rel.Name] = matches[0]
	}
}

// distinctKeys gathers the non-null values of field across records, in
// first-seen order, de-duplicated by their string form.
func distinctKeys(records []map[string]any, field string) []any {
	seen := make(map[string]bool, len(records))
	out := make([]any, 0, len(records))
	for _, rec := range records {
		v, ok := rec[field]
		if !ok || v == nil {
			continue
		}
		key := keyString(v)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

// keyString renders a join-key value to its comparison form. UUID values
// come back from the two drivers in different shapes (a canonical string
// from lib/pq, raw bytes from some SQLite scan paths); both parse as a
// uuid.UUID and re-stringify identically, so a parent and child populated
// by different dialects still group together. Any value that isn't a
// recognizable UUID falls back to fmt.Sprint.
func keyString(v any) string {
	switch t := v.(type) {
	case uuid.UUID:
		return t.String()
	case string:
		if id, err := uuid.Parse(t); err == nil {
			return id.String()
		}
		return t
	case []byte:
		if len(t) == 16 {
			if id, err := uuid.FromBytes(t); err == nil {
				return id.String()
			}
		}
		if id, err := uuid.Parse(string(t)); err == nil {
			return id.String()
		}
		return string(t)
	default:
		return fmt.Sprint(v)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
