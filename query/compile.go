package query

import (
	"sort"
	"strings"

	qcompile "github.com/arjunmenon/qcompile"
	"github.com/arjunmenon/qcompile/dialect"
	sqlb "github.com/arjunmenon/qcompile/dialect/sql"
	"github.com/arjunmenon/qcompile/schema"
	"github.com/arjunmenon/qcompile/schema/field"
)

// Binding is one positional parameter of a CompiledQuery: a literal value
// baked in at compile time, or a name resolved against a caller-supplied
// argument map at execution time. Exactly one of LiteralValue/DynamicName
// is ever set.
type Binding struct {
	Position     int
	LiteralValue any
	DynamicName  string
}

// IsDynamic reports whether the binding is resolved at execution time.
func (b Binding) IsDynamic() bool { return b.DynamicName != "" }

// IncludeRelationPlan is one relation the row reducer (or WHERE-IN
// executor) must stitch back onto its parent rows.
type IncludeRelationPlan struct {
	Name          string
	Many          bool
	RelatedModel  string
	Embedded      bool // true: relation's columns ride along in the main SELECT; false: a follow-up query fetches it
	PKAliases     []string
	ColumnAliases map[string]string // field name -> flat-row column alias
	JSONColumns   map[string]bool   // column alias -> true if it needs JSON decoding
	Nested        *IncludePlan

	// LocalField/ForeignField/Locality name the join key by logical field
	// name (not physical column) regardless of Embedded: query/fetch needs
	// them to build the `{ <foreignField>: { in: chunk } }` filter for a
	// follow-up, the same way the embed path needs the matching columns to
	// build its ON clause.
	LocalField   string
	ForeignField string
	Locality     schema.Locality

	// Spec is the original include node, carried only for a non-embedded
	// relation: query/fetch rebuilds a child QueryRequest from it (select,
	// where, orderBy, nested include) rather than re-walking the caller's
	// request tree itself.
	Spec *IncludeSpec
}

// IncludePlan is the row reducer's instruction sheet: the parent model and
// the relations embedded or scheduled as follow-ups alongside it.
type IncludePlan struct {
	ParentModel   string
	PKAliases     []string
	ColumnAliases map[string]string // field name -> flat-row column alias, for the parent's own projected scalars
	JSONColumns   map[string]bool   // column alias -> true if it needs JSON decoding
	Relations     []IncludeRelationPlan

	// Hidden names fields projected only so a non-embedded relation's
	// LocalField is present in the flat row for query/fetch to group by;
	// the caller's own Select never asked for them. query/fetch strips
	// these from the materialized record after it has used them.
	Hidden map[string]bool
}

// CompiledQuery is the compiler's sole output: SQL text for one dialect,
// its ordered parameter bindings, whether the row reducer must run over
// the result, and the include plan the reducer consults when it does.
type CompiledQuery struct {
	SQL               string
	Params            []Binding
	RequiresReduction bool
	IncludePlan       *IncludePlan
}

// Compile translates req into a CompiledQuery against dialectName
// ("postgres" or "sqlite"), resolving fields and relations through sch and
// consulting stats (if non-nil) to decide embed-vs-follow-up for to-many
// relations.
func Compile(req *QueryRequest, dialectName string, sch Schema, stats Stats, opts ...Option) (*CompiledQuery, error) {
	d, err := dialect.For(dialectName)
	if err != nil {
		return nil, qcompile.NewError(qcompile.KindInvalidOption, "dialect", "%v", err)
	}
	o := DefaultOptions().apply(opts)

	model, err := sch.Model(req.Model)
	if err != nil {
		return nil, qcompile.NewError(qcompile.KindUnknownField, "model", "%v", err).WithModel(req.Model)
	}
	alias := schema.SafeAlias(model.Table)
	wctx := &whereCtx{d: d, sch: sch, opts: o}

	switch req.Method {
	case Count:
		return compileCount(req, d, wctx, model, alias)
	case Aggregate:
		return compileAggregate(req, d, wctx, model, alias)
	case GroupBy:
		return compileGroupBy(req, d, wctx, model, alias)
	default:
		return compileFind(req, d, wctx, model, alias, stats, o)
	}
}

func compileFind(req *QueryRequest, d dialect.Dialect, wctx *whereCtx, model *schema.Model, alias string, stats Stats, o *Options) (*CompiledQuery, error) {
	var cols []schema.Field
	if len(req.Distinct) > 0 {
		if len(req.Include) > 0 {
			return nil, qcompile.NewError(qcompile.KindUnsupported, "distinct", "distinct cannot be combined with include").WithModel(req.Model)
		}
		resolved, err := resolveDistinctColumns(wctx.sch, req.Model, req.Distinct)
		if err != nil {
			return nil, err
		}
		cols = resolved
	} else {
		resolved, err := selectColumns(req.Select, model)
		if err != nil {
			return nil, err
		}
		cols = resolved
	}

	colExprs := make([]string, len(cols))
	colAliases := make(map[string]string, len(cols))
	jsonCols := make(map[string]bool, len(cols))
	for i, c := range cols {
		colAliases[c.Name] = flatAlias(alias, c.Name)
		if c.Type == field.TypeJSON {
			jsonCols[colAliases[c.Name]] = true
		}
		colExprs[i] = qualifiedColumn(d, alias, c.Column) + " AS " + d.QuoteIdent(colAliases[c.Name])
	}

	sel := sqlb.Dialect(d.Name()).Select(colExprs...).From(sqlb.Table(model.Table).As(alias))
	if len(req.Distinct) > 0 {
		sel.Distinct()
	}

	pred, err := compileFilter(wctx, req.Model, alias, req.Where, 0, "where", newAncestors())
	if err != nil {
		return nil, err
	}
	sel.Where(pred)

	plan := &IncludePlan{ParentModel: req.Model, ColumnAliases: colAliases, JSONColumns: jsonCols}
	if pkFields, err := wctx.sch.GetPrimaryKeyFields(req.Model); err == nil {
		for _, f := range pkFields {
			plan.PKAliases = append(plan.PKAliases, colAliases[f.Name])
		}
	}

	// The parent's own ORDER BY terms are added before planIncludes adds any
	// embedded relation's, so joined rows stay grouped by parent.
	effectiveOrderTerms, orderExprs, err := applyOrderBy(sel, d, wctx.sch, req.Model, alias, req.OrderBy, true)
	if err != nil {
		return nil, err
	}

	// The IncludePlan is always handed back, Include or not: every column
	// this SELECT projects is aliased "<parentAlias>.<field>" rather than
	// its bare field name (so an embedded relation's same-named columns
	// never collide), and reduce.Reduce is what turns those aliases back
	// into a plain field-keyed record. RequiresReduction instead tracks
	// whether the *join* dedup/grouping reduce.Reduce also performs is
	// actually needed, not whether the alias decoding step is.
	requiresReduction := false
	includePlan := plan
	if len(req.Include) > 0 {
		rels, reduces, err := planIncludes(wctx, model, alias, req.Include, stats, o, sel, 1)
		if err != nil {
			return nil, err
		}
		plan.Relations = rels
		requiresReduction = reduces
		ensureJoinKeysProjected(d, model, alias, sel, plan, rels)
	}

	if len(req.Cursor) > 0 {
		cursorPred, err := compileCursor(wctx, req.Model, alias, effectiveOrderTerms, req.Cursor, "cursor")
		if err != nil {
			return nil, err
		}
		sel.Where(cursorPred)
	}

	limitOne := req.Method == FindUnique || req.Method == FindFirst
	skip, take, hasTake := 0, 0, false
	switch {
	case limitOne:
		take, hasTake = 1, true
	default:
		if req.Take != nil && !req.Take.IsDynamic() {
			take, hasTake = req.Take.Static, true
		}
		if req.Skip != nil && !req.Skip.IsDynamic() {
			skip = req.Skip.Static
		}
	}

	var sqlText string
	var args []any
	switch {
	case requiresReduction && (hasTake || skip > 0):
		// An embedded to-many relation's LEFT JOIN multiplies each parent
		// row by its child count, so take/skip can't be applied to sel
		// directly: they'd cut the joined row set, not the parent set.
		// Re-express them as a constraint on distinct parent rows instead
		// (spec.md §4.8).
		if d.Name() == dialect.Postgres {
			sqlText, args = wrapWithDenseRank(d, sel, orderExprs, skip, take, hasTake)
		} else {
			pkFields, err := wctx.sch.GetPrimaryKeyFields(req.Model)
			if err != nil {
				return nil, qcompile.NewError(qcompile.KindUnsupported, "where", "%v", err).WithModel(req.Model)
			}
			sel.Where(compileParentKeySubselect(d, alias, model.Table, pred, orderExprs, skip, take, hasTake, pkFields))
			sqlText, args = sel.Query()
		}
	default:
		if hasTake {
			sel.Limit(take)
		}
		if skip > 0 {
			sel.Offset(skip)
		}
		sqlText, args = sel.Query()
	}

	return &CompiledQuery{
		SQL:               sqlText,
		Params:            literalBindings(args),
		RequiresReduction: requiresReduction,
		IncludePlan:       includePlan,
	}, nil
}

// wrapWithDenseRank re-expresses a take/skip pair as a constraint on
// distinct parent rows via a DENSE_RANK() window, for PostgreSQL. Since
// orderExprs always carries the mandatory id tie-breaker, every parent row
// gets a distinct rank even though its joined children repeat that rank,
// so filtering on the rank bounds parents rather than flat rows (spec.md
// §4.8).
func wrapWithDenseRank(d dialect.Dialect, sel *sqlb.Selector, orderExprs []string, skip, take int, hasTake bool) (string, []any) {
	rankIdent := d.QuoteIdent("_prank")
	sel.AddColumns("DENSE_RANK() OVER (ORDER BY " + strings.Join(orderExprs, ", ") + ") AS " + rankIdent)

	b := sqlb.NewBuilder(d)
	b.WriteString("SELECT * FROM ")
	sel.AsSubquery()(b)
	wAlias := d.QuoteIdent("_w")
	b.WriteString(" AS " + wAlias)
	rankCol := wAlias + "." + rankIdent
	b.WriteString(" WHERE " + rankCol + " > " + b.Arg(skip))
	if hasTake {
		b.WriteString(" AND " + rankCol + " <= " + b.Arg(skip+take))
	}
	b.WriteString(" ORDER BY " + rankCol)
	return b.String(), b.Args()
}

// compileParentKeySubselect is SQLite's fallback for the same problem
// wrapWithDenseRank solves on PostgreSQL: an inner SELECT over just the
// parent's primary key, ordered and LIMIT/OFFSET-bounded, joined back
// outward as an `IN` restriction on the main statement (spec.md §4.8). It
// reuses alias and pred as-is: the inner SELECT is its own scope, so
// reusing the outer FROM alias inside it is not a naming conflict.
func compileParentKeySubselect(d dialect.Dialect, alias, table string, pred sqlb.Predicate, orderExprs []string, skip, take int, hasTake bool, pkFields []schema.Field) sqlb.Predicate {
	pkCols := make([]string, len(pkFields))
	for i, f := range pkFields {
		pkCols[i] = qualifiedColumn(d, alias, f.Column)
	}
	inner := sqlb.Dialect(d.Name()).Select(pkCols...).From(sqlb.Table(table).As(alias))
	inner.Where(pred)
	for _, e := range orderExprs {
		inner.OrderBy(e)
	}
	inner.Offset(skip)
	if hasTake {
		inner.Limit(take)
	}
	if len(pkCols) == 1 {
		return sqlb.InSubquery(pkCols[0], inner)
	}
	return func(b *sqlb.Builder) {
		b.WriteString("(" + strings.Join(pkCols, ", ") + ") IN ")
		inner.AsSubquery()(b)
	}
}

// compileCursor builds the keyset/seek predicate for req.Cursor: anchor
// values compared against terms, the (tie-breaker-augmented) orderBy the
// cursor must be covered by (spec.md §6). The cursor only needs to name a
// prefix of terms: the first term it doesn't mention ends the anchor,
// since trailing terms beyond that only break ties within a value the
// cursor already pins.
func compileCursor(ctx *whereCtx, model, alias string, terms []OrderTerm, cursor map[string]any, path string) (sqlb.Predicate, error) {
	anchored := make([]OrderTerm, 0, len(terms))
	for _, t := range terms {
		if _, ok := cursor[t.Field]; !ok {
			break
		}
		anchored = append(anchored, t)
	}
	if len(anchored) == 0 {
		return nil, qcompile.NewError(qcompile.KindInvalidArgument, path, "cursor does not match any leading orderBy field").WithModel(model)
	}

	disjuncts := make([]sqlb.Predicate, 0, len(anchored))
	for i, t := range anchored {
		fld, ok := ctx.sch.GetFieldByName(model, t.Field)
		if !ok || fld.IsRelation {
			return nil, qcompile.NewError(qcompile.KindUnknownField, path, "unknown cursor field %q", t.Field).WithModel(model).WithField(t.Field)
		}
		op := ">"
		if t.Dir == Desc {
			op = "<"
		}
		eqPreds := make([]sqlb.Predicate, 0, i+1)
		for j := 0; j < i; j++ {
			pf, _ := ctx.sch.GetFieldByName(model, anchored[j].Field)
			eqPreds = append(eqPreds, argPredicate(qualifiedColumn(ctx.d, alias, pf.Column), "=", cursor[anchored[j].Field]))
		}
		eqPreds = append(eqPreds, argPredicate(qualifiedColumn(ctx.d, alias, fld.Column), op, cursor[t.Field]))
		disjuncts = append(disjuncts, sqlb.And(eqPreds...))
	}
	return sqlb.Or(disjuncts...), nil
}

func resolveDistinctColumns(sch Schema, model string, names []string) ([]schema.Field, error) {
	out := make([]schema.Field, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		fld, ok := sch.GetFieldByName(model, n)
		if !ok || fld.IsRelation {
			return nil, qcompile.NewError(qcompile.KindUnknownField, "distinct", "unknown distinct field %q on %s", n, model).WithModel(model).WithField(n)
		}
		out = append(out, fld)
	}
	return out, nil
}

func compileCount(req *QueryRequest, d dialect.Dialect, wctx *whereCtx, model *schema.Model, alias string) (*CompiledQuery, error) {
	if req.Skip != nil {
		if req.Skip.IsDynamic() {
			return nil, qcompile.NewError(qcompile.KindInvalidArgument, "skip", "count does not support a dynamic skip: a deterministic tie-breaker would be required").WithModel(req.Model)
		}
		if req.Skip.Static > 0 {
			return nil, qcompile.NewError(qcompile.KindInvalidArgument, "skip", "count does not support skip > 0: the result would not be deterministic").WithModel(req.Model)
		}
	}
	sel := sqlb.Dialect(d.Name()).Select("COUNT(*) AS " + d.QuoteIdent("_count")).From(sqlb.Table(model.Table).As(alias))
	pred, err := compileFilter(wctx, req.Model, alias, req.Where, 0, "where", newAncestors())
	if err != nil {
		return nil, err
	}
	sel.Where(pred)
	sqlText, args := sel.Query()
	return &CompiledQuery{SQL: sqlText, Params: literalBindings(args)}, nil
}

func compileAggregate(req *QueryRequest, d dialect.Dialect, wctx *whereCtx, model *schema.Model, alias string) (*CompiledQuery, error) {
	if req.Aggregate.Empty() {
		return nil, qcompile.NewError(qcompile.KindInvalidArgument, "aggregate", "aggregate request has no projections").WithModel(req.Model)
	}
	exprs, err := aggregateExprs(wctx.sch, req.Model, alias, d, req.Aggregate)
	if err != nil {
		return nil, err
	}
	sel := sqlb.Dialect(d.Name()).Select(exprs...).From(sqlb.Table(model.Table).As(alias))
	pred, err := compileFilter(wctx, req.Model, alias, req.Where, 0, "where", newAncestors())
	if err != nil {
		return nil, err
	}
	sel.Where(pred)
	sqlText, args := sel.Query()
	return &CompiledQuery{SQL: sqlText, Params: literalBindings(args)}, nil
}

func compileGroupBy(req *QueryRequest, d dialect.Dialect, wctx *whereCtx, model *schema.Model, alias string) (*CompiledQuery, error) {
	if len(req.GroupByFields) == 0 {
		return nil, qcompile.NewError(qcompile.KindInvalidArgument, "groupBy", "groupBy requires a non-empty, duplicate-free field list").WithModel(req.Model)
	}
	seen := make(map[string]bool, len(req.GroupByFields))
	groupExprs := make([]string, 0, len(req.GroupByFields))
	projExprs := make([]string, 0, len(req.GroupByFields))
	for _, name := range req.GroupByFields {
		if seen[name] {
			return nil, qcompile.NewError(qcompile.KindInvalidArgument, "groupBy."+name, "duplicate groupBy field %q", name).WithModel(req.Model).WithField(name)
		}
		seen[name] = true
		fld, ok := wctx.sch.GetFieldByName(req.Model, name)
		if !ok || fld.IsRelation {
			return nil, qcompile.NewError(qcompile.KindUnknownField, "groupBy."+name, "unknown groupBy field %q", name).WithModel(req.Model).WithField(name)
		}
		expr := qualifiedColumn(d, alias, fld.Column)
		groupExprs = append(groupExprs, expr)
		projExprs = append(projExprs, expr+" AS "+d.QuoteIdent(name))
	}
	if !req.Aggregate.Empty() {
		aggExprs, err := aggregateExprs(wctx.sch, req.Model, alias, d, req.Aggregate)
		if err != nil {
			return nil, err
		}
		projExprs = append(projExprs, aggExprs...)
	}

	sel := sqlb.Dialect(d.Name()).Select(projExprs...).From(sqlb.Table(model.Table).As(alias))
	pred, err := compileFilter(wctx, req.Model, alias, req.Where, 0, "where", newAncestors())
	if err != nil {
		return nil, err
	}
	sel.Where(pred)
	sel.GroupBy(groupExprs...)

	if req.Having != nil {
		havingPred, err := compileHaving(wctx, req.Model, alias, req.Having, 0, "having", newAncestors())
		if err != nil {
			return nil, err
		}
		sel.Having(havingPred)
	}
	if _, _, err := applyOrderBy(sel, d, wctx.sch, req.Model, alias, req.OrderBy, false); err != nil {
		return nil, err
	}

	sqlText, args := sel.Query()
	return &CompiledQuery{SQL: sqlText, Params: literalBindings(args)}, nil
}

// aggregateExprs renders the `_count/_sum/_avg/_min/_max` projections,
// each aliased with its dotted wire name.
func aggregateExprs(sch Schema, model, alias string, d dialect.Dialect, agg *AggregateSpec) ([]string, error) {
	var out []string
	if agg.CountAll {
		out = append(out, "COUNT(*) AS "+d.QuoteIdent("_count._all"))
	}
	add := func(fields []string, fn, prefix string, numericOnly bool) error {
		for _, name := range fields {
			fld, ok := sch.GetFieldByName(model, name)
			if !ok || fld.IsRelation {
				return qcompile.NewError(qcompile.KindUnknownField, "aggregate."+prefix+"."+name, "unknown aggregate field %q", name).WithModel(model).WithField(name)
			}
			if numericOnly && !fld.Type.Numeric() {
				return qcompile.NewError(qcompile.KindInvalidOperatorForType, "aggregate."+prefix+"."+name, "%s requires a numeric field, got %q", fn, name).WithModel(model).WithField(name)
			}
			expr := qualifiedColumn(d, alias, fld.Column)
			out = append(out, fn+"("+expr+") AS "+d.QuoteIdent(prefix+"."+name))
		}
		return nil
	}
	if err := add(agg.CountFields, "COUNT", "_count", false); err != nil {
		return nil, err
	}
	if err := add(agg.Sum, "SUM", "_sum", true); err != nil {
		return nil, err
	}
	if err := add(agg.Avg, "AVG", "_avg", true); err != nil {
		return nil, err
	}
	if err := add(agg.Min, "MIN", "_min", false); err != nil {
		return nil, err
	}
	if err := add(agg.Max, "MAX", "_max", false); err != nil {
		return nil, err
	}
	return out, nil
}

// selectColumns resolves req.Select's field names against model. An empty
// names list means "all scalars". Unlike an include's relation keys
// (planIncludes silently skips ones it doesn't recognize), an unresolvable
// select name is a caller mistake worth failing loudly over: spec.md §9
// resolves the two cases oppositely (see planIncludes's doc comment).
func selectColumns(names []string, model *schema.Model) ([]schema.Field, error) {
	if len(names) == 0 {
		var out []schema.Field
		for _, f := range model.Fields {
			if !f.IsRelation {
				out = append(out, f)
			}
		}
		return out, nil
	}
	byName := make(map[string]schema.Field, len(model.Fields))
	for _, f := range model.Fields {
		byName[f.Name] = f
	}
	out := make([]schema.Field, 0, len(names))
	for _, n := range names {
		f, ok := byName[n]
		if !ok || f.IsRelation {
			return nil, qcompile.NewError(qcompile.KindUnknownField, "select", "unknown select field %q on %s", n, model.Name).WithModel(model.Name).WithField(n)
		}
		out = append(out, f)
	}
	return out, nil
}

func flatAlias(parentAlias, fieldName string) string {
	return parentAlias + "." + fieldName
}

// ensureJoinKeysProjected adds a column to sel/plan for any non-embedded
// relation's LocalField the caller's own Select omitted: query/fetch groups
// parent records by that value, so it must survive into the flat row even
// when the caller never asked for it in its own projection.
func ensureJoinKeysProjected(d dialect.Dialect, model *schema.Model, alias string, sel *sqlb.Selector, plan *IncludePlan, rels []IncludeRelationPlan) {
	for i := range rels {
		rel := &rels[i]
		if rel.Embedded {
			continue
		}
		if _, ok := plan.ColumnAliases[rel.LocalField]; ok {
			continue
		}
		fld, ok := model.FieldByName(rel.LocalField)
		if !ok {
			continue
		}
		colAlias := flatAlias(alias, fld.Name)
		sel.AddColumns(qualifiedColumn(d, alias, fld.Column) + " AS " + d.QuoteIdent(colAlias))
		plan.ColumnAliases[fld.Name] = colAlias
		if fld.Type == field.TypeJSON {
			plan.JSONColumns[colAlias] = true
		}
		if plan.Hidden == nil {
			plan.Hidden = map[string]bool{}
		}
		plan.Hidden[fld.Name] = true
	}
}

// fieldNameForColumn returns the logical field name m declares for the
// physical column, falling back to the column name itself if none matches
// (a schema inconsistency the caller's later field resolution will catch).
func fieldNameForColumn(m *schema.Model, column string) string {
	for _, f := range m.Fields {
		if f.Column == column {
			return f.Name
		}
	}
	return column
}

// applyOrderBy resolves each term's field through sch and appends it to
// sel. Direction and NULLS placement are folded into the expression text
// itself (rather than using Selector.OrderByDesc) since NULLS FIRST/LAST
// must follow ASC/DESC in the rendered clause.
//
// When addTieBreaker is set and the caller's terms don't already include the
// model's "id" scalar, an ascending "id" term is appended: pagination via
// cursor/skip/take over an embedded-join result set is only well-defined
// with a total order (spec.md §4.8). It returns the effective term list
// (including any appended tie-breaker) and the rendered expression per
// term, both of which the cursor and window-pagination helpers reuse.
func applyOrderBy(sel *sqlb.Selector, d dialect.Dialect, sch Schema, model, alias string, terms []OrderTerm, addTieBreaker bool) ([]OrderTerm, []string, error) {
	effective := terms
	if addTieBreaker {
		hasID := false
		for _, t := range terms {
			if t.Field == "id" {
				hasID = true
				break
			}
		}
		if !hasID {
			if fld, ok := sch.GetFieldByName(model, "id"); ok && !fld.IsRelation {
				effective = append(append([]OrderTerm(nil), terms...), OrderTerm{Field: "id", Dir: Asc})
			}
		}
	}
	exprs := make([]string, 0, len(effective))
	for _, t := range effective {
		fld, ok := sch.GetFieldByName(model, t.Field)
		if !ok || fld.IsRelation {
			return nil, nil, qcompile.NewError(qcompile.KindUnknownField, "orderBy."+t.Field, "unknown orderBy field %q", t.Field).WithModel(model).WithField(t.Field)
		}
		expr := qualifiedColumn(d, alias, fld.Column)
		switch {
		case t.Dir == Desc:
			expr += " DESC"
		case t.Nulls != NullsDefault:
			expr += " ASC"
		}
		switch t.Nulls {
		case NullsFirst:
			expr += " NULLS FIRST"
		case NullsLast:
			expr += " NULLS LAST"
		}
		sel.OrderBy(expr)
		exprs = append(exprs, expr)
	}
	return effective, exprs, nil
}

// planIncludes decides, per relation, whether to embed via LEFT JOIN or to
// leave it for a follow-up fetch, recursing into each relation's own
// nested include. Deterministic iteration order (sorted relation names)
// keeps the emitted SQL stable across calls with the same request.
//
// A key in includes that doesn't name a relation on model is silently
// skipped rather than rejected: spec.md §9 resolves include's and select's
// unknown-key policy oppositely (an unrecognized relation to include is a
// caller harmlessly asking for something that isn't there; an unrecognized
// select field is a caller mistake, see selectColumns's doc comment).
func planIncludes(wctx *whereCtx, model *schema.Model, alias string, includes map[string]*IncludeSpec, stats Stats, o *Options, sel *sqlb.Selector, depth int) ([]IncludeRelationPlan, bool, error) {
	if depth > o.MaxDepth {
		return nil, false, qcompile.NewError(qcompile.KindDepthExceeded, "include", "include tree exceeds max depth %d", o.MaxDepth).WithModel(model.Name)
	}
	names := make([]string, 0, len(includes))
	for name := range includes {
		names = append(names, name)
	}
	sort.Strings(names)

	var rels []IncludeRelationPlan
	anyEmbedded := false
	for _, name := range names {
		spec := includes[name]
		fld, ok := wctx.sch.GetFieldByName(model.Name, name)
		if !ok || !fld.IsRelation {
			continue
		}
		related, err := wctx.sch.Model(fld.RelatedModel)
		if err != nil {
			return nil, false, err
		}
		childAlias := schema.SafeAlias(related.Table) + "_" + name
		includePath := "include." + name

		embed := !fld.Many
		if fld.Many && stats != nil {
			if stat, ok := stats.Lookup(model.Name, name); ok {
				embed = stat.Coverage*stat.Avg <= o.EmbedMaxAvgChildren && stat.P99 <= o.EmbedMaxP99
			}
		}

		if fld.JoinTable != "" {
			return nil, false, qcompile.NewError(qcompile.KindUnsupported, includePath, "many-to-many relation %q is not supported", name).WithModel(model.Name).WithField(name)
		}
		if len(fld.ForeignKeyColumns) != 1 || len(fld.ReferenceColumns) != 1 {
			return nil, false, qcompile.NewError(qcompile.KindUnsupported, includePath, "composite foreign keys are not supported for relation %q", name).WithModel(model.Name).WithField(name)
		}

		localCol, foreignCol := fld.ReferenceColumns[0], fld.ForeignKeyColumns[0]
		if fld.Locality == schema.LocalityOwner {
			localCol, foreignCol = fld.ForeignKeyColumns[0], fld.ReferenceColumns[0]
		}
		rel := IncludeRelationPlan{
			Name: name, Many: fld.Many, RelatedModel: fld.RelatedModel,
			Embedded: embed, ColumnAliases: map[string]string{}, JSONColumns: map[string]bool{},
			LocalField: fieldNameForColumn(model, localCol), ForeignField: fieldNameForColumn(related, foreignCol),
			Locality: fld.Locality,
		}
		if !embed {
			rel.Spec = spec
			rels = append(rels, rel)
			continue
		}

		var joinOn sqlb.Predicate
		if fld.Locality == schema.LocalityInverse {
			joinOn = sqlb.ColumnsCompare(qualifiedColumn(wctx.d, childAlias, fld.ForeignKeyColumns[0]), "=", qualifiedColumn(wctx.d, alias, fld.ReferenceColumns[0]))
		} else {
			joinOn = sqlb.ColumnsCompare(qualifiedColumn(wctx.d, alias, fld.ForeignKeyColumns[0]), "=", qualifiedColumn(wctx.d, childAlias, fld.ReferenceColumns[0]))
		}
		sel.LeftJoin(sqlb.Table(related.Table).As(childAlias), joinOn)

		cols, err := selectColumns(spec.Select, related)
		if err != nil {
			return nil, false, err
		}
		for _, c := range cols {
			colAlias := childAlias + "." + c.Name
			rel.ColumnAliases[c.Name] = colAlias
			if c.Type == field.TypeJSON {
				rel.JSONColumns[colAlias] = true
			}
			sel.AddColumns(qualifiedColumn(wctx.d, childAlias, c.Column) + " AS " + wctx.d.QuoteIdent(colAlias))
		}
		if pkFields, err := wctx.sch.GetPrimaryKeyFields(fld.RelatedModel); err == nil {
			for _, f := range pkFields {
				rel.PKAliases = append(rel.PKAliases, childAlias+"."+f.Name)
			}
		}
		if spec.Where != nil {
			childPred, err := compileFilter(wctx, fld.RelatedModel, childAlias, spec.Where, depth+1, includePath+".where", newAncestors())
			if err != nil {
				return nil, false, err
			}
			sel.Where(childPred)
		}
		if _, _, err := applyOrderBy(sel, wctx.d, wctx.sch, fld.RelatedModel, childAlias, spec.OrderBy, false); err != nil {
			return nil, false, err
		}
		anyEmbedded = true

		// A follow-up relation (embed == false) already continued above: it
		// has no alias in this statement's FROM/JOIN list, so its own nested
		// includes can't be planned here; query/fetch plans them against its
		// own child query instead.
		if len(spec.Include) > 0 {
			nestedRels, nestedReduces, err := planIncludes(wctx, related, childAlias, spec.Include, stats, o, sel, depth+1)
			if err != nil {
				return nil, false, err
			}
			rel.Nested = &IncludePlan{
				ParentModel: fld.RelatedModel, PKAliases: rel.PKAliases,
				ColumnAliases: rel.ColumnAliases, JSONColumns: rel.JSONColumns,
				Relations: nestedRels,
			}
			ensureJoinKeysProjected(wctx.d, related, childAlias, sel, rel.Nested, nestedRels)
			anyEmbedded = anyEmbedded || nestedReduces
		}

		rels = append(rels, rel)
	}
	return rels, anyEmbedded, nil
}

func literalBindings(args []any) []Binding {
	out := make([]Binding, len(args))
	for i, a := range args {
		out[i] = Binding{Position: i + 1, LiteralValue: a}
	}
	return out
}
