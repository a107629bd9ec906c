package query

import (
	"strconv"
	"strings"

	qcompile "github.com/arjunmenon/qcompile"
	"github.com/arjunmenon/qcompile/dialect"
	sqlb "github.com/arjunmenon/qcompile/dialect/sql"
	"github.com/arjunmenon/qcompile/schema"
	"github.com/arjunmenon/qcompile/schema/field"
)

// whereCtx threads the state the WHERE/HAVING compiler needs through its
// recursive descent over a Filter tree: the dialect fragments are rendered
// against, the schema used to resolve field/relation names, and the
// resource limits that bound recursion depth and list sizes.
type whereCtx struct {
	d    dialect.Dialect
	sch  Schema
	opts *Options
}

// newAncestors returns a fresh ancestor set for one root compileFilter or
// compileHaving call. An entry is added on entry to a node's subtree and
// removed once that subtree finishes compiling, so two unrelated branches
// can harmlessly share the same node (diamond reuse) while a node that is
// its own descendant trips KindCycleDetected instead of merely running
// until MaxDepth.
func newAncestors() map[Filter]bool { return make(map[Filter]bool) }

// compileFilter turns f into a sqlb.Predicate for model, qualified by
// alias. A nil f compiles to the always-true predicate. path is the
// breadcrumb of filter-tree keys walked so far (e.g. "where.OR[1].email"),
// carried into every error this call or its descendants return.
func compileFilter(ctx *whereCtx, model, alias string, f Filter, depth int, path string, ancestors map[Filter]bool) (sqlb.Predicate, error) {
	if depth > ctx.opts.MaxDepth {
		return nil, qcompile.NewError(qcompile.KindDepthExceeded, path, "filter tree exceeds max depth %d", ctx.opts.MaxDepth).WithModel(model)
	}
	if f == nil {
		return sqlb.And(), nil
	}
	if ancestors[f] {
		return nil, qcompile.NewError(qcompile.KindCycleDetected, path, "filter tree contains a cycle back to an ancestor node").WithModel(model)
	}
	ancestors[f] = true
	defer delete(ancestors, f)

	switch v := f.(type) {
	case *And:
		return compileConnective(ctx, model, alias, v.Children, depth, path+".AND", ancestors, true)
	case *Or:
		return compileConnective(ctx, model, alias, v.Children, depth, path+".OR", ancestors, false)
	case *Not:
		child, err := compileFilter(ctx, model, alias, v.Child, depth+1, path+".NOT", ancestors)
		if err != nil {
			return nil, err
		}
		return sqlb.Not(child), nil
	case *FieldFilter:
		return compileFieldFilter(ctx, model, alias, v, depth, path+"."+v.Field)
	case *RelationFilter:
		return compileRelationFilter(ctx, model, alias, v, depth, path+"."+v.Field, ancestors)
	case *AggregateFilter:
		return nil, qcompile.NewError(qcompile.KindUnsupported, path, "aggregate filters are only valid in having, not where").WithModel(model)
	default:
		return nil, qcompile.NewError(qcompile.KindUnsupported, path, "unrecognized filter node %T", f).WithModel(model)
	}
}

func compileConnective(ctx *whereCtx, model, alias string, children []Filter, depth int, path string, ancestors map[Filter]bool, and bool) (sqlb.Predicate, error) {
	preds := make([]sqlb.Predicate, len(children))
	for i, c := range children {
		p, err := compileFilter(ctx, model, alias, c, depth+1, path+"["+strconv.Itoa(i)+"]", ancestors)
		if err != nil {
			return nil, err
		}
		preds[i] = p
	}
	if and {
		return sqlb.And(preds...), nil
	}
	return sqlb.Or(preds...), nil
}

func qualifiedColumn(d dialect.Dialect, alias, column string) string {
	return d.QuoteIdent(alias) + "." + d.QuoteIdent(column)
}

func compileFieldFilter(ctx *whereCtx, model, alias string, ff *FieldFilter, depth int, path string) (sqlb.Predicate, error) {
	fld, ok := ctx.sch.GetFieldByName(model, ff.Field)
	if !ok {
		return nil, qcompile.NewError(qcompile.KindUnknownField, path, "unknown field %q on %s", ff.Field, model).WithModel(model).WithField(ff.Field)
	}
	if fld.IsRelation {
		return nil, qcompile.NewError(qcompile.KindUnknownField, path, "%q is a relation, not a scalar field", ff.Field).WithModel(model).WithField(ff.Field)
	}
	expr := qualifiedColumn(ctx.d, alias, fld.Column)
	if ff.Op == nil {
		return sqlb.Raw(expr + " IS NULL"), nil
	}
	return compileOp(ctx, model, ff.Field, expr, fld, ff.Op, depth, path)
}

func compileOp(ctx *whereCtx, model, fieldName, expr string, fld schema.Field, op FilterOp, depth int, path string) (sqlb.Predicate, error) {
	d := ctx.d
	errFor := func(msg string, args ...any) error {
		return qcompile.NewError(qcompile.KindInvalidOperatorForType, path, msg, args...).WithModel(model).WithField(fieldName)
	}

	switch v := op.(type) {
	case Equals:
		if v.Value == nil {
			return sqlb.Raw(expr + " IS NULL"), nil
		}
		return argPredicate(expr, "=", v.Value), nil
	case NotEquals:
		if v.Value == nil {
			return sqlb.Raw(expr + " IS NOT NULL"), nil
		}
		return argPredicate(expr, "<>", v.Value), nil
	case NotOpWrapper:
		inner, err := compileOp(ctx, model, fieldName, expr, fld, v.Op, depth, path)
		if err != nil {
			return nil, err
		}
		return sqlb.Not(inner), nil
	case GT:
		if !fld.Type.Numeric() {
			return nil, errFor("gt is only valid on numeric/date fields, got %s", fld.Type)
		}
		return argPredicate(expr, ">", v.Value), nil
	case GTE:
		if !fld.Type.Numeric() {
			return nil, errFor("gte is only valid on numeric/date fields, got %s", fld.Type)
		}
		return argPredicate(expr, ">=", v.Value), nil
	case LT:
		if !fld.Type.Numeric() {
			return nil, errFor("lt is only valid on numeric/date fields, got %s", fld.Type)
		}
		return argPredicate(expr, "<", v.Value), nil
	case LTE:
		if !fld.Type.Numeric() {
			return nil, errFor("lte is only valid on numeric/date fields, got %s", fld.Type)
		}
		return argPredicate(expr, "<=", v.Value), nil
	case In:
		return compileInOrNotIn(ctx, expr, v.Values, false, path)
	case NotIn:
		return compileInOrNotIn(ctx, expr, v.Values, true, path)
	case Contains:
		return compileLike(expr, "%"+escapeLike(v.Value)+"%", v.Mode, d), nil
	case StartsWith:
		return compileLike(expr, escapeLike(v.Value)+"%", v.Mode, d), nil
	case EndsWith:
		return compileLike(expr, "%"+escapeLike(v.Value), v.Mode, d), nil
	case Has:
		if !fld.Array {
			return nil, errFor("has is only valid on array fields")
		}
		// ArrayContains is a containment operator (array @> array); a
		// single-element match binds value as a one-element array.
		return func(b *sqlb.Builder) { b.WriteString(d.ArrayContains(expr, b.Arg([]any{v.Value}))) }, nil
	case HasSome:
		if !fld.Array {
			return nil, errFor("hasSome is only valid on array fields")
		}
		return func(b *sqlb.Builder) { b.WriteString(d.ArrayOverlaps(expr, b.Arg(v.Values))) }, nil
	case HasEvery:
		if !fld.Array {
			return nil, errFor("hasEvery is only valid on array fields")
		}
		return func(b *sqlb.Builder) { b.WriteString(d.ArrayContainsAll(expr, b.Arg(v.Values))) }, nil
	case IsEmptyOp:
		if !fld.Array {
			return nil, errFor("isEmpty is only valid on array fields")
		}
		if v.Value {
			return sqlb.Raw(d.ArrayIsEmpty(expr)), nil
		}
		return sqlb.Raw(d.ArrayIsNotEmpty(expr)), nil
	case JSONPath:
		if fld.Type != field.TypeJSON {
			return nil, errFor("path is only valid on JSON fields")
		}
		return compileJSONPath(ctx, expr, v, path)
	case JSONStringContains:
		return compileJSONStringOp(ctx, expr, v.Path, "%"+escapeLike(v.Value)+"%", v.Mode, fld, path, errFor)
	case JSONStringStartsWith:
		return compileJSONStringOp(ctx, expr, v.Path, escapeLike(v.Value)+"%", v.Mode, fld, path, errFor)
	case JSONStringEndsWith:
		return compileJSONStringOp(ctx, expr, v.Path, "%"+escapeLike(v.Value), v.Mode, fld, path, errFor)
	default:
		return nil, qcompile.NewError(qcompile.KindUnknownOperator, path, "unrecognized operator %T", op).WithModel(model).WithField(fieldName)
	}
}

func argPredicate(expr, op string, value any) sqlb.Predicate {
	return func(b *sqlb.Builder) { b.WriteString(expr + " " + op + " " + b.Arg(value)) }
}

func compileInOrNotIn(ctx *whereCtx, expr string, values []any, negate bool, path string) (sqlb.Predicate, error) {
	d := ctx.d
	if len(values) > ctx.opts.MaxArraySize {
		return nil, qcompile.NewError(qcompile.KindResourceLimit, path, "in/notIn list exceeds max size %d", ctx.opts.MaxArraySize)
	}
	if len(values) == 0 {
		if negate {
			return sqlb.Raw("1=1"), nil
		}
		return sqlb.Raw("0=1"), nil
	}
	useSingleArrayBind := d.Name() == dialect.Postgres || (d.Name() == dialect.SQLite && len(values) > d.InlineINCutoff())
	return func(b *sqlb.Builder) {
		var phs []string
		if useSingleArrayBind {
			phs = []string{b.Arg(values)}
		} else {
			phs = make([]string, len(values))
			for i, v := range values {
				phs[i] = b.Arg(v)
			}
		}
		if negate {
			b.WriteString(d.NotInArray(expr, phs))
		} else {
			b.WriteString(d.InArray(expr, phs))
		}
	}, nil
}

func compileLike(expr, pattern string, mode Mode, d dialect.Dialect) sqlb.Predicate {
	return func(b *sqlb.Builder) {
		ph := b.Arg(pattern)
		if mode == Insensitive {
			b.WriteString(d.CaseInsensitiveLike(expr, ph))
		} else {
			b.WriteString(expr + " LIKE " + ph)
		}
	}
}

// escapeLike backslash-escapes SQL LIKE metacharacters in a user value before it's
// wrapped in '%' wildcards. The resulting pattern is still bound as a
// placeholder argument, never concatenated into SQL text, so this guards
// correctness (literal % or _ in the searched-for value), not injection.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
	return r.Replace(s)
}

func compileJSONPath(ctx *whereCtx, expr string, jp JSONPath, path string) (sqlb.Predicate, error) {
	d := ctx.d
	if len(jp.Path) == 0 || len(jp.Path) > ctx.opts.MaxJSONPathSegments {
		return nil, qcompile.NewError(qcompile.KindResourceLimit, path, "json path has %d segments, max %d", len(jp.Path), ctx.opts.MaxJSONPathSegments)
	}
	for _, seg := range jp.Path {
		if len(seg) > ctx.opts.MaxJSONPathSegLen {
			return nil, qcompile.NewError(qcompile.KindResourceLimit, path, "json path segment exceeds max length %d", ctx.opts.MaxJSONPathSegLen)
		}
	}

	switch cmp := jp.Cmp.(type) {
	case Equals:
		return func(b *sqlb.Builder) {
			p := jsonPathArg(b, jp.Path)
			if isNumeric(cmp.Value) {
				b.WriteString(d.JSONExtractNumeric(expr, p) + " = " + b.Arg(cmp.Value))
			} else {
				b.WriteString(d.JSONExtractText(expr, p) + " = " + b.Arg(cmp.Value))
			}
		}, nil
	case GT:
		return func(b *sqlb.Builder) {
			p := jsonPathArg(b, jp.Path)
			b.WriteString(d.JSONExtractNumeric(expr, p) + " > " + b.Arg(cmp.Value))
		}, nil
	case GTE:
		return func(b *sqlb.Builder) {
			p := jsonPathArg(b, jp.Path)
			b.WriteString(d.JSONExtractNumeric(expr, p) + " >= " + b.Arg(cmp.Value))
		}, nil
	case LT:
		return func(b *sqlb.Builder) {
			p := jsonPathArg(b, jp.Path)
			b.WriteString(d.JSONExtractNumeric(expr, p) + " < " + b.Arg(cmp.Value))
		}, nil
	case LTE:
		return func(b *sqlb.Builder) {
			p := jsonPathArg(b, jp.Path)
			b.WriteString(d.JSONExtractNumeric(expr, p) + " <= " + b.Arg(cmp.Value))
		}, nil
	default:
		return nil, qcompile.NewError(qcompile.KindInvalidOperatorForType, path, "path comparison must be equals/gt/gte/lt/lte, got %T", jp.Cmp)
	}
}

func compileJSONStringOp(ctx *whereCtx, expr string, path []string, pattern string, mode Mode, fld schema.Field, errPath string, errFor func(string, ...any) error) (sqlb.Predicate, error) {
	if fld.Type != field.TypeJSON {
		return nil, errFor("json string operators are only valid on JSON fields")
	}
	d := ctx.d
	return func(b *sqlb.Builder) {
		pathArg := jsonPathArg(b, path)
		textExpr := d.JSONExtractText(expr, pathArg)
		ph := b.Arg(pattern)
		if mode == Insensitive {
			b.WriteString(d.CaseInsensitiveLike(textExpr, ph))
		} else {
			b.WriteString(textExpr + " LIKE " + ph)
		}
	}, nil
}

// jsonPathArg binds path in the shape each dialect's JSON extraction
// operator expects: PostgreSQL's #>> takes a text[] path array, SQLite's
// json_extract takes a single "$.a.b.c" path string.
func jsonPathArg(b *sqlb.Builder, path []string) string {
	if b.Dialect().Name() == dialect.Postgres {
		return b.Arg(path)
	}
	var sb strings.Builder
	sb.WriteString("$")
	for _, seg := range path {
		if _, err := strconv.Atoi(seg); err == nil {
			sb.WriteString("[" + seg + "]")
		} else {
			sb.WriteString("." + seg)
		}
	}
	return b.Arg(sb.String())
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	default:
		return false
	}
}

// compileRelationFilter builds a correlated EXISTS/NOT EXISTS subquery for
// a relation field, per the some/every/none/is/isNot operators.
func compileRelationFilter(ctx *whereCtx, model, alias string, rf *RelationFilter, depth int, path string, ancestors map[Filter]bool) (sqlb.Predicate, error) {
	fld, ok := ctx.sch.GetFieldByName(model, rf.Field)
	if !ok || !fld.IsRelation {
		return nil, qcompile.NewError(qcompile.KindUnknownRelation, path, "unknown relation %q on %s", rf.Field, model).WithModel(model).WithField(rf.Field)
	}
	if fld.JoinTable != "" {
		return nil, qcompile.NewError(qcompile.KindUnsupported, path, "many-to-many relation filters require an explicit join, not yet wired for %q", rf.Field)
	}
	if len(fld.ForeignKeyColumns) != 1 || len(fld.ReferenceColumns) != 1 {
		return nil, qcompile.NewError(qcompile.KindUnsupported, path, "composite foreign keys are not supported for relation %q", rf.Field)
	}
	related, err := ctx.sch.Model(fld.RelatedModel)
	if err != nil {
		return nil, err
	}
	childAlias := schema.SafeAlias(fld.RelatedModel) + "_" + strconv.Itoa(depth)

	var joinCond sqlb.Predicate
	if fld.Locality == schema.LocalityInverse {
		joinCond = sqlb.ColumnsCompare(
			qualifiedColumn(ctx.d, childAlias, fld.ForeignKeyColumns[0]), "=",
			qualifiedColumn(ctx.d, alias, fld.ReferenceColumns[0]))
	} else {
		joinCond = sqlb.ColumnsCompare(
			qualifiedColumn(ctx.d, alias, fld.ForeignKeyColumns[0]), "=",
			qualifiedColumn(ctx.d, childAlias, fld.ReferenceColumns[0]))
	}

	buildSub := func(inner Filter, subPath string) (*sqlb.Selector, error) {
		sub := sqlb.Dialect(ctx.d.Name()).Select("1").From(sqlb.Table(related.Table).As(childAlias))
		sub.Where(joinCond)
		if inner != nil {
			innerPred, err := compileFilter(ctx, fld.RelatedModel, childAlias, inner, depth+1, subPath, ancestors)
			if err != nil {
				return nil, err
			}
			sub.Where(innerPred)
		}
		return sub, nil
	}

	switch {
	case rf.Some != nil:
		sub, err := buildSub(rf.Some, path+".some")
		if err != nil {
			return nil, err
		}
		return sqlb.Exists(sub), nil
	case rf.None != nil:
		sub, err := buildSub(rf.None, path+".none")
		if err != nil {
			return nil, err
		}
		return sqlb.NotExists(sub), nil
	case rf.Every != nil:
		sub, err := buildSub(&Not{Child: rf.Every}, path+".every")
		if err != nil {
			return nil, err
		}
		return sqlb.NotExists(sub), nil
	case rf.Is != nil:
		sub, err := buildSub(rf.Is, path+".is")
		if err != nil {
			return nil, err
		}
		return sqlb.Exists(sub), nil
	case rf.IsNot != nil:
		sub, err := buildSub(rf.IsNot, path+".isNot")
		if err != nil {
			return nil, err
		}
		return sqlb.NotExists(sub), nil
	default:
		sub, err := buildSub(nil, path)
		if err != nil {
			return nil, err
		}
		return sqlb.Exists(sub), nil
	}
}
