package query

import (
	qcompile "github.com/arjunmenon/qcompile"
	sqlb "github.com/arjunmenon/qcompile/dialect/sql"
)

// compileHaving turns f into a sqlb.Predicate for a GroupBy query's HAVING
// clause. It mirrors compileFilter's AND/OR/NOT nesting, depth limit, and
// cycle detection, but dispatches *AggregateFilter through an aggregate
// expression (SUM(col), COUNT(*), ...) instead of a bare column reference,
// and restricts the operators an aggregate comparison allows to the set
// spec.md §4.9 names: equals, not, gt, gte, lt, lte, in, notIn. A bare
// *FieldFilter is still accepted, for filtering directly on a grouped
// column rather than an aggregate of it.
func compileHaving(ctx *whereCtx, model, alias string, f Filter, depth int, path string, ancestors map[Filter]bool) (sqlb.Predicate, error) {
	if depth > ctx.opts.MaxDepth {
		return nil, qcompile.NewError(qcompile.KindDepthExceeded, path, "having tree exceeds max depth %d", ctx.opts.MaxDepth).WithModel(model)
	}
	if f == nil {
		return sqlb.And(), nil
	}
	if ancestors[f] {
		return nil, qcompile.NewError(qcompile.KindCycleDetected, path, "having tree contains a cycle back to an ancestor node").WithModel(model)
	}
	ancestors[f] = true
	defer delete(ancestors, f)

	switch v := f.(type) {
	case *And:
		preds := make([]sqlb.Predicate, len(v.Children))
		for i, c := range v.Children {
			p, err := compileHaving(ctx, model, alias, c, depth+1, path+".AND", ancestors)
			if err != nil {
				return nil, err
			}
			preds[i] = p
		}
		return sqlb.And(preds...), nil
	case *Or:
		preds := make([]sqlb.Predicate, len(v.Children))
		for i, c := range v.Children {
			p, err := compileHaving(ctx, model, alias, c, depth+1, path+".OR", ancestors)
			if err != nil {
				return nil, err
			}
			preds[i] = p
		}
		return sqlb.Or(preds...), nil
	case *Not:
		child, err := compileHaving(ctx, model, alias, v.Child, depth+1, path+".NOT", ancestors)
		if err != nil {
			return nil, err
		}
		return sqlb.Not(child), nil
	case *FieldFilter:
		return compileFieldFilter(ctx, model, alias, v, depth, path+"."+v.Field)
	case *AggregateFilter:
		return compileAggregateFilter(ctx, model, alias, v, path)
	default:
		return nil, qcompile.NewError(qcompile.KindUnsupported, path, "unrecognized having node %T", f).WithModel(model)
	}
}

// compileAggregateFilter renders `FN(col) op $n` (or `COUNT(*) op $n` for
// af.CountAll) for one AggregateFilter leaf.
func compileAggregateFilter(ctx *whereCtx, model, alias string, af *AggregateFilter, path string) (sqlb.Predicate, error) {
	var expr string
	if af.Fn == AggCount && af.CountAll {
		expr = "COUNT(*)"
	} else {
		if af.Field == "" {
			return nil, qcompile.NewError(qcompile.KindInvalidArgument, path, "having %s requires a field", af.Fn).WithModel(model)
		}
		fld, ok := ctx.sch.GetFieldByName(model, af.Field)
		if !ok || fld.IsRelation {
			return nil, qcompile.NewError(qcompile.KindUnknownField, path, "unknown having field %q on %s", af.Field, model).WithModel(model).WithField(af.Field)
		}
		if (af.Fn == AggSum || af.Fn == AggAvg) && !fld.Type.Numeric() {
			return nil, qcompile.NewError(qcompile.KindInvalidOperatorForType, path, "%s requires a numeric field, got %q", af.Fn, af.Field).WithModel(model).WithField(af.Field)
		}
		expr = af.Fn.String() + "(" + qualifiedColumn(ctx.d, alias, fld.Column) + ")"
	}
	return havingOpPredicate(ctx, expr, af.Op, model, af.Field, path)
}

// havingOpPredicate applies HAVING's restricted operator set (spec.md
// §4.9: equals, not, gt, gte, lt, lte, in, notIn) against an already-built
// aggregate expression.
func havingOpPredicate(ctx *whereCtx, expr string, op FilterOp, model, fieldName, path string) (sqlb.Predicate, error) {
	switch v := op.(type) {
	case Equals:
		return argPredicate(expr, "=", v.Value), nil
	case NotEquals:
		return argPredicate(expr, "<>", v.Value), nil
	case NotOpWrapper:
		inner, err := havingOpPredicate(ctx, expr, v.Op, model, fieldName, path)
		if err != nil {
			return nil, err
		}
		return sqlb.Not(inner), nil
	case GT:
		return argPredicate(expr, ">", v.Value), nil
	case GTE:
		return argPredicate(expr, ">=", v.Value), nil
	case LT:
		return argPredicate(expr, "<", v.Value), nil
	case LTE:
		return argPredicate(expr, "<=", v.Value), nil
	case In:
		return compileInOrNotIn(ctx, expr, v.Values, false, path)
	case NotIn:
		return compileInOrNotIn(ctx, expr, v.Values, true, path)
	default:
		return nil, qcompile.NewError(qcompile.KindUnknownOperator, path, "having allows only equals/not/gt/gte/lt/lte/in/notIn, got %T", op).WithModel(model).WithField(fieldName)
	}
}
