package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arjunmenon/qcompile/dialect"
	"github.com/arjunmenon/qcompile/schema"
)

func TestCompileFindMany(t *testing.T) {
	sch := newFakeSchema(userModel(), postModel())
	req := &QueryRequest{
		Model:  "User",
		Method: FindMany,
		Where:  Eq("email", "a@example.com"),
		OrderBy: []OrderTerm{{Field: "id", Dir: Asc}},
		Take:    ptrArg(StaticArg(10)),
	}
	cq, err := Compile(req, dialect.Postgres, sch, nil)
	require.NoError(t, err)
	assert.Contains(t, cq.SQL, "SELECT")
	assert.Contains(t, cq.SQL, `FROM "users" AS "users"`)
	assert.Contains(t, cq.SQL, "WHERE")
	assert.Contains(t, cq.SQL, "ORDER BY")
	assert.Contains(t, cq.SQL, "LIMIT")
	assert.False(t, cq.RequiresReduction)
	require.Len(t, cq.Params, 2) // email + limit
	assert.Equal(t, "a@example.com", cq.Params[0].LiteralValue)
}

func TestCompileFindUniqueForcesLimitOne(t *testing.T) {
	sch := newFakeSchema(userModel())
	req := &QueryRequest{Model: "User", Method: FindUnique, Where: Eq("id", 1)}
	cq, err := Compile(req, dialect.Postgres, sch, nil)
	require.NoError(t, err)
	assert.Contains(t, cq.SQL, "LIMIT")
}

func TestCompileCount(t *testing.T) {
	sch := newFakeSchema(userModel())
	req := &QueryRequest{Model: "User", Method: Count}
	cq, err := Compile(req, dialect.Postgres, sch, nil)
	require.NoError(t, err)
	assert.Contains(t, cq.SQL, "COUNT(*)")
}

func TestCompileAggregate(t *testing.T) {
	sch := newFakeSchema(userModel())
	req := &QueryRequest{
		Model:  "User",
		Method: Aggregate,
		Aggregate: &AggregateSpec{CountAll: true, Avg: []string{"age"}},
	}
	cq, err := Compile(req, dialect.Postgres, sch, nil)
	require.NoError(t, err)
	assert.Contains(t, cq.SQL, "COUNT(*)")
	assert.Contains(t, cq.SQL, "AVG(")
}

func TestCompileGroupByWithHaving(t *testing.T) {
	sch := newFakeSchema(userModel())
	req := &QueryRequest{
		Model:         "User",
		Method:        GroupBy,
		GroupByFields: []string{"age"},
		Aggregate:     &AggregateSpec{CountAll: true},
		Having:        &FieldFilter{Field: "age", Op: GT{Value: 0}},
	}
	cq, err := Compile(req, dialect.Postgres, sch, nil)
	require.NoError(t, err)
	assert.Contains(t, cq.SQL, "GROUP BY")
	assert.Contains(t, cq.SQL, "HAVING")
}

func TestCompileGroupByWithAggregateHaving(t *testing.T) {
	sch := newFakeSchema(userModel())
	req := &QueryRequest{
		Model:         "User",
		Method:        GroupBy,
		GroupByFields: []string{"age"},
		Aggregate:     &AggregateSpec{Sum: []string{"age"}, Avg: []string{"age"}},
		Having: &And{Children: []Filter{
			&AggregateFilter{Fn: AggSum, Field: "age", Op: GT{Value: 10}},
			&AggregateFilter{Fn: AggAvg, Field: "age", Op: LTE{Value: 99}},
		}},
	}
	cq, err := Compile(req, dialect.Postgres, sch, nil)
	require.NoError(t, err)
	assert.Contains(t, cq.SQL, "GROUP BY")
	assert.Contains(t, cq.SQL, "HAVING")
	assert.Contains(t, cq.SQL, "SUM(")
	assert.Contains(t, cq.SQL, "AVG(")
	require.Len(t, cq.Params, 2)
	assert.Equal(t, 10, cq.Params[0].LiteralValue)
	assert.Equal(t, 99, cq.Params[1].LiteralValue)
}

func TestCompileGroupByHavingRejectsUnsupportedOperator(t *testing.T) {
	sch := newFakeSchema(userModel())
	req := &QueryRequest{
		Model:         "User",
		Method:        GroupBy,
		GroupByFields: []string{"age"},
		Aggregate:     &AggregateSpec{Sum: []string{"age"}},
		Having:        &AggregateFilter{Fn: AggSum, Field: "age", Op: Contains{Value: "x"}},
	}
	_, err := Compile(req, dialect.Postgres, sch, nil)
	require.Error(t, err)
}

func TestCompileUnknownModel(t *testing.T) {
	sch := newFakeSchema(userModel())
	req := &QueryRequest{Model: "Ghost", Method: FindMany}
	_, err := Compile(req, dialect.Postgres, sch, nil)
	require.Error(t, err)
}

// Without stats, a to-many relation defaults to a follow-up fetch rather
// than an embed: absent cardinality data is treated as row-explosion risk.
func TestCompileIncludeWithoutStatsDefersToFollowUp(t *testing.T) {
	sch := newFakeSchema(userModel(), postModel())
	req := &QueryRequest{
		Model:  "User",
		Method: FindMany,
		Include: map[string]*IncludeSpec{
			"posts": {},
		},
	}
	cq, err := Compile(req, dialect.Postgres, sch, nil)
	require.NoError(t, err)
	assert.False(t, cq.RequiresReduction)
	require.NotNil(t, cq.IncludePlan)
	require.Len(t, cq.IncludePlan.Relations, 1)
	assert.Equal(t, "posts", cq.IncludePlan.Relations[0].Name)
	assert.False(t, cq.IncludePlan.Relations[0].Embedded)
	assert.NotContains(t, cq.SQL, "LEFT JOIN")
}

func TestCompileIncludeEmbedsLowCardinalityRelation(t *testing.T) {
	sch := newFakeSchema(userModel(), postModel())
	stats := schema.RelationStats{
		"User": {"posts": schema.RelationStat{Avg: 2, P95: 3, P99: 4, Max: 5, Coverage: 1}},
	}
	req := &QueryRequest{
		Model:  "User",
		Method: FindMany,
		Include: map[string]*IncludeSpec{
			"posts": {},
		},
	}
	cq, err := Compile(req, dialect.Postgres, sch, stats)
	require.NoError(t, err)
	assert.True(t, cq.RequiresReduction)
	require.NotNil(t, cq.IncludePlan)
	assert.True(t, cq.IncludePlan.Relations[0].Embedded)
	assert.Contains(t, cq.SQL, "LEFT JOIN")
}

func TestCompileCountRejectsPositiveSkip(t *testing.T) {
	sch := newFakeSchema(userModel())
	req := &QueryRequest{Model: "User", Method: Count, Skip: ptrArg(StaticArg(5))}
	_, err := Compile(req, dialect.Postgres, sch, nil)
	require.Error(t, err)
}

func TestCompileCountRejectsDynamicSkip(t *testing.T) {
	sch := newFakeSchema(userModel())
	req := &QueryRequest{Model: "User", Method: Count, Skip: ptrArg(DynamicArg("skip"))}
	_, err := Compile(req, dialect.Postgres, sch, nil)
	require.Error(t, err)
}

func TestCompileCountAllowsZeroSkip(t *testing.T) {
	sch := newFakeSchema(userModel())
	req := &QueryRequest{Model: "User", Method: Count, Skip: ptrArg(StaticArg(0))}
	cq, err := Compile(req, dialect.Postgres, sch, nil)
	require.NoError(t, err)
	assert.Contains(t, cq.SQL, "COUNT(*)")
}

func TestCompileDistinctScopesToSelectedColumns(t *testing.T) {
	sch := newFakeSchema(userModel())
	req := &QueryRequest{Model: "User", Method: FindMany, Distinct: []string{"age"}}
	cq, err := Compile(req, dialect.Postgres, sch, nil)
	require.NoError(t, err)
	assert.Contains(t, cq.SQL, "SELECT DISTINCT")
	assert.NotContains(t, cq.SQL, "email")
}

func TestCompileDistinctRejectsUnknownField(t *testing.T) {
	sch := newFakeSchema(userModel())
	req := &QueryRequest{Model: "User", Method: FindMany, Distinct: []string{"nope"}}
	_, err := Compile(req, dialect.Postgres, sch, nil)
	require.Error(t, err)
}

func TestCompileDistinctRejectsWithInclude(t *testing.T) {
	sch := newFakeSchema(userModel(), postModel())
	req := &QueryRequest{
		Model: "User", Method: FindMany,
		Distinct: []string{"age"},
		Include:  map[string]*IncludeSpec{"posts": {}},
	}
	_, err := Compile(req, dialect.Postgres, sch, nil)
	require.Error(t, err)
}

func TestCompileSelectUnknownFieldErrors(t *testing.T) {
	sch := newFakeSchema(userModel())
	req := &QueryRequest{Model: "User", Method: FindMany, Select: []string{"nope"}}
	_, err := Compile(req, dialect.Postgres, sch, nil)
	require.Error(t, err)
}

func TestCompileIncludeUnknownKeyIsSilentlyIgnored(t *testing.T) {
	sch := newFakeSchema(userModel(), postModel())
	req := &QueryRequest{
		Model: "User", Method: FindMany,
		Include: map[string]*IncludeSpec{"nope": {}},
	}
	cq, err := Compile(req, dialect.Postgres, sch, nil)
	require.NoError(t, err)
	assert.Empty(t, cq.IncludePlan.Relations)
}

func TestCompileOrderByAddsIDTieBreaker(t *testing.T) {
	sch := newFakeSchema(userModel())
	req := &QueryRequest{
		Model: "User", Method: FindMany,
		OrderBy: []OrderTerm{{Field: "age", Dir: Asc}},
	}
	cq, err := Compile(req, dialect.Postgres, sch, nil)
	require.NoError(t, err)
	assert.Contains(t, cq.SQL, `"users"."age", "users"."id"`)
}

func TestCompileCursorPagination(t *testing.T) {
	sch := newFakeSchema(userModel())
	req := &QueryRequest{
		Model: "User", Method: FindMany,
		OrderBy: []OrderTerm{{Field: "age", Dir: Asc}},
		Cursor:  map[string]any{"age": 30, "id": 7},
	}
	cq, err := Compile(req, dialect.Postgres, sch, nil)
	require.NoError(t, err)
	assert.Contains(t, cq.SQL, "WHERE")
	assert.Contains(t, cq.SQL, "OR")
}

func TestCompileCursorRejectsNonLeadingField(t *testing.T) {
	sch := newFakeSchema(userModel())
	req := &QueryRequest{
		Model: "User", Method: FindMany,
		OrderBy: []OrderTerm{{Field: "age", Dir: Asc}},
		Cursor:  map[string]any{"email": "a@example.com"},
	}
	_, err := Compile(req, dialect.Postgres, sch, nil)
	require.Error(t, err)
}

func TestCompileEmbeddedIncludeWithTakeUsesWindowPagination(t *testing.T) {
	sch := newFakeSchema(userModel(), postModel())
	stats := schema.RelationStats{
		"User": {"posts": schema.RelationStat{Avg: 2, P95: 3, P99: 4, Max: 5, Coverage: 1}},
	}
	req := &QueryRequest{
		Model:  "User",
		Method: FindMany,
		Include: map[string]*IncludeSpec{
			"posts": {},
		},
		Take: ptrArg(StaticArg(10)),
	}
	cq, err := Compile(req, dialect.Postgres, sch, stats)
	require.NoError(t, err)
	assert.True(t, cq.RequiresReduction)
	assert.Contains(t, cq.SQL, "DENSE_RANK()")
	assert.Contains(t, cq.SQL, `"_prank"`)
}

func TestCompileEmbeddedIncludeWithTakeUsesParentKeySubselectOnSQLite(t *testing.T) {
	sch := newFakeSchema(userModel(), postModel())
	stats := schema.RelationStats{
		"User": {"posts": schema.RelationStat{Avg: 2, P95: 3, P99: 4, Max: 5, Coverage: 1}},
	}
	req := &QueryRequest{
		Model:  "User",
		Method: FindMany,
		Include: map[string]*IncludeSpec{
			"posts": {},
		},
		Take: ptrArg(StaticArg(10)),
	}
	cq, err := Compile(req, dialect.SQLite, sch, stats)
	require.NoError(t, err)
	assert.True(t, cq.RequiresReduction)
	assert.Contains(t, cq.SQL, "IN (SELECT")
	assert.NotContains(t, cq.SQL, "DENSE_RANK")
}

func ptrArg(a Arg) *Arg { return &a }
