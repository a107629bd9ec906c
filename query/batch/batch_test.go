package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arjunmenon/qcompile/dialect"
	"github.com/arjunmenon/qcompile/query"
	"github.com/arjunmenon/qcompile/schema"
	"github.com/arjunmenon/qcompile/schema/field"
)

// fakeSchema mirrors the one query's own tests build, duplicated here
// since it resolves unexported test-only helpers that live in package
// query and can't cross the package boundary.
type fakeSchema struct{ cache *schema.Cache }

func newFakeSchema(models ...*schema.Model) *fakeSchema {
	return &fakeSchema{cache: schema.NewCache(models)}
}

func (f *fakeSchema) Model(name string) (*schema.Model, error) { return f.cache.Model(name) }
func (f *fakeSchema) GetFieldByName(model, name string) (schema.Field, bool) {
	return f.cache.GetFieldByName(model, name)
}
func (f *fakeSchema) IsRelation(model, name string) bool  { return f.cache.IsRelation(model, name) }
func (f *fakeSchema) IsScalar(model, name string) bool    { return f.cache.IsScalar(model, name) }
func (f *fakeSchema) IsJSONType(model, name string) bool  { return f.cache.IsJSONType(model, name) }
func (f *fakeSchema) IsArrayType(model, name string) bool { return f.cache.IsArrayType(model, name) }
func (f *fakeSchema) IsNumeric(model, name string) bool   { return f.cache.IsNumeric(model, name) }
func (f *fakeSchema) GetPrimaryKeyFields(model string) ([]schema.Field, error) {
	return f.cache.GetPrimaryKeyFields(model)
}

func userModel() *schema.Model {
	return &schema.Model{
		Name:  "User",
		Table: "users",
		Fields: []schema.Field{
			{Name: "id", Column: "id", Type: field.TypeInt},
			{Name: "email", Column: "email", Type: field.TypeString},
			{Name: "age", Column: "age", Type: field.TypeInt},
		},
	}
}

func postModel() *schema.Model {
	return &schema.Model{
		Name:  "Post",
		Table: "posts",
		Fields: []schema.Field{
			{Name: "id", Column: "id", Type: field.TypeInt},
			{Name: "published", Column: "published", Type: field.TypeBool},
		},
	}
}

func TestCountFusesMultipleRequests(t *testing.T) {
	sch := newFakeSchema(userModel(), postModel())
	reqs := []*query.QueryRequest{
		{Model: "User", Method: query.Count, Where: query.Eq("email", "a@example.com")},
		{Model: "Post", Method: query.Count, Where: query.Eq("published", true)},
		{Model: "User", Method: query.Count},
	}

	cq, err := Count(reqs, dialect.Postgres, sch, nil)
	require.NoError(t, err)

	assert.Contains(t, cq.SQL, `AS "0"`)
	assert.Contains(t, cq.SQL, `AS "1"`)
	assert.Contains(t, cq.SQL, `AS "2"`)
	assert.Contains(t, cq.SQL, "COUNT(*)")

	require.Len(t, cq.Params, 2, "the third sub-query has no WHERE at all, contributing no placeholders")
	assert.Equal(t, 1, cq.Params[0].Position)
	assert.Equal(t, "a@example.com", cq.Params[0].LiteralValue)
	assert.Equal(t, 2, cq.Params[1].Position)
	assert.Equal(t, true, cq.Params[1].LiteralValue)
}

func TestCountRejectsSQLite(t *testing.T) {
	sch := newFakeSchema(userModel())
	reqs := []*query.QueryRequest{{Model: "User", Method: query.Count}}
	_, err := Count(reqs, dialect.SQLite, sch, nil)
	require.Error(t, err)
}

func TestCountRejectsNonCountRequest(t *testing.T) {
	sch := newFakeSchema(userModel())
	reqs := []*query.QueryRequest{{Model: "User", Method: query.FindMany}}
	_, err := Count(reqs, dialect.Postgres, sch, nil)
	require.Error(t, err)
}

func TestCountRejectsEmptyBatch(t *testing.T) {
	_, err := Count(nil, dialect.Postgres, newFakeSchema(userModel()), nil)
	require.Error(t, err)
}
