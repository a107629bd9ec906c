package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arjunmenon/qcompile/dialect"
	sqlb "github.com/arjunmenon/qcompile/dialect/sql"
	"github.com/arjunmenon/qcompile/schema"
	"github.com/arjunmenon/qcompile/schema/field"
)

type fakeSchema struct {
	models map[string]*schema.Model
	cache  *schema.Cache
}

func newFakeSchema(models ...*schema.Model) *fakeSchema {
	return &fakeSchema{cache: schema.NewCache(models)}
}

func (f *fakeSchema) Model(name string) (*schema.Model, error) { return f.cache.Model(name) }
func (f *fakeSchema) GetFieldByName(model, name string) (schema.Field, bool) {
	return f.cache.GetFieldByName(model, name)
}
func (f *fakeSchema) IsRelation(model, name string) bool { return f.cache.IsRelation(model, name) }
func (f *fakeSchema) IsScalar(model, name string) bool   { return f.cache.IsScalar(model, name) }
func (f *fakeSchema) IsJSONType(model, name string) bool { return f.cache.IsJSONType(model, name) }
func (f *fakeSchema) IsArrayType(model, name string) bool {
	return f.cache.IsArrayType(model, name)
}
func (f *fakeSchema) IsNumeric(model, name string) bool { return f.cache.IsNumeric(model, name) }
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
			{Name: "age", Column: "age", Type: field.TypeInt, Nullable: true},
			{Name: "tags", Column: "tags", Type: field.TypeString, Array: true},
			{Name: "metadata", Column: "metadata", Type: field.TypeJSON, Nullable: true},
			{
				Name: "posts", IsRelation: true, Many: true,
				RelatedModel: "Post", RelationName: "UserPosts",
				Locality: schema.LocalityInverse,
				ForeignKeyColumns: []string{"author_id"}, ReferenceColumns: []string{"id"},
			},
		},
	}
}

func postModel() *schema.Model {
	return &schema.Model{
		Name:  "Post",
		Table: "posts",
		Fields: []schema.Field{
			{Name: "id", Column: "id", Type: field.TypeInt},
			{Name: "author_id", Column: "author_id", Type: field.TypeInt},
			{Name: "published", Column: "published", Type: field.TypeBool},
		},
	}
}

func compileToSQL(t *testing.T, d dialect.Dialect, sch Schema, model, alias string, f Filter) (string, []any) {
	t.Helper()
	ctx := &whereCtx{d: d, sch: sch, opts: DefaultOptions()}
	pred, err := compileFilter(ctx, model, alias, f, 0, "where", newAncestors())
	require.NoError(t, err)
	b := sqlb.NewBuilder(d)
	b.WriteString("WHERE ")
	pred(b)
	return b.String(), b.Args()
}

func TestCompileFieldFilterEquals(t *testing.T) {
	sch := newFakeSchema(userModel())
	sqlText, args := compileToSQL(t, dialect.PG, sch, "User", "users", Eq("email", "a@example.com"))
	assert.Equal(t, `WHERE "users"."email" = $1`, sqlText)
	assert.Equal(t, []any{"a@example.com"}, args)
}

func TestCompileIsNull(t *testing.T) {
	sch := newFakeSchema(userModel())
	sqlText, args := compileToSQL(t, dialect.PG, sch, "User", "users", IsNull("age"))
	assert.Equal(t, `WHERE "users"."age" IS NULL`, sqlText)
	assert.Empty(t, args)
}

func TestCompileAndOr(t *testing.T) {
	sch := newFakeSchema(userModel())
	f := &And{Children: []Filter{
		Eq("email", "a@example.com"),
		&Or{Children: []Filter{
			&FieldFilter{Field: "age", Op: GT{Value: 18}},
			IsNull("age"),
		}},
	}}
	sqlText, args := compileToSQL(t, dialect.PG, sch, "User", "users", f)
	assert.Equal(t, `WHERE ("users"."email" = $1 AND ("users"."age" > $2 OR "users"."age" IS NULL))`, sqlText)
	assert.Equal(t, []any{"a@example.com", 18}, args)
}

func TestCompileInEmptyIsFalse(t *testing.T) {
	sch := newFakeSchema(userModel())
	sqlText, args := compileToSQL(t, dialect.PG, sch, "User", "users", &FieldFilter{Field: "id", Op: In{}})
	assert.Equal(t, `WHERE 0=1`, sqlText)
	assert.Empty(t, args)
}

func TestCompileGTRejectsNonNumeric(t *testing.T) {
	sch := newFakeSchema(userModel())
	ctx := &whereCtx{d: dialect.PG, sch: sch, opts: DefaultOptions()}
	_, err := compileFilter(ctx, "User", "users", &FieldFilter{Field: "email", Op: GT{Value: "z"}}, 0, "where", newAncestors())
	require.Error(t, err)
}

func TestCompileRelationFilterSome(t *testing.T) {
	sch := newFakeSchema(userModel(), postModel())
	f := &RelationFilter{
		Field: "posts",
		Some:  &FieldFilter{Field: "published", Op: Equals{Value: true}},
	}
	sqlText, args := compileToSQL(t, dialect.PG, sch, "User", "users", f)
	assert.Contains(t, sqlText, "EXISTS (SELECT 1 FROM")
	assert.Contains(t, sqlText, `"author_id"`)
	assert.Equal(t, []any{true}, args)
}

func TestCompileArrayHas(t *testing.T) {
	sch := newFakeSchema(userModel())
	sqlText, args := compileToSQL(t, dialect.PG, sch, "User", "users", &FieldFilter{Field: "tags", Op: Has{Value: "vip"}})
	assert.Contains(t, sqlText, "@>")
	assert.Equal(t, []any{[]any{"vip"}}, args)
}

func TestCompileUnknownField(t *testing.T) {
	sch := newFakeSchema(userModel())
	ctx := &whereCtx{d: dialect.PG, sch: sch, opts: DefaultOptions()}
	_, err := compileFilter(ctx, "User", "users", Eq("nope", 1), 0, "where", newAncestors())
	require.Error(t, err)
}
