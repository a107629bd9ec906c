package fetch

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arjunmenon/qcompile/dialect"
	sqlb "github.com/arjunmenon/qcompile/dialect/sql"
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
			{Name: "title", Column: "title", Type: field.TypeString},
		},
	}
}

// fakeRows is an in-memory sqlb.ColumnScanner backing a canned result set,
// so tests never touch a real driver.
type fakeRows struct {
	cols []string
	rows [][]any
	idx  int
}

func (r *fakeRows) Close() error                           { return nil }
func (r *fakeRows) ColumnTypes() ([]*sql.ColumnType, error) { return nil, nil }
func (r *fakeRows) Columns() ([]string, error)              { return r.cols, nil }
func (r *fakeRows) Err() error                              { return nil }
func (r *fakeRows) NextResultSet() bool                     { return false }
func (r *fakeRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}
func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.idx-1]
	for i, v := range row {
		ptr := dest[i].(*any)
		*ptr = v
	}
	return nil
}

// fakeExecer answers every Query call with whatever queryFn returns,
// ignoring the SQL text and inspecting args directly — the fetch package
// only cares that it shapes the right filter and scans the right rows,
// not that a particular dialect renders IN-lists one way or another
// (the compiler's own where_test.go already covers that).
type fakeExecer struct {
	queryFn func(args []any) (cols []string, rows [][]any)
	calls   [][]any
}

func (f *fakeExecer) Exec(ctx context.Context, query string, args, v any) error { return nil }
func (f *fakeExecer) Query(ctx context.Context, query string, args, v any) error {
	argv := args.([]any)
	f.calls = append(f.calls, argv)
	cols, rows := f.queryFn(argv)
	rs, ok := v.(*sqlb.Rows)
	if !ok {
		return errors.New("fakeExecer: unexpected v type")
	}
	*rs = sqlb.Rows{ColumnScanner: &fakeRows{cols: cols, rows: rows}}
	return nil
}

func TestAttachFetchesNonEmbeddedToManyRelation(t *testing.T) {
	sch := newFakeSchema(userModel(), postModel())
	records := []map[string]any{
		{"id": int64(1)},
		{"id": int64(2)},
		{"id": int64(3)}, // no posts
	}
	plan := &query.IncludePlan{
		ParentModel: "User",
		Relations: []query.IncludeRelationPlan{
			{
				Name: "posts", Many: true, RelatedModel: "Post", Embedded: false,
				LocalField: "id", ForeignField: "author_id",
				Spec: &query.IncludeSpec{},
			},
		},
	}

	execer := &fakeExecer{
		queryFn: func(args []any) ([]string, [][]any) {
			return []string{"posts.id", "posts.author_id", "posts.title"}, [][]any{
				{int64(10), int64(1), "first"},
				{int64(11), int64(1), "second"},
				{int64(12), int64(2), "third"},
			}
		},
	}

	err := Attach(context.Background(), execer, dialect.Postgres, sch, nil, query.DefaultOptions(), plan, records)
	require.NoError(t, err)

	require.Len(t, execer.calls, 1)
	require.Len(t, execer.calls[0], 1, "postgres binds an IN-list as a single array parameter")
	assert.ElementsMatch(t, []any{int64(1), int64(2), int64(3)}, execer.calls[0][0], "every distinct non-null parent key should be looked up")

	posts1, ok := records[0]["posts"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, posts1, 2)
	assert.Equal(t, "first", posts1[0]["title"])

	posts2, ok := records[1]["posts"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, posts2, 1)
	assert.Equal(t, "third", posts2[0]["title"])

	posts3, ok := records[2]["posts"].([]map[string]any)
	require.True(t, ok)
	assert.Empty(t, posts3, "a parent with no matching children gets an empty slice, not nil")
}

func TestAttachToOneRelationSetsNilWithoutMatch(t *testing.T) {
	sch := newFakeSchema(userModel(), postModel())
	records := []map[string]any{{"author_id": int64(1)}, {"author_id": int64(99)}}
	plan := &query.IncludePlan{
		ParentModel: "Post",
		Relations: []query.IncludeRelationPlan{
			{
				Name: "author", Many: false, RelatedModel: "User", Embedded: false,
				LocalField: "author_id", ForeignField: "id",
				Spec: &query.IncludeSpec{},
			},
		},
	}
	execer := &fakeExecer{
		queryFn: func(args []any) ([]string, [][]any) {
			return []string{"users.id", "users.email"}, [][]any{
				{int64(1), "a@example.com"},
			}
		},
	}

	err := Attach(context.Background(), execer, dialect.Postgres, sch, nil, query.DefaultOptions(), plan, records)
	require.NoError(t, err)

	author, ok := records[0]["author"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a@example.com", author["email"])
	assert.Nil(t, records[1]["author"])
}

func TestAttachSkipsEmbeddedRelationsWithNoFollowUp(t *testing.T) {
	records := []map[string]any{{"id": int64(1)}}
	plan := &query.IncludePlan{
		ParentModel: "User",
		Relations: []query.IncludeRelationPlan{
			{Name: "posts", Many: true, RelatedModel: "Post", Embedded: true},
		},
	}
	execer := &fakeExecer{queryFn: func(args []any) ([]string, [][]any) {
		t.Fatal("an embedded relation with no follow-up should never issue a query")
		return nil, nil
	}}
	err := Attach(context.Background(), execer, dialect.Postgres, nil, nil, query.DefaultOptions(), plan, records)
	require.NoError(t, err)
}

func TestAttachStripsHiddenJoinKeyColumn(t *testing.T) {
	sch := newFakeSchema(userModel(), postModel())
	records := []map[string]any{{"id": int64(1)}}
	plan := &query.IncludePlan{
		ParentModel: "User",
		Hidden:      map[string]bool{"id": true},
		Relations: []query.IncludeRelationPlan{
			{
				Name: "posts", Many: true, RelatedModel: "Post", Embedded: false,
				LocalField: "id", ForeignField: "author_id",
				Spec: &query.IncludeSpec{},
			},
		},
	}
	execer := &fakeExecer{queryFn: func(args []any) ([]string, [][]any) {
		return []string{"posts.id", "posts.author_id", "posts.title"}, [][]any{{int64(10), int64(1), "first"}}
	}}
	err := Attach(context.Background(), execer, dialect.Postgres, sch, nil, query.DefaultOptions(), plan, records)
	require.NoError(t, err)
	_, present := records[0]["id"]
	assert.False(t, present, "a field projected only to support the fetch must not leak into the final record")
}
