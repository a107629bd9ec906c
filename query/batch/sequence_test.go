package batch

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arjunmenon/qcompile/dialect"
	sqlb "github.com/arjunmenon/qcompile/dialect/sql"
	"github.com/arjunmenon/qcompile/query"
)

// fakeRows is an in-memory sqlb.ColumnScanner backing a canned result set.
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

// fakeTx records every Exec/Query call and answers Query calls by index
// against a canned table of results, so Sequence's behavior is tested
// without a live database.
type fakeTx struct {
	execCalls  []string
	queryCalls []string
	results    [][]fakeRow
	next       int
	commitErr  error
	rollback   bool
}

type fakeRow struct {
	cols []string
	vals [][]any
}

func (f *fakeTx) Exec(ctx context.Context, query string, args, v any) error {
	f.execCalls = append(f.execCalls, query)
	return nil
}

func (f *fakeTx) Query(ctx context.Context, query string, args, v any) error {
	f.queryCalls = append(f.queryCalls, query)
	if f.next >= len(f.results) {
		return assert.AnError
	}
	rs, ok := v.(*sqlb.Rows)
	if !ok {
		return assert.AnError
	}
	res := f.results[f.next]
	f.next++
	*rs = sqlb.Rows{ColumnScanner: &fakeRows{cols: res[0].cols, rows: res[0].vals}}
	return nil
}

func (f *fakeTx) Tx(context.Context) (dialect.Tx, error) { return nil, assert.AnError }
func (f *fakeTx) Close() error                           { return nil }
func (f *fakeTx) Dialect() string                        { return dialect.Postgres }
func (f *fakeTx) Commit() error                           { return f.commitErr }
func (f *fakeTx) Rollback() error                         { f.rollback = true; return nil }

// fakeDriver hands out a single fakeTx so the test can inspect it after
// Sequence returns.
type fakeDriver struct {
	tx *fakeTx
}

func (f *fakeDriver) Exec(ctx context.Context, query string, args, v any) error  { return nil }
func (f *fakeDriver) Query(ctx context.Context, query string, args, v any) error { return nil }
func (f *fakeDriver) Tx(context.Context) (dialect.Tx, error)                    { return f.tx, nil }
func (f *fakeDriver) Close() error                                              { return nil }
func (f *fakeDriver) Dialect() string                                           { return dialect.Postgres }

func TestSequenceRunsQueriesInOrderAndCommits(t *testing.T) {
	tx := &fakeTx{
		results: [][]fakeRow{
			{{cols: []string{"_count"}, vals: [][]any{{int64(3)}}}},
			{{cols: []string{"_count"}, vals: [][]any{{int64(7)}}}},
		},
	}
	drv := &fakeDriver{tx: tx}

	queries := []*query.CompiledQuery{
		{SQL: `SELECT COUNT(*) AS "_count" FROM "users"`},
		{SQL: `SELECT COUNT(*) AS "_count" FROM "posts"`},
	}

	results, err := Sequence(context.Background(), drv, dialect.Postgres, queries, SequenceOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(3), results[0][0]["_count"])
	assert.Equal(t, int64(7), results[1][0]["_count"])
	assert.False(t, tx.rollback)
	require.Len(t, tx.execCalls, 1, "only the isolation-level SET, since StatementTimeoutMS was left at 0")
}

func TestSequenceSetsStatementTimeout(t *testing.T) {
	tx := &fakeTx{results: [][]fakeRow{{{cols: []string{"_count"}, vals: [][]any{{int64(1)}}}}}}
	drv := &fakeDriver{tx: tx}
	queries := []*query.CompiledQuery{{SQL: `SELECT COUNT(*) AS "_count" FROM "users"`}}

	_, err := Sequence(context.Background(), drv, dialect.Postgres, queries, SequenceOptions{StatementTimeoutMS: 500})
	require.NoError(t, err)
	require.Len(t, tx.execCalls, 2)
	assert.Contains(t, tx.execCalls[1], "statement_timeout = 500")
}

func TestSequenceRollsBackOnFailure(t *testing.T) {
	tx := &fakeTx{results: [][]fakeRow{}}
	drv := &fakeDriver{tx: tx}
	queries := []*query.CompiledQuery{{SQL: `SELECT COUNT(*) AS "_count" FROM "users"`}}

	_, err := Sequence(context.Background(), drv, dialect.Postgres, queries, SequenceOptions{})
	require.Error(t, err)
	assert.True(t, tx.rollback)
}

func TestSequenceRejectsSQLite(t *testing.T) {
	_, err := Sequence(context.Background(), &fakeDriver{}, dialect.SQLite, []*query.CompiledQuery{{}}, SequenceOptions{})
	require.Error(t, err)
}

func TestSequenceRecordsStats(t *testing.T) {
	tx := &fakeTx{
		results: [][]fakeRow{
			{{cols: []string{"_count"}, vals: [][]any{{int64(3)}}}},
			{{cols: []string{"_count"}, vals: [][]any{{int64(7)}}}},
		},
	}
	drv := &fakeDriver{tx: tx}
	queries := []*query.CompiledQuery{
		{SQL: `SELECT COUNT(*) AS "_count" FROM "users"`},
		{SQL: `SELECT COUNT(*) AS "_count" FROM "posts"`},
	}

	stats := &sqlb.QueryStats{}
	_, err := Sequence(context.Background(), drv, dialect.Postgres, queries, SequenceOptions{Stats: stats})
	require.NoError(t, err)
	snap := stats.Stats()
	assert.Equal(t, int64(2), snap.TotalQueries)
	assert.Equal(t, int64(0), snap.Errors)
}

func TestSequenceRejectsNegativeTimeout(t *testing.T) {
	_, err := Sequence(context.Background(), &fakeDriver{}, dialect.Postgres, []*query.CompiledQuery{{}}, SequenceOptions{StatementTimeoutMS: -1})
	require.Error(t, err)
}
