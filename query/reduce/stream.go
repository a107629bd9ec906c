package reduce

import (
	qcompile "github.com/arjunmenon/qcompile"
	"github.com/arjunmenon/qcompile/query"
)

// Stream is the progressive counterpart to Reduce: it consumes rows one at
// a time and yields a parent record as soon as the next row's parent key
// differs from the current one, rather than buffering the whole result
// set. It relies on rows arriving grouped by the parent's primary key,
// which an embedding SELECT guarantees as long as its ORDER BY resolves to
// a total order over parent rows; query.Compile arranges this by appending
// an ascending "id" tie-breaker whenever the caller's own orderBy doesn't
// already include it, and by placing the parent's ORDER BY terms ahead of
// any embedded relation's (see compileFind and applyOrderBy in
// query/compile.go).
type Stream struct {
	plan    *query.IncludePlan
	cur     string
	curRows []Row
	done    bool
}

// NewStream returns a Stream for plan.
func NewStream(plan *query.IncludePlan) *Stream {
	return &Stream{plan: plan}
}

// Push absorbs one row, returning a completed parent record when row
// belongs to a different parent than the one currently being accumulated.
// The final parent of the stream is only returned by Flush.
func (s *Stream) Push(row Row) (*map[string]any, error) {
	key, ok, err := rowKey(s.plan.PKAliases, row)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if s.curRows == nil {
		s.cur = key
		s.curRows = []Row{row}
		return nil, nil
	}
	if key == s.cur {
		s.curRows = append(s.curRows, row)
		return nil, nil
	}
	rec, err := materialize(s.plan, s.curRows)
	if err != nil {
		return nil, err
	}
	s.cur = key
	s.curRows = []Row{row}
	return &rec, nil
}

// Flush materializes any parent still being accumulated. Call it once the
// row source is exhausted; it returns (nil, nil) if Push was never called
// with a non-null key.
func (s *Stream) Flush() (*map[string]any, error) {
	if s.done {
		return nil, qcompile.NewError(qcompile.KindStateCorruption, "reduce.stream", "stream flushed twice")
	}
	s.done = true
	if s.curRows == nil {
		return nil, nil
	}
	rec, err := materialize(s.plan, s.curRows)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
