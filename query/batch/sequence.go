package batch

import (
	"context"
	"fmt"
	"strconv"
	"time"

	qcompile "github.com/arjunmenon/qcompile"
	"github.com/arjunmenon/qcompile/dialect"
	sqlb "github.com/arjunmenon/qcompile/dialect/sql"
	"github.com/arjunmenon/qcompile/query"
	"github.com/arjunmenon/qcompile/query/reduce"
)

// IsolationLevel names a transaction isolation level for Sequence.
type IsolationLevel uint8

const (
	ReadCommitted IsolationLevel = iota
	RepeatableRead
	Serializable
)

func (l IsolationLevel) sql() string {
	switch l {
	case RepeatableRead:
		return "REPEATABLE READ"
	case Serializable:
		return "SERIALIZABLE"
	default:
		return "READ COMMITTED"
	}
}

// SequenceOptions configures the transaction Sequence runs its queries
// under. StatementTimeoutMS of 0 leaves the session's configured default
// in place.
type SequenceOptions struct {
	Isolation          IsolationLevel
	StatementTimeoutMS int

	// Stats, if non-nil, accumulates per-statement counts and durations
	// for every query this Sequence call runs, using the same counters
	// dialect/sql.StatsDriver keeps for a whole connection (see
	// dialect/sql/stats.go), scoped here to just this one transaction.
	Stats *sqlb.QueryStats
	// SlowThreshold bounds how long a sequenced statement can run before
	// it's counted against Stats.SlowQueries. Ignored if Stats is nil.
	// Zero means every statement counts as slow once Stats is set.
	SlowThreshold time.Duration
}

// Sequence runs queries, in order, inside a single PostgreSQL transaction
// and returns each query's rows reduced the same way query/fetch reduces
// a follow-up fetch's rows. A failure at any step rolls back the whole
// transaction; spec.md's non-goals stop this at "a thin sequencer" — there
// is no savepoint-per-statement recovery.
func Sequence(ctx context.Context, driver dialect.Driver, dialectName string, queries []*query.CompiledQuery, opts SequenceOptions) ([][]map[string]any, error) {
	if dialectName != dialect.Postgres {
		return nil, qcompile.NewError(qcompile.KindUnsupported, "dialect", "transaction sequencing is only supported for %s", dialect.Postgres)
	}
	if opts.StatementTimeoutMS < 0 {
		return nil, qcompile.NewError(qcompile.KindInvalidOption, "statementTimeoutMS", "statement timeout must be non-negative, got %d", opts.StatementTimeoutMS)
	}
	if len(queries) == 0 {
		return nil, qcompile.NewError(qcompile.KindInvalidArgument, "queries", "sequence requires at least one query")
	}

	tx, err := driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL "+opts.Isolation.sql(), []any{}, nil); err != nil {
		return nil, fmt.Errorf("set isolation level: %w", err)
	}
	if opts.StatementTimeoutMS > 0 {
		if err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", opts.StatementTimeoutMS), []any{}, nil); err != nil {
			return nil, fmt.Errorf("set statement timeout: %w", err)
		}
	}

	results := make([][]map[string]any, len(queries))
	for i, cq := range queries {
		args := make([]any, len(cq.Params))
		for j, b := range cq.Params {
			if b.IsDynamic() {
				return nil, qcompile.NewError(qcompile.KindUnsupported, "queries["+strconv.Itoa(i)+"]", "sequenced query %d has an unresolved dynamic parameter", i)
			}
			args[j] = b.LiteralValue
		}

		var rows sqlb.Rows
		start := time.Now()
		err := tx.Query(ctx, cq.SQL, args, &rows)
		recordSequenceStats(opts.Stats, opts.SlowThreshold, time.Since(start), err)
		if err != nil {
			return nil, fmt.Errorf("sequenced query %d: %w", i, err)
		}
		scanned, err := reduce.ScanRows(&rows)
		if err != nil {
			return nil, fmt.Errorf("sequenced query %d: %w", i, err)
		}
		if cq.IncludePlan != nil {
			rec, err := reduce.Reduce(cq.IncludePlan, scanned)
			if err != nil {
				return nil, fmt.Errorf("sequenced query %d: %w", i, err)
			}
			results[i] = rec
		} else {
			rec := make([]map[string]any, len(scanned))
			for j, row := range scanned {
				rec[j] = row
			}
			results[i] = rec
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return results, nil
}

// recordSequenceStats updates stats the same way dialect/sql.StatsDriver's
// record method does, but for one sequenced statement rather than a whole
// connection's lifetime. A nil stats is a no-op: Stats is opt-in.
func recordSequenceStats(stats *sqlb.QueryStats, slowThreshold, duration time.Duration, err error) {
	if stats == nil {
		return
	}
	stats.TotalQueries.Add(1)
	stats.TotalDuration.Add(int64(duration))
	if err != nil {
		stats.Errors.Add(1)
	}
	if duration > slowThreshold {
		stats.SlowQueries.Add(1)
	}
}
