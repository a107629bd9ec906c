// Package batch composes several independently compiled queries into one
// round trip: Count fuses a list of count(where) requests into a single
// multi-subselect statement, and Sequence runs a list of already-compiled
// queries inside one transaction. Both are PostgreSQL-only, matching
// spec.md's own "batch on SQLite" example of an Unsupported request.
package batch

import (
	"regexp"
	"strconv"
	"strings"

	qcompile "github.com/arjunmenon/qcompile"
	"github.com/arjunmenon/qcompile/dialect"
	"github.com/arjunmenon/qcompile/query"
)

var placeholderRe = regexp.MustCompile(`\$(\d+)`)

// Count fuses reqs (each a Count-method request) into one statement
// shaped `SELECT (<sub0>) AS "0", (<sub1>) AS "1", ...`, where each subN is
// the scalar-subquery form of query.Compile's own count SQL. Placeholder
// positions are reindexed into a single outer vector in request order;
// per spec.md §4.12, an inner position referenced more than once within
// one sub-query's own WHERE collapses to a single outer position rather
// than being duplicated.
func Count(reqs []*query.QueryRequest, dialectName string, sch query.Schema, stats query.Stats, opts ...query.Option) (*query.CompiledQuery, error) {
	if dialectName != dialect.Postgres {
		return nil, qcompile.NewError(qcompile.KindUnsupported, "dialect", "batch count is only supported for %s", dialect.Postgres)
	}
	if len(reqs) == 0 {
		return nil, qcompile.NewError(qcompile.KindInvalidArgument, "requests", "batch count requires at least one request")
	}

	var sql strings.Builder
	sql.WriteString("SELECT ")
	var params []query.Binding
	nextPos := 0

	for i, req := range reqs {
		if req.Method != query.Count {
			return nil, qcompile.NewError(qcompile.KindInvalidArgument, "requests["+strconv.Itoa(i)+"]", "batch count request %d is not a count request", i)
		}
		cq, err := query.Compile(req, dialectName, sch, stats, opts...)
		if err != nil {
			return nil, err
		}

		rewritten, subParams := remapPlaceholders(cq.SQL, cq.Params, &nextPos)
		params = append(params, subParams...)

		if i > 0 {
			sql.WriteString(", ")
		}
		sql.WriteByte('(')
		sql.WriteString(rewritten)
		sql.WriteString(") AS \"")
		sql.WriteString(strconv.Itoa(i))
		sql.WriteByte('"')
	}

	return &query.CompiledQuery{SQL: sql.String(), Params: params}, nil
}

// remapPlaceholders rewrites every "$N" token in sql — numbered densely
// from 1 by query.Compile for this sub-query alone — into the batch's
// running outer position. An inner position already seen in this
// sub-query reuses its previously assigned outer position instead of
// minting a new one.
func remapPlaceholders(sql string, innerParams []query.Binding, nextPos *int) (string, []query.Binding) {
	innerToOuter := make(map[int]int, len(innerParams))
	var outer []query.Binding
	rewritten := placeholderRe.ReplaceAllStringFunc(sql, func(tok string) string {
		innerPos, _ := strconv.Atoi(tok[1:])
		outerPos, ok := innerToOuter[innerPos]
		if !ok {
			*nextPos++
			outerPos = *nextPos
			innerToOuter[innerPos] = outerPos
			b := innerParams[innerPos-1]
			outer = append(outer, query.Binding{Position: outerPos, LiteralValue: b.LiteralValue, DynamicName: b.DynamicName})
		}
		return "$" + strconv.Itoa(outerPos)
	})
	return rewritten, outer
}
