// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"context"
	"database/sql"
	"strconv"

	"storj.io/private/tagsql"
)

// Queryer is the subset of tagsql.DB and tagsql.Tx the engine queries
// through. External rule and replica services receive it so that their
// writes join the surrounding transaction.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (tagsql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// postgresRebind rewrites ? placeholders into the $N form expected by pgx.
// All engine SQL is written with ? so that the same statements run on sqlite.
type postgresRebind struct {
	Queryer
}

func (pq postgresRebind) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return pq.Queryer.ExecContext(ctx, rebind(query), args...)
}

func (pq postgresRebind) QueryContext(ctx context.Context, query string, args ...interface{}) (tagsql.Rows, error) {
	return pq.Queryer.QueryContext(ctx, rebind(query), args...)
}

func (pq postgresRebind) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return pq.Queryer.QueryRowContext(ctx, rebind(query), args...)
}

func rebind(sql string) string {
	type sqlParseState int
	const (
		sqlParseStart sqlParseState = iota
		sqlParseInStringLiteral
		sqlParseInQuotedIdentifier
		sqlParseInComment
	)

	out := make([]byte, 0, len(sql)+10)

	j := 1
	state := sqlParseStart
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch state {
		case sqlParseStart:
			switch ch {
			case '?':
				out = append(out, '$')
				out = append(out, strconv.Itoa(j)...)
				state = sqlParseStart
				j++
				continue
			case '-':
				if i+1 < len(sql) && sql[i+1] == '-' {
					state = sqlParseInComment
				}
			case '"':
				state = sqlParseInQuotedIdentifier
			case '\'':
				state = sqlParseInStringLiteral
			}
		case sqlParseInStringLiteral:
			if ch == '\'' {
				state = sqlParseStart
			}
		case sqlParseInQuotedIdentifier:
			if ch == '"' {
				state = sqlParseStart
			}
		case sqlParseInComment:
			if ch == '\n' {
				state = sqlParseStart
			}
		}
		out = append(out, ch)
	}

	return string(out)
}
