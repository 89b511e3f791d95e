// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"fmt"
	"strings"
)

// Implementation is the type of the underlying database.
type Implementation int

// Supported database implementations.
const (
	Unknown Implementation = iota
	Postgres
	Cockroach
	SQLite
)

// String implements fmt.Stringer.
func (impl Implementation) String() string {
	switch impl {
	case Postgres:
		return "postgres"
	case Cockroach:
		return "cockroach"
	case SQLite:
		return "sqlite"
	default:
		return "unknown"
	}
}

// implementationForScheme maps a connection string scheme to an implementation.
func implementationForScheme(scheme string) Implementation {
	switch scheme {
	case "postgres", "postgresql", "pgx":
		return Postgres
	case "cockroach":
		return Cockroach
	case "sqlite", "sqlite3", "file":
		return SQLite
	default:
		return Unknown
	}
}

// Adapter is a low level extension point for datasource specific SQL.
type Adapter interface {
	Implementation() Implementation

	// ForUpdate returns the row locking clause appended to parent DID reads,
	// or an empty string when the backend serializes writers by itself.
	ForUpdate() string

	// SupportsHashShard reports whether the worker sharding predicate can be
	// pushed down into SQL. When false the scan falls back to filtering rows
	// in process with NameShard.
	SupportsHashShard() bool

	// HashShardClause returns a predicate on column consuming two bind
	// parameters: total workers and worker number.
	HashShardClause(column string) string

	// CreateScratchTableSQL returns the statements creating (or reusing) a
	// per-transaction scratch table. Returned tables must be empty.
	CreateScratchTableSQL(name string, wide bool) []string

	// SupportsRecursiveCTE reports whether WITH RECURSIVE is available.
	SupportsRecursiveCTE() bool
}

// PostgresAdapter uses PostgreSQL related SQL queries.
type PostgresAdapter struct{}

// CockroachAdapter uses CockroachDB related SQL queries.
type CockroachAdapter struct {
	PostgresAdapter
}

// SQLiteAdapter uses SQLite related SQL queries; it is the fallback backend
// without pushdown hash sharding.
type SQLiteAdapter struct{}

var (
	_ Adapter = PostgresAdapter{}
	_ Adapter = CockroachAdapter{}
	_ Adapter = SQLiteAdapter{}
)

// Implementation returns Postgres.
func (PostgresAdapter) Implementation() Implementation { return Postgres }

// Implementation returns Cockroach.
func (CockroachAdapter) Implementation() Implementation { return Cockroach }

// Implementation returns SQLite.
func (SQLiteAdapter) Implementation() Implementation { return SQLite }

// ForUpdate returns the postgres row locking clause.
func (PostgresAdapter) ForUpdate() string { return " FOR UPDATE" }

// ForUpdate returns an empty clause; sqlite transactions have a single writer.
func (SQLiteAdapter) ForUpdate() string { return "" }

// SupportsHashShard returns true.
func (PostgresAdapter) SupportsHashShard() bool { return true }

// SupportsHashShard returns false; sqlite has no md5 SQL function, shard
// filtering happens in process.
func (SQLiteAdapter) SupportsHashShard() bool { return false }

// HashShardClause buckets rows by the low 32 bits of md5(column).
func (PostgresAdapter) HashShardClause(column string) string {
	return fmt.Sprintf(`mod(abs(('x' || substring(md5(%s), 25, 8))::bit(32)::int), ?) = ?`, column)
}

// HashShardClause panics; sqlite never pushes the shard predicate down.
func (SQLiteAdapter) HashShardClause(column string) string {
	panic("catalog: hash shard pushdown is not supported on sqlite")
}

// SupportsRecursiveCTE returns true.
func (PostgresAdapter) SupportsRecursiveCTE() bool { return true }

// SupportsRecursiveCTE returns true.
func (SQLiteAdapter) SupportsRecursiveCTE() bool { return true }

// CreateScratchTableSQL creates a transaction scoped temporary table. The
// table is dropped on commit, so IF NOT EXISTS only guards against reuse of
// the name within the same transaction.
func (PostgresAdapter) CreateScratchTableSQL(name string, wide bool) []string {
	return []string{
		`CREATE TEMPORARY TABLE IF NOT EXISTS ` + name + ` (` + scratchColumns(wide) + `) ON COMMIT DROP`,
		`DELETE FROM ` + name,
	}
}

// CreateScratchTableSQL creates a session scoped temporary table; cockroach
// only supports ON COMMIT PRESERVE ROWS, so leftover rows from an earlier
// transaction on the same session are cleared before reuse.
func (CockroachAdapter) CreateScratchTableSQL(name string, wide bool) []string {
	return []string{
		`CREATE TEMPORARY TABLE IF NOT EXISTS ` + name + ` (` + scratchColumns(wide) + `) ON COMMIT PRESERVE ROWS`,
		`DELETE FROM ` + name,
	}
}

// CreateScratchTableSQL creates a session scoped temporary table and clears
// leftover rows, since sqlite keeps temp tables across transactions.
func (SQLiteAdapter) CreateScratchTableSQL(name string, wide bool) []string {
	return []string{
		`CREATE TEMPORARY TABLE IF NOT EXISTS ` + name + ` (` + scratchColumns(wide) + `)`,
		`DELETE FROM ` + name,
	}
}

func scratchColumns(wide bool) string {
	cols := []string{"scope TEXT NOT NULL", "name TEXT NOT NULL"}
	if wide {
		cols = append(cols, "child_scope TEXT NOT NULL", "child_name TEXT NOT NULL")
	}
	return strings.Join(cols, ", ")
}

func adapterFor(impl Implementation) Adapter {
	switch impl {
	case Postgres:
		return PostgresAdapter{}
	case Cockroach:
		return CockroachAdapter{}
	case SQLite:
		return SQLiteAdapter{}
	default:
		return nil
	}
}
