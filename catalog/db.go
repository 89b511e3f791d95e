// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"context"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers pgx as a database/sql driver.
	_ "github.com/mattn/go-sqlite3"    // registers sqlite3 as a database/sql driver.
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/private/dbutil/txutil"
	"storj.io/private/tagsql"
)

// Config contains configurable values for the catalog engine.
type Config struct {
	ApplicationName string `help:"application name reported to the database" default:"didcat"`

	ArchiveDIDs           bool `help:"snapshot deleted collection rows into deleted_dids" default:"false"`
	ArchiveContent        bool `help:"snapshot associations of deleted collections into contents_history" default:"false"`
	PurgeAllReplicas      bool `help:"set epoch tombstones on unlocked file replicas when deleting collections" default:"false"`
	ExpireRulesLocksSize  int  `help:"lock count above which rules are expired instead of deleted" default:"10000"`
	ReevaluateDIDsAtClose bool `help:"flag DIDs as new on close to trigger subscription re-evaluation" default:"false"`
}

// DB implements the DID catalog on top of a relational database.
type DB struct {
	log     *zap.Logger
	db      tagsql.DB
	connstr string
	impl    Implementation
	adapter Adapter
	config  Config

	rules    RuleService
	replicas ReplicaService

	testCleanup func() error
}

// Open opens a connection to the catalog database. Supported connection
// strings are postgres://, cockroach:// and sqlite3://.
func Open(ctx context.Context, log *zap.Logger, connstr string, config Config) (*DB, error) {
	scheme, source, found := strings.Cut(connstr, "://")
	if !found {
		return nil, Error.New("malformed connection string: %q", connstr)
	}

	impl := implementationForScheme(scheme)

	var driverName string
	switch impl {
	case Postgres:
		driverName, source = "pgx", connstr
	case Cockroach:
		// cockroach speaks the postgres wire protocol.
		driverName, source = "pgx", "postgres://"+source
	case SQLite:
		driverName = "sqlite3"
	default:
		return nil, Error.New("unsupported implementation: %s", connstr)
	}

	rawdb, err := tagsql.Open(ctx, driverName, source)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if impl == SQLite {
		// temp scratch tables and transaction state are per connection.
		rawdb.SetMaxOpenConns(1)
	}

	db := &DB{
		log:         log,
		db:          rawdb,
		connstr:     connstr,
		impl:        impl,
		adapter:     adapterFor(impl),
		config:      config,
		rules:       catalogRuleService{},
		replicas:    catalogReplicaService{},
		testCleanup: func() error { return nil },
	}

	log.Debug("Connected", zap.String("db source", connstr))

	return db, nil
}

// Implementation returns the database implementation.
func (db *DB) Implementation() Implementation { return db.impl }

// UnderlyingTagSQL returns the raw tagsql.DB handle.
func (db *DB) UnderlyingTagSQL() tagsql.DB { return db.db }

// SetRuleService replaces the default rule handling with an external engine.
func (db *DB) SetRuleService(rules RuleService) { db.rules = rules }

// SetReplicaService replaces the default replica registration with an
// external engine.
func (db *DB) SetReplicaService(replicas ReplicaService) { db.replicas = replicas }

// Ping checks whether connection has been established.
func (db *DB) Ping(ctx context.Context) error {
	return Error.Wrap(db.db.PingContext(ctx))
}

// TestingSetCleanup is used to set the callback for cleaning up test database.
func (db *DB) TestingSetCleanup(cleanup func() error) {
	db.testCleanup = cleanup
}

// Close closes the connection to database.
func (db *DB) Close() error {
	return errs.Combine(Error.Wrap(db.db.Close()), db.testCleanup())
}

// Now returns time on the database.
func (db *DB) Now(ctx context.Context) (t time.Time, err error) {
	switch db.impl {
	case SQLite:
		// the result of an expression has no declared type, so the driver
		// hands back text; parse it instead of scanning into time.Time.
		var s string
		err = db.db.QueryRowContext(ctx, `SELECT strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`).Scan(&s)
		if err != nil {
			return time.Time{}, Error.Wrap(err)
		}
		t, err = time.Parse(time.RFC3339, s)
		return t, Error.Wrap(err)
	default:
		err = db.db.QueryRowContext(ctx, `SELECT now()`).Scan(&t)
		return t, Error.Wrap(err)
	}
}

// wrap adapts a raw statement handle to the placeholder style of the backend.
func (db *DB) wrap(q Queryer) Queryer {
	switch db.impl {
	case Postgres, Cockroach:
		return postgresRebind{q}
	default:
		return q
	}
}

// tx bundles one database transaction with the per-transaction scratch
// table state. All engine mutations run through it.
type tx struct {
	db         *DB
	q          Queryer
	scratchSeq int
}

// withTx runs fn inside a database transaction. fn may be retried, so any
// side effects outside of the database must be idempotent.
func (db *DB) withTx(ctx context.Context, fn func(context.Context, *tx) error) error {
	return txutil.WithTx(ctx, db.db, nil, func(ctx context.Context, dbtx tagsql.Tx) error {
		return fn(ctx, &tx{db: db, q: db.wrap(dbtx)})
	})
}

// view runs fn outside of an explicit transaction, for read-only operations.
func (db *DB) view(ctx context.Context, fn func(context.Context, *tx) error) error {
	return fn(ctx, &tx{db: db, q: db.wrap(db.db)})
}

// MigrateToLatest migrates the database schema to the latest version.
func (db *DB) MigrateToLatest(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS catalog_versions (
			version      INTEGER NOT NULL,
			commited_at  TEXT NOT NULL
		)`)
	if err != nil {
		return Error.Wrap(err)
	}

	var version int
	err = db.db.QueryRowContext(ctx, `SELECT coalesce(max(version), 0) FROM catalog_versions`).Scan(&version)
	if err != nil {
		return Error.Wrap(err)
	}

	for _, step := range migrationSteps() {
		if step.version <= version {
			continue
		}
		err := db.withTx(ctx, func(ctx context.Context, tx *tx) error {
			for _, statement := range step.statements {
				if _, err := tx.q.ExecContext(ctx, statement); err != nil {
					return Error.New("migration %d %q failed: %w", step.version, step.description, err)
				}
			}
			_, err := tx.q.ExecContext(ctx, `INSERT INTO catalog_versions (version, commited_at) VALUES (?, ?)`,
				step.version, time.Now().UTC().Format(time.RFC3339))
			return Error.Wrap(err)
		})
		if err != nil {
			return err
		}
		db.log.Info("Migrated", zap.Int("version", step.version), zap.String("description", step.description))
	}
	return nil
}

type migrationStep struct {
	version     int
	description string
	statements  []string
}

func migrationSteps() []migrationStep {
	return []migrationStep{
		{
			version:     1,
			description: "initial setup",
			statements: []string{
				`CREATE TABLE scopes (
					scope       TEXT NOT NULL,
					vo          TEXT NOT NULL DEFAULT 'def',
					account     TEXT NOT NULL,
					is_open     BOOLEAN NOT NULL DEFAULT TRUE,
					created_at  TIMESTAMP NOT NULL,
					PRIMARY KEY (scope)
				)`,
				`CREATE TABLE accounts (
					account     TEXT NOT NULL,
					email       TEXT,
					vo          TEXT NOT NULL DEFAULT 'def',
					created_at  TIMESTAMP NOT NULL,
					PRIMARY KEY (account)
				)`,
				`CREATE TABLE dids (
					scope           TEXT NOT NULL REFERENCES scopes (scope),
					name            TEXT NOT NULL,
					account         TEXT NOT NULL,
					did_type        INTEGER NOT NULL,
					is_open         BOOLEAN NOT NULL DEFAULT TRUE,
					monotonic       BOOLEAN NOT NULL DEFAULT FALSE,
					hidden          BOOLEAN NOT NULL DEFAULT FALSE,
					obsolete        BOOLEAN NOT NULL DEFAULT FALSE,
					complete        BOOLEAN,
					is_new          BOOLEAN NOT NULL DEFAULT TRUE,
					availability    INTEGER,
					suppressed      BOOLEAN NOT NULL DEFAULT FALSE,
					bytes           BIGINT,
					length          BIGINT,
					md5             TEXT,
					adler32         TEXT,
					guid            TEXT,
					events          BIGINT,
					expired_at      TIMESTAMP,
					purge_replicas  BOOLEAN NOT NULL DEFAULT TRUE,
					is_archive      BOOLEAN NOT NULL DEFAULT FALSE,
					constituent     BOOLEAN NOT NULL DEFAULT FALSE,
					accessed_at     TIMESTAMP,
					access_cnt      BIGINT,
					closed_at       TIMESTAMP,
					eol_at          TIMESTAMP,
					project         TEXT,
					datatype        TEXT,
					run_number      BIGINT,
					stream_name     TEXT,
					prod_step       TEXT,
					version         TEXT,
					campaign        TEXT,
					task_id         BIGINT,
					panda_id        BIGINT,
					lumiblocknr     BIGINT,
					provenance      TEXT,
					phys_group      TEXT,
					transient       BOOLEAN NOT NULL DEFAULT FALSE,
					created_at      TIMESTAMP NOT NULL,
					updated_at      TIMESTAMP NOT NULL,
					PRIMARY KEY (scope, name)
				)`,
				`CREATE INDEX dids_expired_at_idx ON dids (expired_at)`,
				`CREATE INDEX dids_is_new_idx ON dids (is_new)`,
				`CREATE TABLE deleted_dids (
					scope           TEXT NOT NULL,
					name            TEXT NOT NULL,
					account         TEXT NOT NULL,
					did_type        INTEGER NOT NULL,
					is_open         BOOLEAN NOT NULL DEFAULT TRUE,
					monotonic       BOOLEAN NOT NULL DEFAULT FALSE,
					hidden          BOOLEAN NOT NULL DEFAULT FALSE,
					obsolete        BOOLEAN NOT NULL DEFAULT FALSE,
					complete        BOOLEAN,
					is_new          BOOLEAN NOT NULL DEFAULT TRUE,
					availability    INTEGER,
					suppressed      BOOLEAN NOT NULL DEFAULT FALSE,
					bytes           BIGINT,
					length          BIGINT,
					md5             TEXT,
					adler32         TEXT,
					guid            TEXT,
					events          BIGINT,
					expired_at      TIMESTAMP,
					purge_replicas  BOOLEAN NOT NULL DEFAULT TRUE,
					is_archive      BOOLEAN NOT NULL DEFAULT FALSE,
					constituent     BOOLEAN NOT NULL DEFAULT FALSE,
					accessed_at     TIMESTAMP,
					access_cnt      BIGINT,
					closed_at       TIMESTAMP,
					eol_at          TIMESTAMP,
					project         TEXT,
					datatype        TEXT,
					run_number      BIGINT,
					stream_name     TEXT,
					prod_step       TEXT,
					version         TEXT,
					campaign        TEXT,
					task_id         BIGINT,
					panda_id        BIGINT,
					lumiblocknr     BIGINT,
					provenance      TEXT,
					phys_group      TEXT,
					transient       BOOLEAN NOT NULL DEFAULT FALSE,
					created_at      TIMESTAMP NOT NULL,
					updated_at      TIMESTAMP NOT NULL,
					deleted_at      TIMESTAMP NOT NULL,
					PRIMARY KEY (scope, name)
				)`,
				`CREATE TABLE contents (
					scope            TEXT NOT NULL,
					name             TEXT NOT NULL,
					child_scope      TEXT NOT NULL,
					child_name       TEXT NOT NULL,
					did_type         INTEGER NOT NULL,
					child_type       INTEGER NOT NULL,
					bytes            BIGINT,
					adler32          TEXT,
					md5              TEXT,
					guid             TEXT,
					events           BIGINT,
					rule_evaluation  BOOLEAN NOT NULL DEFAULT FALSE,
					created_at       TIMESTAMP NOT NULL,
					updated_at       TIMESTAMP NOT NULL,
					PRIMARY KEY (scope, name, child_scope, child_name),
					FOREIGN KEY (scope, name) REFERENCES dids (scope, name),
					FOREIGN KEY (child_scope, child_name) REFERENCES dids (scope, name)
				)`,
				`CREATE INDEX contents_child_idx ON contents (child_scope, child_name)`,
				`CREATE TABLE contents_history (
					scope            TEXT NOT NULL,
					name             TEXT NOT NULL,
					child_scope      TEXT NOT NULL,
					child_name       TEXT NOT NULL,
					did_type         INTEGER NOT NULL,
					child_type       INTEGER NOT NULL,
					bytes            BIGINT,
					adler32          TEXT,
					md5              TEXT,
					guid             TEXT,
					events           BIGINT,
					rule_evaluation  BOOLEAN NOT NULL DEFAULT FALSE,
					did_created_at   TIMESTAMP,
					created_at       TIMESTAMP NOT NULL,
					updated_at       TIMESTAMP NOT NULL,
					deleted_at       TIMESTAMP NOT NULL
				)`,
				`CREATE INDEX contents_history_idx ON contents_history (scope, name)`,
				`CREATE TABLE archive_contents (
					scope            TEXT NOT NULL,
					name             TEXT NOT NULL,
					child_scope      TEXT NOT NULL,
					child_name       TEXT NOT NULL,
					bytes            BIGINT,
					adler32          TEXT,
					md5              TEXT,
					guid             TEXT,
					length           BIGINT,
					created_at       TIMESTAMP NOT NULL,
					updated_at       TIMESTAMP NOT NULL,
					PRIMARY KEY (scope, name, child_scope, child_name),
					FOREIGN KEY (child_scope, child_name) REFERENCES dids (scope, name)
				)`,
				`CREATE INDEX archive_contents_child_idx ON archive_contents (child_scope, child_name)`,
				`CREATE TABLE updated_dids (
					id                      TEXT NOT NULL,
					scope                   TEXT NOT NULL,
					name                    TEXT NOT NULL,
					rule_evaluation_action  TEXT NOT NULL,
					created_at              TIMESTAMP NOT NULL,
					PRIMARY KEY (id)
				)`,
				`CREATE TABLE dids_followed (
					scope       TEXT NOT NULL,
					name        TEXT NOT NULL,
					account     TEXT NOT NULL,
					did_type    INTEGER NOT NULL,
					created_at  TIMESTAMP NOT NULL,
					PRIMARY KEY (scope, name, account)
				)`,
				`CREATE TABLE follow_events (
					id          TEXT NOT NULL,
					scope       TEXT NOT NULL,
					name        TEXT NOT NULL,
					account     TEXT NOT NULL,
					did_type    INTEGER NOT NULL,
					event_type  TEXT NOT NULL,
					payload     TEXT,
					created_at  TIMESTAMP NOT NULL,
					PRIMARY KEY (id)
				)`,
				`CREATE INDEX follow_events_account_idx ON follow_events (account)`,
				`CREATE TABLE did_meta (
					scope       TEXT NOT NULL,
					name        TEXT NOT NULL,
					meta        TEXT,
					created_at  TIMESTAMP NOT NULL,
					updated_at  TIMESTAMP NOT NULL,
					PRIMARY KEY (scope, name)
				)`,
				`CREATE TABLE messages (
					id          TEXT NOT NULL,
					event_type  TEXT NOT NULL,
					payload     TEXT NOT NULL,
					created_at  TIMESTAMP NOT NULL,
					PRIMARY KEY (id)
				)`,
				`CREATE TABLE rules (
					id                     TEXT NOT NULL,
					scope                  TEXT NOT NULL,
					name                   TEXT NOT NULL,
					rse_expression         TEXT NOT NULL DEFAULT '',
					state                  TEXT NOT NULL DEFAULT 'OK',
					locked                 BOOLEAN NOT NULL DEFAULT FALSE,
					locks_ok_cnt           BIGINT NOT NULL DEFAULT 0,
					locks_replicating_cnt  BIGINT NOT NULL DEFAULT 0,
					locks_stuck_cnt        BIGINT NOT NULL DEFAULT 0,
					purge_replicas         BOOLEAN NOT NULL DEFAULT FALSE,
					expires_at             TIMESTAMP,
					created_at             TIMESTAMP NOT NULL,
					PRIMARY KEY (id)
				)`,
				`CREATE INDEX rules_scope_name_idx ON rules (scope, name)`,
				`CREATE TABLE dataset_locks (
					rule_id     TEXT NOT NULL,
					scope       TEXT NOT NULL,
					name        TEXT NOT NULL,
					rse_id      TEXT NOT NULL,
					bytes       BIGINT,
					length      BIGINT,
					created_at  TIMESTAMP NOT NULL,
					PRIMARY KEY (rule_id, scope, name, rse_id)
				)`,
				`CREATE TABLE replicas (
					rse_id      TEXT NOT NULL,
					scope       TEXT NOT NULL,
					name        TEXT NOT NULL,
					bytes       BIGINT,
					state       TEXT NOT NULL DEFAULT 'AVAILABLE',
					lock_cnt    BIGINT NOT NULL DEFAULT 0,
					tombstone   TIMESTAMP,
					created_at  TIMESTAMP NOT NULL,
					PRIMARY KEY (rse_id, scope, name)
				)`,
				`CREATE TABLE collection_replicas (
					rse_id      TEXT NOT NULL,
					scope       TEXT NOT NULL,
					name        TEXT NOT NULL,
					bytes       BIGINT,
					length      BIGINT,
					state       TEXT NOT NULL DEFAULT 'AVAILABLE',
					created_at  TIMESTAMP NOT NULL,
					PRIMARY KEY (rse_id, scope, name)
				)`,
				`CREATE TABLE bad_replicas (
					scope       TEXT NOT NULL,
					name        TEXT NOT NULL,
					rse_id      TEXT NOT NULL,
					state       TEXT NOT NULL DEFAULT 'BAD',
					reason      TEXT,
					created_at  TIMESTAMP NOT NULL,
					updated_at  TIMESTAMP NOT NULL,
					PRIMARY KEY (scope, name, rse_id)
				)`,
			},
		},
	}
}
