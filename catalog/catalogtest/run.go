// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package catalogtest provides testing helpers for the catalog engine.
package catalogtest

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
	"storj.io/didcat/catalog"
)

type database struct {
	name    string
	connstr string
}

// databases returns the backends to run against. SQLite is always included
// so the suite is self contained; postgres and cockroach join when their
// environment variables point at a test server.
func databases() []database {
	dbs := []database{
		{name: "SQLite3", connstr: "sqlite3://file::memory:?_foreign_keys=on&_loc=UTC"},
	}
	if connstr := os.Getenv("STORJ_TEST_POSTGRES"); connstr != "" {
		dbs = append(dbs, database{name: "Postgres", connstr: connstr})
	}
	if connstr := os.Getenv("STORJ_TEST_COCKROACH"); connstr != "" {
		dbs = append(dbs, database{name: "Cockroach", connstr: connstr})
	}
	return dbs
}

// DefaultConfig returns the engine configuration tests run with unless they
// override it.
func DefaultConfig() catalog.Config {
	return catalog.Config{
		ApplicationName:      "didcat-test",
		ArchiveDIDs:          true,
		ArchiveContent:       true,
		ExpireRulesLocksSize: 10000,
	}
}

// Run runs the test against all configured database backends.
func Run(t *testing.T, fn func(ctx *testcontext.Context, t *testing.T, db *catalog.DB)) {
	RunWithConfig(t, DefaultConfig(), fn)
}

// RunWithConfig runs the test with a specific engine configuration.
func RunWithConfig(t *testing.T, config catalog.Config, fn func(ctx *testcontext.Context, t *testing.T, db *catalog.DB)) {
	for _, dbinfo := range databases() {
		dbinfo := dbinfo
		t.Run(dbinfo.name, func(t *testing.T) {
			ctx := testcontext.New(t)
			defer ctx.Cleanup()

			log := zaptest.NewLogger(t)

			db, err := catalog.Open(ctx, log.Named("catalog"), dbinfo.connstr, config)
			require.NoError(t, err)
			defer ctx.Check(db.Close)

			require.NoError(t, db.MigrateToLatest(ctx))
			require.NoError(t, db.TestingDeleteAll(ctx))

			fn(ctx, t, db)
		})
	}
}
