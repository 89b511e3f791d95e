// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/didcat/catalog"
)

func TestCreateScratchTableSQL(t *testing.T) {
	adapters := []catalog.Adapter{
		catalog.PostgresAdapter{},
		catalog.CockroachAdapter{},
		catalog.SQLiteAdapter{},
	}
	for _, adapter := range adapters {
		t.Run(adapter.Implementation().String(), func(t *testing.T) {
			statements := adapter.CreateScratchTableSQL("scratch_dids_1", false)
			require.NotEmpty(t, statements)
			require.Contains(t, statements[0], "CREATE TEMPORARY TABLE")

			// cockroach rejects ON COMMIT DROP; every backend that keeps the
			// table across transactions must clear it instead.
			if adapter.Implementation() != catalog.Postgres {
				require.NotContains(t, statements[0], "ON COMMIT DROP")
				require.Contains(t, statements, "DELETE FROM scratch_dids_1")
			}
		})
	}
}
