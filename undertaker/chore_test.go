// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package undertaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
	"storj.io/didcat/catalog"
	"storj.io/didcat/catalog/catalogtest"
)

func TestChoreDeletesExpired(t *testing.T) {
	catalogtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *catalog.DB) {
		catalogtest.CreateScope(ctx, t, db, "data")

		lifetime := time.Hour
		expiring := catalogtest.RandomLocation("data")
		require.NoError(t, db.AddDID(ctx, catalog.AddDID{
			DIDLocation: expiring,
			Type:        catalog.DIDTypeDataset,
			Account:     catalogtest.TestAccount,
			Lifetime:    &lifetime,
		}))
		eternal := catalogtest.RandomLocation("data")
		catalogtest.CreateDataset(ctx, t, db, eternal)

		chore := NewChore(zaptest.NewLogger(t), Config{
			Enabled:      true,
			TotalWorkers: 1,
			ChunkSize:    100,
		}, db)
		defer ctx.Check(chore.Close)

		// nothing is expired yet.
		require.NoError(t, chore.deleteExpiredDIDs(ctx))
		_, err := db.GetDID(ctx, catalog.GetDID{DIDLocation: expiring})
		require.NoError(t, err)

		chore.TestingSetNow(func() time.Time {
			return time.Now().Add(2 * time.Hour)
		})
		require.NoError(t, chore.deleteExpiredDIDs(ctx))

		_, err = db.GetDID(ctx, catalog.GetDID{DIDLocation: expiring})
		require.True(t, catalog.ErrDIDNotFound.Has(err))
		_, err = db.GetDID(ctx, catalog.GetDID{DIDLocation: eternal})
		require.NoError(t, err)
	})
}
