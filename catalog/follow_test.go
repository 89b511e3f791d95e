// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/didcat/catalog"
	"storj.io/didcat/catalog/catalogtest"
)

func TestFollow(t *testing.T) {
	catalogtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *catalog.DB) {
		catalogtest.CreateScope(ctx, t, db, "data")

		t.Run("follow and unfollow", func(t *testing.T) {
			dataset := catalogtest.RandomLocation("data")
			catalogtest.CreateDataset(ctx, t, db, dataset)

			require.NoError(t, db.AddDIDsToFollowed(ctx,
				[]catalog.DIDLocation{dataset}, catalogtest.TestAccount))
			// following twice is fine.
			require.NoError(t, db.AddDIDsToFollowed(ctx,
				[]catalog.DIDLocation{dataset}, catalogtest.TestAccount))

			accounts, err := db.GetUsersFollowingDID(ctx, dataset)
			require.NoError(t, err)
			require.Equal(t, []string{catalogtest.TestAccount}, accounts)

			require.NoError(t, db.RemoveDIDsFromFollowed(ctx,
				[]catalog.DIDLocation{dataset}, catalogtest.TestAccount))
			accounts, err = db.GetUsersFollowingDID(ctx, dataset)
			require.NoError(t, err)
			require.Empty(t, accounts)
		})

		t.Run("missing DID", func(t *testing.T) {
			missing := catalogtest.RandomLocation("data")
			err := db.AddDIDsToFollowed(ctx,
				[]catalog.DIDLocation{missing}, catalogtest.TestAccount)
			require.True(t, catalog.ErrDIDNotFound.Has(err))

			_, err = db.GetUsersFollowingDID(ctx, missing)
			require.True(t, catalog.ErrDIDNotFound.Has(err))
		})

		t.Run("events only reach followers", func(t *testing.T) {
			followed := catalogtest.RandomLocation("data")
			ignored := catalogtest.RandomLocation("data")
			catalogtest.CreateDataset(ctx, t, db, followed)
			catalogtest.CreateDataset(ctx, t, db, ignored)
			require.NoError(t, db.AddDIDsToFollowed(ctx,
				[]catalog.DIDLocation{followed}, catalogtest.TestAccount))

			require.NoError(t, db.TriggerEvent(ctx, followed, "CLOSE", ""))
			require.NoError(t, db.TriggerEvent(ctx, ignored, "CLOSE", ""))

			state, err := db.TestingGetState(ctx)
			require.NoError(t, err)
			require.Len(t, state.FollowEvents, 1)
			require.Equal(t, followed.Name, state.FollowEvents[0].Name)
		})
	})
}

func TestCreateReports(t *testing.T) {
	catalogtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *catalog.DB) {
		catalogtest.CreateScope(ctx, t, db, "data")

		dataset := catalogtest.RandomLocation("data")
		catalogtest.CreateDataset(ctx, t, db, dataset)
		require.NoError(t, db.AddDIDsToFollowed(ctx,
			[]catalog.DIDLocation{dataset}, catalogtest.TestAccount))
		require.NoError(t, db.TriggerEvent(ctx, dataset, "CLOSE", "by hand"))

		require.NoError(t, db.CreateReports(ctx, 0, 1))

		// the digest was enqueued and the events drained in one go.
		messages, err := db.ListMessages(ctx, 1000)
		require.NoError(t, err)
		var report *catalog.Message
		for i, m := range messages {
			if m.EventType == catalog.EventEmail {
				report = &messages[i]
			}
		}
		require.NotNil(t, report)
		require.Contains(t, report.Payload, dataset.Name)
		require.True(t, strings.Contains(report.Payload, "CLOSE"))

		state, err := db.TestingGetState(ctx)
		require.NoError(t, err)
		require.Empty(t, state.FollowEvents)

		// a second run has nothing to report.
		require.NoError(t, db.CreateReports(ctx, 0, 1))
		after, err := db.ListMessages(ctx, 1000)
		require.NoError(t, err)
		require.Len(t, after, len(messages))
	})
}
