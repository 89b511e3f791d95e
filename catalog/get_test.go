// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/didcat/catalog"
	"storj.io/didcat/catalog/catalogtest"
)

func TestGetDID(t *testing.T) {
	catalogtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *catalog.DB) {
		catalogtest.CreateScope(ctx, t, db, "data")

		t.Run("missing", func(t *testing.T) {
			_, err := db.GetDID(ctx, catalog.GetDID{
				DIDLocation: catalogtest.RandomLocation("data"),
			})
			require.True(t, catalog.ErrDIDNotFound.Has(err))
		})

		t.Run("container dynamic depth", func(t *testing.T) {
			f1 := catalogtest.RandomLocation("data")
			f2 := catalogtest.RandomLocation("data")
			catalogtest.CreateFile(ctx, t, db, f1, 10, 1)
			catalogtest.CreateFile(ctx, t, db, f2, 20, 2)
			dataset := catalogtest.RandomLocation("data")
			container := catalogtest.RandomLocation("data")
			catalogtest.CreateDataset(ctx, t, db, dataset)
			catalogtest.CreateContainer(ctx, t, db, container)
			catalogtest.Attach(ctx, t, db, dataset, f1, f2)
			catalogtest.Attach(ctx, t, db, container, dataset)

			// open collections carry no stored aggregates yet.
			d, err := db.GetDID(ctx, catalog.GetDID{DIDLocation: container})
			require.NoError(t, err)
			require.Nil(t, d.Bytes)

			d, err = db.GetDID(ctx, catalog.GetDID{
				DIDLocation:  container,
				DynamicDepth: catalog.DIDTypeFile,
			})
			require.NoError(t, err)
			require.Equal(t, int64(30), *d.Bytes)
			require.Equal(t, int64(2), *d.Length)
			require.Equal(t, int64(3), *d.Events)
		})
	})
}

func TestDIDAccess(t *testing.T) {
	catalogtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *catalog.DB) {
		catalogtest.CreateScope(ctx, t, db, "data")

		dataset := catalogtest.RandomLocation("data")
		catalogtest.CreateDataset(ctx, t, db, dataset)

		accessedAt, accessCnt, err := db.GetDIDAccess(ctx, dataset)
		require.NoError(t, err)
		require.Nil(t, accessedAt)
		require.Nil(t, accessCnt)

		now := time.Now().UTC().Truncate(time.Microsecond)
		require.NoError(t, db.TouchDIDs(ctx, []catalog.DIDLocation{dataset}, now))
		require.NoError(t, db.TouchDIDs(ctx, []catalog.DIDLocation{dataset}, now))

		accessedAt, accessCnt, err = db.GetDIDAccess(ctx, dataset)
		require.NoError(t, err)
		require.NotNil(t, accessedAt)
		require.NotNil(t, accessCnt)
		require.Equal(t, int64(2), *accessCnt)

		// unknown locations are ignored, known ones still count.
		require.NoError(t, db.TouchDIDs(ctx, []catalog.DIDLocation{
			catalogtest.RandomLocation("data"),
		}, now))

		_, _, err = db.GetDIDAccess(ctx, catalogtest.RandomLocation("data"))
		require.True(t, catalog.ErrDIDNotFound.Has(err))
	})
}

func TestCreateDIDSample(t *testing.T) {
	catalogtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *catalog.DB) {
		catalogtest.CreateScope(ctx, t, db, "data")

		files := catalogtest.CreateFiles(ctx, t, db, "data", 5)
		dataset := catalogtest.RandomLocation("data")
		catalogtest.CreateDataset(ctx, t, db, dataset)
		catalogtest.Attach(ctx, t, db, dataset, files...)

		output := catalogtest.RandomLocation("data")
		require.NoError(t, db.CreateDIDSample(ctx, catalog.CreateDIDSample{
			Input:   dataset,
			Output:  output,
			Account: catalogtest.TestAccount,
			NbFiles: 3,
		}))

		content, err := db.ListContent(ctx, output)
		require.NoError(t, err)
		require.Len(t, content, 3)

		err = db.CreateDIDSample(ctx, catalog.CreateDIDSample{
			Input:   dataset,
			Output:  catalogtest.RandomLocation("data"),
			Account: catalogtest.TestAccount,
		})
		require.True(t, catalog.ErrInvalidRequest.Has(err))
	})
}
