// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/common/testrand"
	"storj.io/didcat/catalog"
	"storj.io/didcat/catalog/catalogtest"
)

func TestListFiles(t *testing.T) {
	catalogtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *catalog.DB) {
		catalogtest.CreateScope(ctx, t, db, "data")

		// container -> {dataset1, dataset2}, dataset2 shares a file with
		// dataset1. The shared file must be listed once.
		files := catalogtest.CreateFiles(ctx, t, db, "data", 3)
		dataset1 := catalogtest.RandomLocation("data")
		dataset2 := catalogtest.RandomLocation("data")
		container := catalogtest.RandomLocation("data")
		catalogtest.CreateDataset(ctx, t, db, dataset1)
		catalogtest.CreateDataset(ctx, t, db, dataset2)
		catalogtest.CreateContainer(ctx, t, db, container)
		catalogtest.Attach(ctx, t, db, dataset1, files[0], files[1])
		catalogtest.Attach(ctx, t, db, dataset2, files[1], files[2])
		catalogtest.Attach(ctx, t, db, container, dataset1, dataset2)

		t.Run("container", func(t *testing.T) {
			result, err := db.ListFiles(ctx, container)
			require.NoError(t, err)
			require.Len(t, result, 3)
			found := make(map[catalog.DIDLocation]struct{})
			for _, f := range result {
				found[f.DIDLocation] = struct{}{}
			}
			for _, f := range files {
				require.Contains(t, found, f)
			}
		})

		t.Run("file lists itself", func(t *testing.T) {
			result, err := db.ListFiles(ctx, files[0])
			require.NoError(t, err)
			require.Len(t, result, 1)
			require.Equal(t, files[0], result[0].DIDLocation)
			require.NotNil(t, result[0].Bytes)
			require.Equal(t, int64(100), *result[0].Bytes)
		})

		t.Run("missing", func(t *testing.T) {
			_, err := db.ListFiles(ctx, catalogtest.RandomLocation("data"))
			require.True(t, catalog.ErrDIDNotFound.Has(err))
		})

		t.Run("bulk skips missing parents", func(t *testing.T) {
			result, err := db.BulkListFiles(ctx, []catalog.DIDLocation{
				dataset1,
				catalogtest.RandomLocation("data"),
			})
			require.NoError(t, err)
			require.Len(t, result, 2)
			for _, f := range result {
				require.Equal(t, dataset1, f.Parent)
			}
		})
	})
}

func TestListParents(t *testing.T) {
	catalogtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *catalog.DB) {
		catalogtest.CreateScope(ctx, t, db, "data")

		file := catalogtest.RandomLocation("data")
		catalogtest.CreateFile(ctx, t, db, file, 1, 0)
		dataset := catalogtest.RandomLocation("data")
		container := catalogtest.RandomLocation("data")
		top := catalogtest.RandomLocation("data")
		catalogtest.CreateDataset(ctx, t, db, dataset)
		catalogtest.CreateContainer(ctx, t, db, container)
		catalogtest.CreateContainer(ctx, t, db, top)
		catalogtest.Attach(ctx, t, db, dataset, file)
		catalogtest.Attach(ctx, t, db, container, dataset)
		catalogtest.Attach(ctx, t, db, top, container)

		t.Run("direct", func(t *testing.T) {
			parents, err := db.ListParentDIDs(ctx, file)
			require.NoError(t, err)
			require.Len(t, parents, 1)
			require.Equal(t, dataset, parents[0].DIDLocation)
			require.Equal(t, catalog.DIDTypeDataset, parents[0].Type)
		})

		t.Run("all ancestors nearest first", func(t *testing.T) {
			ancestors, err := db.ListAllParentDIDs(ctx, file)
			require.NoError(t, err)
			require.Equal(t, []catalog.DIDLocation{dataset, container, top}, ancestors)
		})

		t.Run("no parents", func(t *testing.T) {
			parents, err := db.ListParentDIDs(ctx, top)
			require.NoError(t, err)
			require.Empty(t, parents)
		})

		t.Run("child datasets", func(t *testing.T) {
			datasets, err := db.ListChildDatasets(ctx, top)
			require.NoError(t, err)
			require.Equal(t, []catalog.DIDLocation{dataset}, datasets)
		})
	})
}

func TestGetDatasetsByGUID(t *testing.T) {
	catalogtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *catalog.DB) {
		catalogtest.CreateScope(ctx, t, db, "data")

		guid := testrand.UUID().String()
		file := catalogtest.RandomLocation("data")
		require.NoError(t, db.AddFiles(ctx, []catalog.AddFile{{
			DIDLocation: file,
			Account:     catalogtest.TestAccount,
			GUID:        &guid,
		}}, false))

		dataset := catalogtest.RandomLocation("data")
		catalogtest.CreateDataset(ctx, t, db, dataset)
		catalogtest.Attach(ctx, t, db, dataset, file)

		result, err := db.GetDatasetsByGUID(ctx, guid)
		require.NoError(t, err)
		require.Equal(t, []catalog.DIDLocation{dataset}, result)

		_, err = db.GetDatasetsByGUID(ctx, testrand.UUID().String())
		require.True(t, catalog.ErrDIDNotFound.Has(err))

		_, err = db.GetDatasetsByGUID(ctx, "")
		require.True(t, catalog.ErrInvalidRequest.Has(err))
	})
}

func TestListContent(t *testing.T) {
	catalogtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *catalog.DB) {
		catalogtest.CreateScope(ctx, t, db, "data")

		files := catalogtest.CreateFiles(ctx, t, db, "data", 2)
		dataset := catalogtest.RandomLocation("data")
		catalogtest.CreateDataset(ctx, t, db, dataset)
		catalogtest.Attach(ctx, t, db, dataset, files...)

		content, err := db.ListContent(ctx, dataset)
		require.NoError(t, err)
		require.Len(t, content, 2)
		for _, a := range content {
			require.Equal(t, dataset, a.Location())
			require.Equal(t, catalog.DIDTypeFile, a.ChildType)
			require.NotNil(t, a.Bytes)
		}

		_, err = db.ListContent(ctx, catalogtest.RandomLocation("data"))
		require.True(t, catalog.ErrDIDNotFound.Has(err))
	})
}
