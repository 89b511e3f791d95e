// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/didcat/catalog"
	"storj.io/didcat/catalog/catalogtest"
)

func TestDetachDIDs(t *testing.T) {
	catalogtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *catalog.DB) {
		catalogtest.CreateScope(ctx, t, db, "data")

		t.Run("round trip", func(t *testing.T) {
			files := catalogtest.CreateFiles(ctx, t, db, "data", 3)
			dataset := catalogtest.RandomLocation("data")
			catalogtest.CreateDataset(ctx, t, db, dataset)
			catalogtest.Attach(ctx, t, db, dataset, files...)

			require.NoError(t, db.DetachDIDs(ctx, catalog.DetachDIDs{
				DIDLocation: dataset,
				Children:    files,
			}))

			content, err := db.ListContent(ctx, dataset)
			require.NoError(t, err)
			require.Empty(t, content)

			history, err := db.ListContentHistory(ctx, dataset)
			require.NoError(t, err)
			require.Len(t, history, len(files))

			// aggregates are decremented per detached child.
			d, err := db.GetDID(ctx, catalog.GetDID{DIDLocation: dataset})
			require.NoError(t, err)
			if d.Length != nil {
				require.Equal(t, int64(0), *d.Length)
			}
		})

		t.Run("marker precedes mutation", func(t *testing.T) {
			require.NoError(t, db.TestingDeleteAll(ctx))
			catalogtest.CreateScope(ctx, t, db, "data")

			files := catalogtest.CreateFiles(ctx, t, db, "data", 1)
			dataset := catalogtest.RandomLocation("data")
			catalogtest.CreateDataset(ctx, t, db, dataset)
			catalogtest.Attach(ctx, t, db, dataset, files...)

			require.NoError(t, db.DetachDIDs(ctx, catalog.DetachDIDs{
				DIDLocation: dataset,
				Children:    files,
			}))

			markers, err := db.ListUpdatedDIDs(ctx, 100)
			require.NoError(t, err)
			found := false
			for _, m := range markers {
				if m.Scope == dataset.Scope && m.Name == dataset.Name && m.Action == catalog.ReevaluateDetach {
					found = true
				}
			}
			require.True(t, found)
		})

		t.Run("missing child", func(t *testing.T) {
			files := catalogtest.CreateFiles(ctx, t, db, "data", 1)
			dataset := catalogtest.RandomLocation("data")
			catalogtest.CreateDataset(ctx, t, db, dataset)
			catalogtest.Attach(ctx, t, db, dataset, files...)

			err := db.DetachDIDs(ctx, catalog.DetachDIDs{
				DIDLocation: dataset,
				Children:    []catalog.DIDLocation{catalogtest.RandomLocation("data")},
			})
			require.True(t, catalog.ErrDIDNotFound.Has(err))
		})

		t.Run("empty collection", func(t *testing.T) {
			dataset := catalogtest.RandomLocation("data")
			catalogtest.CreateDataset(ctx, t, db, dataset)

			err := db.DetachDIDs(ctx, catalog.DetachDIDs{
				DIDLocation: dataset,
				Children:    []catalog.DIDLocation{catalogtest.RandomLocation("data")},
			})
			require.True(t, catalog.ErrDIDNotFound.Has(err))
		})

		t.Run("self detach", func(t *testing.T) {
			container := catalogtest.RandomLocation("data")
			dataset := catalogtest.RandomLocation("data")
			catalogtest.CreateContainer(ctx, t, db, container)
			catalogtest.CreateDataset(ctx, t, db, dataset)
			catalogtest.Attach(ctx, t, db, container, dataset)

			err := db.DetachDIDs(ctx, catalog.DetachDIDs{
				DIDLocation: container,
				Children:    []catalog.DIDLocation{container},
			})
			require.True(t, catalog.ErrUnsupportedOperation.Has(err))
		})

		t.Run("file parent", func(t *testing.T) {
			file := catalogtest.RandomLocation("data")
			catalogtest.CreateFile(ctx, t, db, file, 1, 0)

			err := db.DetachDIDs(ctx, catalog.DetachDIDs{
				DIDLocation: file,
				Children:    []catalog.DIDLocation{catalogtest.RandomLocation("data")},
			})
			require.True(t, catalog.ErrUnsupportedOperation.Has(err))
		})

		t.Run("container detach message", func(t *testing.T) {
			require.NoError(t, db.TestingDeleteAll(ctx))
			catalogtest.CreateScope(ctx, t, db, "data")

			container := catalogtest.RandomLocation("data")
			dataset := catalogtest.RandomLocation("data")
			catalogtest.CreateContainer(ctx, t, db, container)
			catalogtest.CreateDataset(ctx, t, db, dataset)
			catalogtest.Attach(ctx, t, db, container, dataset)

			require.NoError(t, db.DetachDIDs(ctx, catalog.DetachDIDs{
				DIDLocation: container,
				Children:    []catalog.DIDLocation{dataset},
			}))

			messages, err := db.ListMessages(ctx, 1000)
			require.NoError(t, err)
			var erased, detached int
			for _, m := range messages {
				switch m.EventType {
				case catalog.EventEraseContent:
					erased++
				case catalog.EventDetach:
					detached++
				}
			}
			require.Equal(t, 1, erased)
			require.Equal(t, 1, detached)
		})
	})
}
