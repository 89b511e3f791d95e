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

func TestAddDID(t *testing.T) {
	catalogtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *catalog.DB) {
		catalogtest.CreateScope(ctx, t, db, "data")

		t.Run("dataset", func(t *testing.T) {
			loc := catalogtest.RandomLocation("data")
			lifetime := time.Hour
			require.NoError(t, db.AddDID(ctx, catalog.AddDID{
				DIDLocation: loc,
				Type:        catalog.DIDTypeDataset,
				Account:     catalogtest.TestAccount,
				Monotonic:   true,
				Lifetime:    &lifetime,
				Meta: map[string]interface{}{
					"project": "ops",
					"custom":  "value",
				},
			}))

			d, err := db.GetDID(ctx, catalog.GetDID{DIDLocation: loc})
			require.NoError(t, err)
			require.Equal(t, catalog.DIDTypeDataset, d.Type)
			require.True(t, d.IsOpen)
			require.True(t, d.IsNew)
			require.True(t, d.Monotonic)
			require.NotNil(t, d.ExpiredAt)
			require.NotNil(t, d.Project)
			require.Equal(t, "ops", *d.Project)

			meta, err := db.GetMetadata(ctx, loc)
			require.NoError(t, err)
			require.Equal(t, "value", meta["custom"])
		})

		t.Run("duplicate", func(t *testing.T) {
			loc := catalogtest.RandomLocation("data")
			catalogtest.CreateDataset(ctx, t, db, loc)
			err := db.AddDID(ctx, catalog.AddDID{
				DIDLocation: loc,
				Type:        catalog.DIDTypeDataset,
				Account:     catalogtest.TestAccount,
			})
			require.True(t, catalog.ErrDIDAlreadyExists.Has(err))
		})

		t.Run("unknown scope", func(t *testing.T) {
			err := db.AddDID(ctx, catalog.AddDID{
				DIDLocation: catalogtest.RandomLocation("missing-scope"),
				Type:        catalog.DIDTypeContainer,
				Account:     catalogtest.TestAccount,
			})
			require.True(t, catalog.ErrScopeNotFound.Has(err))
		})

		t.Run("file registration rejected", func(t *testing.T) {
			err := db.AddDID(ctx, catalog.AddDID{
				DIDLocation: catalogtest.RandomLocation("data"),
				Type:        catalog.DIDTypeFile,
				Account:     catalogtest.TestAccount,
			})
			require.True(t, catalog.ErrUnsupportedOperation.Has(err))
		})

		t.Run("creation message", func(t *testing.T) {
			loc := catalogtest.RandomLocation("data")
			catalogtest.CreateContainer(ctx, t, db, loc)

			messages, err := db.ListMessages(ctx, 1000)
			require.NoError(t, err)
			found := false
			for _, m := range messages {
				if m.EventType == catalog.EventCreateContainer {
					found = true
				}
			}
			require.True(t, found)
		})

		t.Run("register with children", func(t *testing.T) {
			files := catalogtest.CreateFiles(ctx, t, db, "data", 3)
			loc := catalogtest.RandomLocation("data")

			children := make([]catalog.AttachChild, len(files))
			for i, f := range files {
				children[i] = catalog.AttachChild{DIDLocation: f}
			}
			require.NoError(t, db.AddDID(ctx, catalog.AddDID{
				DIDLocation: loc,
				Type:        catalog.DIDTypeDataset,
				Account:     catalogtest.TestAccount,
				Children:    children,
			}))

			content, err := db.ListContent(ctx, loc)
			require.NoError(t, err)
			require.Len(t, content, 3)
		})
	})
}

func TestAddFiles(t *testing.T) {
	catalogtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *catalog.DB) {
		catalogtest.CreateScope(ctx, t, db, "data")

		loc := catalogtest.RandomLocation("data")
		bytes := int64(42)
		require.NoError(t, db.AddFiles(ctx, []catalog.AddFile{{
			DIDLocation: loc,
			Account:     catalogtest.TestAccount,
			Bytes:       &bytes,
		}}, false))

		d, err := db.GetDID(ctx, catalog.GetDID{DIDLocation: loc})
		require.NoError(t, err)
		require.Equal(t, catalog.DIDTypeFile, d.Type)
		require.NotNil(t, d.Availability)
		require.Equal(t, catalog.AvailabilityAvailable, *d.Availability)

		// second registration fails, unless existing files are ignored.
		err = db.AddFiles(ctx, []catalog.AddFile{{
			DIDLocation: loc,
			Account:     catalogtest.TestAccount,
		}}, false)
		require.True(t, catalog.ErrDIDAlreadyExists.Has(err))

		require.NoError(t, db.AddFiles(ctx, []catalog.AddFile{{
			DIDLocation: loc,
			Account:     catalogtest.TestAccount,
		}}, true))
	})
}

func TestSetNewDIDs(t *testing.T) {
	catalogtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *catalog.DB) {
		catalogtest.CreateScope(ctx, t, db, "data")

		loc := catalogtest.RandomLocation("data")
		catalogtest.CreateDataset(ctx, t, db, loc)

		require.NoError(t, db.SetNewDIDs(ctx, []catalog.DIDLocation{loc}, false))
		d, err := db.GetDID(ctx, catalog.GetDID{DIDLocation: loc})
		require.NoError(t, err)
		require.False(t, d.IsNew)

		require.NoError(t, db.SetNewDIDs(ctx, []catalog.DIDLocation{loc}, true))
		d, err = db.GetDID(ctx, catalog.GetDID{DIDLocation: loc})
		require.NoError(t, err)
		require.True(t, d.IsNew)
	})
}
