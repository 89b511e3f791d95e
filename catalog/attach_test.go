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

func TestAttachFilesToDataset(t *testing.T) {
	catalogtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *catalog.DB) {
		catalogtest.CreateScope(ctx, t, db, "data")

		t.Run("aggregates after close", func(t *testing.T) {
			f1 := catalogtest.RandomLocation("data")
			f2 := catalogtest.RandomLocation("data")
			catalogtest.CreateFile(ctx, t, db, f1, 10, 3)
			catalogtest.CreateFile(ctx, t, db, f2, 20, 7)

			dataset := catalogtest.RandomLocation("data")
			catalogtest.CreateDataset(ctx, t, db, dataset)
			catalogtest.Attach(ctx, t, db, dataset, f1, f2)

			require.NoError(t, db.SetStatus(ctx, catalog.SetStatus{
				DIDLocation: dataset,
				Statuses:    map[string]interface{}{"open": false},
			}))

			d, err := db.GetDID(ctx, catalog.GetDID{
				DIDLocation:  dataset,
				DynamicDepth: catalog.DIDTypeFile,
			})
			require.NoError(t, err)
			require.False(t, d.IsOpen)
			require.NotNil(t, d.ClosedAt)
			require.Equal(t, int64(30), *d.Bytes)
			require.Equal(t, int64(2), *d.Length)
			require.Equal(t, int64(10), *d.Events)
		})

		t.Run("missing child", func(t *testing.T) {
			dataset := catalogtest.RandomLocation("data")
			catalogtest.CreateDataset(ctx, t, db, dataset)

			err := db.AttachDIDs(ctx, catalog.Attachment{
				DIDLocation: dataset,
				Children:    []catalog.AttachChild{{DIDLocation: catalogtest.RandomLocation("data")}},
			}, catalogtest.TestAccount, false)
			require.True(t, catalog.ErrDIDNotFound.Has(err))
		})

		t.Run("consistency mismatch", func(t *testing.T) {
			file := catalogtest.RandomLocation("data")
			catalogtest.CreateFile(ctx, t, db, file, 10, 0)
			dataset := catalogtest.RandomLocation("data")
			catalogtest.CreateDataset(ctx, t, db, dataset)

			wrong := int64(99)
			err := db.AttachDIDs(ctx, catalog.Attachment{
				DIDLocation: dataset,
				Children:    []catalog.AttachChild{{DIDLocation: file, Bytes: &wrong}},
			}, catalogtest.TestAccount, false)
			require.True(t, catalog.ErrFileConsistency.Has(err))
		})

		t.Run("closed dataset", func(t *testing.T) {
			file := catalogtest.RandomLocation("data")
			catalogtest.CreateFile(ctx, t, db, file, 10, 0)
			dataset := catalogtest.RandomLocation("data")
			catalogtest.CreateDataset(ctx, t, db, dataset)
			require.NoError(t, db.SetStatus(ctx, catalog.SetStatus{
				DIDLocation: dataset,
				Statuses:    map[string]interface{}{"open": false},
			}))

			err := db.AttachDIDs(ctx, catalog.Attachment{
				DIDLocation: dataset,
				Children:    []catalog.AttachChild{{DIDLocation: file}},
			}, catalogtest.TestAccount, false)
			require.True(t, catalog.ErrUnsupportedOperation.Has(err))
		})

		t.Run("duplicate attach", func(t *testing.T) {
			file := catalogtest.RandomLocation("data")
			catalogtest.CreateFile(ctx, t, db, file, 10, 0)
			dataset := catalogtest.RandomLocation("data")
			catalogtest.CreateDataset(ctx, t, db, dataset)
			catalogtest.Attach(ctx, t, db, dataset, file)

			err := db.AttachDIDs(ctx, catalog.Attachment{
				DIDLocation: dataset,
				Children:    []catalog.AttachChild{{DIDLocation: file}},
			}, catalogtest.TestAccount, false)
			require.True(t, catalog.ErrFileAlreadyExists.Has(err))

			// with ignore_duplicate twice equals once.
			require.NoError(t, db.AttachDIDs(ctx, catalog.Attachment{
				DIDLocation: dataset,
				Children:    []catalog.AttachChild{{DIDLocation: file}},
			}, catalogtest.TestAccount, true))

			content, err := db.ListContent(ctx, dataset)
			require.NoError(t, err)
			require.Len(t, content, 1)
		})

		t.Run("duplicate with stale attributes", func(t *testing.T) {
			file := catalogtest.RandomLocation("data")
			catalogtest.CreateFile(ctx, t, db, file, 10, 0)
			dataset := catalogtest.RandomLocation("data")
			catalogtest.CreateDataset(ctx, t, db, dataset)
			catalogtest.Attach(ctx, t, db, dataset, file)

			// the existing association wins over the caller's attributes: the
			// duplicate is skipped before any consistency check runs.
			stale := int64(99)
			require.NoError(t, db.AttachDIDs(ctx, catalog.Attachment{
				DIDLocation: dataset,
				Children:    []catalog.AttachChild{{DIDLocation: file, Bytes: &stale}},
			}, catalogtest.TestAccount, true))

			bytes, events := int64(10), int64(0)
			adler := "0xa"
			catalogtest.RequireContent(ctx, t, db, dataset, []catalog.Association{{
				Scope:      dataset.Scope,
				Name:       dataset.Name,
				ChildScope: file.Scope,
				ChildName:  file.Name,

				Type:      catalog.DIDTypeDataset,
				ChildType: catalog.DIDTypeFile,

				Bytes:   &bytes,
				Adler32: &adler,
				Events:  &events,

				RuleEvaluation: true,
			}})
		})

		t.Run("marker emitted once per parent", func(t *testing.T) {
			require.NoError(t, db.TestingDeleteAll(ctx))
			catalogtest.CreateScope(ctx, t, db, "data")

			files := catalogtest.CreateFiles(ctx, t, db, "data", 2)
			dataset := catalogtest.RandomLocation("data")
			catalogtest.CreateDataset(ctx, t, db, dataset)

			require.NoError(t, db.AttachDIDsToDIDs(ctx, catalog.AttachDIDsToDIDs{
				Attachments: []catalog.Attachment{
					{DIDLocation: dataset, Children: []catalog.AttachChild{{DIDLocation: files[0]}}},
					{DIDLocation: dataset, Children: []catalog.AttachChild{{DIDLocation: files[1]}}},
				},
				Account: catalogtest.TestAccount,
			}))

			markers, err := db.ListUpdatedDIDs(ctx, 100)
			require.NoError(t, err)
			require.Len(t, markers, 1)
			require.Equal(t, catalog.ReevaluateAttach, markers[0].Action)
		})
	})
}

func TestAttachCollectionsToContainer(t *testing.T) {
	catalogtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *catalog.DB) {
		catalogtest.CreateScope(ctx, t, db, "data")

		t.Run("cycle rejection", func(t *testing.T) {
			c1 := catalogtest.RandomLocation("data")
			c2 := catalogtest.RandomLocation("data")
			catalogtest.CreateContainer(ctx, t, db, c1)
			catalogtest.CreateContainer(ctx, t, db, c2)

			catalogtest.Attach(ctx, t, db, c1, c2)

			err := db.AttachDIDs(ctx, catalog.Attachment{
				DIDLocation: c2,
				Children:    []catalog.AttachChild{{DIDLocation: c1}},
			}, catalogtest.TestAccount, false)
			require.True(t, catalog.ErrUnsupportedOperation.Has(err))
		})

		t.Run("self append", func(t *testing.T) {
			c := catalogtest.RandomLocation("data")
			catalogtest.CreateContainer(ctx, t, db, c)

			err := db.AttachDIDs(ctx, catalog.Attachment{
				DIDLocation: c,
				Children:    []catalog.AttachChild{{DIDLocation: c}},
			}, catalogtest.TestAccount, false)
			require.True(t, catalog.ErrUnsupportedOperation.Has(err))
		})

		t.Run("mixed children", func(t *testing.T) {
			c := catalogtest.RandomLocation("data")
			dataset := catalogtest.RandomLocation("data")
			container := catalogtest.RandomLocation("data")
			catalogtest.CreateContainer(ctx, t, db, c)
			catalogtest.CreateDataset(ctx, t, db, dataset)
			catalogtest.CreateContainer(ctx, t, db, container)

			catalogtest.Attach(ctx, t, db, c, dataset)

			err := db.AttachDIDs(ctx, catalog.Attachment{
				DIDLocation: c,
				Children:    []catalog.AttachChild{{DIDLocation: container}},
			}, catalogtest.TestAccount, false)
			require.True(t, catalog.ErrUnsupportedOperation.Has(err))
		})

		t.Run("file child", func(t *testing.T) {
			c := catalogtest.RandomLocation("data")
			catalogtest.CreateContainer(ctx, t, db, c)
			file := catalogtest.RandomLocation("data")
			catalogtest.CreateFile(ctx, t, db, file, 1, 0)

			err := db.AttachDIDs(ctx, catalog.Attachment{
				DIDLocation: c,
				Children:    []catalog.AttachChild{{DIDLocation: file}},
			}, catalogtest.TestAccount, false)
			require.True(t, catalog.ErrUnsupportedOperation.Has(err))
		})

		t.Run("register message", func(t *testing.T) {
			require.NoError(t, db.TestingDeleteAll(ctx))
			catalogtest.CreateScope(ctx, t, db, "data")

			c := catalogtest.RandomLocation("data")
			dataset := catalogtest.RandomLocation("data")
			catalogtest.CreateContainer(ctx, t, db, c)
			catalogtest.CreateDataset(ctx, t, db, dataset)
			catalogtest.Attach(ctx, t, db, c, dataset)

			messages, err := db.ListMessages(ctx, 1000)
			require.NoError(t, err)
			count := 0
			for _, m := range messages {
				if m.EventType == catalog.EventRegisterContent {
					count++
				}
			}
			require.Equal(t, 1, count)
		})
	})
}

func TestAttachToArchive(t *testing.T) {
	catalogtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *catalog.DB) {
		catalogtest.CreateScope(ctx, t, db, "data")

		t.Run("non archive file", func(t *testing.T) {
			file := catalogtest.RandomLocation("data")
			catalogtest.CreateFile(ctx, t, db, file, 10, 0)

			err := db.AttachDIDs(ctx, catalog.Attachment{
				DIDLocation: file,
				Children:    []catalog.AttachChild{{DIDLocation: catalogtest.RandomLocation("data")}},
			}, catalogtest.TestAccount, false)
			require.True(t, catalog.ErrUnsupportedOperation.Has(err))
		})

		t.Run("constituents", func(t *testing.T) {
			archive := catalog.DIDLocation{Scope: "data", Name: "dump.tar.gz"}
			bytes := int64(12345)
			require.NoError(t, db.AddFiles(ctx, []catalog.AddFile{{
				DIDLocation: archive,
				Account:     catalogtest.TestAccount,
				Bytes:       &bytes,
			}}, false))

			// one existing file, one created by the attachment.
			existing := catalogtest.RandomLocation("data")
			catalogtest.CreateFile(ctx, t, db, existing, 7, 0)
			fresh := catalogtest.RandomLocation("data")

			size := int64(7)
			require.NoError(t, db.AttachDIDs(ctx, catalog.Attachment{
				DIDLocation: archive,
				Children: []catalog.AttachChild{
					{DIDLocation: existing, Bytes: &size},
					{DIDLocation: fresh, Bytes: &size},
				},
			}, catalogtest.TestAccount, false))

			content, err := db.ListArchiveContent(ctx, archive)
			require.NoError(t, err)
			require.Len(t, content, 2)

			d, err := db.GetDID(ctx, catalog.GetDID{DIDLocation: fresh})
			require.NoError(t, err)
			require.Equal(t, catalog.DIDTypeFile, d.Type)
			require.True(t, d.Constituent)

			d, err = db.GetDID(ctx, catalog.GetDID{DIDLocation: existing})
			require.NoError(t, err)
			require.True(t, d.Constituent)
		})

		t.Run("archive flag propagates to dataset", func(t *testing.T) {
			archive := catalog.DIDLocation{Scope: "data", Name: "payload.zip"}
			require.NoError(t, db.AddFiles(ctx, []catalog.AddFile{{
				DIDLocation: archive,
				Account:     catalogtest.TestAccount,
			}}, false))

			dataset := catalogtest.RandomLocation("data")
			catalogtest.CreateDataset(ctx, t, db, dataset)
			catalogtest.Attach(ctx, t, db, dataset, archive)

			d, err := db.GetDID(ctx, catalog.GetDID{DIDLocation: dataset})
			require.NoError(t, err)
			require.True(t, d.IsArchive)
		})
	})
}
