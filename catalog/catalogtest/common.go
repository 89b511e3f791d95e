// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package catalogtest

import (
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/common/testrand"
	"storj.io/didcat/catalog"
)

// TestAccount is the account all helpers register DIDs under.
const TestAccount = "root"

// RandomLocation returns a random DID location in the given scope.
func RandomLocation(scope string) catalog.DIDLocation {
	return catalog.DIDLocation{
		Scope: scope,
		Name:  "did-" + testrand.UUID().String(),
	}
}

// CreateScope registers a scope together with the test account.
func CreateScope(ctx *testcontext.Context, t testing.TB, db *catalog.DB, scope string) {
	// the account is shared between scopes, a second registration fails and
	// that is fine.
	_ = db.AddAccount(ctx, catalog.AddAccount{
		Account: TestAccount,
		Email:   TestAccount + "@example.test",
	})
	require.NoError(t, db.AddScope(ctx, catalog.AddScope{
		Scope:   scope,
		Account: TestAccount,
	}))
}

// CreateFile registers a FILE DID with the given size.
func CreateFile(ctx *testcontext.Context, t testing.TB, db *catalog.DB, loc catalog.DIDLocation, bytes, events int64) {
	adler := "0x" + strconv.FormatInt(bytes, 16)
	require.NoError(t, db.AddFiles(ctx, []catalog.AddFile{{
		DIDLocation: loc,
		Account:     TestAccount,
		Bytes:       &bytes,
		Events:      &events,
		Adler32:     &adler,
	}}, false))
}

// CreateFiles registers n FILE DIDs in a scope and returns their locations.
func CreateFiles(ctx *testcontext.Context, t testing.TB, db *catalog.DB, scope string, n int) []catalog.DIDLocation {
	locations := make([]catalog.DIDLocation, n)
	for i := range locations {
		locations[i] = RandomLocation(scope)
		CreateFile(ctx, t, db, locations[i], int64(100+i), int64(i))
	}
	return locations
}

// CreateDataset registers a DATASET DID.
func CreateDataset(ctx *testcontext.Context, t testing.TB, db *catalog.DB, loc catalog.DIDLocation) {
	require.NoError(t, db.AddDID(ctx, catalog.AddDID{
		DIDLocation: loc,
		Type:        catalog.DIDTypeDataset,
		Account:     TestAccount,
	}))
}

// CreateContainer registers a CONTAINER DID.
func CreateContainer(ctx *testcontext.Context, t testing.TB, db *catalog.DB, loc catalog.DIDLocation) {
	require.NoError(t, db.AddDID(ctx, catalog.AddDID{
		DIDLocation: loc,
		Type:        catalog.DIDTypeContainer,
		Account:     TestAccount,
	}))
}

// Attach attaches children under a parent.
func Attach(ctx *testcontext.Context, t testing.TB, db *catalog.DB, parent catalog.DIDLocation, children ...catalog.DIDLocation) {
	attach := make([]catalog.AttachChild, len(children))
	for i, child := range children {
		attach[i] = catalog.AttachChild{DIDLocation: child}
	}
	require.NoError(t, db.AttachDIDs(ctx, catalog.Attachment{
		DIDLocation: parent,
		Children:    attach,
	}, TestAccount, false))
}

// RequireContent compares the stored associations of a parent against the
// expected rows, ignoring timestamps.
func RequireContent(ctx *testcontext.Context, t testing.TB, db *catalog.DB, parent catalog.DIDLocation, expected []catalog.Association) {
	content, err := db.ListContent(ctx, parent)
	require.NoError(t, err)

	diff := cmp.Diff(expected, content,
		cmpopts.IgnoreFields(catalog.Association{}, "CreatedAt", "UpdatedAt"),
		cmpopts.EquateEmpty())
	require.Zero(t, diff)
}

// Locations extracts the location set of a slice of DIDs.
func Locations(dids []catalog.DID) []catalog.DIDLocation {
	locations := make([]catalog.DIDLocation, len(dids))
	for i, d := range dids {
		locations[i] = d.DIDLocation
	}
	return locations
}
