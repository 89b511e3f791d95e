// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsArchiveName(t *testing.T) {
	for _, name := range []string{
		"data.zip", "data.tar", "data.tar.gz", "data.tgz",
		"data.zip.1", "data.tar.gz.0001", "deep/path/data.zip",
	} {
		require.True(t, IsArchiveName(name), name)
	}
	for _, name := range []string{
		"data.root", "data.zipx", "datazip", "data.tar.bz2", "data.gz",
	} {
		require.False(t, IsArchiveName(name), name)
	}
}

func TestNameShard(t *testing.T) {
	// the shard of a name must stay stable across releases, concurrently
	// deployed workers partition the key space with it.
	require.Equal(t, 0, NameShard("anything", 1))
	require.Equal(t, 0, NameShard("anything", 0))

	const total = 7
	counts := make(map[int]int)
	for _, name := range []string{
		"file-1", "file-2", "file-3", "dataset.2026.raw", "a", "b", "c",
		"x/y/z", "run_000123", "lhc.data.tar.gz",
	} {
		shard := NameShard(name, total)
		require.GreaterOrEqual(t, shard, 0)
		require.Less(t, shard, total)
		require.Equal(t, shard, NameShard(name, total))
		counts[shard]++
	}
	require.NotEmpty(t, counts)
}

func TestRebind(t *testing.T) {
	require.Equal(t,
		`SELECT $1, $2, $3`,
		rebind(`SELECT ?, ?, ?`))
	require.Equal(t,
		`SELECT '?' , $1`,
		rebind(`SELECT '?' , ?`))
	require.Equal(t,
		`SELECT "?", $1`,
		rebind(`SELECT "?", ?`))
	require.Equal(t,
		"SELECT -- ?\n $1",
		rebind("SELECT -- ?\n ?"))
}

func TestDIDTypeString(t *testing.T) {
	require.Equal(t, "FILE", DIDTypeFile.String())
	require.Equal(t, "DATASET", DIDTypeDataset.String())
	require.Equal(t, "CONTAINER", DIDTypeContainer.String())
}
