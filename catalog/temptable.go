// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"context"
	"strconv"
)

// Scratch tables hold (scope, name) work sets for a single transaction so
// that bulk operations can join against them instead of expanding thousand
// element IN lists. On postgres they are ON COMMIT DROP temporary tables; on
// sqlite they are session temp tables cleared before reuse. Names carry a
// per-transaction sequence number, so one transaction can hold several work
// sets at once.

// scratchTable creates an empty scratch table and returns its name.
func (t *tx) scratchTable(ctx context.Context, wide bool) (name string, err error) {
	t.scratchSeq++
	if wide {
		name = "scratch_contents_" + strconv.Itoa(t.scratchSeq)
	} else {
		name = "scratch_dids_" + strconv.Itoa(t.scratchSeq)
	}
	for _, statement := range t.db.adapter.CreateScratchTableSQL(name, wide) {
		if _, err := t.q.ExecContext(ctx, statement); err != nil {
			return "", Error.New("create scratch table: %w", err)
		}
	}
	return name, nil
}

// fillScratch bulk inserts locations into a narrow scratch table.
func (t *tx) fillScratch(ctx context.Context, table string, locations []DIDLocation) error {
	for len(locations) > 0 {
		batch := locations
		if len(batch) > bulkInsertBatch {
			batch = batch[:bulkInsertBatch]
		}
		locations = locations[len(batch):]

		query := `INSERT INTO ` + table + ` (scope, name) VALUES `
		args := make([]interface{}, 0, len(batch)*2)
		for i, loc := range batch {
			if i > 0 {
				query += ", "
			}
			query += "(?, ?)"
			args = append(args, loc.Scope, loc.Name)
		}
		if _, err := t.q.ExecContext(ctx, query, args...); err != nil {
			return Error.New("fill scratch table: %w", err)
		}
	}
	return nil
}

// scratchLocations creates and fills a scratch table in one step. The input
// is deduplicated first, since scratch tables carry no primary key.
func (t *tx) scratchLocations(ctx context.Context, locations []DIDLocation) (string, error) {
	table, err := t.scratchTable(ctx, false)
	if err != nil {
		return "", err
	}
	if err := t.fillScratch(ctx, table, dedupeLocations(locations)); err != nil {
		return "", err
	}
	return table, nil
}
