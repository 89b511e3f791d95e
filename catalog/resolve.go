// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"context"

	"storj.io/private/tagsql"
)

// childDIDs descends the association DAG from the given roots and returns
// the distinct reachable DIDs of exactly the target type. For a DATASET
// target only container edges are followed; for a FILE target container and
// dataset edges are.
func (t *tx) childDIDs(ctx context.Context, roots []DIDLocation, target DIDType) (result []DIDLocation, err error) {
	if len(roots) == 0 {
		return nil, nil
	}
	roots = dedupeLocations(roots)

	if t.db.adapter.SupportsRecursiveCTE() {
		descend := `tree.did_type = ?`
		descendArgs := []interface{}{DIDTypeContainer}
		if target == DIDTypeFile {
			descend = `tree.did_type IN (?, ?)`
			descendArgs = []interface{}{DIDTypeContainer, DIDTypeDataset}
		}

		args := locationArgs(roots)
		args = append(args, descendArgs...)
		args = append(args, target)

		err = withRows(t.q.QueryContext(ctx, `
			WITH RECURSIVE tree (scope, name, did_type) AS (
				SELECT c.child_scope, c.child_name, c.child_type
				FROM contents c
				WHERE `+tupleIn("c.scope", "c.name", len(roots))+`
				UNION ALL
				SELECT c.child_scope, c.child_name, c.child_type
				FROM contents c
				INNER JOIN tree ON c.scope = tree.scope AND c.name = tree.name
				WHERE `+descend+`
			)
			SELECT DISTINCT scope, name FROM tree WHERE did_type = ?
		`, args...))(func(rows tagsql.Rows) error {
			for rows.Next() {
				var loc DIDLocation
				if err := rows.Scan(&loc.Scope, &loc.Name); err != nil {
					return err
				}
				result = append(result, loc)
			}
			return nil
		})
		return result, Error.Wrap(err)
	}

	// Fallback: explicit breadth first expansion.
	seen := make(map[DIDLocation]struct{}, len(roots))
	frontier := roots
	for len(frontier) > 0 {
		type childRow struct {
			loc DIDLocation
			typ DIDType
		}
		var level []childRow
		err := withRows(t.q.QueryContext(ctx, `
			SELECT child_scope, child_name, child_type FROM contents
			WHERE `+tupleIn("scope", "name", len(frontier)),
			locationArgs(frontier)...))(func(rows tagsql.Rows) error {
			for rows.Next() {
				var row childRow
				if err := rows.Scan(&row.loc.Scope, &row.loc.Name, &row.typ); err != nil {
					return err
				}
				level = append(level, row)
			}
			return nil
		})
		if err != nil {
			return nil, Error.Wrap(err)
		}

		frontier = frontier[:0]
		for _, row := range level {
			if _, ok := seen[row.loc]; ok {
				continue
			}
			seen[row.loc] = struct{}{}
			if row.typ == target {
				result = append(result, row.loc)
			}
			if row.typ == DIDTypeContainer || (target == DIDTypeFile && row.typ == DIDTypeDataset) {
				frontier = append(frontier, row.loc)
			}
		}
	}
	return result, nil
}

// childFiles returns the distinct files reachable from the given roots.
func (t *tx) childFiles(ctx context.Context, roots []DIDLocation) ([]DIDLocation, error) {
	return t.childDIDs(ctx, roots, DIDTypeFile)
}

// listAllParentDIDs walks the DAG upwards from loc and returns every
// ancestor, nearest first. The seen set keeps shared ancestors from
// repeating.
func (t *tx) listAllParentDIDs(ctx context.Context, loc DIDLocation) (result []DIDLocation, err error) {
	seen := map[DIDLocation]struct{}{loc: {}}
	frontier := []DIDLocation{loc}
	for len(frontier) > 0 {
		var parents []DIDLocation
		err := withRows(t.q.QueryContext(ctx, `
			SELECT DISTINCT scope, name FROM contents
			WHERE `+tupleIn("child_scope", "child_name", len(frontier)),
			locationArgs(frontier)...))(func(rows tagsql.Rows) error {
			for rows.Next() {
				var parent DIDLocation
				if err := rows.Scan(&parent.Scope, &parent.Name); err != nil {
					return err
				}
				parents = append(parents, parent)
			}
			return nil
		})
		if err != nil {
			return nil, Error.Wrap(err)
		}

		frontier = frontier[:0]
		for _, parent := range parents {
			if _, ok := seen[parent]; ok {
				continue
			}
			seen[parent] = struct{}{}
			result = append(result, parent)
			frontier = append(frontier, parent)
		}
	}
	return result, nil
}

// resolveAggregatesOf computes (bytes, length, events) for a DID at the
// requested depth. Null sums collapse to zero.
func (t *tx) resolveAggregatesOf(ctx context.Context, d DID, depth DIDType) (bytes, length, events int64, err error) {
	switch {
	case d.Type == DIDTypeFile:
		return int64Value(d.Bytes), 1, int64Value(d.Events), nil

	case d.Type == DIDTypeDataset && depth == DIDTypeFile:
		err = t.q.QueryRowContext(ctx, `
			SELECT coalesce(sum(bytes), 0), count(*), coalesce(sum(events), 0)
			FROM contents WHERE scope = ? AND name = ?
		`, d.Scope, d.Name).Scan(&bytes, &length, &events)
		return bytes, length, events, Error.Wrap(err)

	case d.Type == DIDTypeContainer && (depth == DIDTypeDataset || depth == DIDTypeFile):
		datasets, err := t.childDIDs(ctx, []DIDLocation{d.DIDLocation}, DIDTypeDataset)
		if err != nil {
			return 0, 0, 0, err
		}
		if len(datasets) == 0 {
			return 0, 0, 0, nil
		}
		if depth == DIDTypeDataset {
			err = t.q.QueryRowContext(ctx, `
				SELECT coalesce(sum(bytes), 0), coalesce(sum(length), 0), coalesce(sum(events), 0)
				FROM dids WHERE `+tupleIn("scope", "name", len(datasets)),
				locationArgs(datasets)...).Scan(&bytes, &length, &events)
			return bytes, length, events, Error.Wrap(err)
		}
		err = t.q.QueryRowContext(ctx, `
			SELECT coalesce(sum(bytes), 0), count(*), coalesce(sum(events), 0)
			FROM contents WHERE `+tupleIn("scope", "name", len(datasets)),
			locationArgs(datasets)...).Scan(&bytes, &length, &events)
		return bytes, length, events, Error.Wrap(err)

	default:
		return int64Value(d.Bytes), int64Value(d.Length), int64Value(d.Events), nil
	}
}
