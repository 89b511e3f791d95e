// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"context"
	"time"

	"go.uber.org/zap"

	"storj.io/private/tagsql"
)

// deferredLifetime is the expiry pushed onto DIDs whose rules could not be
// removed yet; the undertaker retries them after it elapses.
const deferredLifetime = 24 * time.Hour

// DeleteDID names one DID to delete, with an optional replica purge
// override. Only an explicit false suppresses purging.
type DeleteDID struct {
	DIDLocation

	PurgeReplicas *bool
}

// DeleteDIDs contains arguments necessary for the multi phase deletion.
type DeleteDIDs struct {
	DIDs    []DeleteDID
	Account string

	// ExpireRules defers heavy rules instead of failing on them: rules
	// above the configured lock threshold are soft expired and the DID is
	// retried later.
	ExpireRules bool
}

// DeleteDIDs removes DIDs in phases: rules, parent detachment, metadata,
// bad replica state, content expansion, then the DID rows themselves.
// Deletion is best effort: DIDs blocked by rules or referencing parents
// survive the call and are retried by the undertaker.
func (db *DB) DeleteDIDs(ctx context.Context, opts DeleteDIDs) (err error) {
	defer mon.Task()(&ctx)(&err)

	for _, d := range opts.DIDs {
		if err := d.Verify(); err != nil {
			return err
		}
	}
	if len(opts.DIDs) == 0 {
		return nil
	}

	return db.withTx(ctx, func(ctx context.Context, t *tx) error {
		return t.deleteDIDs(ctx, opts)
	})
}

func (t *tx) deleteDIDs(ctx context.Context, opts DeleteDIDs) (err error) {
	defer mon.Task()(&ctx)(&err)

	locations := make([]DIDLocation, 0, len(opts.DIDs))
	overrides := make(map[DIDLocation]*bool, len(opts.DIDs))
	for _, d := range opts.DIDs {
		locations = append(locations, d.DIDLocation)
		overrides[d.DIDLocation] = d.PurgeReplicas
	}
	locations = dedupeLocations(locations)

	rows, err := t.getDIDs(ctx, locations, true)
	if err != nil {
		return err
	}

	now := nowUTC()

	// Replica purging can be requested on the row, on an attached rule, or
	// per call. An explicit override wins over both.
	ruleFlags, err := t.db.rules.PurgeFlags(ctx, t.q, locations)
	if err != nil {
		return err
	}

	var files, collections []DIDLocation
	candidates := make([]DeletionCandidate, 0, len(rows))
	for _, loc := range locations {
		d, ok := rows[loc]
		if !ok {
			// already gone, nothing to do.
			continue
		}

		purge := d.PurgeReplicas || ruleFlags[loc]
		if override := overrides[loc]; override != nil {
			purge = *override
		}
		candidates = append(candidates, DeletionCandidate{DIDLocation: loc, PurgeReplicas: purge})

		if d.Type == DIDTypeFile {
			files = append(files, loc)
		} else {
			collections = append(collections, loc)
		}

		payload, err := t.messagePayload(ctx, loc, map[string]interface{}{
			"account": opts.Account,
		})
		if err != nil {
			return err
		}
		if err := t.addMessage(ctx, EventEraseDID, payload); err != nil {
			return err
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	// Phase A: rules. Blocked DIDs get a short lifetime and drop out of
	// this run; the undertaker picks them up once their rules have expired.
	blocked, err := t.db.rules.PrepareDeletion(ctx, t.q, candidates, opts.ExpireRules,
		now.Add(deferredLifetime), t.db.config.ExpireRulesLocksSize)
	if err != nil {
		return err
	}
	if len(blocked) > 0 {
		for _, loc := range blocked {
			_, err := t.q.ExecContext(ctx, `
				UPDATE dids SET expired_at = ?, updated_at = ? WHERE scope = ? AND name = ?
			`, now.Add(deferredLifetime), now, loc.Scope, loc.Name)
			if err != nil {
				return Error.Wrap(err)
			}
			t.db.log.Info("DID deletion deferred on rules",
				zap.String("DID", loc.String()))
		}
		blockedSet := make(map[DIDLocation]struct{}, len(blocked))
		for _, loc := range blocked {
			blockedSet[loc] = struct{}{}
		}
		files = withoutLocations(files, blockedSet)
		collections = withoutLocations(collections, blockedSet)
		if len(files)+len(collections) == 0 {
			return nil
		}
	}

	remaining := append(append([]DIDLocation{}, files...), collections...)
	table, err := t.scratchLocations(ctx, remaining)
	if err != nil {
		return err
	}

	// Phase B: detach from parents outside the deletion set.
	existingParents, err := t.detachFromExternalParents(ctx, table, remaining)
	if err != nil {
		return err
	}

	// Phase C: DID level metadata.
	_, err = t.q.ExecContext(ctx, `
		DELETE FROM did_meta WHERE (scope, name) IN (SELECT scope, name FROM `+table+`)
	`)
	if err != nil {
		return Error.Wrap(err)
	}

	// Phase D: flip BAD replica states of the files involved, both direct
	// inputs and files reachable from collection inputs.
	badFiles := files
	var collectionFiles []DIDLocation
	if len(collections) > 0 {
		collectionFiles, err = t.childFiles(ctx, collections)
		if err != nil {
			return err
		}
		badFiles = append(append([]DIDLocation{}, files...), collectionFiles...)
	}
	if err := t.markBadReplicasDeleted(ctx, badFiles, now); err != nil {
		return err
	}

	// Phase E: expand collections into their content.
	if len(collections) > 0 {
		var purging []DIDLocation
		for _, c := range candidates {
			if !c.PurgeReplicas {
				continue
			}
			for _, loc := range collections {
				if loc == c.DIDLocation {
					purging = append(purging, loc)
				}
			}
		}
		if t.db.config.PurgeAllReplicas {
			purging = collections
		}
		if len(purging) > 0 {
			purgeFiles := collectionFiles
			if len(purging) != len(collections) {
				purgeFiles, err = t.childFiles(ctx, purging)
				if err != nil {
					return err
				}
			}
			if err := t.db.replicas.TombstoneUnlockedReplicas(ctx, t.q, purgeFiles, time.Unix(0, 0).UTC()); err != nil {
				return err
			}
		}

		if t.db.config.ArchiveContent {
			if err := t.archiveContent(ctx, collections, rows, now); err != nil {
				return err
			}
		}

		args := locationArgs(collections)
		_, err = t.q.ExecContext(ctx, `
			DELETE FROM contents WHERE `+tupleIn("scope", "name", len(collections)), args...)
		if err != nil {
			return Error.Wrap(err)
		}
		_, err = t.q.ExecContext(ctx, `
			DELETE FROM collection_replicas WHERE `+tupleIn("scope", "name", len(collections)), args...)
		if err != nil {
			return Error.Wrap(err)
		}
	}

	// Phase F: DIDs still referenced from parents keep their rows until the
	// rule engine releases them; the caller retries.
	if existingParents {
		return nil
	}

	// Phase G: terminal removal.
	if len(collections) > 0 {
		args := locationArgs(collections)
		_, err = t.q.ExecContext(ctx, `
			DELETE FROM dids_followed WHERE `+tupleIn("scope", "name", len(collections)), args...)
		if err != nil {
			return Error.Wrap(err)
		}
		if t.db.config.ArchiveDIDs {
			if err := t.insertDeletedDIDs(ctx, collections, now); err != nil {
				return err
			}
		}
		_, err = t.q.ExecContext(ctx, `
			DELETE FROM dids WHERE `+tupleIn("scope", "name", len(collections)), args...)
		if err != nil {
			return Error.Wrap(err)
		}
		for _, loc := range collections {
			t.db.log.Info("Deleted DID", zap.String("DID", loc.String()))
		}
	}
	if len(files) > 0 {
		// Files stay; replica cleanup owns their end of life.
		_, err = t.q.ExecContext(ctx, `
			UPDATE dids SET expired_at = NULL, updated_at = ?
			WHERE `+tupleIn("scope", "name", len(files)),
			append([]interface{}{now}, locationArgs(files)...)...)
		if err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}

// detachFromExternalParents detaches the staged DIDs from parents outside
// the staged set, reporting whether any such parent existed.
func (t *tx) detachFromExternalParents(ctx context.Context, table string, staged []DIDLocation) (existingParents bool, err error) {
	stagedSet := make(map[DIDLocation]struct{}, len(staged))
	for _, loc := range staged {
		stagedSet[loc] = struct{}{}
	}

	type edge struct{ parent, child DIDLocation }
	var edges []edge
	err = withRows(t.q.QueryContext(ctx, `
		SELECT c.scope, c.name, c.child_scope, c.child_name
		FROM contents c
		INNER JOIN `+table+` s ON c.child_scope = s.scope AND c.child_name = s.name
	`))(func(rows tagsql.Rows) error {
		for rows.Next() {
			var e edge
			if err := rows.Scan(&e.parent.Scope, &e.parent.Name, &e.child.Scope, &e.child.Name); err != nil {
				return err
			}
			edges = append(edges, e)
		}
		return nil
	})
	if err != nil {
		return false, Error.Wrap(err)
	}

	marked := make(map[DIDLocation]struct{})
	for _, e := range edges {
		if _, ok := stagedSet[e.parent]; ok {
			continue
		}
		// surviving parents lose content, the rule engine has to re-evaluate
		// them. One marker per parent, before the mutation.
		if _, ok := marked[e.parent]; !ok {
			if err := t.addUpdatedDID(ctx, e.parent, ReevaluateDetach); err != nil {
				return existingParents, err
			}
			marked[e.parent] = struct{}{}
		}
		parent, err := t.getDID(ctx, e.parent, true)
		if err != nil {
			return existingParents, err
		}
		if err := t.detachDID(ctx, parent, e.child); err != nil {
			return existingParents, err
		}
		existingParents = true
	}
	return existingParents, nil
}

func (t *tx) markBadReplicasDeleted(ctx context.Context, files []DIDLocation, now time.Time) error {
	files = dedupeLocations(files)
	for len(files) > 0 {
		batch := files
		if len(batch) > bulkInsertBatch {
			batch = batch[:bulkInsertBatch]
		}
		files = files[len(batch):]

		_, err := t.q.ExecContext(ctx, `
			UPDATE bad_replicas SET state = ?, updated_at = ?
			WHERE state = ? AND `+tupleIn("scope", "name", len(batch)),
			append([]interface{}{BadReplicaDeleted, now, BadReplicaBad}, locationArgs(batch)...)...)
		if err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}

// archiveContent snapshots the remaining associations of the collections
// into history before they are removed.
func (t *tx) archiveContent(ctx context.Context, collections []DIDLocation, rows map[DIDLocation]DID, deletedAt time.Time) error {
	var assocs []Association
	err := withRows(t.q.QueryContext(ctx, `
		SELECT `+associationColumns+` FROM contents
		WHERE `+tupleIn("scope", "name", len(collections)),
		locationArgs(collections)...))(func(rows tagsql.Rows) error {
		for rows.Next() {
			var a Association
			if err := scanAssociationInto(rows, &a); err != nil {
				return err
			}
			assocs = append(assocs, a)
		}
		return nil
	})
	if err != nil {
		return Error.Wrap(err)
	}
	for _, a := range assocs {
		didCreatedAt := deletedAt
		if parent, ok := rows[a.Location()]; ok {
			didCreatedAt = parent.CreatedAt
		}
		if err := t.insertAssociationHistory(ctx, a, didCreatedAt, deletedAt); err != nil {
			return err
		}
	}
	return nil
}

// insertDeletedDIDs snapshots collection rows into deleted_dids so they can
// be resurrected.
func (t *tx) insertDeletedDIDs(ctx context.Context, collections []DIDLocation, deletedAt time.Time) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO deleted_dids (`+didColumns+`, deleted_at)
		SELECT `+didColumns+`, ? FROM dids
		WHERE `+tupleIn("scope", "name", len(collections)),
		append([]interface{}{deletedAt}, locationArgs(collections)...)...)
	return Error.Wrap(err)
}

func withoutLocations(locations []DIDLocation, drop map[DIDLocation]struct{}) []DIDLocation {
	out := locations[:0]
	for _, loc := range locations {
		if _, ok := drop[loc]; !ok {
			out = append(out, loc)
		}
	}
	return out
}
