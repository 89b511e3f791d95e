// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"context"
	"time"

	"storj.io/private/tagsql"
)

// didColumns is the column list every DID row scan uses. Order is load
// bearing; keep it in sync with scanDIDInto.
const didColumns = `scope, name, account, did_type, is_open, monotonic, hidden,
	obsolete, complete, is_new, availability, suppressed, bytes, length, md5,
	adler32, guid, events, expired_at, purge_replicas, is_archive, constituent,
	accessed_at, access_cnt, closed_at, eol_at, project, datatype, run_number,
	stream_name, prod_step, version, campaign, task_id, panda_id, lumiblocknr,
	provenance, phys_group, transient, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDIDInto(s scanner, d *DID) error {
	return s.Scan(
		&d.Scope, &d.Name, &d.Account, &d.Type, &d.IsOpen, &d.Monotonic,
		&d.Hidden, &d.Obsolete, &d.Complete, &d.IsNew, &d.Availability,
		&d.Suppressed, &d.Bytes, &d.Length, &d.MD5, &d.Adler32, &d.GUID,
		&d.Events, &d.ExpiredAt, &d.PurgeReplicas, &d.IsArchive,
		&d.Constituent, &d.AccessedAt, &d.AccessCnt, &d.ClosedAt, &d.EOLAt,
		&d.Project, &d.Datatype, &d.RunNumber, &d.StreamName, &d.ProdStep,
		&d.Version, &d.Campaign, &d.TaskID, &d.PandaID, &d.Lumiblocknr,
		&d.Provenance, &d.PhysGroup, &d.Transient, &d.CreatedAt, &d.UpdatedAt,
	)
}

// getDID reads one DID row, optionally locking it against concurrent
// attach/detach in the same transaction scope.
func (t *tx) getDID(ctx context.Context, loc DIDLocation, forUpdate bool) (DID, error) {
	suffix := ""
	if forUpdate {
		suffix = t.db.adapter.ForUpdate()
	}
	var d DID
	err := scanDIDInto(t.q.QueryRowContext(ctx, `
		SELECT `+didColumns+` FROM dids WHERE scope = ? AND name = ?`+suffix,
		loc.Scope, loc.Name), &d)
	if isNotFound(err) {
		return DID{}, ErrDIDNotFound.New("%s", loc)
	}
	return d, Error.Wrap(err)
}

// getDIDs reads DID rows for the given locations. Missing locations are not
// an error; the caller diffs the result against its request.
func (t *tx) getDIDs(ctx context.Context, locations []DIDLocation, forUpdate bool) (map[DIDLocation]DID, error) {
	result := make(map[DIDLocation]DID, len(locations))
	if len(locations) == 0 {
		return result, nil
	}
	suffix := ""
	if forUpdate {
		suffix = t.db.adapter.ForUpdate()
	}
	for len(locations) > 0 {
		batch := locations
		if len(batch) > bulkInsertBatch {
			batch = batch[:bulkInsertBatch]
		}
		locations = locations[len(batch):]

		err := withRows(t.q.QueryContext(ctx, `
			SELECT `+didColumns+` FROM dids
			WHERE `+tupleIn("scope", "name", len(batch))+suffix,
			locationArgs(batch)...))(func(rows tagsql.Rows) error {
			for rows.Next() {
				var d DID
				if err := scanDIDInto(rows, &d); err != nil {
					return err
				}
				result[d.DIDLocation] = d
			}
			return nil
		})
		if err != nil {
			return nil, Error.Wrap(err)
		}
	}
	return result, nil
}

// GetDID contains arguments necessary for fetching a single DID.
type GetDID struct {
	DIDLocation

	// DynamicDepth requests on the fly aggregation of bytes and length for
	// collections: DIDTypeFile aggregates over all reachable files,
	// DIDTypeDataset over direct child datasets. Zero leaves the stored
	// values untouched.
	DynamicDepth DIDType
}

// GetDID returns a single DID row.
func (db *DB) GetDID(ctx context.Context, opts GetDID) (result DID, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := opts.Verify(); err != nil {
		return DID{}, err
	}

	err = db.view(ctx, func(ctx context.Context, t *tx) error {
		result, err = t.getDID(ctx, opts.DIDLocation, false)
		if err != nil {
			return err
		}
		if opts.DynamicDepth != 0 && result.Type != DIDTypeFile {
			bytes, length, events, err := t.resolveAggregatesOf(ctx, result, opts.DynamicDepth)
			if err != nil {
				return err
			}
			result.Bytes, result.Length, result.Events = int64Ptr(bytes), int64Ptr(length), int64Ptr(events)
		}
		return nil
	})
	if err != nil {
		return DID{}, err
	}
	return result, nil
}

// GetDIDAccess returns the last access time and access count of a DID.
// Both are nil when the DID has never been touched.
func (db *DB) GetDIDAccess(ctx context.Context, loc DIDLocation) (accessedAt *time.Time, accessCnt *int64, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := loc.Verify(); err != nil {
		return nil, nil, err
	}
	err = db.wrap(db.db).QueryRowContext(ctx, `
		SELECT accessed_at, access_cnt FROM dids WHERE scope = ? AND name = ?
	`, loc.Scope, loc.Name).Scan(&accessedAt, &accessCnt)
	if isNotFound(err) {
		return nil, nil, ErrDIDNotFound.New("%s", loc)
	}
	return accessedAt, accessCnt, Error.Wrap(err)
}

// TouchDIDs bumps the access time and count of the given DIDs. Unknown
// locations are ignored; touching is best effort bookkeeping.
func (db *DB) TouchDIDs(ctx context.Context, locations []DIDLocation, accessedAt time.Time) (err error) {
	defer mon.Task()(&ctx)(&err)

	if len(locations) == 0 {
		return nil
	}
	for _, loc := range locations {
		if err := loc.Verify(); err != nil {
			return err
		}
	}
	return db.withTx(ctx, func(ctx context.Context, t *tx) error {
		for _, loc := range locations {
			_, err := t.q.ExecContext(ctx, `
				UPDATE dids
				SET accessed_at = ?, access_cnt = coalesce(access_cnt, 0) + 1
				WHERE scope = ? AND name = ?
			`, accessedAt, loc.Scope, loc.Name)
			if err != nil {
				return Error.Wrap(err)
			}
		}
		return nil
	})
}
