// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"context"
	"time"

	"storj.io/private/tagsql"
)

// ExpiredDID is one result row of the expired scan.
type ExpiredDID struct {
	DIDLocation

	Type          DIDType
	CreatedAt     time.Time
	PurgeReplicas bool
}

// ListExpiredDIDs contains arguments for the worker sharded expired scan.
type ListExpiredDIDs struct {
	Worker       int
	TotalWorkers int
	Limit        int

	AsOf time.Time // zero means now
}

// ListExpiredDIDs returns DIDs whose expiry has passed and that are not
// protected by a locked rule, ordered by expired_at ascending. Workers
// partition the name space with a stable hash, so concurrent scans over
// disjoint shards never return the same DID.
func (db *DB) ListExpiredDIDs(ctx context.Context, opts ListExpiredDIDs) (result []ExpiredDID, err error) {
	defer mon.Task()(&ctx)(&err)

	ListLimit.Ensure(&opts.Limit)
	if opts.AsOf.IsZero() {
		opts.AsOf = nowUTC()
	}
	sharded := opts.TotalWorkers > 1

	query := `
		SELECT scope, name, did_type, created_at, purge_replicas
		FROM dids
		WHERE expired_at IS NOT NULL AND expired_at < ?
			AND NOT EXISTS (
				SELECT 1 FROM rules
				WHERE rules.scope = dids.scope AND rules.name = dids.name AND rules.locked = TRUE
			)`
	args := []interface{}{opts.AsOf}

	pushdown := sharded && db.adapter.SupportsHashShard()
	if pushdown {
		query += ` AND ` + db.adapter.HashShardClause("name")
		args = append(args, opts.TotalWorkers, opts.Worker)
	}
	query += ` ORDER BY expired_at`
	if pushdown || !sharded {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	err = withRows(db.wrap(db.db).QueryContext(ctx, query, args...))(func(rows tagsql.Rows) error {
		for rows.Next() && len(result) < opts.Limit {
			var d ExpiredDID
			if err := rows.Scan(&d.Scope, &d.Name, &d.Type, &d.CreatedAt, &d.PurgeReplicas); err != nil {
				return err
			}
			if sharded && !pushdown && NameShard(d.Name, opts.TotalWorkers) != opts.Worker {
				continue
			}
			result = append(result, d)
		}
		return nil
	})
	return result, Error.Wrap(err)
}

// NewDID is one result row of the new-DID scan.
type NewDID struct {
	DIDLocation

	Type DIDType
}

// ListNewDIDs contains arguments for the worker sharded new-DID scan.
type ListNewDIDs struct {
	Type DIDType // zero means all types

	Worker       int
	TotalWorkers int
	Limit        int
}

// ListNewDIDs returns DIDs flagged is_new that have no rule in INJECT
// state. No order is guaranteed.
func (db *DB) ListNewDIDs(ctx context.Context, opts ListNewDIDs) (result []NewDID, err error) {
	defer mon.Task()(&ctx)(&err)

	ListLimit.Ensure(&opts.Limit)
	sharded := opts.TotalWorkers > 1

	query := `
		SELECT scope, name, did_type
		FROM dids
		WHERE is_new = TRUE
			AND NOT EXISTS (
				SELECT 1 FROM rules
				WHERE rules.scope = dids.scope AND rules.name = dids.name AND rules.state = ?
			)`
	args := []interface{}{string(RuleStateInject)}

	if opts.Type != 0 {
		query += ` AND did_type = ?`
		args = append(args, opts.Type)
	}

	pushdown := sharded && db.adapter.SupportsHashShard()
	if pushdown {
		query += ` AND ` + db.adapter.HashShardClause("name")
		args = append(args, opts.TotalWorkers, opts.Worker)
	}
	if pushdown || !sharded {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	err = withRows(db.wrap(db.db).QueryContext(ctx, query, args...))(func(rows tagsql.Rows) error {
		for rows.Next() && len(result) < opts.Limit {
			var d NewDID
			if err := rows.Scan(&d.Scope, &d.Name, &d.Type); err != nil {
				return err
			}
			if sharded && !pushdown && NameShard(d.Name, opts.TotalWorkers) != opts.Worker {
				continue
			}
			result = append(result, d)
		}
		return nil
	})
	return result, Error.Wrap(err)
}
