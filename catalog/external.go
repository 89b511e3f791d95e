// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"context"
	"time"

	"storj.io/common/uuid"
	"storj.io/private/tagsql"
)

// DeletionCandidate is one DID handed to the rule engine ahead of deletion,
// with its effective replica purge flag.
type DeletionCandidate struct {
	DIDLocation
	PurgeReplicas bool
}

// RuleService is the catalog's view of the replication rule engine. The
// default implementation operates directly on the rules and dataset_locks
// tables; deployments with a full rule engine inject their own.
type RuleService interface {
	// PrepareDeletion processes the rules attached to DIDs that are about to
	// be deleted. Deletable rules are removed; when expireRules is set,
	// rules above locksThreshold locks get expires_at pushed to expiresAt
	// instead. DIDs whose rules cannot be removed now are returned as
	// blocked so the caller defers them.
	PrepareDeletion(ctx context.Context, q Queryer, candidates []DeletionCandidate, expireRules bool, expiresAt time.Time, locksThreshold int) (blocked []DIDLocation, err error)

	// PurgeFlags reports, per location, whether any attached rule requests
	// replica purging on deletion.
	PurgeFlags(ctx context.Context, q Queryer, locations []DIDLocation) (map[DIDLocation]bool, error)

	// AddRules registers replication rules requested together with a new
	// DID. The default implementation records them in INJECT state for the
	// rule engine to pick up.
	AddRules(ctx context.Context, q Queryer, loc DIDLocation, account string, rules []NewRule) error

	// GenerateNotifications lets the rule engine notify interested parties
	// after a DID was closed. The default implementation is a no-op.
	GenerateNotifications(ctx context.Context, q Queryer, loc DIDLocation) error
}

// ReplicaService is the catalog's view of the replica store.
type ReplicaService interface {
	// RegisterFiles records replicas of the given files on an RSE. Used when
	// files are attached to a dataset together with an rse id.
	RegisterFiles(ctx context.Context, q Queryer, rseID string, files []DID) error

	// TombstoneUnlockedReplicas rewrites the tombstone of unlocked, already
	// tombstoned replicas of the given files, making them immediately
	// reapable.
	TombstoneUnlockedReplicas(ctx context.Context, q Queryer, locations []DIDLocation, tombstone time.Time) error
}

// catalogRuleService is the built-in RuleService on the rules table.
type catalogRuleService struct{}

func (catalogRuleService) PrepareDeletion(ctx context.Context, q Queryer, candidates []DeletionCandidate, expireRules bool, expiresAt time.Time, locksThreshold int) (blocked []DIDLocation, err error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	locations := make([]DIDLocation, len(candidates))
	for i, c := range candidates {
		locations[i] = c.DIDLocation
	}

	type ruleRow struct {
		id      string
		loc     DIDLocation
		locked  bool
		lockCnt int64
	}
	var rules []ruleRow

	err = withRows(q.QueryContext(ctx, `
		SELECT id, scope, name, locked,
			locks_ok_cnt + locks_replicating_cnt + locks_stuck_cnt
		FROM rules
		WHERE `+tupleIn("scope", "name", len(locations)),
		locationArgs(locations)...))(func(rows tagsql.Rows) error {
		for rows.Next() {
			var r ruleRow
			if err := rows.Scan(&r.id, &r.loc.Scope, &r.loc.Name, &r.locked, &r.lockCnt); err != nil {
				return err
			}
			rules = append(rules, r)
		}
		return nil
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	blockedSet := make(map[DIDLocation]struct{})
	block := func(loc DIDLocation) {
		if _, ok := blockedSet[loc]; !ok {
			blockedSet[loc] = struct{}{}
			blocked = append(blocked, loc)
		}
	}
	for _, r := range rules {
		switch {
		case r.locked:
			block(r.loc)
		case expireRules && r.lockCnt > int64(locksThreshold):
			if _, err := q.ExecContext(ctx, `
				UPDATE rules SET expires_at = ? WHERE id = ?
			`, expiresAt, r.id); err != nil {
				return nil, Error.Wrap(err)
			}
			block(r.loc)
		default:
			if _, err := q.ExecContext(ctx, `DELETE FROM dataset_locks WHERE rule_id = ?`, r.id); err != nil {
				return nil, Error.Wrap(err)
			}
			if _, err := q.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, r.id); err != nil {
				return nil, Error.Wrap(err)
			}
		}
	}
	return blocked, nil
}

func (catalogRuleService) PurgeFlags(ctx context.Context, q Queryer, locations []DIDLocation) (map[DIDLocation]bool, error) {
	flags := make(map[DIDLocation]bool, len(locations))
	if len(locations) == 0 {
		return flags, nil
	}
	err := withRows(q.QueryContext(ctx, `
		SELECT scope, name, max(CASE WHEN purge_replicas THEN 1 ELSE 0 END)
		FROM rules
		WHERE `+tupleIn("scope", "name", len(locations))+`
		GROUP BY scope, name`,
		locationArgs(locations)...))(func(rows tagsql.Rows) error {
		for rows.Next() {
			var loc DIDLocation
			var purge int
			if err := rows.Scan(&loc.Scope, &loc.Name, &purge); err != nil {
				return err
			}
			flags[loc] = purge != 0
		}
		return nil
	})
	return flags, Error.Wrap(err)
}

func (catalogRuleService) AddRules(ctx context.Context, q Queryer, loc DIDLocation, account string, rules []NewRule) error {
	now := nowUTC()
	for _, rule := range rules {
		id, err := uuid.New()
		if err != nil {
			return Error.Wrap(err)
		}
		var expiresAt interface{}
		if rule.Lifetime != nil {
			expiresAt = now.Add(*rule.Lifetime)
		}
		_, err = q.ExecContext(ctx, `
			INSERT INTO rules (id, scope, name, rse_expression, state, locked, purge_replicas, expires_at, created_at)
			VALUES (?, ?, ?, ?, 'INJECT', ?, ?, ?, ?)
		`, id.String(), loc.Scope, loc.Name, rule.RSEExpression, rule.Locked, rule.PurgeReplicas, expiresAt, now)
		if err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}

func (catalogRuleService) GenerateNotifications(ctx context.Context, q Queryer, loc DIDLocation) error {
	return nil
}

// catalogReplicaService is the built-in ReplicaService on the replicas table.
type catalogReplicaService struct{}

func (catalogReplicaService) RegisterFiles(ctx context.Context, q Queryer, rseID string, files []DID) error {
	now := nowUTC()
	for _, file := range files {
		_, err := q.ExecContext(ctx, `
			INSERT INTO replicas (rse_id, scope, name, bytes, state, lock_cnt, created_at)
			VALUES (?, ?, ?, ?, 'AVAILABLE', 0, ?)
		`, rseID, file.Scope, file.Name, file.Bytes, now)
		if err != nil && !isUniqueViolation(err) {
			return Error.Wrap(err)
		}
	}
	return nil
}

func (catalogReplicaService) TombstoneUnlockedReplicas(ctx context.Context, q Queryer, locations []DIDLocation, tombstone time.Time) error {
	if len(locations) == 0 {
		return nil
	}
	_, err := q.ExecContext(ctx, `
		UPDATE replicas SET tombstone = ?
		WHERE lock_cnt = 0 AND tombstone IS NOT NULL
			AND `+tupleIn("scope", "name", len(locations)),
		append([]interface{}{tombstone}, locationArgs(locations)...)...)
	return Error.Wrap(err)
}
