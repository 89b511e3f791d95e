// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"context"
	"time"
)

const associationColumns = `scope, name, child_scope, child_name, did_type,
	child_type, bytes, adler32, md5, guid, events, rule_evaluation,
	created_at, updated_at`

func scanAssociationInto(s scanner, a *Association) error {
	return s.Scan(
		&a.Scope, &a.Name, &a.ChildScope, &a.ChildName, &a.Type, &a.ChildType,
		&a.Bytes, &a.Adler32, &a.MD5, &a.GUID, &a.Events, &a.RuleEvaluation,
		&a.CreatedAt, &a.UpdatedAt,
	)
}

// DetachDIDs contains arguments necessary for detaching children from a
// collection.
type DetachDIDs struct {
	DIDLocation

	Children []DIDLocation
}

// DetachDIDs removes children from a dataset or container, writing one
// history row per removed association and updating the parent's aggregates.
func (db *DB) DetachDIDs(ctx context.Context, opts DetachDIDs) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := opts.Verify(); err != nil {
		return err
	}
	return db.withTx(ctx, func(ctx context.Context, t *tx) error {
		return t.detachDIDs(ctx, opts.DIDLocation, opts.Children)
	})
}

// Verify detach arguments.
func (opts DetachDIDs) Verify() error {
	if err := opts.DIDLocation.Verify(); err != nil {
		return err
	}
	if len(opts.Children) == 0 {
		return ErrInvalidRequest.New("Children missing for %s", opts.DIDLocation)
	}
	for _, child := range opts.Children {
		if err := child.Verify(); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) detachDIDs(ctx context.Context, parentLoc DIDLocation, children []DIDLocation) error {
	parent, err := t.getDID(ctx, parentLoc, true)
	if err != nil {
		return err
	}
	if parent.Type == DIDTypeFile {
		return ErrUnsupportedOperation.New("%s is a file, cannot detach from it", parentLoc)
	}

	// The marker precedes the mutation so the rule engine re-evaluates even
	// if only part of the batch detaches.
	if err := t.addUpdatedDID(ctx, parentLoc, ReevaluateDetach); err != nil {
		return err
	}

	var contentCount int64
	err = t.q.QueryRowContext(ctx, `
		SELECT count(*) FROM contents WHERE scope = ? AND name = ?
	`, parentLoc.Scope, parentLoc.Name).Scan(&contentCount)
	if err != nil {
		return Error.Wrap(err)
	}
	if contentCount == 0 {
		return ErrDIDNotFound.New("%s has no content", parentLoc)
	}

	for _, child := range dedupeLocations(children) {
		if child == parentLoc {
			return ErrUnsupportedOperation.New("%s cannot be detached from itself", parentLoc)
		}
		if err := t.detachDID(ctx, parent, child); err != nil {
			return err
		}
	}
	return nil
}

// detachDID removes one association, logging it to history and decrementing
// the parent's cached aggregates.
func (t *tx) detachDID(ctx context.Context, parent DID, child DIDLocation) error {
	var assoc Association
	err := scanAssociationInto(t.q.QueryRowContext(ctx, `
		SELECT `+associationColumns+` FROM contents
		WHERE scope = ? AND name = ? AND child_scope = ? AND child_name = ?
	`, parent.Scope, parent.Name, child.Scope, child.Name), &assoc)
	if isNotFound(err) {
		return ErrDIDNotFound.New("%s is not attached to %s", child, parent.DIDLocation)
	}
	if err != nil {
		return Error.Wrap(err)
	}

	now := nowUTC()

	set := "length = length - 1"
	args := []interface{}{}
	if assoc.Bytes != nil {
		set += ", bytes = bytes - ?"
		args = append(args, *assoc.Bytes)
	}
	if assoc.Events != nil {
		set += ", events = events - ?"
		args = append(args, *assoc.Events)
	}
	set += ", updated_at = ?"
	args = append(args, now, parent.Scope, parent.Name)
	_, err = t.q.ExecContext(ctx, `
		UPDATE dids SET `+set+` WHERE scope = ? AND name = ? AND length IS NOT NULL
	`, args...)
	if err != nil {
		return Error.Wrap(err)
	}

	if err := t.insertAssociationHistory(ctx, assoc, parent.CreatedAt, now); err != nil {
		return err
	}

	_, err = t.q.ExecContext(ctx, `
		DELETE FROM contents
		WHERE scope = ? AND name = ? AND child_scope = ? AND child_name = ?
	`, parent.Scope, parent.Name, child.Scope, child.Name)
	if err != nil {
		return Error.Wrap(err)
	}

	if parent.Type == DIDTypeContainer {
		payload, err := t.messagePayload(ctx, parent.DIDLocation, map[string]interface{}{
			"childscope": child.Scope,
			"childname":  child.Name,
			"childtype":  assoc.ChildType.String(),
		})
		if err != nil {
			return err
		}
		if err := t.addMessage(ctx, EventEraseContent, payload); err != nil {
			return err
		}
	}
	payload, err := t.messagePayload(ctx, parent.DIDLocation, map[string]interface{}{
		"did_type":    parent.Type.String(),
		"child_scope": child.Scope,
		"child_name":  child.Name,
		"child_type":  assoc.ChildType.String(),
	})
	if err != nil {
		return err
	}
	return t.addMessage(ctx, EventDetach, payload)
}

// insertAssociationHistory writes the immutable log row for a removed
// association, carrying the parent's creation time at removal.
func (t *tx) insertAssociationHistory(ctx context.Context, assoc Association, didCreatedAt time.Time, deletedAt time.Time) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO contents_history (scope, name, child_scope, child_name, did_type, child_type,
			bytes, adler32, md5, guid, events, rule_evaluation,
			did_created_at, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, assoc.Scope, assoc.Name, assoc.ChildScope, assoc.ChildName,
		assoc.Type, assoc.ChildType,
		assoc.Bytes, assoc.Adler32, assoc.MD5, assoc.GUID, assoc.Events,
		assoc.RuleEvaluation, didCreatedAt, assoc.CreatedAt, assoc.UpdatedAt, deletedAt)
	return Error.Wrap(err)
}
