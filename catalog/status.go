// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"context"
)

// SetStatus contains arguments necessary for changing lifecycle state of a
// collection DID. Statuses is a name/value set; "open" is the only
// supported name.
type SetStatus struct {
	DIDLocation

	Statuses map[string]interface{}
}

// SetStatus closes or reopens a collection. Closing freezes the aggregates:
// bytes, length and events are resolved from the content and written onto
// the row together with closed_at.
func (db *DB) SetStatus(ctx context.Context, opts SetStatus) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := opts.DIDLocation.Verify(); err != nil {
		return err
	}

	var open *bool
	for key, value := range opts.Statuses {
		if key != "open" {
			return ErrUnsupportedStatus.New("unknown status %q for %s", key, opts.DIDLocation)
		}
		b, ok := value.(bool)
		if !ok {
			return ErrUnsupportedStatus.New("status %q expects a boolean, got %T", key, value)
		}
		open = &b
	}
	if open == nil {
		return nil
	}

	return db.withTx(ctx, func(ctx context.Context, t *tx) error {
		if *open {
			return t.reopenDID(ctx, opts.DIDLocation)
		}
		return t.closeDID(ctx, opts.DIDLocation)
	})
}

func (t *tx) closeDID(ctx context.Context, loc DIDLocation) error {
	d, err := t.getDID(ctx, loc, true)
	if err != nil {
		return err
	}
	if d.Type == DIDTypeFile {
		return ErrUnsupportedOperation.New("%s is a file, cannot be closed", loc)
	}
	if !d.IsOpen {
		return ErrUnsupportedOperation.New("%s is already closed", loc)
	}

	depth := DIDTypeFile
	if d.Type == DIDTypeContainer {
		depth = DIDTypeDataset
	}
	bytes, length, events, err := t.resolveAggregatesOf(ctx, d, depth)
	if err != nil {
		return err
	}

	now := nowUTC()
	isNew := d.IsNew
	if t.db.config.ReevaluateDIDsAtClose {
		isNew = true
	}
	_, err = t.q.ExecContext(ctx, `
		UPDATE dids
		SET is_open = FALSE, closed_at = ?, bytes = ?, length = ?, events = ?, is_new = ?, updated_at = ?
		WHERE scope = ? AND name = ?
	`, now, bytes, length, events, isNew, now, loc.Scope, loc.Name)
	if err != nil {
		return Error.Wrap(err)
	}

	// Frozen aggregates propagate into the dataset locks held on this DID.
	_, err = t.q.ExecContext(ctx, `
		UPDATE dataset_locks SET bytes = ?, length = ? WHERE scope = ? AND name = ?
	`, bytes, length, loc.Scope, loc.Name)
	if err != nil {
		return Error.Wrap(err)
	}

	payload, err := t.messagePayload(ctx, loc, map[string]interface{}{
		"bytes":  bytes,
		"length": length,
		"events": events,
	})
	if err != nil {
		return err
	}
	if err := t.addMessage(ctx, EventCloseDID, payload); err != nil {
		return err
	}

	return t.db.rules.GenerateNotifications(ctx, t.q, loc)
}

func (t *tx) reopenDID(ctx context.Context, loc DIDLocation) error {
	d, err := t.getDID(ctx, loc, true)
	if err != nil {
		return err
	}
	if d.Type == DIDTypeFile {
		return ErrUnsupportedOperation.New("%s is a file, cannot be reopened", loc)
	}
	if d.IsOpen {
		return ErrUnsupportedOperation.New("%s is already open", loc)
	}
	if d.Monotonic {
		return ErrUnsupportedOperation.New("%s is monotonic, cannot be reopened", loc)
	}

	now := nowUTC()
	_, err = t.q.ExecContext(ctx, `
		UPDATE dids SET is_open = TRUE, closed_at = NULL, updated_at = ?
		WHERE scope = ? AND name = ?
	`, now, loc.Scope, loc.Name)
	if err != nil {
		return Error.Wrap(err)
	}

	payload, err := t.messagePayload(ctx, loc, nil)
	if err != nil {
		return err
	}
	return t.addMessage(ctx, EventOpenDID, payload)
}
