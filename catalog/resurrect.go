// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"context"
)

// Resurrect brings deleted DIDs back to life. A DID with an archived
// deleted_dids snapshot is re-inserted from it with the expiry cleared; a
// live DID whose expiry already passed gets the expiry cleared in place.
func (db *DB) Resurrect(ctx context.Context, locations []DIDLocation) (err error) {
	defer mon.Task()(&ctx)(&err)

	for _, loc := range locations {
		if err := loc.Verify(); err != nil {
			return err
		}
	}
	return db.withTx(ctx, func(ctx context.Context, t *tx) error {
		for _, loc := range dedupeLocations(locations) {
			if err := t.resurrect(ctx, loc); err != nil {
				return err
			}
		}
		return nil
	})
}

func (t *tx) resurrect(ctx context.Context, loc DIDLocation) error {
	var d DID
	err := scanDIDInto(t.q.QueryRowContext(ctx, `
		SELECT `+didColumns+` FROM deleted_dids WHERE scope = ? AND name = ?
	`, loc.Scope, loc.Name), &d)
	switch {
	case err == nil:
		_, err = t.q.ExecContext(ctx, `
			DELETE FROM deleted_dids WHERE scope = ? AND name = ?
		`, loc.Scope, loc.Name)
		if err != nil {
			return Error.Wrap(err)
		}
		d.ExpiredAt = nil
		d.UpdatedAt = nowUTC()
		return t.insertDID(ctx, d)

	case isNotFound(err):
		now := nowUTC()
		res, err := t.q.ExecContext(ctx, `
			UPDATE dids SET expired_at = NULL, updated_at = ?
			WHERE scope = ? AND name = ? AND expired_at IS NOT NULL AND expired_at < ?
		`, now, loc.Scope, loc.Name, now)
		if err != nil {
			return Error.Wrap(err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return Error.Wrap(err)
		}
		if affected == 0 {
			return ErrDIDNotFound.New("%s cannot be resurrected", loc)
		}
		return nil

	default:
		return Error.Wrap(err)
	}
}
