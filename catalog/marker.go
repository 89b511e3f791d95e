// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"context"

	"storj.io/common/uuid"
	"storj.io/private/tagsql"
)

// addUpdatedDID appends a rule re-evaluation marker. Markers are drained by
// the external rule engine; the catalog only produces them.
func (t *tx) addUpdatedDID(ctx context.Context, loc DIDLocation, action ReevaluationAction) error {
	id, err := uuid.New()
	if err != nil {
		return Error.Wrap(err)
	}
	_, err = t.q.ExecContext(ctx, `
		INSERT INTO updated_dids (id, scope, name, rule_evaluation_action, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, id.String(), loc.Scope, loc.Name, string(action), nowUTC())
	return Error.Wrap(err)
}

// ListUpdatedDIDs returns pending rule re-evaluation markers, oldest first.
func (db *DB) ListUpdatedDIDs(ctx context.Context, limit int) (result []UpdatedDID, err error) {
	defer mon.Task()(&ctx)(&err)

	ListLimit.Ensure(&limit)

	err = withRows(db.wrap(db.db).QueryContext(ctx, `
		SELECT id, scope, name, rule_evaluation_action, created_at
		FROM updated_dids
		ORDER BY created_at, id
		LIMIT ?
	`, limit))(func(rows tagsql.Rows) error {
		for rows.Next() {
			var u UpdatedDID
			var action string
			if err := rows.Scan(&u.ID, &u.Scope, &u.Name, &action, &u.CreatedAt); err != nil {
				return err
			}
			u.Action = ReevaluationAction(action)
			result = append(result, u)
		}
		return nil
	})
	return result, Error.Wrap(err)
}

// DeleteUpdatedDIDs removes drained markers by id.
func (db *DB) DeleteUpdatedDIDs(ctx context.Context, ids []string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if len(ids) == 0 {
		return nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err = db.wrap(db.db).ExecContext(ctx, `
		DELETE FROM updated_dids WHERE id IN `+placeholders(len(ids)),
		args...)
	return Error.Wrap(err)
}
