// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"context"
	"encoding/json"
	"time"

	"storj.io/common/uuid"
	"storj.io/private/tagsql"
)

// Message is a transactional outbox row. Rows are inserted in the same
// transaction as the state change they describe and drained by an external
// broker relay.
type Message struct {
	ID        string
	EventType string
	Payload   string
	CreatedAt time.Time
}

// Event types emitted by the catalog.
const (
	EventCreateDataset   = "CREATE_DTS"
	EventCreateContainer = "CREATE_CNT"
	EventRegisterContent = "REGISTER_CNT"
	EventEraseDID        = "ERASE"
	EventEraseContent    = "ERASE_CNT"
	EventDetach          = "DETACH"
	EventCloseDID        = "CLOSE"
	EventOpenDID         = "OPEN"
	EventEmail           = "email"
)

// addMessage appends an outbox row. The payload must be JSON serializable.
func (t *tx) addMessage(ctx context.Context, eventType string, payload map[string]interface{}) error {
	id, err := uuid.New()
	if err != nil {
		return Error.Wrap(err)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Error.New("marshal message payload: %w", err)
	}
	_, err = t.q.ExecContext(ctx, `
		INSERT INTO messages (id, event_type, payload, created_at)
		VALUES (?, ?, ?, ?)
	`, id.String(), eventType, string(raw), nowUTC())
	return Error.Wrap(err)
}

// scopeVO resolves the virtual organization of a scope. Payloads carry a vo
// key only when it differs from DefaultVO, so most payloads stay without it.
func (t *tx) scopeVO(ctx context.Context, scope string) (string, error) {
	var vo string
	err := t.q.QueryRowContext(ctx, `SELECT vo FROM scopes WHERE scope = ?`, scope).Scan(&vo)
	if isNotFound(err) {
		return DefaultVO, nil
	}
	return vo, Error.Wrap(err)
}

// messagePayload builds the common scope/name payload, adding vo when the
// scope belongs to a non-default virtual organization.
func (t *tx) messagePayload(ctx context.Context, loc DIDLocation, extra map[string]interface{}) (map[string]interface{}, error) {
	payload := map[string]interface{}{
		"scope": loc.Scope,
		"name":  loc.Name,
	}
	vo, err := t.scopeVO(ctx, loc.Scope)
	if err != nil {
		return nil, err
	}
	if vo != DefaultVO {
		payload["vo"] = vo
	}
	for k, v := range extra {
		payload[k] = v
	}
	return payload, nil
}

// ListMessages returns up to limit undrained outbox rows in insertion order.
func (db *DB) ListMessages(ctx context.Context, limit int) (result []Message, err error) {
	defer mon.Task()(&ctx)(&err)

	ListLimit.Ensure(&limit)

	err = withRows(db.wrap(db.db).QueryContext(ctx, `
		SELECT id, event_type, payload, created_at
		FROM messages
		ORDER BY created_at, id
		LIMIT ?
	`, limit))(func(rows tagsql.Rows) error {
		for rows.Next() {
			var m Message
			if err := rows.Scan(&m.ID, &m.EventType, &m.Payload, &m.CreatedAt); err != nil {
				return err
			}
			result = append(result, m)
		}
		return nil
	})
	return result, Error.Wrap(err)
}

// DeleteMessages removes drained outbox rows by id.
func (db *DB) DeleteMessages(ctx context.Context, ids []string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if len(ids) == 0 {
		return nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err = db.wrap(db.db).ExecContext(ctx, `
		DELETE FROM messages WHERE id IN `+placeholders(len(ids)),
		args...)
	return Error.Wrap(err)
}
