// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"context"
	"sort"
	"strings"

	"storj.io/common/uuid"
	"storj.io/private/tagsql"
)

// AddDIDsToFollowed subscribes an account to the given DIDs. Already
// followed DIDs are left as they are.
func (db *DB) AddDIDsToFollowed(ctx context.Context, locations []DIDLocation, account string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if account == "" {
		return ErrInvalidRequest.New("Account missing")
	}
	for _, loc := range locations {
		if err := loc.Verify(); err != nil {
			return err
		}
	}
	return db.withTx(ctx, func(ctx context.Context, t *tx) error {
		now := nowUTC()
		for _, loc := range dedupeLocations(locations) {
			d, err := t.getDID(ctx, loc, false)
			if err != nil {
				return err
			}
			_, err = t.q.ExecContext(ctx, `
				INSERT INTO dids_followed (scope, name, account, did_type, created_at)
				VALUES (?, ?, ?, ?, ?)
			`, loc.Scope, loc.Name, account, d.Type, now)
			if err != nil && !isUniqueViolation(err) {
				return Error.Wrap(err)
			}
		}
		return nil
	})
}

// RemoveDIDsFromFollowed unsubscribes an account from the given DIDs.
func (db *DB) RemoveDIDsFromFollowed(ctx context.Context, locations []DIDLocation, account string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if account == "" {
		return ErrInvalidRequest.New("Account missing")
	}
	if len(locations) == 0 {
		return nil
	}
	for _, loc := range locations {
		if err := loc.Verify(); err != nil {
			return err
		}
	}
	return db.withTx(ctx, func(ctx context.Context, t *tx) error {
		locations := dedupeLocations(locations)
		_, err := t.q.ExecContext(ctx, `
			DELETE FROM dids_followed
			WHERE account = ? AND `+tupleIn("scope", "name", len(locations)),
			append([]interface{}{account}, locationArgs(locations)...)...)
		return Error.Wrap(err)
	})
}

// GetUsersFollowingDID returns the accounts subscribed to a DID.
func (db *DB) GetUsersFollowingDID(ctx context.Context, loc DIDLocation) (accounts []string, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := loc.Verify(); err != nil {
		return nil, err
	}
	err = db.view(ctx, func(ctx context.Context, t *tx) error {
		if _, err := t.getDID(ctx, loc, false); err != nil {
			return err
		}
		return withRows(t.q.QueryContext(ctx, `
			SELECT account FROM dids_followed WHERE scope = ? AND name = ?
			ORDER BY account
		`, loc.Scope, loc.Name))(func(rows tagsql.Rows) error {
			for rows.Next() {
				var account string
				if err := rows.Scan(&account); err != nil {
					return err
				}
				accounts = append(accounts, account)
			}
			return nil
		})
	})
	return accounts, Error.Wrap(err)
}

// TriggerEvent records an event for every follower of a DID. Events
// accumulate until CreateReports drains them into digests.
func (db *DB) TriggerEvent(ctx context.Context, loc DIDLocation, eventType, payload string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := loc.Verify(); err != nil {
		return err
	}
	return db.withTx(ctx, func(ctx context.Context, t *tx) error {
		var follows []Follow
		err := withRows(t.q.QueryContext(ctx, `
			SELECT scope, name, account, did_type, created_at
			FROM dids_followed WHERE scope = ? AND name = ?
		`, loc.Scope, loc.Name))(func(rows tagsql.Rows) error {
			for rows.Next() {
				var f Follow
				if err := rows.Scan(&f.Scope, &f.Name, &f.Account, &f.Type, &f.CreatedAt); err != nil {
					return err
				}
				follows = append(follows, f)
			}
			return nil
		})
		if err != nil {
			return Error.Wrap(err)
		}

		now := nowUTC()
		for _, f := range follows {
			id, err := uuid.New()
			if err != nil {
				return Error.Wrap(err)
			}
			_, err = t.q.ExecContext(ctx, `
				INSERT INTO follow_events (id, scope, name, account, did_type, event_type, payload, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, id.String(), f.Scope, f.Name, f.Account, f.Type, eventType, payload, now)
			if err != nil {
				return Error.Wrap(err)
			}
		}
		return nil
	})
}

// CreateReports composes one digest per account with pending follow events,
// emails it, and drains the account's events. Workers shard accounts with
// the stable name hash. Events are deleted only after the email message was
// enqueued, in the same transaction.
func (db *DB) CreateReports(ctx context.Context, worker, totalWorkers int) (err error) {
	defer mon.Task()(&ctx)(&err)

	return db.withTx(ctx, func(ctx context.Context, t *tx) error {
		var accounts []string
		err := withRows(t.q.QueryContext(ctx, `
			SELECT DISTINCT account FROM follow_events ORDER BY account
		`))(func(rows tagsql.Rows) error {
			for rows.Next() {
				var account string
				if err := rows.Scan(&account); err != nil {
					return err
				}
				if totalWorkers > 1 && NameShard(account, totalWorkers) != worker {
					continue
				}
				accounts = append(accounts, account)
			}
			return nil
		})
		if err != nil {
			return Error.Wrap(err)
		}

		for _, account := range accounts {
			if err := t.reportForAccount(ctx, account); err != nil {
				return err
			}
		}
		return nil
	})
}

func (t *tx) reportForAccount(ctx context.Context, account string) error {
	var events []FollowEvent
	err := withRows(t.q.QueryContext(ctx, `
		SELECT id, scope, name, account, did_type, event_type, payload, created_at
		FROM follow_events WHERE account = ?
		ORDER BY created_at, id
	`, account))(func(rows tagsql.Rows) error {
		for rows.Next() {
			var e FollowEvent
			var payload *string
			err := rows.Scan(&e.ID, &e.Scope, &e.Name, &e.Account, &e.Type,
				&e.EventType, &payload, &e.CreatedAt)
			if err != nil {
				return err
			}
			if payload != nil {
				e.Payload = *payload
			}
			events = append(events, e)
		}
		return nil
	})
	if err != nil {
		return Error.Wrap(err)
	}
	if len(events) == 0 {
		return nil
	}

	var email *string
	err = t.q.QueryRowContext(ctx, `
		SELECT email FROM accounts WHERE account = ?
	`, account).Scan(&email)
	if isNotFound(err) {
		return ErrAccountNotFound.New("%s", account)
	}
	if err != nil {
		return Error.Wrap(err)
	}

	if email != nil {
		var body strings.Builder
		body.WriteString("Hello,\nThis is a summary of the changes that affected the DIDs you follow.\n\n")
		for _, e := range events {
			body.WriteString(e.Scope + ":" + e.Name + " " + e.EventType)
			if e.Payload != "" {
				body.WriteString(" " + e.Payload)
			}
			body.WriteString("\n")
		}
		err = t.addMessage(ctx, EventEmail, map[string]interface{}{
			"to":      *email,
			"subject": "Report of affected DIDs",
			"body":    body.String(),
		})
		if err != nil {
			return err
		}
	}

	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	sort.Strings(ids)
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err = t.q.ExecContext(ctx, `
		DELETE FROM follow_events WHERE id IN `+placeholders(len(ids)),
		args...)
	return Error.Wrap(err)
}
