// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"context"

	"storj.io/private/tagsql"
)

// RawState contains full state of the catalog tables, for tests.
type RawState struct {
	DIDs            []DID
	DeletedDIDs     []DID
	Associations    []Association
	History         []AssociationHistory
	ArchiveContents []ArchiveConstituent
	UpdatedDIDs     []UpdatedDID
	Follows         []Follow
	FollowEvents    []FollowEvent
	Messages        []Message
}

// TestingGetState returns the whole catalog state, deterministically
// ordered. Only for use in tests.
func (db *DB) TestingGetState(ctx context.Context) (state *RawState, err error) {
	state = &RawState{}
	q := db.wrap(db.db)

	err = withRows(q.QueryContext(ctx, `
		SELECT `+didColumns+` FROM dids ORDER BY scope, name
	`))(func(rows tagsql.Rows) error {
		for rows.Next() {
			var d DID
			if err := scanDIDInto(rows, &d); err != nil {
				return err
			}
			state.DIDs = append(state.DIDs, d)
		}
		return nil
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	err = withRows(q.QueryContext(ctx, `
		SELECT `+didColumns+`, deleted_at FROM deleted_dids ORDER BY scope, name
	`))(func(rows tagsql.Rows) error {
		for rows.Next() {
			var d DID
			if err := rows.Scan(
				&d.Scope, &d.Name, &d.Account, &d.Type, &d.IsOpen, &d.Monotonic,
				&d.Hidden, &d.Obsolete, &d.Complete, &d.IsNew, &d.Availability,
				&d.Suppressed, &d.Bytes, &d.Length, &d.MD5, &d.Adler32, &d.GUID,
				&d.Events, &d.ExpiredAt, &d.PurgeReplicas, &d.IsArchive,
				&d.Constituent, &d.AccessedAt, &d.AccessCnt, &d.ClosedAt, &d.EOLAt,
				&d.Project, &d.Datatype, &d.RunNumber, &d.StreamName, &d.ProdStep,
				&d.Version, &d.Campaign, &d.TaskID, &d.PandaID, &d.Lumiblocknr,
				&d.Provenance, &d.PhysGroup, &d.Transient, &d.CreatedAt, &d.UpdatedAt,
				&d.DeletedAt,
			); err != nil {
				return err
			}
			state.DeletedDIDs = append(state.DeletedDIDs, d)
		}
		return nil
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	err = withRows(q.QueryContext(ctx, `
		SELECT `+associationColumns+` FROM contents
		ORDER BY scope, name, child_scope, child_name
	`))(func(rows tagsql.Rows) error {
		for rows.Next() {
			var a Association
			if err := scanAssociationInto(rows, &a); err != nil {
				return err
			}
			state.Associations = append(state.Associations, a)
		}
		return nil
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	err = withRows(q.QueryContext(ctx, `
		SELECT scope, name, child_scope, child_name, did_type, child_type,
			bytes, adler32, md5, guid, events, rule_evaluation,
			created_at, updated_at, did_created_at, deleted_at
		FROM contents_history
		ORDER BY scope, name, child_scope, child_name, deleted_at
	`))(func(rows tagsql.Rows) error {
		for rows.Next() {
			var h AssociationHistory
			if err := rows.Scan(
				&h.Scope, &h.Name, &h.ChildScope, &h.ChildName, &h.Type, &h.ChildType,
				&h.Bytes, &h.Adler32, &h.MD5, &h.GUID, &h.Events, &h.RuleEvaluation,
				&h.CreatedAt, &h.UpdatedAt, &h.DIDCreatedAt, &h.DeletedAt,
			); err != nil {
				return err
			}
			state.History = append(state.History, h)
		}
		return nil
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	err = withRows(q.QueryContext(ctx, `
		SELECT scope, name, child_scope, child_name, bytes, adler32, md5, guid, length, created_at, updated_at
		FROM archive_contents
		ORDER BY scope, name, child_scope, child_name
	`))(func(rows tagsql.Rows) error {
		for rows.Next() {
			var c ArchiveConstituent
			if err := rows.Scan(&c.Scope, &c.Name, &c.ChildScope, &c.ChildName,
				&c.Bytes, &c.Adler32, &c.MD5, &c.GUID, &c.Length, &c.CreatedAt, &c.UpdatedAt); err != nil {
				return err
			}
			state.ArchiveContents = append(state.ArchiveContents, c)
		}
		return nil
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	err = withRows(q.QueryContext(ctx, `
		SELECT id, scope, name, rule_evaluation_action, created_at
		FROM updated_dids ORDER BY scope, name, rule_evaluation_action, id
	`))(func(rows tagsql.Rows) error {
		for rows.Next() {
			var u UpdatedDID
			var action string
			if err := rows.Scan(&u.ID, &u.Scope, &u.Name, &action, &u.CreatedAt); err != nil {
				return err
			}
			u.Action = ReevaluationAction(action)
			state.UpdatedDIDs = append(state.UpdatedDIDs, u)
		}
		return nil
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	err = withRows(q.QueryContext(ctx, `
		SELECT scope, name, account, did_type, created_at
		FROM dids_followed ORDER BY scope, name, account
	`))(func(rows tagsql.Rows) error {
		for rows.Next() {
			var f Follow
			if err := rows.Scan(&f.Scope, &f.Name, &f.Account, &f.Type, &f.CreatedAt); err != nil {
				return err
			}
			state.Follows = append(state.Follows, f)
		}
		return nil
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	err = withRows(q.QueryContext(ctx, `
		SELECT id, scope, name, account, did_type, event_type, coalesce(payload, ''), created_at
		FROM follow_events ORDER BY created_at, id
	`))(func(rows tagsql.Rows) error {
		for rows.Next() {
			var e FollowEvent
			if err := rows.Scan(&e.ID, &e.Scope, &e.Name, &e.Account, &e.Type,
				&e.EventType, &e.Payload, &e.CreatedAt); err != nil {
				return err
			}
			state.FollowEvents = append(state.FollowEvents, e)
		}
		return nil
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	err = withRows(q.QueryContext(ctx, `
		SELECT id, event_type, payload, created_at FROM messages ORDER BY created_at, id
	`))(func(rows tagsql.Rows) error {
		for rows.Next() {
			var m Message
			if err := rows.Scan(&m.ID, &m.EventType, &m.Payload, &m.CreatedAt); err != nil {
				return err
			}
			state.Messages = append(state.Messages, m)
		}
		return nil
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	return state, nil
}

// TestingDeleteAll deletes all data from the catalog. Only for use in tests.
func (db *DB) TestingDeleteAll(ctx context.Context) (err error) {
	// child tables first, the foreign keys point upwards.
	tables := []string{
		"contents", "archive_contents", "contents_history", "did_meta",
		"updated_dids", "dids_followed", "follow_events", "messages",
		"dataset_locks", "rules", "replicas", "collection_replicas",
		"bad_replicas", "deleted_dids", "dids", "scopes", "accounts",
	}
	for _, table := range tables {
		if _, err := db.db.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}
