// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"context"
	"encoding/json"
	"time"
)

// Metadata lives in two places: attribute keys naming catalog columns are
// stored on the DID row itself, everything else lands in a JSON document in
// did_meta. Readers see the merged view.

// maxInheritDepth bounds the parent walk of GetMetadataBulk.
const maxInheritDepth = 20

// SetMetadata sets one metadata key on a DID.
func (db *DB) SetMetadata(ctx context.Context, loc DIDLocation, key string, value interface{}) error {
	return db.SetMetadataBulk(ctx, loc, map[string]interface{}{key: value})
}

// SetMetadataBulk sets metadata keys on a DID. The key "lifetime" expects a
// time.Duration and rewrites expired_at; nil clears the expiry.
func (db *DB) SetMetadataBulk(ctx context.Context, loc DIDLocation, meta map[string]interface{}) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := loc.Verify(); err != nil {
		return err
	}
	if len(meta) == 0 {
		return nil
	}

	return db.withTx(ctx, func(ctx context.Context, t *tx) error {
		d, err := t.getDID(ctx, loc, true)
		if err != nil {
			return err
		}

		now := nowUTC()

		if value, ok := meta["lifetime"]; ok {
			rest := make(map[string]interface{}, len(meta)-1)
			for k, v := range meta {
				if k != "lifetime" {
					rest[k] = v
				}
			}
			meta = rest

			var expiredAt interface{}
			switch value := value.(type) {
			case nil:
			case time.Duration:
				expiredAt = now.Add(value)
			default:
				return ErrInvalidRequest.New("invalid value %v for attribute %q", value, "lifetime")
			}
			_, err := t.q.ExecContext(ctx, `
				UPDATE dids SET expired_at = ?, updated_at = ? WHERE scope = ? AND name = ?
			`, expiredAt, now, loc.Scope, loc.Name)
			if err != nil {
				return Error.Wrap(err)
			}
		}

		leftover, err := applyMeta(&d, meta)
		if err != nil {
			return err
		}
		if len(leftover) != len(meta) {
			_, err := t.q.ExecContext(ctx, `
				UPDATE dids SET
					project = ?, datatype = ?, run_number = ?, stream_name = ?,
					prod_step = ?, version = ?, campaign = ?, task_id = ?,
					panda_id = ?, lumiblocknr = ?, provenance = ?, phys_group = ?,
					transient = ?, guid = ?, events = ?, eol_at = ?, updated_at = ?
				WHERE scope = ? AND name = ?
			`, d.Project, d.Datatype, d.RunNumber, d.StreamName,
				d.ProdStep, d.Version, d.Campaign, d.TaskID,
				d.PandaID, d.Lumiblocknr, d.Provenance, d.PhysGroup,
				d.Transient, d.GUID, d.Events, d.EOLAt, now,
				loc.Scope, loc.Name)
			if err != nil {
				return Error.Wrap(err)
			}
		}
		if len(leftover) > 0 {
			if err := t.mergeMetaJSON(ctx, loc, leftover); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetMetadata returns the merged metadata of a DID: row attributes first,
// JSON document keys on top.
func (db *DB) GetMetadata(ctx context.Context, loc DIDLocation) (result map[string]interface{}, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := loc.Verify(); err != nil {
		return nil, err
	}
	err = db.view(ctx, func(ctx context.Context, t *tx) error {
		d, err := t.getDID(ctx, loc, false)
		if err != nil {
			return err
		}
		result = columnMetadata(d)
		doc, err := t.metaJSON(ctx, loc)
		if err != nil {
			return err
		}
		for k, v := range doc {
			result[k] = v
		}
		return nil
	})
	return result, err
}

// GetMetadataBulk returns metadata for a batch of DIDs. With inherit, keys
// absent on a DID are filled from its ancestors, nearest first, walking at
// most maxInheritDepth levels. Missing DIDs are skipped.
func (db *DB) GetMetadataBulk(ctx context.Context, locations []DIDLocation, inherit bool) (result map[DIDLocation]map[string]interface{}, err error) {
	defer mon.Task()(&ctx)(&err)

	for _, loc := range locations {
		if err := loc.Verify(); err != nil {
			return nil, err
		}
	}
	result = make(map[DIDLocation]map[string]interface{}, len(locations))
	err = db.view(ctx, func(ctx context.Context, t *tx) error {
		for _, loc := range dedupeLocations(locations) {
			d, err := t.getDID(ctx, loc, false)
			if ErrDIDNotFound.Has(err) {
				continue
			}
			if err != nil {
				return err
			}
			meta := columnMetadata(d)
			doc, err := t.metaJSON(ctx, loc)
			if err != nil {
				return err
			}
			for k, v := range doc {
				meta[k] = v
			}

			if inherit {
				ancestors, err := t.listAllParentDIDs(ctx, loc)
				if err != nil {
					return err
				}
				if len(ancestors) > maxInheritDepth {
					ancestors = ancestors[:maxInheritDepth]
				}
				for _, ancestor := range ancestors {
					doc, err := t.metaJSON(ctx, ancestor)
					if err != nil {
						return err
					}
					for k, v := range doc {
						if _, ok := meta[k]; !ok {
							meta[k] = v
						}
					}
				}
			}
			result[loc] = meta
		}
		return nil
	})
	return result, err
}

// DeleteMetadata removes a JSON metadata key from a DID. Column attributes
// cannot be deleted.
func (db *DB) DeleteMetadata(ctx context.Context, loc DIDLocation, key string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := loc.Verify(); err != nil {
		return err
	}
	return db.withTx(ctx, func(ctx context.Context, t *tx) error {
		if _, err := t.getDID(ctx, loc, false); err != nil {
			return err
		}
		doc, err := t.metaJSON(ctx, loc)
		if err != nil {
			return err
		}
		if _, ok := doc[key]; !ok {
			return ErrDIDNotFound.New("metadata key %q not set on %s", key, loc)
		}
		delete(doc, key)
		return t.writeMetaJSON(ctx, loc, doc)
	})
}

// metaJSON reads the JSON metadata document of a DID; absent rows yield an
// empty map.
func (t *tx) metaJSON(ctx context.Context, loc DIDLocation) (map[string]interface{}, error) {
	var raw *string
	err := t.q.QueryRowContext(ctx, `
		SELECT meta FROM did_meta WHERE scope = ? AND name = ?
	`, loc.Scope, loc.Name).Scan(&raw)
	if isNotFound(err) {
		return map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	doc := map[string]interface{}{}
	if raw != nil && *raw != "" {
		if err := json.Unmarshal([]byte(*raw), &doc); err != nil {
			return nil, Error.New("corrupt metadata document for %s: %w", loc, err)
		}
	}
	return doc, nil
}

// mergeMetaJSON merges keys into the JSON metadata document of a DID.
func (t *tx) mergeMetaJSON(ctx context.Context, loc DIDLocation, kv map[string]interface{}) error {
	doc, err := t.metaJSON(ctx, loc)
	if err != nil {
		return err
	}
	for k, v := range kv {
		doc[k] = v
	}
	return t.writeMetaJSON(ctx, loc, doc)
}

func (t *tx) writeMetaJSON(ctx context.Context, loc DIDLocation, doc map[string]interface{}) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return Error.Wrap(err)
	}
	now := nowUTC()
	res, err := t.q.ExecContext(ctx, `
		UPDATE did_meta SET meta = ?, updated_at = ? WHERE scope = ? AND name = ?
	`, string(raw), now, loc.Scope, loc.Name)
	if err != nil {
		return Error.Wrap(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Error.Wrap(err)
	}
	if affected == 0 {
		_, err = t.q.ExecContext(ctx, `
			INSERT INTO did_meta (scope, name, meta, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`, loc.Scope, loc.Name, string(raw), now, now)
		if err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}

// columnMetadata projects the row attributes of a DID into a metadata map.
func columnMetadata(d DID) map[string]interface{} {
	meta := map[string]interface{}{
		"scope":     d.Scope,
		"name":      d.Name,
		"account":   d.Account,
		"did_type":  d.Type.String(),
		"is_open":   d.IsOpen,
		"monotonic": d.Monotonic,
		"transient": d.Transient,
	}
	put := func(key string, present bool, value interface{}) {
		if present {
			meta[key] = value
		}
	}
	put("bytes", d.Bytes != nil, pint64(d.Bytes))
	put("length", d.Length != nil, pint64(d.Length))
	put("events", d.Events != nil, pint64(d.Events))
	put("md5", d.MD5 != nil, pstring(d.MD5))
	put("adler32", d.Adler32 != nil, pstring(d.Adler32))
	put("guid", d.GUID != nil, pstring(d.GUID))
	put("expired_at", d.ExpiredAt != nil, ptime(d.ExpiredAt))
	put("eol_at", d.EOLAt != nil, ptime(d.EOLAt))
	put("project", d.Project != nil, pstring(d.Project))
	put("datatype", d.Datatype != nil, pstring(d.Datatype))
	put("run_number", d.RunNumber != nil, pint64(d.RunNumber))
	put("stream_name", d.StreamName != nil, pstring(d.StreamName))
	put("prod_step", d.ProdStep != nil, pstring(d.ProdStep))
	put("version", d.Version != nil, pstring(d.Version))
	put("campaign", d.Campaign != nil, pstring(d.Campaign))
	put("task_id", d.TaskID != nil, pint64(d.TaskID))
	put("panda_id", d.PandaID != nil, pint64(d.PandaID))
	put("lumiblocknr", d.Lumiblocknr != nil, pint64(d.Lumiblocknr))
	put("provenance", d.Provenance != nil, pstring(d.Provenance))
	put("phys_group", d.PhysGroup != nil, pstring(d.PhysGroup))
	return meta
}

func pint64(p *int64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func pstring(p *string) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func ptime(p *time.Time) interface{} {
	if p == nil {
		return nil
	}
	return *p
}
