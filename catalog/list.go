// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"context"

	"storj.io/private/tagsql"
)

// ListContent returns the direct children of a collection.
func (db *DB) ListContent(ctx context.Context, loc DIDLocation) (result []Association, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := loc.Verify(); err != nil {
		return nil, err
	}
	err = db.view(ctx, func(ctx context.Context, t *tx) error {
		if _, err := t.getDID(ctx, loc, false); err != nil {
			return err
		}
		return withRows(t.q.QueryContext(ctx, `
			SELECT `+associationColumns+` FROM contents
			WHERE scope = ? AND name = ?
			ORDER BY child_scope, child_name
		`, loc.Scope, loc.Name))(func(rows tagsql.Rows) error {
			for rows.Next() {
				var a Association
				if err := scanAssociationInto(rows, &a); err != nil {
					return err
				}
				result = append(result, a)
			}
			return nil
		})
	})
	return result, Error.Wrap(err)
}

// ListContentHistory returns the removed associations of a collection.
func (db *DB) ListContentHistory(ctx context.Context, loc DIDLocation) (result []AssociationHistory, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := loc.Verify(); err != nil {
		return nil, err
	}
	err = withRows(db.wrap(db.db).QueryContext(ctx, `
		SELECT scope, name, child_scope, child_name, did_type, child_type,
			bytes, adler32, md5, guid, events, rule_evaluation,
			created_at, updated_at, did_created_at, deleted_at
		FROM contents_history
		WHERE scope = ? AND name = ?
		ORDER BY deleted_at, child_scope, child_name
	`, loc.Scope, loc.Name))(func(rows tagsql.Rows) error {
		for rows.Next() {
			var h AssociationHistory
			err := rows.Scan(
				&h.Scope, &h.Name, &h.ChildScope, &h.ChildName, &h.Type, &h.ChildType,
				&h.Bytes, &h.Adler32, &h.MD5, &h.GUID, &h.Events, &h.RuleEvaluation,
				&h.CreatedAt, &h.UpdatedAt, &h.DIDCreatedAt, &h.DeletedAt,
			)
			if err != nil {
				return err
			}
			result = append(result, h)
		}
		return nil
	})
	return result, Error.Wrap(err)
}

// File is one file yielded by ListFiles, with the attributes cached on its
// association row.
type File struct {
	DIDLocation

	Bytes   *int64
	Adler32 *string
	GUID    *string
	Events  *int64
}

// ListFiles walks the DAG below loc with an explicit stack and returns
// every distinct reachable file. A FILE input yields itself.
func (db *DB) ListFiles(ctx context.Context, loc DIDLocation) (result []File, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := loc.Verify(); err != nil {
		return nil, err
	}
	err = db.view(ctx, func(ctx context.Context, t *tx) error {
		result, err = t.listFiles(ctx, loc)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (t *tx) listFiles(ctx context.Context, loc DIDLocation) (result []File, err error) {
	d, err := t.getDID(ctx, loc, false)
	if err != nil {
		return nil, err
	}
	if d.Type == DIDTypeFile {
		return []File{{
			DIDLocation: d.DIDLocation,
			Bytes:       d.Bytes,
			Adler32:     d.Adler32,
			GUID:        d.GUID,
			Events:      d.Events,
		}}, nil
	}

	seen := make(map[DIDLocation]struct{})
	stack := []DIDLocation{loc}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		err := withRows(t.q.QueryContext(ctx, `
			SELECT child_scope, child_name, child_type, bytes, adler32, guid, events
			FROM contents
			WHERE scope = ? AND name = ?
			ORDER BY child_scope, child_name
		`, current.Scope, current.Name))(func(rows tagsql.Rows) error {
			for rows.Next() {
				var file File
				var childType DIDType
				err := rows.Scan(&file.Scope, &file.Name, &childType,
					&file.Bytes, &file.Adler32, &file.GUID, &file.Events)
				if err != nil {
					return err
				}
				if _, ok := seen[file.DIDLocation]; ok {
					continue
				}
				seen[file.DIDLocation] = struct{}{}
				if childType == DIDTypeFile {
					result = append(result, file)
				} else {
					stack = append(stack, file.DIDLocation)
				}
			}
			return nil
		})
		if err != nil {
			return nil, Error.Wrap(err)
		}
	}
	return result, nil
}

// BulkFile tags a listed file with the collection it was requested under.
type BulkFile struct {
	Parent DIDLocation
	File
}

// BulkListFiles runs ListFiles over a batch of collections in one
// transaction, skipping inputs that do not exist.
func (db *DB) BulkListFiles(ctx context.Context, locations []DIDLocation) (result []BulkFile, err error) {
	defer mon.Task()(&ctx)(&err)

	for _, loc := range locations {
		if err := loc.Verify(); err != nil {
			return nil, err
		}
	}
	err = db.view(ctx, func(ctx context.Context, t *tx) error {
		for _, loc := range dedupeLocations(locations) {
			files, err := t.listFiles(ctx, loc)
			if ErrDIDNotFound.Has(err) {
				continue
			}
			if err != nil {
				return err
			}
			for _, file := range files {
				result = append(result, BulkFile{Parent: loc, File: file})
			}
		}
		return nil
	})
	return result, err
}

// Parent is one direct parent of a DID.
type Parent struct {
	DIDLocation

	Type DIDType
}

// ListParentDIDs returns the direct parents of a DID.
func (db *DB) ListParentDIDs(ctx context.Context, loc DIDLocation) (result []Parent, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := loc.Verify(); err != nil {
		return nil, err
	}
	err = withRows(db.wrap(db.db).QueryContext(ctx, `
		SELECT scope, name, did_type FROM contents
		WHERE child_scope = ? AND child_name = ?
		ORDER BY scope, name
	`, loc.Scope, loc.Name))(func(rows tagsql.Rows) error {
		for rows.Next() {
			var p Parent
			if err := rows.Scan(&p.Scope, &p.Name, &p.Type); err != nil {
				return err
			}
			result = append(result, p)
		}
		return nil
	})
	return result, Error.Wrap(err)
}

// ListAllParentDIDs returns every ancestor of a DID, nearest first. Shared
// ancestors appear once.
func (db *DB) ListAllParentDIDs(ctx context.Context, loc DIDLocation) (result []DIDLocation, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := loc.Verify(); err != nil {
		return nil, err
	}
	err = db.view(ctx, func(ctx context.Context, t *tx) error {
		result, err = t.listAllParentDIDs(ctx, loc)
		return err
	})
	return result, err
}

// ListChildDatasets returns the distinct datasets reachable below a
// container.
func (db *DB) ListChildDatasets(ctx context.Context, loc DIDLocation) (result []DIDLocation, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := loc.Verify(); err != nil {
		return nil, err
	}
	err = db.view(ctx, func(ctx context.Context, t *tx) error {
		result, err = t.childDIDs(ctx, []DIDLocation{loc}, DIDTypeDataset)
		return err
	})
	return result, err
}

// ListArchiveContent returns the constituents of an archive file.
func (db *DB) ListArchiveContent(ctx context.Context, loc DIDLocation) (result []ArchiveConstituent, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := loc.Verify(); err != nil {
		return nil, err
	}
	err = withRows(db.wrap(db.db).QueryContext(ctx, `
		SELECT scope, name, child_scope, child_name, bytes, adler32, md5, guid, length, created_at, updated_at
		FROM archive_contents
		WHERE scope = ? AND name = ?
		ORDER BY child_scope, child_name
	`, loc.Scope, loc.Name))(func(rows tagsql.Rows) error {
		for rows.Next() {
			var c ArchiveConstituent
			err := rows.Scan(&c.Scope, &c.Name, &c.ChildScope, &c.ChildName,
				&c.Bytes, &c.Adler32, &c.MD5, &c.GUID, &c.Length, &c.CreatedAt, &c.UpdatedAt)
			if err != nil {
				return err
			}
			result = append(result, c)
		}
		return nil
	})
	return result, Error.Wrap(err)
}

// GetDatasetsByGUID returns the datasets holding the FILE carrying a GUID.
func (db *DB) GetDatasetsByGUID(ctx context.Context, guid string) (result []DIDLocation, err error) {
	defer mon.Task()(&ctx)(&err)

	if guid == "" {
		return nil, ErrInvalidRequest.New("GUID missing")
	}

	var files []DIDLocation
	err = withRows(db.wrap(db.db).QueryContext(ctx, `
		SELECT scope, name FROM dids WHERE guid = ? AND did_type = ?
	`, guid, DIDTypeFile))(func(rows tagsql.Rows) error {
		for rows.Next() {
			var loc DIDLocation
			if err := rows.Scan(&loc.Scope, &loc.Name); err != nil {
				return err
			}
			files = append(files, loc)
		}
		return nil
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if len(files) == 0 {
		return nil, ErrDIDNotFound.New("no data identifier with guid %q", guid)
	}

	err = withRows(db.wrap(db.db).QueryContext(ctx, `
		SELECT DISTINCT scope, name FROM contents
		WHERE did_type = ? AND `+tupleIn("child_scope", "child_name", len(files)),
		append([]interface{}{DIDTypeDataset}, locationArgs(files)...)...))(func(rows tagsql.Rows) error {
		for rows.Next() {
			var loc DIDLocation
			if err := rows.Scan(&loc.Scope, &loc.Name); err != nil {
				return err
			}
			result = append(result, loc)
		}
		return nil
	})
	return result, Error.Wrap(err)
}
