// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"context"
	"sort"

	"storj.io/private/tagsql"
)

// AttachChild names one child of an attachment together with optional
// caller-supplied file attributes. For dataset attachments the attributes
// are consistency checked against the stored FILE row; for archive
// attachments they seed the constituent FILE rows created on the fly.
type AttachChild struct {
	DIDLocation

	Bytes   *int64
	Adler32 *string
	MD5     *string
	GUID    *string
	Events  *int64
	Length  *int64

	// Meta carries attribute key/values for files created by archive
	// attachment; ignored otherwise.
	Meta map[string]interface{}
}

// Attachment names a parent DID and the children to attach under it.
type Attachment struct {
	DIDLocation

	Children []AttachChild

	// RSEID, when set on a dataset attachment, registers replicas of all
	// child files on that storage element in the same transaction.
	RSEID string
}

// AttachDIDsToDIDs contains arguments necessary for a bulk attach.
type AttachDIDsToDIDs struct {
	Attachments     []Attachment
	Account         string
	IgnoreDuplicate bool
}

// AttachDIDsToDIDs attaches children to parents, dispatching on the parent
// type: archives gain constituents, datasets gain files, containers gain
// collections. The whole batch commits atomically.
func (db *DB) AttachDIDsToDIDs(ctx context.Context, opts AttachDIDsToDIDs) (err error) {
	defer mon.Task()(&ctx)(&err)

	for _, att := range opts.Attachments {
		if err := att.Verify(); err != nil {
			return err
		}
	}

	return db.withTx(ctx, func(ctx context.Context, t *tx) error {
		// markers are deduplicated across the batch: attaching twice to the
		// same parent yields one re-evaluation.
		marked := make(map[DIDLocation]struct{})
		for _, att := range opts.Attachments {
			changed, err := t.attachDIDs(ctx, att, opts.Account, opts.IgnoreDuplicate)
			if err != nil {
				return err
			}
			if changed {
				marked[att.DIDLocation] = struct{}{}
			}
		}

		locations := make([]DIDLocation, 0, len(marked))
		for loc := range marked {
			locations = append(locations, loc)
		}
		sort.Slice(locations, func(i, k int) bool { return locations[i].Less(locations[k]) })
		for _, loc := range locations {
			if err := t.addUpdatedDID(ctx, loc, ReevaluateAttach); err != nil {
				return err
			}
		}
		return nil
	})
}

// AttachDIDs attaches children to a single parent.
func (db *DB) AttachDIDs(ctx context.Context, att Attachment, account string, ignoreDuplicate bool) error {
	return db.AttachDIDsToDIDs(ctx, AttachDIDsToDIDs{
		Attachments:     []Attachment{att},
		Account:         account,
		IgnoreDuplicate: ignoreDuplicate,
	})
}

// Verify attachment fields.
func (att Attachment) Verify() error {
	if err := att.DIDLocation.Verify(); err != nil {
		return err
	}
	if len(att.Children) == 0 {
		return ErrInvalidRequest.New("Children missing for %s", att.DIDLocation)
	}
	for _, child := range att.Children {
		if err := child.DIDLocation.Verify(); err != nil {
			return err
		}
	}
	return nil
}

// attachDIDs locks the parent and runs the type specific subroutine. It
// reports whether the parent's relation changed, which drives the
// re-evaluation marker.
func (t *tx) attachDIDs(ctx context.Context, att Attachment, account string, ignoreDuplicate bool) (changed bool, err error) {
	parent, err := t.getDID(ctx, att.DIDLocation, true)
	if err != nil {
		return false, err
	}

	switch parent.Type {
	case DIDTypeFile:
		if !IsArchiveName(parent.Name) {
			return false, ErrUnsupportedOperation.New("%s is a file without archive extension", parent.DIDLocation)
		}
		// archive attachment never triggers rule re-evaluation.
		return false, t.attachFilesToArchive(ctx, parent, att.Children, account, ignoreDuplicate)

	case DIDTypeDataset:
		if !parent.IsOpen {
			return false, ErrUnsupportedOperation.New("%s is closed", parent.DIDLocation)
		}
		inserted, err := t.attachFilesToDataset(ctx, parent, att.Children, ignoreDuplicate, att.RSEID)
		return inserted > 0, err

	case DIDTypeContainer:
		if !parent.IsOpen {
			return false, ErrUnsupportedOperation.New("%s is closed", parent.DIDLocation)
		}
		inserted, err := t.attachCollectionsToContainer(ctx, parent, att.Children, account, ignoreDuplicate)
		return inserted > 0, err

	default:
		return false, Error.New("unknown DID type %d for %s", parent.Type, parent.DIDLocation)
	}
}

// attachFilesToArchive registers the children as constituents of an archive
// file, creating FILE rows for children the catalog has never seen.
func (t *tx) attachFilesToArchive(ctx context.Context, archive DID, children []AttachChild, account string, ignoreDuplicate bool) error {
	locations := make([]DIDLocation, len(children))
	for i, child := range children {
		locations[i] = child.DIDLocation
	}
	table, err := t.scratchLocations(ctx, locations)
	if err != nil {
		return err
	}
	existing, err := t.didsFromScratch(ctx, table)
	if err != nil {
		return err
	}

	var existingEdges map[DIDLocation]struct{}
	if ignoreDuplicate {
		existingEdges, err = t.edgesFromScratch(ctx, table, "archive_contents", archive.DIDLocation)
		if err != nil {
			return err
		}
	}

	now := nowUTC()
	var markConstituent []DIDLocation
	seen := make(map[DIDLocation]struct{}, len(children))
	for _, child := range children {
		if _, ok := seen[child.DIDLocation]; ok {
			continue
		}
		seen[child.DIDLocation] = struct{}{}
		if _, ok := existingEdges[child.DIDLocation]; ok {
			continue
		}

		if file, ok := existing[child.DIDLocation]; ok {
			if file.Type != DIDTypeFile {
				return ErrUnsupportedOperation.New("%s is not a file, cannot be an archive constituent", child.DIDLocation)
			}
			if !file.Constituent {
				markConstituent = append(markConstituent, child.DIDLocation)
			}
		} else {
			availability := AvailabilityAvailable
			d := DID{
				DIDLocation:  child.DIDLocation,
				Type:         DIDTypeFile,
				Account:      account,
				IsOpen:       true,
				IsNew:        true,
				Constituent:  true,
				Availability: &availability,
				Bytes:        child.Bytes,
				Adler32:      child.Adler32,
				MD5:          child.MD5,
				GUID:         child.GUID,
				Events:       child.Events,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			leftover, err := applyMeta(&d, child.Meta)
			if err != nil {
				return err
			}
			if err := t.insertDID(ctx, d); err != nil {
				return err
			}
			if len(leftover) > 0 {
				if err := t.mergeMetaJSON(ctx, d.DIDLocation, leftover); err != nil {
					return err
				}
			}
		}

		_, err := t.q.ExecContext(ctx, `
			INSERT INTO archive_contents (scope, name, child_scope, child_name, bytes, adler32, md5, guid, length, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, archive.Scope, archive.Name, child.Scope, child.Name,
			child.Bytes, child.Adler32, child.MD5, child.GUID, child.Length, now, now)
		if err := classifyConstraint(err, &ErrFileAlreadyExists, &ErrDIDNotFound, child.DIDLocation.String()); err != nil {
			return err
		}
	}

	for _, loc := range markConstituent {
		_, err := t.q.ExecContext(ctx, `
			UPDATE dids SET constituent = TRUE, updated_at = ? WHERE scope = ? AND name = ?
		`, now, loc.Scope, loc.Name)
		if err != nil {
			return Error.Wrap(err)
		}
	}

	// Datasets already holding the archive become archives themselves.
	_, err = t.q.ExecContext(ctx, `
		UPDATE dids SET is_archive = TRUE, updated_at = ?
		WHERE did_type = ? AND is_archive = FALSE
			AND (scope, name) IN (
				SELECT scope, name FROM contents WHERE child_scope = ? AND child_name = ?
			)
	`, now, DIDTypeDataset, archive.Scope, archive.Name)
	return Error.Wrap(err)
}

// attachFilesToDataset attaches FILE children to a dataset, returning the
// number of association rows inserted.
func (t *tx) attachFilesToDataset(ctx context.Context, parent DID, children []AttachChild, ignoreDuplicate bool, rseID string) (inserted int, err error) {
	locations := make([]DIDLocation, len(children))
	for i, child := range children {
		locations[i] = child.DIDLocation
	}
	table, err := t.scratchLocations(ctx, locations)
	if err != nil {
		return 0, err
	}
	files, err := t.didsFromScratch(ctx, table)
	if err != nil {
		return 0, err
	}

	var existingEdges map[DIDLocation]struct{}
	if ignoreDuplicate {
		existingEdges, err = t.edgesFromScratch(ctx, table, "contents", parent.DIDLocation)
		if err != nil {
			return 0, err
		}
	}

	now := nowUTC()
	markArchive := false
	var accepted []DID
	seen := make(map[DIDLocation]struct{}, len(children))
	for _, child := range children {
		if _, ok := seen[child.DIDLocation]; ok {
			continue
		}
		seen[child.DIDLocation] = struct{}{}
		// already attached files are skipped before the consistency checks, so
		// a re-attach with stale attributes stays idempotent.
		if _, ok := existingEdges[child.DIDLocation]; ok {
			continue
		}

		file, ok := files[child.DIDLocation]
		if !ok {
			return 0, ErrDIDNotFound.New("%s", child.DIDLocation)
		}
		if file.Type != DIDTypeFile {
			return 0, ErrUnsupportedOperation.New("%s is not a file, cannot be attached to dataset %s", child.DIDLocation, parent.DIDLocation)
		}
		if file.Availability != nil && *file.Availability == AvailabilityLost {
			return 0, ErrUnsupportedOperation.New("%s is LOST, cannot be attached", child.DIDLocation)
		}
		if child.Bytes != nil && (file.Bytes == nil || *child.Bytes != *file.Bytes) {
			return 0, ErrFileConsistency.New("bytes mismatch for %s", child.DIDLocation)
		}
		if child.Adler32 != nil && (file.Adler32 == nil || *child.Adler32 != *file.Adler32) {
			return 0, ErrFileConsistency.New("adler32 mismatch for %s", child.DIDLocation)
		}
		if child.MD5 != nil && (file.MD5 == nil || *child.MD5 != *file.MD5) {
			return 0, ErrFileConsistency.New("md5 mismatch for %s", child.DIDLocation)
		}
		if file.IsArchive || IsArchiveName(file.Name) {
			markArchive = true
		}
		accepted = append(accepted, file)
	}

	if markArchive && !parent.IsArchive {
		_, err := t.q.ExecContext(ctx, `
			UPDATE dids SET is_archive = TRUE, updated_at = ? WHERE scope = ? AND name = ?
		`, now, parent.Scope, parent.Name)
		if err != nil {
			return 0, Error.Wrap(err)
		}
	}

	if rseID != "" && len(accepted) > 0 {
		if err := t.db.replicas.RegisterFiles(ctx, t.q, rseID, accepted); err != nil {
			return 0, err
		}
	}

	for _, file := range accepted {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO contents (scope, name, child_scope, child_name, did_type, child_type, bytes, adler32, md5, guid, events, rule_evaluation, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, TRUE, ?, ?)
		`, parent.Scope, parent.Name, file.Scope, file.Name,
			DIDTypeDataset, DIDTypeFile,
			file.Bytes, file.Adler32, file.MD5, file.GUID, file.Events, now, now)
		if err := classifyConstraint(err, &ErrFileAlreadyExists, &ErrDIDNotFound, file.DIDLocation.String()); err != nil {
			return 0, err
		}
	}
	return len(accepted), nil
}

// attachCollectionsToContainer attaches DATASET or CONTAINER children to a
// container, returning the number of association rows inserted.
func (t *tx) attachCollectionsToContainer(ctx context.Context, parent DID, children []AttachChild, account string, ignoreDuplicate bool) (inserted int, err error) {
	locations := make([]DIDLocation, 0, len(children))
	for _, child := range children {
		if child.DIDLocation == parent.DIDLocation {
			return 0, ErrUnsupportedOperation.New("%s cannot contain itself", parent.DIDLocation)
		}
		locations = append(locations, child.DIDLocation)
	}
	table, err := t.scratchLocations(ctx, locations)
	if err != nil {
		return 0, err
	}
	existing, err := t.didsFromScratch(ctx, table)
	if err != nil {
		return 0, err
	}

	// A container holds a single child type: all datasets or all containers,
	// consistent with whatever it already contains.
	var childType DIDType
	err = t.q.QueryRowContext(ctx, `
		SELECT child_type FROM contents WHERE scope = ? AND name = ? LIMIT 1
	`, parent.Scope, parent.Name).Scan(&childType)
	if err != nil && !isNotFound(err) {
		return 0, Error.Wrap(err)
	}

	for _, child := range children {
		d, ok := existing[child.DIDLocation]
		if !ok {
			return 0, ErrDIDNotFound.New("%s", child.DIDLocation)
		}
		if d.Type == DIDTypeFile {
			return 0, ErrUnsupportedOperation.New("%s is a file, cannot be attached to container %s", child.DIDLocation, parent.DIDLocation)
		}
		if childType == 0 {
			childType = d.Type
		} else if d.Type != childType {
			return 0, ErrUnsupportedOperation.New("mixing %s and %s under container %s", childType, d.Type, parent.DIDLocation)
		}
	}

	if childType == DIDTypeContainer {
		ancestors, err := t.listAllParentDIDs(ctx, parent.DIDLocation)
		if err != nil {
			return 0, err
		}
		ancestorSet := make(map[DIDLocation]struct{}, len(ancestors))
		for _, a := range ancestors {
			ancestorSet[a] = struct{}{}
		}
		for _, child := range children {
			if _, ok := ancestorSet[child.DIDLocation]; ok {
				return 0, ErrUnsupportedOperation.New("attaching %s to %s would create a cycle", child.DIDLocation, parent.DIDLocation)
			}
		}
	}

	var existingEdges map[DIDLocation]struct{}
	if ignoreDuplicate {
		existingEdges, err = t.edgesFromScratch(ctx, table, "contents", parent.DIDLocation)
		if err != nil {
			return 0, err
		}
	}

	now := nowUTC()
	seen := make(map[DIDLocation]struct{}, len(children))
	for _, child := range children {
		if _, ok := seen[child.DIDLocation]; ok {
			continue
		}
		seen[child.DIDLocation] = struct{}{}
		if _, ok := existingEdges[child.DIDLocation]; ok {
			continue
		}

		_, err := t.q.ExecContext(ctx, `
			INSERT INTO contents (scope, name, child_scope, child_name, did_type, child_type, rule_evaluation, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, TRUE, ?, ?)
		`, parent.Scope, parent.Name, child.Scope, child.Name,
			DIDTypeContainer, childType, now, now)
		if err := classifyConstraint(err, &ErrDuplicateContent, &ErrDIDNotFound, child.DIDLocation.String()); err != nil {
			return inserted, err
		}
		inserted++

		payload, err := t.messagePayload(ctx, parent.DIDLocation, map[string]interface{}{
			"account":    account,
			"childscope": child.Scope,
			"childname":  child.Name,
			"childtype":  childType.String(),
		})
		if err != nil {
			return inserted, err
		}
		if err := t.addMessage(ctx, EventRegisterContent, payload); err != nil {
			return inserted, err
		}
	}
	return inserted, nil
}

// didsFromScratch loads full DID rows for the locations staged in a scratch
// table. Locations without a row are absent from the result.
func (t *tx) didsFromScratch(ctx context.Context, table string) (map[DIDLocation]DID, error) {
	result := make(map[DIDLocation]DID)
	err := withRows(t.q.QueryContext(ctx, `
		SELECT `+prefixColumns("d", didColumns)+`
		FROM `+table+` s
		INNER JOIN dids d ON d.scope = s.scope AND d.name = s.name
	`))(func(rows tagsql.Rows) error {
		for rows.Next() {
			var d DID
			if err := scanDIDInto(rows, &d); err != nil {
				return err
			}
			result[d.DIDLocation] = d
		}
		return nil
	})
	return result, Error.Wrap(err)
}

// edgesFromScratch returns which staged locations already have an edge from
// parent in the given association table.
func (t *tx) edgesFromScratch(ctx context.Context, table, assocTable string, parent DIDLocation) (map[DIDLocation]struct{}, error) {
	result := make(map[DIDLocation]struct{})
	err := withRows(t.q.QueryContext(ctx, `
		SELECT c.child_scope, c.child_name
		FROM `+table+` s
		INNER JOIN `+assocTable+` c
			ON c.child_scope = s.scope AND c.child_name = s.name
		WHERE c.scope = ? AND c.name = ?
	`, parent.Scope, parent.Name))(func(rows tagsql.Rows) error {
		for rows.Next() {
			var loc DIDLocation
			if err := rows.Scan(&loc.Scope, &loc.Name); err != nil {
				return err
			}
			result[loc] = struct{}{}
		}
		return nil
	})
	return result, Error.Wrap(err)
}
