// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"context"
	"time"
)

// NewRule describes a replication rule requested together with a new DID.
// It is handed to the rule engine; the catalog does not evaluate it.
type NewRule struct {
	RSEExpression string
	Locked        bool
	PurgeReplicas bool
	Lifetime      *time.Duration
}

// AddDID contains arguments necessary for registering a collection DID.
// Files are never registered directly; they come into existence through
// attachment (dataset children and archive constituents).
type AddDID struct {
	DIDLocation

	Type    DIDType
	Account string

	Monotonic bool
	Lifetime  *time.Duration

	// Meta carries attribute key/values. Keys naming catalog columns are
	// applied to the DID row; the rest is stored as DID metadata.
	Meta map[string]interface{}

	// Children are attached right after registration, in the same
	// transaction.
	Children []AttachChild
	RSEID    string

	Rules []NewRule
}

// AddDIDs registers a batch of collection DIDs in one transaction.
func (db *DB) AddDIDs(ctx context.Context, adds []AddDID, account string) (err error) {
	defer mon.Task()(&ctx)(&err)

	for i := range adds {
		if adds[i].Account == "" {
			adds[i].Account = account
		}
		if err := adds[i].Verify(); err != nil {
			return err
		}
	}

	return db.withTx(ctx, func(ctx context.Context, t *tx) error {
		for _, opts := range adds {
			if err := t.addDID(ctx, opts); err != nil {
				return err
			}
		}
		return nil
	})
}

// AddDID registers a single collection DID.
func (db *DB) AddDID(ctx context.Context, opts AddDID) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := opts.Verify(); err != nil {
		return err
	}
	return db.withTx(ctx, func(ctx context.Context, t *tx) error {
		return t.addDID(ctx, opts)
	})
}

// Verify add arguments.
func (opts AddDID) Verify() error {
	if err := opts.DIDLocation.Verify(); err != nil {
		return err
	}
	switch {
	case opts.Account == "":
		return ErrInvalidRequest.New("Account missing")
	case opts.Type != DIDTypeDataset && opts.Type != DIDTypeContainer:
		return ErrUnsupportedOperation.New("only datasets and containers can be registered, got %s for %s", opts.Type, opts.DIDLocation)
	}
	return nil
}

func (t *tx) addDID(ctx context.Context, opts AddDID) error {
	now := nowUTC()

	d := DID{
		DIDLocation: opts.DIDLocation,
		Type:        opts.Type,
		Account:     opts.Account,
		IsOpen:      true,
		IsNew:       true,
		Monotonic:   opts.Monotonic,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.Lifetime != nil {
		d.ExpiredAt = timePtr(now.Add(*opts.Lifetime))
	}

	leftover, err := applyMeta(&d, opts.Meta)
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

	if len(opts.Rules) > 0 {
		if err := t.addRules(ctx, d.DIDLocation, opts.Account, opts.Rules); err != nil {
			return err
		}
	}

	eventType := EventCreateDataset
	if opts.Type == DIDTypeContainer {
		eventType = EventCreateContainer
	}
	payload, err := t.messagePayload(ctx, d.DIDLocation, map[string]interface{}{
		"account":    opts.Account,
		"expired_at": formatTimePtr(d.ExpiredAt),
	})
	if err != nil {
		return err
	}
	if err := t.addMessage(ctx, eventType, payload); err != nil {
		return err
	}

	if len(opts.Children) > 0 {
		changed, err := t.attachDIDs(ctx, Attachment{
			DIDLocation: d.DIDLocation,
			Children:    opts.Children,
			RSEID:       opts.RSEID,
		}, opts.Account, false)
		if err != nil {
			return err
		}
		if changed {
			if err := t.addUpdatedDID(ctx, d.DIDLocation, ReevaluateAttach); err != nil {
				return err
			}
		}
	}
	return nil
}

// insertDID writes a full DID row, classifying constraint failures: the
// primary key means the DID exists, the scope foreign key means the scope
// does not.
func (t *tx) insertDID(ctx context.Context, d DID) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO dids (`+didColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		d.Scope, d.Name, d.Account, d.Type, d.IsOpen, d.Monotonic,
		d.Hidden, d.Obsolete, d.Complete, d.IsNew, d.Availability,
		d.Suppressed, d.Bytes, d.Length, d.MD5, d.Adler32, d.GUID,
		d.Events, d.ExpiredAt, d.PurgeReplicas, d.IsArchive,
		d.Constituent, d.AccessedAt, d.AccessCnt, d.ClosedAt, d.EOLAt,
		d.Project, d.Datatype, d.RunNumber, d.StreamName, d.ProdStep,
		d.Version, d.Campaign, d.TaskID, d.PandaID, d.Lumiblocknr,
		d.Provenance, d.PhysGroup, d.Transient, d.CreatedAt, d.UpdatedAt,
	)
	return classifyConstraint(err, &ErrDIDAlreadyExists, &ErrScopeNotFound, d.DIDLocation.String())
}

func (t *tx) addRules(ctx context.Context, loc DIDLocation, account string, rules []NewRule) error {
	return t.db.rules.AddRules(ctx, t.q, loc, account, rules)
}

// AddFile describes one FILE DID registered on behalf of the replica
// engine: files come into existence when their first replica does.
type AddFile struct {
	DIDLocation

	Account string

	Bytes   *int64
	Adler32 *string
	MD5     *string
	GUID    *string
	Events  *int64

	Meta map[string]interface{}
}

// AddFiles registers FILE DIDs. With ignoreExisting, files already in the
// catalog are skipped instead of failing the batch.
func (db *DB) AddFiles(ctx context.Context, files []AddFile, ignoreExisting bool) (err error) {
	defer mon.Task()(&ctx)(&err)

	for _, f := range files {
		if err := f.DIDLocation.Verify(); err != nil {
			return err
		}
		if f.Account == "" {
			return ErrInvalidRequest.New("Account missing for %s", f.DIDLocation)
		}
	}

	return db.withTx(ctx, func(ctx context.Context, t *tx) error {
		now := nowUTC()
		for _, f := range files {
			availability := AvailabilityAvailable
			d := DID{
				DIDLocation:  f.DIDLocation,
				Type:         DIDTypeFile,
				Account:      f.Account,
				IsOpen:       true,
				IsNew:        true,
				Availability: &availability,
				Bytes:        f.Bytes,
				Adler32:      f.Adler32,
				MD5:          f.MD5,
				GUID:         f.GUID,
				Events:       f.Events,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			leftover, err := applyMeta(&d, f.Meta)
			if err != nil {
				return err
			}
			err = t.insertDID(ctx, d)
			if ignoreExisting && ErrDIDAlreadyExists.Has(err) {
				continue
			}
			if err != nil {
				return err
			}
			if len(leftover) > 0 {
				if err := t.mergeMetaJSON(ctx, d.DIDLocation, leftover); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// SetNewDIDs flips the is_new flag on the given DIDs. The rule engine clears
// the flag once a DID has been scanned; closing a DID may set it back to
// trigger a re-scan.
func (db *DB) SetNewDIDs(ctx context.Context, locations []DIDLocation, isNew bool) (err error) {
	defer mon.Task()(&ctx)(&err)

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
		for len(locations) > 0 {
			batch := locations
			if len(batch) > bulkInsertBatch {
				batch = batch[:bulkInsertBatch]
			}
			locations = locations[len(batch):]

			_, err := t.q.ExecContext(ctx, `
				UPDATE dids SET is_new = ?
				WHERE `+tupleIn("scope", "name", len(batch)),
				append([]interface{}{isNew}, locationArgs(batch)...)...)
			if err != nil {
				return Error.Wrap(err)
			}
		}
		return nil
	})
}

// applyMeta moves recognized column attributes from meta onto the DID row
// and returns the remainder for the metadata store.
func applyMeta(d *DID, meta map[string]interface{}) (leftover map[string]interface{}, err error) {
	for key, value := range meta {
		ok := true
		switch key {
		case "project":
			d.Project, ok = metaString(value)
		case "datatype":
			d.Datatype, ok = metaString(value)
		case "run_number":
			d.RunNumber, ok = metaInt(value)
		case "stream_name":
			d.StreamName, ok = metaString(value)
		case "prod_step":
			d.ProdStep, ok = metaString(value)
		case "version":
			d.Version, ok = metaString(value)
		case "campaign":
			d.Campaign, ok = metaString(value)
		case "task_id":
			d.TaskID, ok = metaInt(value)
		case "panda_id":
			d.PandaID, ok = metaInt(value)
		case "lumiblocknr":
			d.Lumiblocknr, ok = metaInt(value)
		case "provenance":
			d.Provenance, ok = metaString(value)
		case "phys_group":
			d.PhysGroup, ok = metaString(value)
		case "transient":
			var b *bool
			b, ok = metaBool(value)
			if b != nil {
				d.Transient = *b
			}
		case "guid":
			d.GUID, ok = metaString(value)
		case "events":
			d.Events, ok = metaInt(value)
		case "eol_at":
			var at *time.Time
			at, ok = metaTime(value)
			d.EOLAt = at
		default:
			if leftover == nil {
				leftover = make(map[string]interface{})
			}
			leftover[key] = value
			continue
		}
		if !ok {
			return nil, ErrInvalidRequest.New("invalid value %v for attribute %q", value, key)
		}
	}
	return leftover, nil
}

func metaString(v interface{}) (*string, bool) {
	if v == nil {
		return nil, true
	}
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	return &s, true
}

func metaInt(v interface{}) (*int64, bool) {
	switch v := v.(type) {
	case nil:
		return nil, true
	case int:
		return int64Ptr(int64(v)), true
	case int64:
		return int64Ptr(v), true
	case float64:
		return int64Ptr(int64(v)), true
	default:
		return nil, false
	}
}

func metaBool(v interface{}) (*bool, bool) {
	if v == nil {
		return nil, true
	}
	b, ok := v.(bool)
	if !ok {
		return nil, false
	}
	return &b, true
}

func metaTime(v interface{}) (*time.Time, bool) {
	switch v := v.(type) {
	case nil:
		return nil, true
	case time.Time:
		return timePtr(v), true
	default:
		return nil, false
	}
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
