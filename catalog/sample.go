// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"context"
)

// CreateDIDSample contains arguments necessary for creating a sample
// dataset out of an existing collection.
type CreateDIDSample struct {
	Input   DIDLocation
	Output  DIDLocation
	Account string
	NbFiles int
}

// CreateDIDSample registers a new dataset holding the first NbFiles files
// reachable from the input DID.
func (db *DB) CreateDIDSample(ctx context.Context, opts CreateDIDSample) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := opts.Input.Verify(); err != nil {
		return err
	}
	if err := opts.Output.Verify(); err != nil {
		return err
	}
	if opts.Account == "" {
		return ErrInvalidRequest.New("Account missing")
	}
	if opts.NbFiles <= 0 {
		return ErrInvalidRequest.New("NbFiles must be positive")
	}

	return db.withTx(ctx, func(ctx context.Context, t *tx) error {
		files, err := t.listFiles(ctx, opts.Input)
		if err != nil {
			return err
		}
		if len(files) > opts.NbFiles {
			files = files[:opts.NbFiles]
		}

		err = t.addDID(ctx, AddDID{
			DIDLocation: opts.Output,
			Type:        DIDTypeDataset,
			Account:     opts.Account,
		})
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return nil
		}

		children := make([]AttachChild, len(files))
		for i, file := range files {
			children[i] = AttachChild{DIDLocation: file.DIDLocation}
		}
		changed, err := t.attachDIDs(ctx, Attachment{
			DIDLocation: opts.Output,
			Children:    children,
		}, opts.Account, false)
		if err != nil {
			return err
		}
		if changed {
			return t.addUpdatedDID(ctx, opts.Output, ReevaluateAttach)
		}
		return nil
	})
}
