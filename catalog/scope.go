// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"context"
)

// AddScope contains arguments necessary for registering a scope.
type AddScope struct {
	Scope   string
	Account string
	VO      string
}

// AddScope registers a scope. Scopes own DID names; registering a DID in an
// unknown scope fails with ErrScopeNotFound.
func (db *DB) AddScope(ctx context.Context, opts AddScope) (err error) {
	defer mon.Task()(&ctx)(&err)

	if opts.Scope == "" {
		return ErrInvalidRequest.New("Scope missing")
	}
	if opts.Account == "" {
		return ErrInvalidRequest.New("Account missing")
	}
	if opts.VO == "" {
		opts.VO = DefaultVO
	}

	_, err = db.wrap(db.db).ExecContext(ctx, `
		INSERT INTO scopes (scope, vo, account, is_open, created_at)
		VALUES (?, ?, ?, TRUE, ?)
	`, opts.Scope, opts.VO, opts.Account, nowUTC())
	return classifyConstraint(err, &Error, nil, "scope already exists")
}

// AddAccount contains arguments necessary for registering an account.
type AddAccount struct {
	Account string
	Email   string
	VO      string
}

// AddAccount registers an account. Follow reports are delivered to the
// account's email address.
func (db *DB) AddAccount(ctx context.Context, opts AddAccount) (err error) {
	defer mon.Task()(&ctx)(&err)

	if opts.Account == "" {
		return ErrInvalidRequest.New("Account missing")
	}
	if opts.VO == "" {
		opts.VO = DefaultVO
	}

	var email interface{}
	if opts.Email != "" {
		email = opts.Email
	}
	_, err = db.wrap(db.db).ExecContext(ctx, `
		INSERT INTO accounts (account, email, vo, created_at)
		VALUES (?, ?, ?, ?)
	`, opts.Account, email, opts.VO, nowUTC())
	return classifyConstraint(err, &Error, nil, "account already exists")
}
