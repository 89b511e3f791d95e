// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/zeebo/errs"
)

// Constraint classification relies on driver error codes only, never on
// matching constraint names or message text.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// isUniqueViolation reports whether err is a primary key or unique
// constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// isForeignKeyViolation reports whether err is a foreign key violation.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgForeignKeyViolation
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}

// classifyConstraint maps a constraint violation onto the error class the
// call site owns; unique and foreign key violations mean different things
// depending on which statement raised them.
func classifyConstraint(err error, unique, foreignKey *errs.Class, msg string) error {
	switch {
	case err == nil:
		return nil
	case unique != nil && isUniqueViolation(err):
		return unique.New("%s: %v", msg, err)
	case foreignKey != nil && isForeignKeyViolation(err):
		return foreignKey.New("%s: %v", msg, err)
	default:
		return Error.Wrap(err)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
