// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"strings"
	"time"

	"github.com/zeebo/errs"

	"storj.io/private/tagsql"
)

func withRows(rows tagsql.Rows, err error) func(func(tagsql.Rows) error) error {
	return func(callback func(tagsql.Rows) error) error {
		if err != nil {
			return err
		}
		err := callback(rows)
		return errs.Combine(rows.Err(), rows.Close(), err)
	}
}

// placeholders returns "(?, ?, ...)" with n placeholders.
func placeholders(n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('?')
	}
	b.WriteByte(')')
	return b.String()
}

// locationArgs flattens locations into bind arguments for repeated
// "(scope, name)" tuples.
func locationArgs(locations []DIDLocation) []interface{} {
	args := make([]interface{}, 0, len(locations)*2)
	for _, loc := range locations {
		args = append(args, loc.Scope, loc.Name)
	}
	return args
}

// tupleIn returns "(colA, colB) IN ((?, ?), ...)" for n tuples.
func tupleIn(colA, colB string, n int) string {
	var b strings.Builder
	b.WriteString("(" + colA + ", " + colB + ") IN (")
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?)")
	}
	b.WriteByte(')')
	return b.String()
}

// prefixColumns qualifies every column in a comma separated list with a
// table alias, for joins reusing the shared column lists.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}

// dedupeLocations drops duplicate locations preserving the first occurrence.
func dedupeLocations(locations []DIDLocation) []DIDLocation {
	seen := make(map[DIDLocation]struct{}, len(locations))
	out := locations[:0]
	for _, loc := range locations {
		if _, ok := seen[loc]; ok {
			continue
		}
		seen[loc] = struct{}{}
		out = append(out, loc)
	}
	return out
}

func nowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func int64Value(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func int64Ptr(v int64) *int64 { return &v }

func timePtr(v time.Time) *time.Time { return &v }
