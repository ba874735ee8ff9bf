// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package store implements PostgreSQL persistence for drafts and templates.
// List-valued fields (prompts, previews, variations, tags, settings) are
// stored as JSONB columns and decoded on scan.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrStateConflict is returned by conditional updates when the row exists
// but is not in the status the transition requires.
var ErrStateConflict = errors.New("store: row is not in the expected state")

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// jsonColumn marshals v for a JSONB parameter. Nil slices are stored as
// empty arrays so the column never holds JSON null.
func jsonColumn[T any](v []T) ([]byte, error) {
	if v == nil {
		v = []T{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	return b, nil
}

// decodeColumn unmarshals a JSONB column into dst.
func decodeColumn(raw []byte, dst any, column string) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", column, err)
	}
	return nil
}
