// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of status-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package sink defines the PersistentSink contract (spec §4.5): an
// opaque, append-only, byte-oriented store keyed by attribute full_name.
// The core attribute storage engine never inspects the backing medium --
// only this package's concrete implementations do.
package sink

import "errors"

// ErrPersist is returned when a save/load against the backing medium
// fails. The caller decides severity: fatal on the eviction path, a
// downgraded warning on the get_all read path (spec §7).
var ErrPersist = errors.New("[SINK]> persistence operation failed")

// RowFactory reconstructs one row (as saved via Save) into a caller-owned
// representation. Returning an error for a single row aborts the Load call
// the row came from.
type RowFactory func(header, row []string) (any, error)

// PersistentSink is the only thing the core attribute storage engine
// requires of a durable backend.
type PersistentSink interface {
	// Save atomically appends one record-set under name: either the whole
	// call is visible after a crash, or none of it is.
	Save(name string, header []string, body [][]string) error

	// Load reconstructs every previously saved row under name, in
	// insertion order, via factory. A name that was never saved returns an
	// empty slice and a nil error.
	Load(name string, factory RowFactory) ([]any, error)
}
