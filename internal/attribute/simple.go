// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of status-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package attribute

import "github.com/hereon-wpi/status-server/internal/valuestore"

// PassthroughKind is the acceptance filter shared by every non-numeric
// element type (boolean, string, array): addValueInternal always returns
// true, leaving the generic null-dedup rule in Attribute.Add as the only
// filter (spec §4.2).
type PassthroughKind struct{}

func (PassthroughKind) AddValueInternal(valuestore.Value) bool { return true }

// BooleanKind, StringKind and ArrayKind are named aliases of
// PassthroughKind so configuration-driven construction (EngineBuilder) can
// report a meaningful Kind type without behavioral difference.
type (
	BooleanKind struct{ PassthroughKind }
	StringKind  struct{ PassthroughKind }
	ArrayKind   struct{ PassthroughKind }
)
