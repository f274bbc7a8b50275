// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of status-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package attribute

import (
	"github.com/shopspring/decimal"

	"github.com/hereon-wpi/status-server/internal/valuestore"
	"github.com/hereon-wpi/status-server/pkg/tstime"
)

// Resolve answers a time-point query against a's ValueStore using a's
// configured interpolation mode (spec §4.3).
func Resolve(a *Attribute, t tstime.Timestamp) (valuestore.Value, bool) {
	switch a.Interp {
	case LAST:
		return a.Store.Floor(t)
	case NEAREST:
		return resolveNearest(a, t)
	case LINEAR:
		return resolveLinear(a, t)
	default:
		return a.Store.Floor(t)
	}
}

func resolveNearest(a *Attribute, t tstime.Timestamp) (valuestore.Value, bool) {
	f, fok := a.Store.Floor(t)
	c, cok := a.Store.Ceiling(t)
	switch {
	case !fok && !cok:
		return valuestore.Value{}, false
	case !fok:
		return c, true
	case !cok:
		return f, true
	}

	distFloor := t.Sub(f.ReadTS)
	distCeil := c.ReadTS.Sub(t)
	if distCeil < distFloor {
		return c, true
	}
	// Ties, and the floor-closer case, both resolve to floor.
	return f, true
}

func resolveLinear(a *Attribute, t tstime.Timestamp) (valuestore.Value, bool) {
	f, fok := a.Store.Floor(t)
	c, cok := a.Store.Ceiling(t)
	switch {
	case !fok && !cok:
		return valuestore.Value{}, false
	case !fok:
		return c, true
	case !cok:
		return f, true
	case f.ReadTS == c.ReadTS:
		return f, true
	}

	v0, err0 := parseDecimal(f.Value)
	v1, err1 := parseDecimal(c.Value)
	if err0 != nil || err1 != nil {
		// Non-numeric element type: LINEAR degrades to LAST (spec §4.3 is
		// explicitly numeric-only).
		return f, true
	}

	t0 := decimal.NewFromInt(int64(f.ReadTS))
	t1 := decimal.NewFromInt(int64(c.ReadTS))
	tq := decimal.NewFromInt(int64(t))

	frac := tq.Sub(t0).Div(t1.Sub(t0))
	v := v0.Add(v1.Sub(v0).Mul(frac))

	return valuestore.Value{
		ReadTS:   t,
		WriteTS:  t,
		Value:    v,
		Quality:  c.Quality,
		SourceID: c.SourceID,
	}, true
}
