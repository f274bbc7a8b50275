// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of status-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package attribute implements the generic Attribute layer (spec §4.2):
// null-dedup at the generic boundary, variant-specific acceptance filters
// (numeric.go's precision filter; simple.go's pass-through for boolean,
// string and array kinds), and time-point interpolation (interpolation.go).
//
// Re-architected per the redesign note in spec §9: rather than a
// parametric Attribute<T> with a NumericAttribute<T> subclass, every kind
// implements the small Kind interface and is dispatched on at the add
// boundary; the ValueStore underneath is always the same type-erased
// internal/valuestore.Store.
package attribute

import (
	"fmt"
	"time"

	"github.com/hereon-wpi/status-server/internal/valuestore"
	"github.com/hereon-wpi/status-server/pkg/corelog"
)

// Interpolation selects how Resolve answers a time-point query (spec §4.3).
type Interpolation int

const (
	LAST Interpolation = iota
	NEAREST
	LINEAR
)

func ParseInterpolation(s string) (Interpolation, error) {
	switch s {
	case "LAST", "":
		return LAST, nil
	case "NEAREST":
		return NEAREST, nil
	case "LINEAR":
		return LINEAR, nil
	default:
		return LAST, fmt.Errorf("%w: unknown interpolation %q", ErrConfigInvalid, s)
	}
}

// Method selects whether an Attribute is polled or event-driven (spec §6).
type Method int

const (
	POLL Method = iota
	EVENT
)

func ParseMethod(s string) (Method, error) {
	switch s {
	case "POLL":
		return POLL, nil
	case "EVENT":
		return EVENT, nil
	default:
		return POLL, fmt.Errorf("%w: unknown method %q", ErrConfigInvalid, s)
	}
}

// Kind is the variant-specific acceptance filter dispatched by
// Attribute.Add (spec §4.2): NumericAttribute's precision filter, or the
// unconditional-accept of boolean/string/array attributes (simple.go).
type Kind interface {
	// AddValueInternal runs the kind's own filter over v and reports
	// whether v should be handed to the ValueStore.
	AddValueInternal(v valuestore.Value) bool
}

// Attribute is one device attribute: identity, scheduling config, its
// acceptance-filter Kind, and the ValueStore holding its accepted values.
type Attribute struct {
	DeviceName    string
	AttributeName string
	Alias         string
	Interp        Interpolation
	Method        Method
	EventType     string
	Delay         time.Duration

	Kind  Kind
	Store *valuestore.Store
}

// FullName is the canonical ValueStore / PersistentSink record key.
func (a *Attribute) FullName() string {
	return a.DeviceName + "/" + a.AttributeName
}

// DisplayName is FullName unless an alias was configured and aliasing is
// in effect (wired by the engine's SetUseAliases toggle, spec §9 expansion).
func (a *Attribute) DisplayName(useAliases bool) string {
	if useAliases && a.Alias != "" {
		return a.Alias
	}
	return a.FullName()
}

// Add applies the generic null-dedup rule, then the kind-specific filter,
// then (on acceptance) offers v to the ValueStore. Returns true iff v was
// ultimately stored.
func (a *Attribute) Add(v valuestore.Value) (bool, error) {
	if v.Value == nil {
		if _, hasLast := a.Store.GetLast(); hasLast {
			return false, nil
		}
	}

	if !a.Kind.AddValueInternal(v) {
		return false, nil
	}

	stored, err := a.Store.Add(v)
	if err != nil {
		corelog.Warnf("[ATTRIBUTE]> %s: persist during add failed: %v", a.FullName(), err)
		return stored, err
	}
	return stored, nil
}
