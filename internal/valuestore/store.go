// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of status-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package valuestore implements the tiered, per-attribute ValueStore
// described in spec §4.1: a lock-free "last" slot, a pooled in-memory
// "recent" segment chain (segment.go, adapted from the teacher's
// pkg/metricstore/buffer.go), and a PersistentSink-backed durable tier
// with counter-driven tier-down eviction.
package valuestore

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hereon-wpi/status-server/internal/sink"
	"github.com/hereon-wpi/status-server/pkg/corelog"
	"github.com/hereon-wpi/status-server/pkg/tstime"
)

// ErrEvictionPersistFailed marks a tier-down persist failure: the
// already-evicted entries are gone from recent but never made it to the
// persistent tier, breaking the persistent++recent prefix invariant (spec
// §4.1 "Failure semantics", §7 PersistError: "fatal for the engine ...
// on the eviction path"). Distinguished from a get_all-path persist
// failure, which is downgraded to a logged warning instead.
var ErrEvictionPersistFailed = errors.New("[VALUESTORE]> tier-down persist failed: durability contract violated")

// Quality mirrors typical device-status fleets' read quality codes.
type Quality int

const (
	Good Quality = iota
	Uncertain
	Bad
)

func (q Quality) String() string {
	switch q {
	case Good:
		return "GOOD"
	case Uncertain:
		return "UNCERTAIN"
	case Bad:
		return "BAD"
	default:
		return "UNKNOWN"
	}
}

// Value is the type-erased AttributeValue<T> of spec §3: value == nil
// encodes a null reading.
type Value struct {
	ReadTS   tstime.Timestamp
	WriteTS  tstime.Timestamp
	Value    any
	Quality  Quality
	SourceID string
}

// EqualFunc decides the "natural equality" the dedup law (spec §4.1, §8
// law 3) is defined against. Numeric attributes supply a BigDecimal-based
// EqualFunc (internal/attribute/numeric.go); other kinds fall back to Go's
// built-in comparison.
type EqualFunc func(a, b any) bool

// DefaultEqual compares two boxed values with Go's == where the dynamic
// type supports it, and falls back to false (never-equal) otherwise so a
// non-comparable type is simply never deduplicated.
func DefaultEqual(a, b any) bool {
	defer func() { recover() }() //nolint:errcheck -- guards against non-comparable dynamic types
	return a == b
}

const (
	// DefaultPersistThreshold is the eviction-trigger counter modulus.
	DefaultPersistThreshold = 1_000_000
	// DefaultUpdateThreshold is the checkpoint-mark counter modulus.
	DefaultUpdateThreshold = 500_000
)

// RowCodec renders a Value to/from the string rows a PersistentSink stores.
// Supplied by the owning Attribute, which alone knows how to render its
// element type T as a string and parse it back.
type RowCodec struct {
	Header []string
	Encode func(Value) []string
	Decode func(header, row []string) (Value, error)
}

// Store is one attribute's tiered ValueStore.
type Store struct {
	name  string
	sink  sink.PersistentSink
	codec RowCodec
	equal EqualFunc

	persistThreshold uint64
	updateThreshold  uint64

	last atomic.Pointer[Value]

	mu          sync.RWMutex
	recentHead  *segment
	counter     uint64
	thresholdTS *tstime.Timestamp
	quiescent   bool
}

// Option configures a Store at construction.
type Option func(*Store)

// WithThresholds overrides the tier-down policy's two thresholds (spec §4.1).
func WithThresholds(persist, update uint64) Option {
	return func(s *Store) {
		s.persistThreshold = persist
		s.updateThreshold = update
	}
}

// WithEqual overrides the dedup equality predicate (default: Go ==).
func WithEqual(eq EqualFunc) Option {
	return func(s *Store) { s.equal = eq }
}

// NewStore constructs a Store named name (used as the PersistentSink record
// name), backed by persistentSink and using codec to serialize evicted
// values.
func NewStore(name string, persistentSink sink.PersistentSink, codec RowCodec, opts ...Option) *Store {
	s := &Store{
		name:             name,
		sink:             persistentSink,
		codec:            codec,
		equal:            DefaultEqual,
		persistThreshold: DefaultPersistThreshold,
		updateThreshold:  DefaultUpdateThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add offers v to the store. Returns true iff stored (spec §4.1).
func (s *Store) Add(v Value) (bool, error) {
	if last := s.last.Load(); last != nil && s.equal(last.Value, v.Value) {
		return false, nil
	}

	s.mu.Lock()
	if s.quiescent {
		corelog.Warnf("[VALUESTORE]> %s: add() while quiescent -- quiescence violation", s.name)
	}

	s.recentHead = s.recentHead.append(entry{ts: v.ReadTS, value: v})
	s.counter++
	counter := s.counter

	var toPersist []entry
	var cutAt tstime.Timestamp
	doEvict := false

	switch {
	case counter%s.persistThreshold == 0:
		if s.thresholdTS != nil {
			cutAt = *s.thresholdTS
			doEvict = true
		}
		ts := v.ReadTS
		s.thresholdTS = &ts
	case counter%s.updateThreshold == 0:
		ts := v.ReadTS
		s.thresholdTS = &ts
	}

	if doEvict {
		s.recentHead, toPersist = cutBefore(s.recentHead, cutAt)
	}
	s.mu.Unlock()

	vv := v
	s.last.Store(&vv)

	if doEvict && len(toPersist) > 0 {
		if err := s.persistEntries(toPersist); err != nil {
			return true, fmt.Errorf("%w: %s: %v", ErrEvictionPersistFailed, s.name, err)
		}
	}

	return true, nil
}

// GetLast is a lock-free read of the newest accepted value.
func (s *Store) GetLast() (Value, bool) {
	v := s.last.Load()
	if v == nil {
		return Value{}, false
	}
	return *v, true
}

// GetInMemorySince returns all recent entries with key >= t; if recent is
// empty or its greatest key < t, returns [last] (if present) or empty.
func (s *Store) GetInMemorySince(t tstime.Timestamp) []Value {
	s.mu.RLock()
	defer s.mu.RUnlock()

	last, ok := s.recentHead.lastTimestamp()
	if !ok || last < t {
		if lv, present := s.GetLast(); present {
			return []Value{lv}
		}
		return nil
	}

	var out []Value
	s.recentHead.sinceInclusive(t, func(e entry) { out = append(out, e.value) })
	return out
}

// Floor returns the greatest entry in recent with key <= t; if none, the
// smallest recent entry (spec §4.1: out-of-range queries want a nearest
// anchor, not an empty result).
func (s *Store) Floor(t tstime.Timestamp) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.recentHead.floor(t); ok {
		return e.value, true
	}
	if e, ok := s.recentHead.first(); ok {
		return e.value, true
	}
	return Value{}, false
}

// Ceiling returns the smallest entry in recent with key >= t; if none,
// the last accepted value.
func (s *Store) Ceiling(t tstime.Timestamp) (Value, bool) {
	s.mu.RLock()
	if e, ok := s.recentHead.ceiling(t); ok {
		s.mu.RUnlock()
		return e.value, true
	}
	s.mu.RUnlock()
	return s.GetLast()
}

// GetAll concatenates persistent ++ recent in ascending timestamp order. A
// persistent-load failure is downgraded to "recent only" with a log (spec
// §4.1, §7). Concurrent writers make the result undefined -- callers must
// quiesce the store first (see Quiesce).
func (s *Store) GetAll() []Value {
	persisted, err := s.loadPersisted()
	if err != nil {
		corelog.Warnf("[VALUESTORE]> %s: get_all: persistent load failed, returning recent tier only: %v", s.name, err)
		persisted = nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Value, 0, len(persisted)+s.recentHead.count())
	out = append(out, persisted...)
	s.recentHead.all(func(e entry) { out = append(out, e.value) })
	return out
}

// Quiesce marks the store as not-currently-being-written, for the duration
// of fn. The caller is responsible for actually having stopped sampling
// for this attribute (spec §5); Quiesce only detects and logs violations,
// it does not itself block concurrent Add calls.
func (s *Store) Quiesce(fn func()) {
	s.mu.Lock()
	s.quiescent = true
	s.mu.Unlock()

	fn()

	s.mu.Lock()
	s.quiescent = false
	s.mu.Unlock()
}

// ClearRecent empties the in-memory tier; last is preserved (spec §9: the
// commented-out "preserve last into recent" behavior in the source is not
// carried forward).
func (s *Store) ClearRecent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recentHead = nil
}

// PersistRecent synchronously drains recent to the persistent tier.
func (s *Store) PersistRecent() error {
	s.mu.Lock()
	var toPersist []entry
	s.recentHead.all(func(e entry) { toPersist = append(toPersist, e) })
	s.mu.Unlock()

	return s.persistEntries(toPersist)
}

// PersistAndClearRecent runs PersistRecent then ClearRecent, in order.
func (s *Store) PersistAndClearRecent() error {
	if err := s.PersistRecent(); err != nil {
		return err
	}
	s.ClearRecent()
	return nil
}

// Counter returns the number of accepted Add calls since construction.
func (s *Store) Counter() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counter
}

func (s *Store) persistEntries(entries []entry) error {
	if len(entries) == 0 {
		return nil
	}
	body := make([][]string, len(entries))
	for i, e := range entries {
		body[i] = s.codec.Encode(e.value)
	}
	if err := s.sink.Save(s.name, s.codec.Header, body); err != nil {
		return fmt.Errorf("%w", err)
	}
	return nil
}

func (s *Store) loadPersisted() ([]Value, error) {
	rows, err := s.sink.Load(s.name, func(header, row []string) (any, error) {
		return s.codec.Decode(header, row)
	})
	if err != nil {
		return nil, err
	}
	out := make([]Value, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.(Value))
	}
	return out, nil
}
