// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of status-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package attribute

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/hereon-wpi/status-server/internal/valuestore"
	"github.com/hereon-wpi/status-server/pkg/corelog"
	"github.com/hereon-wpi/status-server/pkg/tstime"
)

// NumericKind is the precision-aware acceptance filter of spec §4.2: a
// reading is only accepted if it differs from the value floor_entry'd at
// or before its read_ts by more than precision. numericValues is an
// auxiliary ordered map kept solely for this comparison -- it is not the
// attribute's value-of-record (that is the ValueStore).
type NumericKind struct {
	precision decimal.Decimal

	mu     sync.Mutex
	keys   []tstime.Timestamp // ascending, parallel to values
	values map[tstime.Timestamp]decimal.Decimal

	decodeFailures atomic.Uint64
}

// NewNumericKind builds a NumericKind with the given non-negative precision.
func NewNumericKind(precision decimal.Decimal) *NumericKind {
	return &NumericKind{
		precision: precision,
		values:    make(map[tstime.Timestamp]decimal.Decimal),
	}
}

// DecodeFailures reports how many values this kind has rejected for
// failing to parse as a decimal (spec §7 DecodeError metric).
func (k *NumericKind) DecodeFailures() uint64 {
	return k.decodeFailures.Load()
}

// NumericEqual is the BigDecimal-equality EqualFunc for the ValueStore
// backing a NumericKind (spec §3: "for numerics, by BigDecimal equality
// after parsing").
func NumericEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	da, errA := parseDecimal(a)
	db, errB := parseDecimal(b)
	if errA != nil || errB != nil {
		return false
	}
	return da.Equal(db)
}

func parseDecimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, nil
	case string:
		return decimal.NewFromString(t)
	default:
		return decimal.NewFromString(fmt.Sprintf("%v", t))
	}
}

// AddValueInternal implements the 4-step precision filter of spec §4.2.
func (k *NumericKind) AddValueInternal(v valuestore.Value) bool {
	if v.Value == nil {
		return true
	}

	dec, err := parseDecimal(v.Value)
	if err != nil {
		k.decodeFailures.Add(1)
		corelog.Warnf("[ATTRIBUTE]> %v: %v", ErrDecode, err)
		return false
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	idx, prevTS, prevVal, ok := k.floorEntry(v.ReadTS)
	if !ok {
		k.insertAbsentAt(0, v.ReadTS, dec)
		return true
	}

	diff := dec.Sub(prevVal).Abs()
	if diff.GreaterThan(k.precision) {
		k.insertAbsentAt(idx+1, v.ReadTS, dec)
		return true
	}
	_ = prevTS
	return false
}

// floorEntry returns the greatest entry with key <= t, if any, together
// with that key's index in k.keys.
func (k *NumericKind) floorEntry(t tstime.Timestamp) (idx int, ts tstime.Timestamp, val decimal.Decimal, ok bool) {
	i := sort.Search(len(k.keys), func(i int) bool { return k.keys[i] > t })
	if i == 0 {
		return 0, 0, decimal.Decimal{}, false
	}
	key := k.keys[i-1]
	return i - 1, key, k.values[key], true
}

func (k *NumericKind) insertAbsentAt(hint int, t tstime.Timestamp, dec decimal.Decimal) {
	if _, exists := k.values[t]; exists {
		return
	}
	i := sort.Search(len(k.keys), func(i int) bool { return k.keys[i] >= t })
	k.keys = append(k.keys, 0)
	copy(k.keys[i+1:], k.keys[i:])
	k.keys[i] = t
	k.values[t] = dec
}
