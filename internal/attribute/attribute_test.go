// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of status-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package attribute

import (
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hereon-wpi/status-server/internal/sink"
	"github.com/hereon-wpi/status-server/internal/valuestore"
	"github.com/hereon-wpi/status-server/pkg/tstime"
)

func numericRowCodec() valuestore.RowCodec {
	return valuestore.RowCodec{
		Header: []string{"ts", "value"},
		Encode: func(v valuestore.Value) []string {
			return []string{strconv.FormatInt(int64(v.ReadTS), 10), v.Value.(decimal.Decimal).String()}
		},
		Decode: func(header, row []string) (valuestore.Value, error) {
			ts, err := strconv.ParseInt(row[0], 10, 64)
			if err != nil {
				return valuestore.Value{}, err
			}
			dec, err := decimal.NewFromString(row[1])
			if err != nil {
				return valuestore.Value{}, err
			}
			return valuestore.Value{ReadTS: tstime.Timestamp(ts), WriteTS: tstime.Timestamp(ts), Value: dec}, nil
		},
	}
}

func newNumericAttr(t *testing.T, precision string) *Attribute {
	t.Helper()
	fs, err := sink.NewFileSink(t.TempDir())
	require.NoError(t, err)

	kind := NewNumericKind(decimal.RequireFromString(precision))
	store := valuestore.NewStore("dev/attr", fs, numericRowCodec(), valuestore.WithEqual(NumericEqual))
	return &Attribute{DeviceName: "dev", AttributeName: "attr", Interp: LAST, Kind: kind, Store: store}
}

func at(ts int64, v string) valuestore.Value {
	return valuestore.Value{ReadTS: tstime.Timestamp(ts), WriteTS: tstime.Timestamp(ts), Value: v}
}

// S1 precision filter.
func TestAttribute_PrecisionFilter_S1(t *testing.T) {
	a := newNumericAttr(t, "0.5")

	readings := []struct {
		ts  int64
		val string
	}{
		{1, "10.0"}, {2, "10.3"}, {3, "10.6"}, {4, "10.6"}, {5, "9.8"},
	}

	var storedTS []int64
	var storedVals []string
	for _, r := range readings {
		stored, err := a.Add(at(r.ts, r.val))
		require.NoError(t, err)
		if stored {
			storedTS = append(storedTS, r.ts)
			storedVals = append(storedVals, r.val)
		}
	}

	assert.Equal(t, []int64{1, 3, 5}, storedTS)
	assert.Equal(t, []string{"10.0", "10.6", "9.8"}, storedVals)
}

// S2 dedup.
func TestAttribute_Dedup_S2(t *testing.T) {
	fs, err := sink.NewFileSink(t.TempDir())
	require.NoError(t, err)
	store := valuestore.NewStore("dev/str", fs, valuestore.RowCodec{
		Header: []string{"ts", "value"},
		Encode: func(v valuestore.Value) []string {
			return []string{strconv.FormatInt(int64(v.ReadTS), 10), v.Value.(string)}
		},
		Decode: func(header, row []string) (valuestore.Value, error) {
			ts, _ := strconv.ParseInt(row[0], 10, 64)
			return valuestore.Value{ReadTS: tstime.Timestamp(ts), Value: row[1]}, nil
		},
	})
	a := &Attribute{DeviceName: "dev", AttributeName: "str", Interp: LAST, Kind: PassthroughKind{}, Store: store}

	sequence := []string{"A", "A", "B", "B", "A"}
	var stored []string
	for i, v := range sequence {
		ok, err := a.Add(at(int64(i+1), v))
		require.NoError(t, err)
		if ok {
			stored = append(stored, v)
		}
	}

	assert.Equal(t, []string{"A", "B", "A"}, stored)
}

// S4 null first.
func TestAttribute_NullFirst_S4(t *testing.T) {
	fs, err := sink.NewFileSink(t.TempDir())
	require.NoError(t, err)
	store := valuestore.NewStore("dev/b", fs, valuestore.RowCodec{
		Header: []string{"ts", "value"},
		Encode: func(v valuestore.Value) []string { return []string{"0", ""} },
		Decode: func(header, row []string) (valuestore.Value, error) { return valuestore.Value{}, nil },
	})
	a := &Attribute{DeviceName: "dev", AttributeName: "b", Interp: LAST, Kind: PassthroughKind{}, Store: store}

	ok, err := a.Add(valuestore.Value{ReadTS: 1, WriteTS: 1, Value: nil})
	require.NoError(t, err)
	assert.True(t, ok, "first null must be accepted")

	ok, err = a.Add(valuestore.Value{ReadTS: 2, WriteTS: 2, Value: nil})
	require.NoError(t, err)
	assert.False(t, ok, "a second consecutive null is redundant")
}

// S5 interpolation.
func TestAttribute_Interpolation_S5(t *testing.T) {
	fs, err := sink.NewFileSink(t.TempDir())
	require.NoError(t, err)
	kind := NewNumericKind(decimal.Zero)
	store := valuestore.NewStore("dev/n", fs, numericRowCodec(), valuestore.WithEqual(NumericEqual))
	a := &Attribute{DeviceName: "dev", AttributeName: "n", Kind: kind, Store: store}

	_, err = a.Add(valuestore.Value{ReadTS: 0, WriteTS: 0, Value: decimal.NewFromInt(0)})
	require.NoError(t, err)
	_, err = a.Add(valuestore.Value{ReadTS: 10, WriteTS: 10, Value: decimal.NewFromInt(100)})
	require.NoError(t, err)

	a.Interp = LINEAR
	v, ok := Resolve(a, 3)
	require.True(t, ok)
	assert.True(t, v.Value.(decimal.Decimal).Equal(decimal.NewFromInt(30)))

	a.Interp = NEAREST
	v, ok = Resolve(a, 4)
	require.True(t, ok)
	assert.True(t, v.Value.(decimal.Decimal).Equal(decimal.NewFromInt(0)))

	a.Interp = LAST
	v, ok = Resolve(a, 7)
	require.True(t, ok)
	assert.True(t, v.Value.(decimal.Decimal).Equal(decimal.NewFromInt(0)))

	v, ok = Resolve(a, 10)
	require.True(t, ok)
	assert.True(t, v.Value.(decimal.Decimal).Equal(decimal.NewFromInt(100)))
}

// Precision law (invariant #4): consecutive accepted numeric values differ
// by more than precision.
func TestAttribute_PrecisionLawHolds(t *testing.T) {
	a := newNumericAttr(t, "1.0")

	vals := []string{"0", "0.5", "1.5", "1.6", "3.0", "3.05", "10"}
	var prev *decimal.Decimal
	for i, v := range vals {
		ok, err := a.Add(at(int64(i+1), v))
		require.NoError(t, err)
		if !ok {
			continue
		}
		d := decimal.RequireFromString(v)
		if prev != nil {
			diff := d.Sub(*prev).Abs()
			assert.True(t, diff.GreaterThan(decimal.NewFromFloat(1.0)),
				"consecutive accepted values %s -> %s must differ by > precision", prev.String(), v)
		}
		prev = &d
	}
}
