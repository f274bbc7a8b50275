// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of status-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package valuestore

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hereon-wpi/status-server/internal/sink"
	"github.com/hereon-wpi/status-server/pkg/tstime"
)

func testCodec() RowCodec {
	return RowCodec{
		Header: []string{"ts", "value"},
		Encode: func(v Value) []string {
			return []string{strconv.FormatInt(int64(v.ReadTS), 10), v.Value.(string)}
		},
		Decode: func(header, row []string) (Value, error) {
			ts, err := strconv.ParseInt(row[0], 10, 64)
			if err != nil {
				return Value{}, err
			}
			return Value{ReadTS: tstime.Timestamp(ts), WriteTS: tstime.Timestamp(ts), Value: row[1]}, nil
		},
	}
}

func newTestStore(t *testing.T, opts ...Option) (*Store, sink.PersistentSink) {
	t.Helper()
	fs, err := sink.NewFileSink(t.TempDir())
	require.NoError(t, err)
	return NewStore("test-attr", fs, testCodec(), opts...), fs
}

func TestStore_AddDedupesConsecutiveEqualValues(t *testing.T) {
	s, _ := newTestStore(t)

	ts1 := tstime.Now()
	stored, err := s.Add(Value{ReadTS: ts1, WriteTS: ts1, Value: "A"})
	require.NoError(t, err)
	assert.True(t, stored)

	ts2 := tstime.Now()
	stored, err = s.Add(Value{ReadTS: ts2, WriteTS: ts2, Value: "A"})
	require.NoError(t, err)
	assert.False(t, stored, "consecutive equal value must be rejected")

	ts3 := tstime.Now()
	stored, err = s.Add(Value{ReadTS: ts3, WriteTS: ts3, Value: "B"})
	require.NoError(t, err)
	assert.True(t, stored, "a changed value must always be stored")
}

func TestStore_GetLastIsAlwaysTheNewestAccepted(t *testing.T) {
	s, _ := newTestStore(t)

	_, ok := s.GetLast()
	assert.False(t, ok, "empty store has no last value")

	t1 := tstime.Now()
	_, err := s.Add(Value{ReadTS: t1, WriteTS: t1, Value: "A"})
	require.NoError(t, err)

	t2 := tstime.Now()
	_, err = s.Add(Value{ReadTS: t2, WriteTS: t2, Value: "B"})
	require.NoError(t, err)

	last, ok := s.GetLast()
	require.True(t, ok)
	assert.Equal(t, "B", last.Value)
	assert.Equal(t, t2, last.ReadTS)
}

func TestStore_FloorAndCeilingWithinRecent(t *testing.T) {
	s, _ := newTestStore(t)

	var timestamps []tstime.Timestamp
	for i, v := range []string{"A", "B", "C", "D"} {
		ts := tstime.Now()
		timestamps = append(timestamps, ts)
		_, err := s.Add(Value{ReadTS: ts, WriteTS: ts, Value: v})
		require.NoError(t, err, "entry %d", i)
	}

	f, ok := s.Floor(timestamps[2])
	require.True(t, ok)
	assert.Equal(t, "C", f.Value)

	c, ok := s.Ceiling(timestamps[1])
	require.True(t, ok)
	assert.Equal(t, "B", c.Value)

	// A query before every recorded timestamp floors to the oldest entry.
	f, ok = s.Floor(tstime.Timestamp(0))
	require.True(t, ok)
	assert.Equal(t, "A", f.Value)

	// A query after every recorded timestamp ceils to the last value.
	c, ok = s.Ceiling(timestamps[3] + 1)
	require.True(t, ok)
	assert.Equal(t, "D", c.Value)
}

func TestStore_TierDownPersistsAndTrimsRecent(t *testing.T) {
	s, fs := newTestStore(t, WithThresholds(4, 2))

	var last string
	for i := 0; i < 10; i++ {
		ts := tstime.Now()
		v := strconv.Itoa(i)
		stored, err := s.Add(Value{ReadTS: ts, WriteTS: ts, Value: v})
		require.NoError(t, err)
		require.True(t, stored)
		last = v
	}

	rows, err := fs.Load("test-attr", func(header, row []string) (any, error) {
		return row[1], nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rows, "tier-down must have persisted at least one evicted entry")

	all := s.GetAll()
	require.NotEmpty(t, all)
	assert.Equal(t, last, all[len(all)-1].Value.(string))
}

func TestStore_ClearRecentPreservesLastOnly(t *testing.T) {
	s, _ := newTestStore(t)

	ts := tstime.Now()
	_, err := s.Add(Value{ReadTS: ts, WriteTS: ts, Value: "A"})
	require.NoError(t, err)

	s.ClearRecent()

	// recent is gone, so get_in_memory_since falls back to [last] per spec
	// §4.1 ("if recent is empty ... yield [last] if present else empty").
	since := s.GetInMemorySince(tstime.Timestamp(0))
	require.Len(t, since, 1)
	assert.Equal(t, "A", since[0].Value)

	last, ok := s.GetLast()
	require.True(t, ok, "last must survive clear_recent")
	assert.Equal(t, "A", last.Value)
}

func TestStore_PersistAndClearRecentRoundTrips(t *testing.T) {
	s, _ := newTestStore(t)

	for _, v := range []string{"A", "B", "C"} {
		ts := tstime.Now()
		_, err := s.Add(Value{ReadTS: ts, WriteTS: ts, Value: v})
		require.NoError(t, err)
	}

	require.NoError(t, s.PersistAndClearRecent())

	// recent is empty after the checkpoint; the fallback-to-last rule
	// applies, so the in-memory view degenerates to the single last value.
	since := s.GetInMemorySince(tstime.Timestamp(0))
	require.Len(t, since, 1)
	assert.Equal(t, "C", since[0].Value)

	all := s.GetAll()
	require.Len(t, all, 3)
	assert.Equal(t, []string{"A", "B", "C"}, []string{
		all[0].Value.(string), all[1].Value.(string), all[2].Value.(string),
	})
}
