// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of status-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hereon-wpi/status-server/internal/attribute"
	"github.com/hereon-wpi/status-server/internal/device"
	"github.com/hereon-wpi/status-server/internal/sink"
	"github.com/hereon-wpi/status-server/internal/valuestore"
)

type fakeClient struct {
	reads atomic.Int64
}

func (f *fakeClient) GetAttributeClass(string) (device.TypeTag, error) { return device.TypeNumeric, nil }

func (f *fakeClient) Read(ctx context.Context, name string) (device.Reading, error) {
	n := f.reads.Add(1)
	return device.Reading{Value: strconv.FormatInt(n, 10), ReadTS: time.Now(), WriteTS: time.Now(), Quality: valuestore.Good}, nil
}

func (f *fakeClient) Subscribe(name, eventType string, cb device.EventCallback) (device.Subscription, error) {
	return noopSub{}, nil
}

func (f *fakeClient) Close() error { return nil }

type noopSub struct{}

func (noopSub) Unsubscribe() error { return nil }

func newTestEngine(t *testing.T) (*Engine, *fakeClient) {
	t.Helper()
	fs, err := sink.NewFileSink(t.TempDir())
	require.NoError(t, err)

	client := &fakeClient{}
	store := valuestore.NewStore("dev/temp", fs, valuestore.RowCodec{
		Header: []string{"ts", "value"},
		Encode: func(v valuestore.Value) []string { return []string{"0", v.Value.(string)} },
		Decode: func(header, row []string) (valuestore.Value, error) { return valuestore.Value{Value: row[1]}, nil },
	}, valuestore.WithEqual(attribute.NumericEqual))

	a := &attribute.Attribute{
		DeviceName:    "dev",
		AttributeName: "temp",
		Interp:        attribute.LAST,
		Method:        attribute.POLL,
		Delay:         20 * time.Millisecond,
		Kind:          attribute.PassthroughKind{},
		Store:         store,
	}

	attrs := map[string]*attribute.Attribute{a.FullName(): a}
	clients := map[string]device.Client{"dev": client}

	e, err := New(attrs, clients, time.Second, nil)
	require.NoError(t, err)
	return e, client
}

func TestEngine_LifecycleAndSnapshot_S6(t *testing.T) {
	e, client := newTestEngine(t)

	assert.Equal(t, "IDLE", e.Status())

	require.NoError(t, e.StartCollect(HeavyDuty))
	assert.Equal(t, "HEAVY_DUTY", e.Status())

	require.Eventually(t, func() bool {
		return client.reads.Load() >= 1
	}, time.Second, 5*time.Millisecond, "at least one poll tick must fire")

	snap := e.GetLatestSnapshot()
	require.Len(t, snap, 1)
	for _, v := range snap {
		assert.NotNil(t, v.Value)
	}

	require.NoError(t, e.StopCollect())
	assert.Equal(t, "IDLE", e.Status())

	afterStop := client.reads.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, afterStop, client.reads.Load(), "no further ticks fire once stopped")
}

func TestEngine_StartCollect_RejectsFromWrongState(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.StartCollect(LightPoll))
	err := e.StartCollect(LightPoll)
	assert.ErrorIs(t, err, ErrNotCollecting)
	require.NoError(t, e.StopCollect())
}

func TestEngine_EventsDroppedWhileIdle(t *testing.T) {
	e, _ := newTestEngine(t)

	entry := e.attrs["dev/temp"]
	e.onEvent(entry, device.Reading{Value: "X"})

	assert.EqualValues(t, 1, e.SnapshotStats().DroppedEventsInIdle)
}

func TestEngine_AliasingTogglesSnapshotKeys(t *testing.T) {
	e, _ := newTestEngine(t)
	e.attrs["dev/temp"].attr.Alias = "nice_name"

	require.NoError(t, e.StartCollect(LightPoll))
	require.Eventually(t, func() bool {
		_, ok := e.GetLatestSnapshot()["dev/temp"]
		return ok
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, e.StopCollect())

	e.SetUseAliases(true)
	require.NoError(t, e.StartCollect(LightPoll))
	require.Eventually(t, func() bool {
		_, ok := e.GetLatestSnapshot()["nice_name"]
		return ok
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, e.StopCollect())
}

func TestNumericKindSmoke(t *testing.T) {
	k := attribute.NewNumericKind(decimal.NewFromFloat(0.1))
	assert.True(t, k.AddValueInternal(valuestore.Value{ReadTS: 1, Value: "1.0"}))
}
