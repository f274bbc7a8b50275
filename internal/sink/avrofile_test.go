// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of status-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identityFactory(header, row []string) (any, error) {
	out := make(map[string]string, len(row))
	for i, h := range header {
		out[h] = row[i]
	}
	return out, nil
}

func TestFileSink_SaveThenLoadRoundTrips(t *testing.T) {
	fs, err := NewFileSink(t.TempDir())
	require.NoError(t, err)

	header := []string{"read_ts", "value"}
	require.NoError(t, fs.Save("dev/temp", header, [][]string{
		{"1", "10.0"},
		{"2", "10.5"},
	}))
	require.NoError(t, fs.Save("dev/temp", header, [][]string{
		{"3", "11.0"},
	}))

	rows, err := fs.Load("dev/temp", identityFactory)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "10.0", rows[0].(map[string]string)["value"])
	assert.Equal(t, "11.0", rows[2].(map[string]string)["value"])
}

func TestFileSink_LoadOfUnknownNameReturnsEmpty(t *testing.T) {
	fs, err := NewFileSink(t.TempDir())
	require.NoError(t, err)

	rows, err := fs.Load("never/saved", identityFactory)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFileSink_SaveOfEmptyBodyIsNoop(t *testing.T) {
	fs, err := NewFileSink(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, fs.Save("dev/temp", []string{"a"}, nil))
	rows, err := fs.Load("dev/temp", identityFactory)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFileSink_SeparateAttributesDoNotCollide(t *testing.T) {
	fs, err := NewFileSink(t.TempDir())
	require.NoError(t, err)

	header := []string{"value"}
	require.NoError(t, fs.Save("dev/a", header, [][]string{{"1"}}))
	require.NoError(t, fs.Save("dev/b", header, [][]string{{"2"}}))

	a, err := fs.Load("dev/a", identityFactory)
	require.NoError(t, err)
	b, err := fs.Load("dev/b", identityFactory)
	require.NoError(t, err)

	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, "1", a[0].(map[string]string)["value"])
	assert.Equal(t, "2", b[0].(map[string]string)["value"])
}
