// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of status-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `<?xml version="1.0" encoding="UTF-8"?>
<config>
  <service>
    {
      "persistentRoot": "/var/lib/status-server",
      "persistThreshold": 1000,
      "updateThreshold": 500,
      "readTimeoutMs": 2000
    }
  </service>
  <devices>
    <device name="furnace-1" transport="nats">
      <param key="address" value="nats://localhost:4222" />
      <attribute name="temperature" alias="furnace_temp" method="POLL" delay="1000" interpolation="LINEAR" precision="0.5" />
      <attribute name="door_open" method="EVENT" eventType="state-change" interpolation="LAST" />
    </device>
  </devices>
</config>`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.xml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))
	return path
}

func TestLoad_ParsesDevicesAndAttributes(t *testing.T) {
	path := writeSample(t)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/status-server", cfg.Service.PersistentRoot)
	assert.EqualValues(t, 1000, cfg.Service.PersistThreshold)
	assert.EqualValues(t, 500, cfg.Service.UpdateThreshold)

	require.Len(t, cfg.Devices, 1)
	dev := cfg.Devices[0]
	assert.Equal(t, "furnace-1", dev.Name)
	assert.Equal(t, "nats", dev.Transport)
	assert.Equal(t, "nats://localhost:4222", dev.ParamsMap()["address"])

	require.Len(t, dev.Attributes, 2)
	temp := dev.Attributes[0]
	assert.Equal(t, "temperature", temp.Name)
	assert.Equal(t, "furnace_temp", temp.Alias)

	method, err := temp.ParseMethod()
	require.NoError(t, err)
	assert.Equal(t, 0, int(method)) // POLL

	interp, err := temp.ParseInterpolation()
	require.NoError(t, err)
	assert.Equal(t, 2, int(interp)) // LINEAR
}

func TestLoad_RejectsMissingPersistentRoot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.xml")
	require.NoError(t, os.WriteFile(path, []byte(`<config><service>{}</service><devices></devices></config>`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
