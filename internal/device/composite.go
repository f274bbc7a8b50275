// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of status-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package device

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hereon-wpi/status-server/pkg/corelog"
)

// CompositeFactory dispatches device construction by a "transport" field
// in the device's raw configuration, retrying transient construction
// failures before giving up (spec §4.4 step 1: "client construction
// failures are logged and the device is skipped entirely").
type CompositeFactory struct {
	factories map[string]Factory
	maxElapsed time.Duration
}

// NewCompositeFactory builds a CompositeFactory with the given per-transport
// Factory registry. An empty maxElapsed disables retries beyond one attempt.
func NewCompositeFactory(factories map[string]Factory, maxElapsed time.Duration) *CompositeFactory {
	return &CompositeFactory{factories: factories, maxElapsed: maxElapsed}
}

// Build resolves transport's registered Factory and retries it with
// exponential backoff until it succeeds or maxElapsed is exhausted.
func (c *CompositeFactory) Build(deviceName, transport string, rawConfig map[string]any) (Client, error) {
	factory, ok := c.factories[transport]
	if !ok {
		return nil, fmt.Errorf("%w: %s: unknown transport %q", ErrClientUnavailable, deviceName, transport)
	}

	var client Client
	operation := func() error {
		c, err := factory(deviceName, rawConfig)
		if err != nil {
			corelog.Warnf("[DEVICE]> %s: client construction attempt failed: %v", deviceName, err)
			return err
		}
		client = c
		return nil
	}

	var b backoff.BackOff = &backoff.StopBackOff{}
	if c.maxElapsed > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.MaxElapsedTime = c.maxElapsed
		b = eb
	}

	if err := backoff.Retry(operation, b); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrClientUnavailable, deviceName, err)
	}
	return client, nil
}
