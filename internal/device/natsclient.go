// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of status-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// natsclient.go adapts the teacher's pkg/nats client (connection
// management, reconnect/error handlers, subscription bookkeeping) into a
// device.Client: polling becomes a NATS request/reply round trip, and
// event subscription becomes a plain subject subscription whose payload
// is decoded and redispatched as a device.Reading.
package device

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hereon-wpi/status-server/internal/valuestore"
	"github.com/hereon-wpi/status-server/pkg/corelog"
)

// NatsClientConfig configures one device's NATS transport.
type NatsClientConfig struct {
	Address       string `json:"address"`
	Username      string `json:"username,omitempty"`
	Password      string `json:"password,omitempty"`
	CredsFilePath string `json:"credsFilePath,omitempty"`
	ReadTimeout   time.Duration
}

// natsReading is the wire payload exchanged for both request/reply reads
// and published events.
type natsReading struct {
	Value    any    `json:"value"`
	Quality  string `json:"quality"`
	SourceID string `json:"sourceId"`
	ReadTS   int64  `json:"readTsUnixNano"`
	WriteTS  int64  `json:"writeTsUnixNano"`
}

func (r natsReading) toReading() Reading {
	return Reading{
		Value:    r.Value,
		ReadTS:   time.Unix(0, r.ReadTS),
		WriteTS:  time.Unix(0, r.WriteTS),
		Quality:  parseQuality(r.Quality),
		SourceID: r.SourceID,
	}
}

func parseQuality(s string) valuestore.Quality {
	switch s {
	case "UNCERTAIN":
		return valuestore.Uncertain
	case "BAD":
		return valuestore.Bad
	default:
		return valuestore.Good
	}
}

// NatsClient is a device.Client backed by a NATS connection, one subject
// namespace per device rooted at "<deviceName>.<attributeName>": reads use
// that subject, class lookups "<subject>.class", and events
// "<subject>.event.<eventType>".
type NatsClient struct {
	deviceName string
	conn       *nats.Conn
	timeout    time.Duration

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNatsClient connects to cfg.Address and returns a Client scoped to
// deviceName's subject namespace. Grounded on the teacher's NewClient:
// the same option set (user/pass, creds file, reconnect/error handlers).
func NewNatsClient(deviceName string, cfg NatsClientConfig) (*NatsClient, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("%w: %s: no NATS address configured", ErrClientUnavailable, deviceName)
	}

	var opts []nats.Option
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFilePath))
	}
	opts = append(opts,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				corelog.Warnf("[DEVICE]> %s: NATS disconnected: %v", deviceName, err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			corelog.Infof("[DEVICE]> %s: NATS reconnected to %s", deviceName, nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			corelog.Errorf("[DEVICE]> %s: NATS error: %v", deviceName, err)
		}),
	)

	nc, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: connect to %s: %v", ErrClientUnavailable, deviceName, cfg.Address, err)
	}

	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	corelog.Infof("[DEVICE]> %s: NATS connected to %s", deviceName, cfg.Address)
	return &NatsClient{deviceName: deviceName, conn: nc, timeout: timeout}, nil
}

func (c *NatsClient) subject(attributeName string) string {
	return c.deviceName + "." + attributeName
}

// GetAttributeClass asks the device for its declared element type via a
// request/reply on "<subject>.class".
func (c *NatsClient) GetAttributeClass(attributeName string) (TypeTag, error) {
	msg, err := c.conn.Request(c.subject(attributeName)+".class", nil, c.timeout)
	if err != nil {
		return TypeUnknown, fmt.Errorf("%w: %s/%s: %v", ErrAttributeUnknown, c.deviceName, attributeName, err)
	}

	var class string
	if err := json.Unmarshal(msg.Data, &class); err != nil {
		return TypeUnknown, fmt.Errorf("%w: %s/%s: decoding class reply: %v", ErrAttributeUnknown, c.deviceName, attributeName, err)
	}

	switch class {
	case "numeric":
		return TypeNumeric, nil
	case "boolean":
		return TypeBoolean, nil
	case "string":
		return TypeString, nil
	case "array":
		return TypeArray, nil
	default:
		return TypeUnknown, fmt.Errorf("%w: %s/%s: unrecognized class %q", ErrAttributeUnknown, c.deviceName, attributeName, class)
	}
}

// Read performs one request/reply poll, honoring ctx's deadline (spec §5:
// "device reads must have a configured per-call timeout").
func (c *NatsClient) Read(ctx context.Context, attributeName string) (Reading, error) {
	msg, err := c.conn.RequestWithContext(ctx, c.subject(attributeName), nil)
	if err != nil {
		return Reading{}, fmt.Errorf("%w: %s/%s: %v", ErrRead, c.deviceName, attributeName, err)
	}

	var payload natsReading
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		return Reading{}, fmt.Errorf("%w: %s/%s: decoding reply: %v", ErrRead, c.deviceName, attributeName, err)
	}
	return payload.toReading(), nil
}

// Subscribe registers an event handler on "<subject>.event.<eventType>", redispatching
// every message as a Reading through cb.
func (c *NatsClient) Subscribe(attributeName, eventType string, cb EventCallback) (Subscription, error) {
	subject := c.subject(attributeName) + ".event." + eventType
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		var payload natsReading
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			corelog.Warnf("[DEVICE]> %s/%s: decoding event payload: %v", c.deviceName, attributeName, err)
			return
		}
		cb(attributeName, payload.toReading())
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: subscribe to %s: %v", ErrClientUnavailable, c.deviceName, attributeName, subject, err)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	corelog.Infof("[DEVICE]> %s/%s: subscribed to %s", c.deviceName, attributeName, subject)
	return natsSubscription{sub}, nil
}

// Close unsubscribes every subscription and closes the connection.
func (c *NatsClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			corelog.Warnf("[DEVICE]> %s: unsubscribe failed: %v", c.deviceName, err)
		}
	}
	c.subs = nil
	c.conn.Close()
	return nil
}

type natsSubscription struct{ sub *nats.Subscription }

func (s natsSubscription) Unsubscribe() error { return s.sub.Unsubscribe() }
