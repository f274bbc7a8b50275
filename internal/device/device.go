// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of status-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package device defines the DeviceClient abstraction the engine
// consumes (spec §6) and its NATS-backed implementation (natsclient.go,
// adapted from the teacher's pkg/nats client), wired through a
// retrying composite factory (composite.go).
package device

import (
	"context"
	"errors"
	"time"

	"github.com/hereon-wpi/status-server/internal/valuestore"
)

var (
	// ErrClientUnavailable marks a device whose client could not be
	// constructed (spec §7 ClientUnavailable); the device is skipped.
	ErrClientUnavailable = errors.New("[DEVICE]> client unavailable")

	// ErrAttributeUnknown marks an attribute name the device client
	// cannot resolve a type for (spec §7 AttributeUnknown).
	ErrAttributeUnknown = errors.New("[DEVICE]> attribute unknown")

	// ErrRead marks a transient failure reading an attribute's current
	// value (spec §7 ReadError).
	ErrRead = errors.New("[DEVICE]> read failed")
)

// TypeTag names an attribute's declared element kind, as resolved by
// get_attribute_class (spec §6).
type TypeTag int

const (
	TypeUnknown TypeTag = iota
	TypeNumeric
	TypeBoolean
	TypeString
	TypeArray
)

// Reading is the tuple produced by a Client.Read call or an event
// callback: (value, read_ts, write_ts, quality) per spec §6.
type Reading struct {
	Value    any
	ReadTS   time.Time
	WriteTS  time.Time
	Quality  valuestore.Quality
	SourceID string
}

// EventCallback is invoked once per event for a subscribed attribute.
type EventCallback func(attributeName string, r Reading)

// Subscription is an opaque handle returned by Client.Subscribe; callers
// use it only to Unsubscribe.
type Subscription interface {
	Unsubscribe() error
}

// Client is the per-device capability the engine requires (spec §6
// DeviceClient): attribute-class lookup, a timed poll read, and
// event subscription. Implementations must honor ctx's deadline on Read.
type Client interface {
	GetAttributeClass(attributeName string) (TypeTag, error)
	Read(ctx context.Context, attributeName string) (Reading, error)
	Subscribe(attributeName, eventType string, cb EventCallback) (Subscription, error)
	Close() error
}

// Factory constructs a Client for a named device from its raw
// configuration fragment.
type Factory func(deviceName string, rawConfig map[string]any) (Client, error)
