// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of status-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hereon-wpi/status-server/internal/attribute"
	"github.com/hereon-wpi/status-server/internal/config"
	"github.com/hereon-wpi/status-server/internal/device"
	"github.com/hereon-wpi/status-server/internal/sink"
	"github.com/hereon-wpi/status-server/internal/valuestore"
	"github.com/hereon-wpi/status-server/pkg/corelog"
	"github.com/hereon-wpi/status-server/pkg/tstime"
)

func intToTimestamp(v int64) tstime.Timestamp { return tstime.Timestamp(v) }

func parseQualityName(s string) valuestore.Quality {
	switch s {
	case "UNCERTAIN":
		return valuestore.Uncertain
	case "BAD":
		return valuestore.Bad
	default:
		return valuestore.Good
	}
}

// Builder instantiates clients, attributes, stores and a wired Engine from
// a loaded configuration (spec §4.4 EngineBuilder).
type Builder struct {
	Factories        map[string]device.Factory
	PersistentSink   sink.PersistentSink
	PersistThreshold uint64
	UpdateThreshold  uint64
	ReadTimeout      time.Duration
}

// NewBuilder constructs a Builder backed by a FileSink rooted at
// cfg.Service.PersistentRoot and the given per-transport client factories.
func NewBuilder(cfg *config.FileConfig, factories map[string]device.Factory) (*Builder, error) {
	persistentSink, err := sink.NewFileSink(cfg.Service.PersistentRoot)
	if err != nil {
		return nil, err
	}
	return &Builder{
		Factories:        factories,
		PersistentSink:   persistentSink,
		PersistThreshold: cfg.Service.PersistThreshold,
		UpdateThreshold:  cfg.Service.UpdateThreshold,
		ReadTimeout:      cfg.Service.ReadTimeout(),
	}, nil
}

// Build carries out the four EngineBuilder steps of spec §4.4.
func (b *Builder) Build(cfg *config.FileConfig) (*Engine, error) {
	composite := device.NewCompositeFactory(b.Factories, 30*time.Second)

	clients := make(map[string]device.Client, len(cfg.Devices))
	attrs := make(map[string]*attribute.Attribute)
	var failed []string

	for _, d := range cfg.Devices {
		client, err := composite.Build(d.Name, d.Transport, d.ParamsMap())
		if err != nil {
			corelog.Warnf("[ENGINE]> device %s skipped: %v", d.Name, err)
			continue
		}
		clients[d.Name] = client

		for _, ac := range d.Attributes {
			fullName := d.Name + "/" + ac.Name

			typeTag, err := client.GetAttributeClass(ac.Name)
			if err != nil {
				corelog.Warnf("[ENGINE]> %s: %v", fullName, err)
				failed = append(failed, fullName)
				continue
			}

			a, err := b.buildAttribute(d.Name, ac, fullName, typeTag)
			if err != nil {
				corelog.Warnf("[ENGINE]> %s: %v", fullName, err)
				failed = append(failed, fullName)
				continue
			}
			attrs[fullName] = a
		}
	}

	return New(attrs, clients, b.ReadTimeout, failed)
}

func (b *Builder) buildAttribute(deviceName string, ac config.AttributeConfig, fullName string, typeTag device.TypeTag) (*attribute.Attribute, error) {
	method, err := ac.ParseMethod()
	if err != nil {
		return nil, err
	}
	interp, err := ac.ParseInterpolation()
	if err != nil {
		return nil, err
	}

	kind, codec, equalFn, err := b.buildKind(typeTag, ac.Precision)
	if err != nil {
		return nil, err
	}

	store := valuestore.NewStore(fullName, b.PersistentSink, codec,
		valuestore.WithEqual(equalFn),
		valuestore.WithThresholds(b.nonZero(b.PersistThreshold, valuestore.DefaultPersistThreshold), b.nonZero(b.UpdateThreshold, valuestore.DefaultUpdateThreshold)),
	)

	return &attribute.Attribute{
		DeviceName:    deviceName,
		AttributeName: ac.Name,
		Alias:         ac.Alias,
		Interp:        interp,
		Method:        method,
		EventType:     ac.EventType,
		Delay:         time.Duration(ac.DelayMs) * time.Millisecond,
		Kind:          kind,
		Store:         store,
	}, nil
}

func (b *Builder) nonZero(v, def uint64) uint64 {
	if v == 0 {
		return def
	}
	return v
}

func (b *Builder) buildKind(typeTag device.TypeTag, precisionStr string) (attribute.Kind, valuestore.RowCodec, valuestore.EqualFunc, error) {
	switch typeTag {
	case device.TypeNumeric:
		precision := decimal.Zero
		if precisionStr != "" {
			p, err := decimal.NewFromString(precisionStr)
			if err != nil {
				return nil, valuestore.RowCodec{}, nil, fmt.Errorf("%w: invalid precision %q: %v", attribute.ErrConfigInvalid, precisionStr, err)
			}
			precision = p
		}
		return NewNumericKind(precision), numericCodec(), NumericEqual, nil
	case device.TypeBoolean:
		return attribute.BooleanKind{}, genericCodec(), valuestore.DefaultEqual, nil
	case device.TypeString:
		return attribute.StringKind{}, genericCodec(), valuestore.DefaultEqual, nil
	case device.TypeArray:
		return attribute.ArrayKind{}, genericCodec(), valuestore.DefaultEqual, nil
	default:
		return nil, valuestore.RowCodec{}, nil, fmt.Errorf("%w: unsupported attribute type tag %d", attribute.ErrConfigInvalid, typeTag)
	}
}

// NewNumericKind and NumericEqual re-export attribute's numeric filter so
// callers outside this package don't need two import paths for one concern.
var (
	NewNumericKind = attribute.NewNumericKind
	NumericEqual   = attribute.NumericEqual
)

func numericCodec() valuestore.RowCodec {
	return valuestore.RowCodec{
		Header: []string{"read_ts", "write_ts", "value", "quality", "source_id"},
		Encode: func(v valuestore.Value) []string {
			val := ""
			if v.Value != nil {
				if d, ok := v.Value.(decimal.Decimal); ok {
					val = d.String()
				} else {
					val = fmt.Sprintf("%v", v.Value)
				}
			}
			return []string{
				strconv.FormatInt(int64(v.ReadTS), 10),
				strconv.FormatInt(int64(v.WriteTS), 10),
				val,
				v.Quality.String(),
				v.SourceID,
			}
		},
		Decode: decodeCommonRow(func(raw string) (any, error) {
			if raw == "" {
				return nil, nil
			}
			return decimal.NewFromString(raw)
		}),
	}
}

func genericCodec() valuestore.RowCodec {
	return valuestore.RowCodec{
		Header: []string{"read_ts", "write_ts", "value", "quality", "source_id"},
		Encode: func(v valuestore.Value) []string {
			val := ""
			if v.Value != nil {
				val = fmt.Sprintf("%v", v.Value)
			}
			return []string{
				strconv.FormatInt(int64(v.ReadTS), 10),
				strconv.FormatInt(int64(v.WriteTS), 10),
				val,
				v.Quality.String(),
				v.SourceID,
			}
		},
		Decode: decodeCommonRow(func(raw string) (any, error) {
			if raw == "" {
				return nil, nil
			}
			return raw, nil
		}),
	}
}

func decodeCommonRow(parseValue func(string) (any, error)) func(header, row []string) (valuestore.Value, error) {
	return func(header, row []string) (valuestore.Value, error) {
		if len(row) < 5 {
			return valuestore.Value{}, fmt.Errorf("row has %d fields, want 5", len(row))
		}
		readTS, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return valuestore.Value{}, err
		}
		writeTS, err := strconv.ParseInt(row[1], 10, 64)
		if err != nil {
			return valuestore.Value{}, err
		}
		val, err := parseValue(row[2])
		if err != nil {
			return valuestore.Value{}, err
		}
		return valuestore.Value{
			ReadTS:   intToTimestamp(readTS),
			WriteTS:  intToTimestamp(writeTS),
			Value:    val,
			Quality:  parseQualityName(row[3]),
			SourceID: row[4],
		}, nil
	}
}
