// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of status-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package attribute

import "errors"

var (
	// ErrConfigInvalid marks a malformed attribute/engine configuration;
	// fatal at startup (spec §7 ConfigError).
	ErrConfigInvalid = errors.New("[ATTRIBUTE]> invalid configuration")

	// ErrDecode marks a value that could not be parsed by a kind's
	// acceptance filter (spec §7 DecodeError); the single value is
	// rejected, the attribute's decode-failure metric is incremented.
	ErrDecode = errors.New("[ATTRIBUTE]> value decode failed")
)
