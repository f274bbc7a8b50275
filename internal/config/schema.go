// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of status-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/hereon-wpi/status-server/internal/attribute"
)

// serviceSchema validates the <service> JSON fragment embedded in the XML
// configuration file, the way the teacher's internal/config.Validate
// checks a sub-document against a compiled jsonschema before decoding.
const serviceSchema = `{
  "type": "object",
  "description": "Service-level settings for the attribute storage engine.",
  "properties": {
    "persistentRoot": {
      "description": "Filesystem root under which each attribute's PersistentSink record lives.",
      "type": "string"
    },
    "persistThreshold": {
      "description": "Accepted-add count at which the recent tier is evicted toward the persistent tier.",
      "type": "integer",
      "minimum": 1
    },
    "updateThreshold": {
      "description": "Accepted-add count at which a new eviction checkpoint timestamp is marked.",
      "type": "integer",
      "minimum": 1
    },
    "readTimeoutMs": {
      "description": "Per-call device read timeout in milliseconds.",
      "type": "integer",
      "minimum": 1
    }
  },
  "required": ["persistentRoot"]
}`

// Validate checks instance against serviceSchema, mirroring the teacher's
// config.Validate(schema, raw) -- here scoped to the nested service
// fragment rather than the whole configuration document.
func Validate(instance json.RawMessage) error {
	sch, err := jsonschema.CompileString("service-schema.json", serviceSchema)
	if err != nil {
		return fmt.Errorf("%w: compiling service schema: %v", attribute.ErrConfigInvalid, err)
	}

	var v any
	if err := json.Unmarshal(instance, &v); err != nil {
		return fmt.Errorf("%w: decoding service fragment: %v", attribute.ErrConfigInvalid, err)
	}

	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("%w: service fragment failed schema validation: %v", attribute.ErrConfigInvalid, err)
	}
	return nil
}
