package protocol

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var schemaSources = map[string]string{
	TypeHello: `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["type", "protocol_version", "name", "pos", "radius"],
  "properties": {
    "type": {"const": "HELLO"},
    "protocol_version": {"type": "string"},
    "name": {"type": "string", "minLength": 1, "maxLength": 64},
    "pos": {"$ref": "#/definitions/vec3"},
    "radius": {"type": "integer", "minimum": 0},
    "active_radius": {"type": "integer", "minimum": 0}
  },
  "definitions": {
    "vec3": {"type": "array", "items": {"type": "number"}, "minItems": 3, "maxItems": 3}
  }
}`,
	TypeMove: `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["type", "pos"],
  "properties": {
    "type": {"const": "MOVE"},
    "protocol_version": {"type": "string"},
    "pos": {"type": "array", "items": {"type": "number"}, "minItems": 3, "maxItems": 3},
    "radius": {"type": "integer", "minimum": 0},
    "active_radius": {"type": "integer", "minimum": 0}
  }
}`,
	TypeEdit: `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["type", "pos", "cell"],
  "properties": {
    "type": {"const": "EDIT"},
    "protocol_version": {"type": "string"},
    "pos": {"type": "array", "items": {"type": "integer"}, "minItems": 3, "maxItems": 3},
    "cell": {"type": "integer", "minimum": 0}
  }
}`,
	TypeWelcome: `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["type", "protocol_version", "session_id", "level_guid", "level_params", "palette"],
  "properties": {
    "type": {"const": "WELCOME"},
    "session_id": {"type": "string", "minLength": 1},
    "level_guid": {"type": "string", "minLength": 1},
    "level_params": {
      "type": "object",
      "required": ["tick_rate_hz", "chunk_size"],
      "properties": {
        "tick_rate_hz": {"type": "integer", "minimum": 1},
        "chunk_size": {"type": "array", "items": {"const": 16}, "minItems": 3, "maxItems": 3}
      }
    },
    "palette": {
      "type": "object",
      "required": ["digest", "count"],
      "properties": {
        "digest": {"type": "string"},
        "count": {"type": "integer", "minimum": 1}
      }
    }
  }
}`,
	TypeChunkLoad: `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["type", "level_guid", "pos", "cells"],
  "properties": {
    "type": {"const": "CHUNK_LOAD"},
    "level_guid": {"type": "string"},
    "pos": {"type": "array", "items": {"type": "integer"}, "minItems": 3, "maxItems": 3},
    "cells": {
      "type": "object",
      "oneOf": [
        {"required": ["value"], "not": {"required": ["data"]}},
        {"required": ["data"], "not": {"required": ["value"]}}
      ],
      "additionalProperties": false,
      "properties": {
        "value": {"type": "integer", "minimum": 0},
        "data": {"type": "array", "items": {"type": "integer", "minimum": 0}, "minItems": 4096, "maxItems": 4096}
      }
    }
  }
}`,
	TypeChunkUnload: `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["type", "level_guid", "pos"],
  "properties": {
    "type": {"const": "CHUNK_UNLOAD"},
    "level_guid": {"type": "string"},
    "pos": {"type": "array", "items": {"type": "integer"}, "minItems": 3, "maxItems": 3}
  }
}`,
}

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
)

func compiled() map[string]*jsonschema.Schema {
	schemasOnce.Do(func() {
		schemas = make(map[string]*jsonschema.Schema, len(schemaSources))
		for typ, src := range schemaSources {
			schemas[typ] = jsonschema.MustCompileString("voxelstream://protocol/"+typ+".schema.json", src)
		}
	})
	return schemas
}

// Validate checks raw against the schema of message type typ. Types without a schema pass.
func Validate(typ string, raw []byte) error {
	s, ok := compiled()[typ]
	if !ok {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("%s: %w", typ, err)
	}
	return nil
}
