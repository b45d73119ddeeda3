package tuning

import (
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const engineSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "level": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "data_dir": {"type": "string"}
      }
    },
    "storage": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "backend": {"enum": ["sqlite", "leveldb"]},
        "path": {"type": "string"},
        "compress": {"type": "boolean"}
      }
    },
    "stream": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "low_water": {"type": "integer", "minimum": 0},
        "high_water": {"type": "integer", "minimum": 1},
        "workers": {"type": "integer", "minimum": 0},
        "max_radius": {"type": "integer", "minimum": 0, "maximum": 64},
        "min_chunk_y": {"type": "integer"},
        "max_chunk_y": {"type": "integer"}
      }
    },
    "generator": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "seed": {"type": "integer"},
        "sea_level": {"type": "integer"},
        "amplitude": {"type": "integer", "minimum": 0}
      }
    },
    "runtime": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "tick_hz": {"type": "integer", "minimum": 1, "maximum": 100},
        "save_every_ticks": {"type": "integer", "minimum": 0},
        "chunks_per_tick": {"type": "integer", "minimum": 1},
        "chunks_per_second": {"type": "integer", "minimum": 1},
        "chunk_burst": {"type": "integer", "minimum": 0}
      }
    },
    "transport": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "addr": {"type": "string"}
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
)

func engineSchema() *jsonschema.Schema {
	schemaOnce.Do(func() {
		schema = jsonschema.MustCompileString("engine.schema.json", engineSchemaJSON)
	})
	return schema
}
