package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const ledgerSchemaURL = "mem://searchable-pdf/ledger.schema.json"

const ledgerSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "document", "records"],
  "properties": {
    "version":    {"type": "integer", "minimum": 1},
    "document":   {"type": "string", "minLength": 1},
    "source":     {"type": "string"},
    "totalPages": {"type": "integer", "minimum": 0},
    "updatedAt":  {"type": "string"},
    "records": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["stage", "page", "path", "size", "sha256", "fingerprint"],
        "properties": {
          "stage":       {"enum": ["raster", "ocr", "merge"]},
          "page":        {"type": "integer", "minimum": -1},
          "path":        {"type": "string", "minLength": 1},
          "size":        {"type": "integer", "minimum": 1},
          "sha256":      {"type": "string", "pattern": "^[0-9a-f]{64}$"},
          "fingerprint": {"type": "string"},
          "completedAt": {"type": "string"}
        }
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString(ledgerSchemaURL, ledgerSchema)
	})
	return schema, schemaErr
}

// decodeLedger validates raw against the ledger schema before decoding it.
func decodeLedger(raw []byte) (*Ledger, error) {
	s, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to compile ledger schema: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("ledger is not valid JSON: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return nil, fmt.Errorf("ledger does not match schema: %w", err)
	}

	var l Ledger
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("failed to decode ledger: %w", err)
	}
	if l.Records == nil {
		l.Records = make(map[string]Record)
	}
	return &l, nil
}
