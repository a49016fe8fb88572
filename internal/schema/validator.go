package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator checks structured contribution payloads against the optional
// per-dataset record schema. Compiled schemas are cached by their source text.
type Validator struct {
	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

func NewValidator() *Validator {
	return &Validator{
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// ValidateRecord validates a structured record against recordSchema. A nil or
// empty recordSchema accepts any well-formed JSON object.
func (v *Validator) ValidateRecord(recordSchema, record json.RawMessage) error {
	value, err := decodeStrictJSON(record)
	if err != nil {
		return fmt.Errorf("decode record JSON: %w", err)
	}

	if len(bytes.TrimSpace(recordSchema)) == 0 {
		return nil
	}

	compiled, err := v.compile(recordSchema)
	if err != nil {
		return fmt.Errorf("compile record schema: %w", err)
	}

	if err := compiled.Validate(value); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// CheckSchema verifies that recordSchema is a compilable JSON Schema. An
// empty schema is allowed.
func (v *Validator) CheckSchema(recordSchema json.RawMessage) error {
	if len(bytes.TrimSpace(recordSchema)) == 0 {
		return nil
	}
	if _, err := v.compile(recordSchema); err != nil {
		return fmt.Errorf("compile record schema: %w", err)
	}
	return nil
}

func (v *Validator) compile(recordSchema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(recordSchema)

	v.mu.Lock()
	defer v.mu.Unlock()

	if compiled, ok := v.compiled[key]; ok {
		return compiled, nil
	}

	compiled, err := jsonschema.CompileString("dataset_record.schema.json", key)
	if err != nil {
		return nil, err
	}
	v.compiled[key] = compiled
	return compiled, nil
}

func decodeStrictJSON(payload json.RawMessage) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("trailing data after JSON document")
	}
	return value, nil
}
