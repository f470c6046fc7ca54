package feed

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// PayloadValidator checks feed payloads against a JSON schema before
// they reach the decision engine.
type PayloadValidator struct {
	schema *jsonschema.Schema
}

// NewPayloadValidator compiles the given JSON schema document.
func NewPayloadValidator(schemaDoc []byte) (*PayloadValidator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("proposal.schema.json", bytes.NewReader(schemaDoc)); err != nil {
		return nil, fmt.Errorf("add proposal schema: %w", err)
	}
	schema, err := compiler.Compile("proposal.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile proposal schema: %w", err)
	}
	return &PayloadValidator{schema: schema}, nil
}

// Validate checks one raw payload. A nil/empty payload is valid only
// if the schema allows it.
func (v *PayloadValidator) Validate(payload []byte) error {
	if len(payload) == 0 {
		payload = []byte("null")
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("payload is not JSON: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("payload schema violation: %w", err)
	}
	return nil
}
