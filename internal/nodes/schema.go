package nodes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaResource = "schema.json"

// compileSchema accepts a schema as a decoded object or as JSON text.
func compileSchema(raw any) (*jsonschema.Schema, map[string]any, error) {
	var text []byte
	switch v := raw.(type) {
	case nil:
		return nil, nil, fmt.Errorf("schema is required")
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil, fmt.Errorf("schema is required")
		}
		text = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, nil, fmt.Errorf("encode schema: %w", err)
		}
		text = b
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(text))
	if err != nil {
		return nil, nil, fmt.Errorf("parse schema: %w", err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("schema must be a JSON object")
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaResource, doc); err != nil {
		return nil, nil, fmt.Errorf("load schema: %w", err)
	}
	sch, err := c.Compile(schemaResource)
	if err != nil {
		return nil, nil, fmt.Errorf("compile schema: %w", err)
	}

	var plain map[string]any
	if err := json.Unmarshal(text, &plain); err != nil {
		plain = obj
	}
	return sch, plain, nil
}

// conform validates v against sch. v is re-read through the schema
// library's decoder so numbers are compared exactly.
func conform(sch *jsonschema.Schema, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return err
	}
	return sch.Validate(inst)
}
