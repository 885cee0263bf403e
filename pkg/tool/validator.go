package tool

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationError reports arguments that do not satisfy a tool's schema.
type ValidationError struct {
	Tool string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

var schemaCache sync.Map

// validateArgs checks args against the tool's JSON Schema. A nil or
// uncompilable schema skips validation rather than rejecting the call.
func validateArgs(toolName string, schema map[string]any, args map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	compiled, err := compileSchema(schema)
	if err != nil || compiled == nil {
		return nil
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return &ValidationError{Tool: toolName, Err: err}
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return &ValidationError{Tool: toolName, Err: err}
	}
	if err := compiled.Validate(decoded); err != nil {
		return &ValidationError{Tool: toolName, Err: err}
	}
	return nil
}

func compileSchema(schema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	key := string(raw)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}
	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}
