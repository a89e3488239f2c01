package toolset

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/harun/knowhub/pkg/toolserver"
)

// Parameter defines one argument of a tool
type Parameter struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Default     any
	Enum        []string
	// Items is the element schema for array parameters
	Items map[string]any
}

// Handler runs a tool with decoded arguments and returns its output.
// Strings are passed through, anything else is JSON encoded.
type Handler func(ctx context.Context, args any) (any, error)

// Definition is a tool with its schema and typed argument decoder
type Definition struct {
	Name        string
	Description string
	Parameters  []Parameter
	Handler     Handler

	decode func(json.RawMessage) (any, error)
}

// Defaulter fills unset optional fields after decoding
type Defaulter interface {
	SetDefaults()
}

// Validator checks constraints the JSON schema cannot express
type Validator interface {
	Validate() error
}

func decodeInto[T any](raw json.RawMessage) (any, error) {
	var args T
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, err
		}
	}
	if d, ok := any(&args).(Defaulter); ok {
		d.SetDefaults()
	}
	if v, ok := any(&args).(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	return args, nil
}

// Local defines a tool served in process. fn receives the decoded T.
func Local[T any](name, description string, fn func(ctx context.Context, args T) (any, error), params ...Parameter) Definition {
	return Definition{
		Name:        name,
		Description: description,
		Parameters:  params,
		Handler: func(ctx context.Context, args any) (any, error) {
			return fn(ctx, args.(T))
		},
		decode: decodeInto[T],
	}
}

// Remote defines a tool forwarded to the tool server with the same name.
func Remote[T any](caller toolserver.Caller, name, description string, params ...Parameter) Definition {
	return Definition{
		Name:        name,
		Description: description,
		Parameters:  params,
		Handler: func(ctx context.Context, args any) (any, error) {
			resp, err := caller.CallTool(ctx, name, args)
			if err != nil {
				return nil, err
			}
			if len(resp.Data) > 0 {
				return resp.Data, nil
			}
			return resp.Text, nil
		},
		decode: decodeInto[T],
	}
}

var validTypes = map[string]bool{
	"string": true, "number": true, "boolean": true,
	"object": true, "array": true, "integer": true,
}

func (d Definition) validate() error {
	if d.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if d.Description == "" {
		return fmt.Errorf("tool description cannot be empty for %s", d.Name)
	}
	if d.Handler == nil || d.decode == nil {
		return fmt.Errorf("tool %s has no handler", d.Name)
	}

	for _, param := range d.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty in %s", d.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %q for %s.%s", param.Type, d.Name, param.Name)
		}
	}
	return nil
}

// schemaMap renders the parameters as a JSON schema object
func (d Definition) schemaMap() map[string]any {
	properties := make(map[string]any, len(d.Parameters))
	required := []string{}

	for _, param := range d.Parameters {
		prop := map[string]any{
			"type": param.Type,
		}
		if param.Description != "" {
			prop["description"] = param.Description
		}
		if param.Default != nil {
			prop["default"] = param.Default
		}
		if len(param.Enum) > 0 {
			prop["enum"] = param.Enum
		}
		if param.Type == "array" {
			items := param.Items
			if items == nil {
				items = map[string]any{"type": "string"}
			}
			prop["items"] = items
		}
		properties[param.Name] = prop

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func (d Definition) compile() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(d.schemaMap()))
}
