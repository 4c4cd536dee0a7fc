// Package settings resolves the configuration values of an app run against
// the JSON Schema declared in the app manifest.
package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Resolver compiles app config schemas and fills caller values with defaults.
// Compiled schemas are cached per app id.
type Resolver struct {
	mu      sync.Mutex
	schemas map[string]compiled
}

type compiled struct {
	source []byte
	schema *jsonschema.Schema
	proto  map[string]any
}

// NewResolver creates an empty Resolver.
func NewResolver() *Resolver {
	return &Resolver{schemas: make(map[string]compiled)}
}

// SchemaURL is the id a schema is registered under.
func SchemaURL(appID string) string {
	return "anvil://apps/" + appID + "/config.json"
}

// Resolve merges input over the schema defaults and validates the result.
// A nil or empty schema returns input unchanged.
func (r *Resolver) Resolve(appID string, schema json.RawMessage, input map[string]any) (map[string]any, error) {
	values, err := normalize(input)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if len(bytes.TrimSpace(schema)) == 0 || bytes.Equal(bytes.TrimSpace(schema), []byte("null")) {
		return values, nil
	}

	c, err := r.compile(appID, schema)
	if err != nil {
		return nil, err
	}

	merged := merge(deepCopy(c.proto), values)
	// Validate works on the generic JSON representation.
	doc, err := normalize(merged)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := c.schema.Validate(any(doc)); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return doc, nil
}

// Defaults returns the default configuration described by the schema.
func (r *Resolver) Defaults(appID string, schema json.RawMessage) (map[string]any, error) {
	return r.Resolve(appID, schema, nil)
}

func (r *Resolver) compile(appID string, schema json.RawMessage) (compiled, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.schemas[appID]; ok && bytes.Equal(c.source, schema) {
		return c, nil
	}

	url := SchemaURL(appID)
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(url, bytes.NewReader(schema)); err != nil {
		return compiled{}, fmt.Errorf("load config schema: %w", err)
	}
	sch, err := compiler.Compile(url)
	if err != nil {
		return compiled{}, fmt.Errorf("compile config schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(schema, &doc); err != nil {
		return compiled{}, fmt.Errorf("parse config schema: %w", err)
	}
	proto, _ := defaults(doc).(map[string]any)
	if proto == nil {
		proto = map[string]any{}
	}

	c := compiled{source: bytes.Clone(schema), schema: sch, proto: proto}
	r.schemas[appID] = c
	return c, nil
}

// defaults builds the prototype value of a schema node from its "default"
// keyword and, for objects, the defaults of its properties.
func defaults(node any) any {
	s, ok := node.(map[string]any)
	if !ok {
		return nil
	}

	value := deepCopy(s["default"])
	props, ok := s["properties"].(map[string]any)
	if !ok {
		return value
	}

	obj, ok := value.(map[string]any)
	if !ok {
		if value != nil {
			return value
		}
		obj = map[string]any{}
	}
	for name, prop := range props {
		if _, set := obj[name]; set {
			continue
		}
		if v := defaults(prop); v != nil {
			obj[name] = v
		}
	}
	if len(obj) == 0 && value == nil {
		return nil
	}
	return obj
}

// merge writes src over dst, recursing into objects present on both sides.
func merge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range src {
		if sm, ok := v.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				dst[k] = merge(dm, sm)
				continue
			}
		}
		dst[k] = v
	}
	return dst
}

func deepCopy[T any](v T) T {
	switch t := any(v).(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return any(out).(T)
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return any(out).(T)
	default:
		return v
	}
}

// normalize round-trips v through JSON so numbers, slices and maps take the
// shapes the schema validator expects.
func normalize(v map[string]any) (map[string]any, error) {
	if v == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(v))
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
