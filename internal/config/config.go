// Package config implements declaration, resolution and persistence of
// pipeline- and collection-level configuration.
//
// A pipeline declares a Schema: a flat map of field name to default value of
// primitive type. Resolve combines a schema with an optional override map
// into the Values persisted alongside the pipeline or collection; the
// resolved document is handed verbatim (as a copy) to every subsequent
// operation. Interactive prompting, when a front end wants it, is just one
// possible producer of the override map.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Schema maps a field name to its default value. Values must be primitives:
// string, bool, int, float64 or time.Time. Nested maps and lists are not
// supported.
type Schema map[string]any

// Values is a resolved configuration document.
type Values map[string]any

// Clone returns a shallow copy. Operations receive clones so pipeline code
// cannot mutate the persisted document in place.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// String returns the named field as a string, or def if absent.
func (v Values) String(key, def string) string {
	if s, ok := v[key].(string); ok {
		return s
	}
	return def
}

// Validate checks that every default in the schema is of a supported
// primitive type.
func (s Schema) Validate() error {
	for name, def := range s {
		if !isPrimitive(def) {
			return fmt.Errorf("schema field %q: unsupported default type %T", name, def)
		}
	}
	return nil
}

func isPrimitive(v any) bool {
	switch v.(type) {
	case string, bool, int, int64, float64, time.Time:
		return true
	}
	return false
}

// Resolve produces the configuration Values for a schema plus an optional
// override map. Every schema field is present in the result, either as its
// default or its override. Overriding a field that the schema does not
// declare, or with a value of a different type, is an error: unknown keys
// fail fast instead of being silently ignored inside pipeline code.
func Resolve(schema Schema, overrides map[string]any) (Values, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}

	resolved := make(Values, len(schema))
	for name, def := range schema {
		resolved[name] = def
	}

	for name, val := range overrides {
		def, ok := schema[name]
		if !ok {
			return nil, fmt.Errorf("override %q: field not declared in schema", name)
		}
		coerced, err := coerce(val, def)
		if err != nil {
			return nil, fmt.Errorf("override %q: %w", name, err)
		}
		resolved[name] = coerced
	}

	return resolved, nil
}

// coerce checks an override against the type of the schema default. Numeric
// widening between int and float64 is allowed because YAML and flag parsing
// do not distinguish them reliably.
func coerce(val, def any) (any, error) {
	switch def.(type) {
	case string:
		if s, ok := val.(string); ok {
			return s, nil
		}
	case bool:
		if b, ok := val.(bool); ok {
			return b, nil
		}
	case int, int64:
		switch n := val.(type) {
		case int:
			return n, nil
		case int64:
			return n, nil
		case float64:
			if n == float64(int64(n)) {
				return int(n), nil
			}
		}
	case float64:
		switch n := val.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		}
	case time.Time:
		switch t := val.(type) {
		case time.Time:
			return t, nil
		case string:
			parsed, err := time.Parse(time.RFC3339, t)
			if err != nil {
				return nil, fmt.Errorf("expected RFC 3339 date: %w", err)
			}
			return parsed, nil
		}
	}
	return nil, fmt.Errorf("expected %T, got %T", def, val)
}

// Load reads a YAML configuration document.
func Load(path string) (Values, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var v Values
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if v == nil {
		v = Values{}
	}
	return v, nil
}

// Save writes a YAML configuration document.
func Save(path string, v Values) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	return nil
}
