// Package spectral validates governance ruleset content written in the
// Spectral rule dialect. It accepts raw YAML or JSON bytes, checks them
// against the rule grammar, and produces a normalized document that is safe
// to persist and to re-serialize.
package spectral

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Document is a normalized, schema-valid ruleset document. YAML and JSON
// input that is semantically equivalent normalizes to the same Document.
type Document struct {
	root map[string]any
}

// NewDocument wraps an already-normalized document tree, e.g. content loaded
// back from storage. Content from untrusted input must go through Validate
// instead.
func NewDocument(root map[string]any) *Document {
	return &Document{root: root}
}

// Map returns the normalized document tree. Callers must not mutate it.
func (d *Document) Map() map[string]any {
	return d.root
}

// Rules returns the rule definitions keyed by rule name.
func (d *Document) Rules() map[string]any {
	rules, _ := d.root["rules"].(map[string]any)
	return rules
}

// RuleNames returns the rule names in sorted order.
func (d *Document) RuleNames() []string {
	rules := d.Rules()
	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MarshalYAML re-serializes the document as YAML. The output is semantically
// equivalent to the original input, not byte-identical.
func (d *Document) MarshalYAML() ([]byte, error) {
	out, err := yaml.Marshal(d.root)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ruleset document: %w", err)
	}
	return out, nil
}

// normalize converts a freshly parsed YAML/JSON tree into a canonical form:
// string-keyed maps throughout, integral floats collapsed to int64, so the
// same content normalizes identically regardless of input format.
func normalize(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			norm, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[k] = norm
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			key, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("non-string key %v", k)
			}
			norm, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[key] = norm
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			norm, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[i] = norm
		}
		return out, nil
	case float64:
		// JSON parses all numbers as float64; collapse integral values so
		// YAML and JSON input normalize to the same representation.
		if val == float64(int64(val)) {
			return int64(val), nil
		}
		return val, nil
	case int:
		return int64(val), nil
	default:
		return v, nil
	}
}
