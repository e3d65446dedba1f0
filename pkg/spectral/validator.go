package spectral

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/apigovern/ruleset-engine/pkg/apperrors"
)

// Format declares how raw ruleset content should be parsed.
type Format string

const (
	FormatYAML Format = "YAML"
	FormatJSON Format = "JSON"
)

// DetectFormat maps a file name and/or content type to a parse format.
// JSON is detected from a .json extension or a JSON media type; everything
// else is treated as YAML (the dominant format for Spectral rulesets).
func DetectFormat(filename, contentType string) Format {
	if strings.HasSuffix(strings.ToLower(filename), ".json") {
		return FormatJSON
	}
	if strings.Contains(contentType, "json") {
		return FormatJSON
	}
	return FormatYAML
}

// Top-level keys permitted by the Spectral ruleset grammar.
var allowedTopLevelKeys = map[string]bool{
	"rules":            true,
	"extends":          true,
	"formats":          true,
	"aliases":          true,
	"overrides":        true,
	"functions":        true,
	"functionsDir":     true,
	"parserOptions":    true,
	"documentationUrl": true,
	"description":      true,
}

// Keys permitted inside an individual rule definition.
var allowedRuleKeys = map[string]bool{
	"description":      true,
	"message":          true,
	"given":            true,
	"then":             true,
	"severity":         true,
	"formats":          true,
	"recommended":      true,
	"resolved":         true,
	"documentationUrl": true,
	"tags":             true,
}

var severityLevels = map[string]bool{
	"error": true,
	"warn":  true,
	"info":  true,
	"hint":  true,
	"off":   true,
}

// Validate parses raw ruleset content according to the declared format and
// checks it against the Spectral ruleset grammar. It is a pure function over
// the input bytes. On success it returns the normalized document; any parse
// or schema failure returns *apperrors.ContentError.
func Validate(raw []byte, format Format) (*Document, error) {
	if len(raw) == 0 {
		return nil, &apperrors.ContentError{Reason: "content is empty"}
	}

	parsed, err := parse(raw, format)
	if err != nil {
		return nil, err
	}

	normalized, err := normalize(parsed)
	if err != nil {
		return nil, &apperrors.ContentError{Reason: err.Error()}
	}

	root, ok := normalized.(map[string]any)
	if !ok {
		return nil, &apperrors.ContentError{Reason: "ruleset must be a mapping at the top level"}
	}

	if details := validateSchema(root); len(details) > 0 {
		return nil, &apperrors.ContentError{Reason: "ruleset does not conform to the rule schema", Details: details}
	}

	return &Document{root: root}, nil
}

func parse(raw []byte, format Format) (any, error) {
	var parsed any
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, &apperrors.ContentError{Reason: fmt.Sprintf("malformed JSON: %v", err)}
		}
	case FormatYAML:
		if err := yaml.Unmarshal(raw, &parsed); err != nil {
			return nil, &apperrors.ContentError{Reason: fmt.Sprintf("malformed YAML: %v", err)}
		}
	default:
		return nil, &apperrors.ContentError{Reason: fmt.Sprintf("unsupported content format %q", format)}
	}
	return parsed, nil
}

// validateSchema collects every schema violation in the document so clients
// see all problems in one response.
func validateSchema(root map[string]any) []string {
	var details []string

	for key := range root {
		if !allowedTopLevelKeys[key] {
			details = append(details, fmt.Sprintf("unknown top-level key %q", key))
		}
	}

	rulesVal, ok := root["rules"]
	if !ok {
		return append(details, "missing required key \"rules\"")
	}

	rules, ok := rulesVal.(map[string]any)
	if !ok {
		return append(details, "\"rules\" must be a mapping of rule name to rule definition")
	}
	if len(rules) == 0 {
		return append(details, "\"rules\" must define at least one rule")
	}

	for name, ruleVal := range rules {
		details = append(details, validateRule(name, ruleVal)...)
	}

	return details
}

func validateRule(name string, ruleVal any) []string {
	rule, ok := ruleVal.(map[string]any)
	if !ok {
		return []string{fmt.Sprintf("rule %q must be a mapping", name)}
	}

	var details []string
	for key := range rule {
		if !allowedRuleKeys[key] {
			details = append(details, fmt.Sprintf("rule %q has unknown key %q", name, key))
		}
	}

	if err := validateGiven(name, rule["given"]); err != "" {
		details = append(details, err)
	}
	if err := validateThen(name, rule["then"]); err != "" {
		details = append(details, err)
	}
	if sev, ok := rule["severity"]; ok {
		if err := validateSeverity(name, sev); err != "" {
			details = append(details, err)
		}
	}

	return details
}

func validateGiven(name string, given any) string {
	switch g := given.(type) {
	case nil:
		return fmt.Sprintf("rule %q is missing required key \"given\"", name)
	case string:
		if g == "" {
			return fmt.Sprintf("rule %q has an empty \"given\" path", name)
		}
	case []any:
		if len(g) == 0 {
			return fmt.Sprintf("rule %q has an empty \"given\" list", name)
		}
		for _, item := range g {
			path, ok := item.(string)
			if !ok || path == "" {
				return fmt.Sprintf("rule %q has a non-string entry in \"given\"", name)
			}
		}
	default:
		return fmt.Sprintf("rule %q has invalid \"given\": expected JSONPath string or list", name)
	}
	return ""
}

func validateThen(name string, then any) string {
	switch t := then.(type) {
	case nil:
		return fmt.Sprintf("rule %q is missing required key \"then\"", name)
	case map[string]any:
		return validateThenEntry(name, t)
	case []any:
		if len(t) == 0 {
			return fmt.Sprintf("rule %q has an empty \"then\" list", name)
		}
		for _, item := range t {
			entry, ok := item.(map[string]any)
			if !ok {
				return fmt.Sprintf("rule %q has a non-mapping entry in \"then\"", name)
			}
			if err := validateThenEntry(name, entry); err != "" {
				return err
			}
		}
	default:
		return fmt.Sprintf("rule %q has invalid \"then\": expected mapping or list of mappings", name)
	}
	return ""
}

func validateThenEntry(name string, entry map[string]any) string {
	fn, ok := entry["function"].(string)
	if !ok || fn == "" {
		return fmt.Sprintf("rule %q has a \"then\" entry without a function", name)
	}
	return ""
}

func validateSeverity(name string, sev any) string {
	switch s := sev.(type) {
	case string:
		if !severityLevels[s] {
			return fmt.Sprintf("rule %q has invalid severity %q", name, s)
		}
	case int64:
		// Numeric severities per the Spectral DiagnosticSeverity scale.
		if s < 0 || s > 3 {
			return fmt.Sprintf("rule %q has invalid numeric severity %d", name, s)
		}
	default:
		return fmt.Sprintf("rule %q has invalid severity: expected level name or 0-3", name)
	}
	return ""
}
