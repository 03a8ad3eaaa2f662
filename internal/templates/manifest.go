// Package templates loads versioned template sources, renders them with a
// sandboxed Liquid engine and publishes them to a mail.TemplateStore.
package templates

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is the encoding of a manifest file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Manifest is the declared metadata of a template directory.
type Manifest struct {
	Name          string
	Revision      int
	Description   string
	RequiredVars  []string
	Tags          []string
	ContentPolicy map[string]any
}

// ManifestError names the field that failed validation.
type ManifestError struct {
	Field  string
	Reason string
}

func (e *ManifestError) Error() string {
	if e.Field == "" {
		return "invalid manifest: " + e.Reason
	}
	return fmt.Sprintf("invalid manifest: %s: %s", e.Field, e.Reason)
}

// ParseManifest decodes and validates a manifest.
func ParseManifest(data []byte, format Format) (*Manifest, error) {
	raw := map[string]any{}
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, &ManifestError{Reason: "invalid JSON: " + err.Error()}
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, &ManifestError{Reason: "invalid YAML: " + err.Error()}
		}
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", format)
	}

	for _, key := range []string{"name", "revision", "description", "required_vars"} {
		if _, ok := raw[key]; !ok {
			return nil, &ManifestError{Field: key, Reason: "missing required field"}
		}
	}

	m := &Manifest{}

	name, ok := raw["name"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return nil, &ManifestError{Field: "name", Reason: "must be a non-empty string"}
	}
	m.Name = strings.TrimSpace(name)

	rev, err := parseRevision(raw["revision"])
	if err != nil {
		return nil, err
	}
	m.Revision = rev

	if raw["description"] != nil {
		desc, ok := raw["description"].(string)
		if !ok {
			return nil, &ManifestError{Field: "description", Reason: "must be a string"}
		}
		m.Description = strings.TrimSpace(desc)
	}

	if m.RequiredVars, err = stringList("required_vars", raw["required_vars"], true); err != nil {
		return nil, err
	}
	if m.Tags, err = stringList("tags", raw["tags"], false); err != nil {
		return nil, err
	}

	if cp, ok := raw["content_policy"]; ok && cp != nil {
		policy, ok := cp.(map[string]any)
		if !ok {
			return nil, &ManifestError{Field: "content_policy", Reason: "must be an object"}
		}
		m.ContentPolicy = policy
	}

	return m, nil
}

func parseRevision(v any) (int, error) {
	invalid := &ManifestError{Field: "revision", Reason: "must be an integer"}
	var rev int
	switch n := v.(type) {
	case int:
		rev = n
	case float64:
		if n != math.Trunc(n) {
			return 0, invalid
		}
		rev = int(n)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, invalid
		}
		rev = parsed
	default:
		return 0, invalid
	}
	if rev < 1 {
		return 0, &ManifestError{Field: "revision", Reason: "must be >= 1"}
	}
	return rev, nil
}

// stringList accepts a nil value as an empty list. Entries must be
// non-blank strings when strict is set.
func stringList(field string, v any, strict bool) ([]string, error) {
	if v == nil {
		return []string{}, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, &ManifestError{Field: field, Reason: "must be a list"}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok || (strict && strings.TrimSpace(s) == "") {
			return nil, &ManifestError{Field: field, Reason: "must be a list of non-empty strings"}
		}
		out = append(out, s)
	}
	return out, nil
}
