package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// definitionExtensions are the file extensions the loader accepts.
var definitionExtensions = map[string]bool{
	".yaml": true,
	".yml":  true,
	".json": true,
}

// ParseDefinition decodes a workflow document from YAML or JSON bytes. YAML
// input is normalized to a JSON-compatible document first so the condition
// tree's JSON decoding applies uniformly, then the document is checked
// against the workflow schema.
func ParseDefinition(data []byte) (*Definition, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse workflow document: %w", err)
	}
	doc := normalizeYAML(raw)

	if errs := ValidateDocument(doc); len(errs) > 0 {
		return nil, &RegistrationError{Result: &ValidationResult{Errors: errs}}
	}

	// Round-trip through JSON so condition nodes decode through their
	// custom unmarshaler.
	buf, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("normalize workflow document: %w", err)
	}
	var d Definition
	if err := json.Unmarshal(buf, &d); err != nil {
		return nil, fmt.Errorf("decode workflow document: %w", err)
	}
	d.EnsureActionIDs()
	return &d, nil
}

// LoadFile reads and parses one definition file.
func LoadFile(path string) (*Definition, error) {
	if !definitionExtensions[strings.ToLower(filepath.Ext(path))] {
		return nil, fmt.Errorf("unsupported workflow file extension: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	d, err := ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return d, nil
}

// LoadDir parses every definition file directly under dir, sorted by file
// name. Files that fail to parse are returned in errs; good files still
// load.
func LoadDir(dir string) (defs []*Definition, errs []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("read workflow directory: %w", err)}
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !definitionExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		d, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		defs = append(defs, d)
	}
	return defs, errs
}

// normalizeYAML rewrites yaml.v3 decoded values into the JSON-compatible
// shape: map keys become strings, nested values recurse.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	case int:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return v
	}
}
