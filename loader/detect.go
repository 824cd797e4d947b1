// Package loader reads workflow documents from disk. JSON and YAML are
// both accepted; YAML is converted to JSON and then decoded exactly like a
// JSON export, so both formats share one set of rules.
package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format identifies the encoding of a workflow file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// DetectFormat picks the encoding from the file extension. Files without a
// known extension are treated as JSON when they start with '{' or '[' and
// as YAML otherwise.
func DetectFormat(data []byte, filePath string) Format {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return FormatJSON
	}
	return FormatYAML
}

// yamlToJSON converts raw bytes from YAML format to JSON bytes:
// YAML -> any -> JSON bytes -> typed document.
func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	// yaml.v3 decodes string-keyed mappings to map[string]any, which is
	// JSON-compatible; anything else fails to marshal below.
	out, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("converting YAML: %w", err)
	}
	return out, nil
}

// toJSON converts data to JSON bytes according to its format.
func toJSON(data []byte, path string) ([]byte, error) {
	if DetectFormat(data, path) == FormatYAML {
		return yamlToJSON(data)
	}
	return data, nil
}
