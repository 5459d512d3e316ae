package acquisition

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema/acquisition-list-v1.json
var listSchemaJSON string

var listSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("acquisition-list-v1.json", strings.NewReader(listSchemaJSON)); err != nil {
		panic(fmt.Sprintf("failed to add schema resource: %v", err))
	}
	schema, err := compiler.Compile("acquisition-list-v1.json")
	if err != nil {
		panic(fmt.Sprintf("failed to compile schema: %v", err))
	}
	return schema
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load reads a list saved by Save. Files ending in .yaml or .yml are read as
// YAML, everything else as JSON. Fields missing from an entry take the entry
// defaults.
func Load(path string) (*List, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read acquisition list: %w", err)
	}

	if isYAML(path) {
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, err
		}
	}

	return Decode(data)
}

// Decode validates a JSON encoded list and builds it.
func Decode(data []byte) (*List, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := listSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("invalid acquisition list: %w", err)
	}

	entries := make([]Entry, 0, len(raws))
	for i, raw := range raws {
		e := NewEntry()
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		entries = append(entries, e)
	}

	return FromEntries(entries)
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert YAML: %w", err)
	}
	return out, nil
}

// Save writes the list to path, as YAML or JSON depending on the extension.
func Save(l *List, path string) error {
	var (
		data []byte
		err  error
	)

	if isYAML(path) {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err = enc.Encode(l.entries); err == nil {
			err = enc.Close()
		}
		data = buf.Bytes()
	} else {
		data, err = json.MarshalIndent(l.entries, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode acquisition list: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write acquisition list: %w", err)
	}
	return nil
}
