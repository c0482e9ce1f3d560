// Package scyllayaml loads, merges and persists the scylla.yaml
// configuration file while preserving the key order and comments of the
// template it was derived from.
package scyllayaml

import (
	"bytes"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

// Document is a scylla.yaml file held as a YAML mapping. Keys keep the
// order of the file the document was loaded from; new keys are appended
// at the end.
type Document struct {
	mapping *yaml.Node
}

// Parse parses raw YAML into a Document. The top level must be a
// mapping; an empty input yields an empty document.
func Parse(data []byte) (*Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if root.Kind == 0 || len(root.Content) == 0 {
		return &Document{mapping: &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}}, nil
	}

	mapping := root.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected a mapping at the top level, got %s", mapping.Tag)
	}

	return &Document{mapping: mapping}, nil
}

// Load reads and parses a scylla.yaml file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return doc, nil
}

// Get returns the value node of a top-level key.
func (d *Document) Get(key string) (*yaml.Node, bool) {
	n := mappingValue(d.mapping, key)
	return n, n != nil
}

// Has reports whether a top-level key is present.
func (d *Document) Has(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Decode decodes the value of a top-level key into out.
func (d *Document) Decode(key string, out any) error {
	n, ok := d.Get(key)
	if !ok {
		return fmt.Errorf("key %s not present", key)
	}
	if err := n.Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

// Set replaces the value of a top-level key. Absent keys are appended
// at the end of the document.
func (d *Document) Set(key string, value any) error {
	v := &yaml.Node{}
	if value == nil {
		v.Kind = yaml.ScalarNode
		v.Tag = "!!null"
		v.Value = "null"
	} else if err := v.Encode(value); err != nil {
		return fmt.Errorf("failed to encode value for %s: %w", key, err)
	}

	content := d.mapping.Content
	for i := 0; i+1 < len(content); i += 2 {
		if content[i].Value == key {
			content[i+1] = v
			return nil
		}
	}

	k := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
	d.mapping.Content = append(d.mapping.Content, k, v)
	return nil
}

// Keys returns the top-level keys in document order.
func (d *Document) Keys() []string {
	content := d.mapping.Content
	keys := make([]string, 0, len(content)/2)
	for i := 0; i+1 < len(content); i += 2 {
		keys = append(keys, content[i].Value)
	}
	return keys
}

// Marshal serializes the document back to YAML.
func (d *Document) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d.mapping); err != nil {
		return nil, fmt.Errorf("failed to serialize configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to serialize configuration: %w", err)
	}
	return buf.Bytes(), nil
}

// Save writes the document to path. The write is atomic so a crash
// mid-write never leaves a torn scylla.yaml behind.
func (d *Document) Save(path string) error {
	data, err := d.Marshal()
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// mappingValue returns the value node for key inside a mapping node.
func mappingValue(mapping *yaml.Node, key string) *yaml.Node {
	if mapping == nil || mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}
