package index

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// ReadManifest returns the index value from the manifest in fsys. A missing
// manifest or key reports present == false.
func ReadManifest(fsys fs.FS) (value string, present bool, err error) {
	data, err := fs.ReadFile(fsys, ManifestFile)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading manifest: %w", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return "", false, fmt.Errorf("parsing manifest: %w", err)
	}
	raw, ok := m[Attribute]
	if !ok || raw == nil {
		return "", false, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", false, fmt.Errorf("manifest %s must be a string, got %T", Attribute, raw)
	}
	return s, true, nil
}

// UpdateManifest sets the index attribute in the manifest at path, keeping
// every other key and comment. An empty value removes the attribute. The
// file is only rewritten when its bytes would change.
func UpdateManifest(path, value string) (changed bool, err error) {
	old, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("reading manifest: %w", err)
	}

	var doc yaml.Node
	if len(bytes.TrimSpace(old)) > 0 {
		if err := yaml.Unmarshal(old, &doc); err != nil {
			return false, fmt.Errorf("parsing manifest: %w", err)
		}
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return false, fmt.Errorf("manifest %s is not a mapping", path)
	}
	setAttribute(root, value)
	if len(root.Content) == 0 && len(bytes.TrimSpace(old)) == 0 {
		return false, nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return false, fmt.Errorf("encoding manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return false, fmt.Errorf("encoding manifest: %w", err)
	}
	if bytes.Equal(old, buf.Bytes()) {
		return false, nil
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return false, fmt.Errorf("writing manifest: %w", err)
	}
	return true, nil
}

func setAttribute(m *yaml.Node, value string) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value != Attribute {
			continue
		}
		if value == "" {
			m.Content = append(m.Content[:i], m.Content[i+2:]...)
			return
		}
		m.Content[i+1] = scalar(value)
		return
	}
	if value != "" {
		m.Content = append(m.Content, scalar(Attribute), scalar(value))
	}
}

func scalar(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}
