package format

import (
	"io"

	"gopkg.in/yaml.v3"
)

// YAML renders rows as a sequence of mappings, keys in column order.
//
//plug:socket Formatter
type YAML struct {
	Indent int
}

func (YAML) Name() string        { return "yaml" }
func (YAML) Description() string { return "sequence of YAML mappings, one per row" }

func (y YAML) Render(w io.Writer, t Table) error {
	doc := &yaml.Node{Kind: yaml.SequenceNode}
	for _, rec := range records(t) {
		m := &yaml.Node{Kind: yaml.MappingNode}
		for _, kv := range rec {
			m.Content = append(m.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: kv[0]},
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: kv[1]},
			)
		}
		doc.Content = append(doc.Content, m)
	}
	enc := yaml.NewEncoder(w)
	if y.Indent > 0 {
		enc.SetIndent(y.Indent)
	}
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}
