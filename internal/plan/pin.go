package plan

import (
	"bytes"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Pin rewrites the sha256 of the named archives in a plan document, keeping
// comments and key order. digests maps archive names to hex digests. Archives
// missing from the document are an error.
func Pin(data []byte, digests map[string]string) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "decode plan")
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, eris.New("empty plan")
	}
	archives := mappingValue(doc.Content[0], "archives")
	if archives == nil || archives.Kind != yaml.SequenceNode {
		return nil, eris.New("plan has no archives list")
	}

	pending := make(map[string]string, len(digests))
	for k, v := range digests {
		pending[k] = v
	}
	for _, item := range archives.Content {
		if item.Kind != yaml.MappingNode {
			continue
		}
		name := mappingValue(item, "name")
		if name == nil {
			continue
		}
		sum, ok := pending[name.Value]
		if !ok {
			continue
		}
		delete(pending, name.Value)
		setScalar(item, "sha256", sum)
	}
	for name := range pending {
		return nil, eris.Errorf("archive %q not found in plan", name)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, eris.Wrap(err, "encode plan")
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	if m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func setScalar(m *yaml.Node, key, value string) {
	if v := mappingValue(m, key); v != nil {
		v.Kind = yaml.ScalarNode
		v.Tag = "!!str"
		v.Style = yaml.DoubleQuotedStyle
		v.Value = value
		return
	}
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Style: yaml.DoubleQuotedStyle, Value: value},
	)
}
