package vault

import (
	"bytes"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const fence = "---"

// splitFrontmatter separates a leading YAML block from the body. ok is false
// when the note has no frontmatter, in which case body is the whole content.
func splitFrontmatter(content string) (front, body string, ok bool) {
	first, rest, found := strings.Cut(content, "\n")
	if !found || strings.TrimRight(first, "\r") != fence {
		return "", content, false
	}
	offset := 0
	for {
		line, next, more := strings.Cut(rest[offset:], "\n")
		if strings.TrimRight(line, "\r") == fence {
			front = rest[:offset]
			if more {
				return front, next, true
			}
			return front, "", true
		}
		if !more {
			return "", content, false
		}
		offset += len(line) + 1
	}
}

// ReadMeta decodes the frontmatter of a note. A note without frontmatter
// has empty metadata.
func (v *Vault) ReadMeta(p string) (map[string]any, error) {
	content, err := v.Read(p)
	if err != nil {
		return nil, err
	}
	front, _, ok := splitFrontmatter(content)
	meta := make(map[string]any)
	if !ok {
		return meta, nil
	}
	if err := yaml.Unmarshal([]byte(front), &meta); err != nil {
		return nil, fmt.Errorf("failed to parse frontmatter of %s: %w", p, err)
	}
	if meta == nil {
		meta = make(map[string]any)
	}
	return meta, nil
}

// WriteMeta applies fn to the frontmatter of a note and writes it back. Keys
// keep their order and formatting unless fn changes their value; new keys
// are appended in sorted order. The body is left byte for byte as it was.
func (v *Vault) WriteMeta(p string, fn func(meta map[string]any) error) error {
	return v.Edit(p, func(content string) (string, error) {
		return editMeta(p, content, fn)
	})
}

func editMeta(p, content string, fn func(meta map[string]any) error) (string, error) {
	front, body, _ := splitFrontmatter(content)

	mapping := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	if strings.TrimSpace(front) != "" {
		var doc yaml.Node
		if err := yaml.Unmarshal([]byte(front), &doc); err != nil {
			return "", fmt.Errorf("failed to parse frontmatter of %s: %w", p, err)
		}
		if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
			return "", fmt.Errorf("frontmatter of %s is not a mapping", p)
		}
		mapping = doc.Content[0]
	}

	meta := make(map[string]any)
	if err := mapping.Decode(&meta); err != nil {
		return "", fmt.Errorf("failed to decode frontmatter of %s: %w", p, err)
	}
	before := make(map[string]any, len(meta))
	for k, val := range meta {
		before[k] = val
	}
	if err := fn(meta); err != nil {
		return "", err
	}

	if err := mergeMapping(mapping, before, meta); err != nil {
		return "", fmt.Errorf("failed to encode frontmatter of %s: %w", p, err)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(mapping); err != nil {
		return "", fmt.Errorf("failed to encode frontmatter of %s: %w", p, err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to encode frontmatter of %s: %w", p, err)
	}

	return fence + "\n" + buf.String() + fence + "\n" + body, nil
}

// mergeMapping rewrites the key/value pairs of mapping to match after.
func mergeMapping(mapping *yaml.Node, before, after map[string]any) error {
	seen := make(map[string]bool, len(after))
	var content []*yaml.Node
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key, val := mapping.Content[i], mapping.Content[i+1]
		newVal, keep := after[key.Value]
		if !keep {
			continue
		}
		seen[key.Value] = true
		if !reflect.DeepEqual(before[key.Value], newVal) {
			node, err := valueNode(newVal)
			if err != nil {
				return err
			}
			val = node
		}
		content = append(content, key, val)
	}

	var added []string
	for k := range after {
		if !seen[k] {
			added = append(added, k)
		}
	}
	sort.Strings(added)
	for _, k := range added {
		node, err := valueNode(after[k])
		if err != nil {
			return err
		}
		content = append(content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}, node)
	}
	mapping.Content = content
	return nil
}

func valueNode(v any) (*yaml.Node, error) {
	var node yaml.Node
	if err := node.Encode(v); err != nil {
		return nil, err
	}
	return &node, nil
}
