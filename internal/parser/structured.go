package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sort"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/jenian/confgrd/internal/model"
)

// flattenEntries turns a document tree into entries. Keys are emitted in
// sorted order at every level. A document whose root is not a mapping
// yields no entries.
func flattenEntries(root model.Value, file string, format model.Format) []model.NormalizedEntry {
	entries := []model.NormalizedEntry{}
	if root.Kind != model.KindObject {
		return entries
	}
	flatten("", root, func(key string, leaf model.Value) {
		entries = append(entries, newEntry(key, leaf, file, format))
	})
	return entries
}

// flatten walks nested objects and calls emit for every non-object value.
// Arrays are leaves; they are never expanded into indexed keys.
func flatten(prefix string, obj model.Value, emit func(key string, leaf model.Value)) {
	keys := make([]string, 0, len(obj.Object))
	for k := range obj.Object {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		child := obj.Object[k]
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if child.Kind == model.KindObject {
			flatten(key, child, emit)
			continue
		}
		emit(key, child)
	}
}

// jsonToValue decodes a single JSON document, keeping numbers textual
func jsonToValue(data []byte) (model.Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return model.Value{}, err
	}
	// Trailing content after the document is malformed JSON
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return model.Value{}, fmt.Errorf("unexpected data after top-level value")
	}
	return model.FromAny(raw), nil
}

// tomlToValue decodes a TOML document. Datetimes become their string form,
// arrays are converted element by element.
func tomlToValue(data []byte) (model.Value, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return model.Value{}, err
	}
	return convertTOML(raw), nil
}

func convertTOML(x any) model.Value {
	switch t := x.(type) {
	case map[string]any:
		fields := make(map[string]model.Value, len(t))
		for k, v := range t {
			fields[k] = convertTOML(v)
		}
		return model.NewObject(fields)
	case []any:
		items := make([]model.Value, 0, len(t))
		for _, v := range t {
			items = append(items, convertTOML(v))
		}
		return model.NewArray(items)
	case []map[string]any:
		items := make([]model.Value, 0, len(t))
		for _, v := range t {
			items = append(items, convertTOML(v))
		}
		return model.NewArray(items)
	case time.Time:
		return model.NewString(t.Format(time.RFC3339Nano))
	case toml.LocalDateTime:
		return model.NewString(t.String())
	case toml.LocalDate:
		return model.NewString(t.String())
	case toml.LocalTime:
		return model.NewString(t.String())
	default:
		return model.FromAny(t)
	}
}

// yamlToValue decodes the first YAML document through the node API so that
// tags, aliases and merge keys are handled at this boundary. An empty
// document is an empty mapping.
func yamlToValue(data []byte) (model.Value, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return model.Value{}, err
	}
	if doc.Kind == 0 {
		return model.NewObject(nil), nil
	}
	return convertYAML(&doc, 0)
}

// maxYAMLDepth bounds alias expansion
const maxYAMLDepth = 512

func convertYAML(n *yaml.Node, depth int) (model.Value, error) {
	if depth > maxYAMLDepth {
		return model.Value{}, fmt.Errorf("document nested too deeply (line %d)", n.Line)
	}

	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return model.NewNull(), nil
		}
		return convertYAML(n.Content[0], depth+1)
	case yaml.AliasNode:
		if n.Alias == nil {
			return model.NewNull(), nil
		}
		return convertYAML(n.Alias, depth+1)
	case yaml.SequenceNode:
		items := make([]model.Value, 0, len(n.Content))
		for _, child := range n.Content {
			item, err := convertYAML(child, depth+1)
			if err != nil {
				return model.Value{}, err
			}
			items = append(items, item)
		}
		return model.NewArray(items), nil
	case yaml.MappingNode:
		return convertYAMLMapping(n, depth)
	case yaml.ScalarNode:
		return convertYAMLScalar(n), nil
	default:
		return model.NewNull(), nil
	}
}

// convertYAMLMapping keeps only string keys. Merge keys ("<<") contribute
// the fields of the merged mapping(s) that are not set explicitly.
func convertYAMLMapping(n *yaml.Node, depth int) (model.Value, error) {
	fields := make(map[string]model.Value, len(n.Content)/2)
	merged := map[string]model.Value{}

	for i := 0; i+1 < len(n.Content); i += 2 {
		keyNode, valueNode := n.Content[i], n.Content[i+1]

		if keyNode.ShortTag() == "!!merge" {
			if err := collectMerge(valueNode, depth, merged); err != nil {
				return model.Value{}, err
			}
			continue
		}
		if keyNode.Kind != yaml.ScalarNode || keyNode.ShortTag() != "!!str" {
			continue
		}

		value, err := convertYAML(valueNode, depth+1)
		if err != nil {
			return model.Value{}, err
		}
		fields[keyNode.Value] = value
	}

	for k, v := range merged {
		if _, exists := fields[k]; !exists {
			fields[k] = v
		}
	}
	return model.NewObject(fields), nil
}

func collectMerge(n *yaml.Node, depth int, into map[string]model.Value) error {
	if n.Kind == yaml.SequenceNode {
		// Earlier mappings in the list take precedence
		for _, child := range n.Content {
			if err := collectMerge(child, depth+1, into); err != nil {
				return err
			}
		}
		return nil
	}

	value, err := convertYAML(n, depth+1)
	if err != nil {
		return err
	}
	if value.Kind != model.KindObject {
		return fmt.Errorf("line %d: merge value is not a mapping", n.Line)
	}
	for k, v := range value.Object {
		if _, exists := into[k]; !exists {
			into[k] = v
		}
	}
	return nil
}

func convertYAMLScalar(n *yaml.Node) model.Value {
	switch n.ShortTag() {
	case "!!null":
		return model.NewNull()
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err == nil {
			return model.NewBool(b)
		}
	case "!!int":
		var i int64
		if err := n.Decode(&i); err == nil {
			return model.NewInt(i)
		}
		var u uint64
		if err := n.Decode(&u); err == nil {
			return model.NewUint(u)
		}
		if bi, ok := new(big.Int).SetString(n.Value, 0); ok {
			return model.NewNumber(json.Number(bi.String()))
		}
	case "!!float":
		var f float64
		if err := n.Decode(&f); err == nil {
			return model.NewFloat(f)
		}
		if f, err := strconv.ParseFloat(n.Value, 64); err == nil {
			return model.NewFloat(f)
		}
	case "!!str":
		return model.NewString(n.Value)
	}
	// Timestamps, binary and custom tags have no portable form
	return model.NewOpaque(n.Value)
}
