package config

import (
	"fmt"
	"iter"

	"gopkg.in/yaml.v3"
)

// OrderedMap is a string-keyed mapping that remembers insertion order.
// It decodes from a YAML mapping and preserves the order of its keys.
type OrderedMap[V any] struct {
	keys   []string
	values map[string]V
}

// NewOrderedMap creates an empty OrderedMap.
func NewOrderedMap[V any]() *OrderedMap[V] {
	return &OrderedMap[V]{values: make(map[string]V)}
}

// Set stores v under key. A new key is appended; an existing key keeps
// its position.
func (m *OrderedMap[V]) Set(key string, v V) {
	if m.values == nil {
		m.values = make(map[string]V)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
}

// Get returns the value stored under key.
func (m *OrderedMap[V]) Get(key string) (V, bool) {
	var zero V
	if m == nil {
		return zero, false
	}
	v, ok := m.values[key]
	return v, ok
}

// Keys returns the keys in order.
func (m *OrderedMap[V]) Keys() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.keys...)
}

// Len returns the number of entries.
func (m *OrderedMap[V]) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// All iterates entries in order.
func (m *OrderedMap[V]) All() iter.Seq2[string, V] {
	return func(yield func(string, V) bool) {
		if m == nil {
			return
		}
		for _, k := range m.keys {
			if !yield(k, m.values[k]) {
				return
			}
		}
	}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *OrderedMap[V]) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", node.Line)
	}

	m.keys = make([]string, 0, len(node.Content)/2)
	m.values = make(map[string]V, len(node.Content)/2)

	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valueNode := node.Content[i], node.Content[i+1]
		var v V
		if err := valueNode.Decode(&v); err != nil {
			return fmt.Errorf("%s: %w", keyNode.Value, err)
		}
		m.Set(keyNode.Value, v)
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (m OrderedMap[V]) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range m.keys {
		var valueNode yaml.Node
		if err := valueNode.Encode(m.values[k]); err != nil {
			return nil, err
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
			&valueNode,
		)
	}
	return node, nil
}

// StringList decodes from either a single string or a sequence of strings.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*l = list
		return nil
	default:
		return fmt.Errorf("line %d: expected a string or a list of strings", node.Line)
	}
}

// Params holds the free-form parameters of a condition or an action.
type Params map[string]any

// Decode converts the parameters into v by re-encoding them as YAML, so v
// can use yaml struct tags and types such as Duration.
func (p Params) Decode(v any) error {
	if len(p) == 0 {
		return nil
	}
	data, err := yaml.Marshal(map[string]any(p))
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, v)
}

// String returns the string parameter under key, or "".
func (p Params) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Condition is a named predicate with its parameters. The name key is
// removed from Params.
type Condition struct {
	Name   string
	Params Params
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *Condition) UnmarshalYAML(node *yaml.Node) error {
	name, params, err := decodeNamed(node)
	if err != nil {
		return err
	}
	c.Name, c.Params = name, params
	return nil
}

// ConditionFromValue builds a Condition from an already decoded value,
// such as the entries of an allOf parameter list.
func ConditionFromValue(v any) (*Condition, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("condition must be a mapping, got %T", v)
	}
	params := make(Params, len(m))
	for k, val := range m {
		params[k] = val
	}
	name, ok := params["name"].(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("condition name is required")
	}
	delete(params, "name")
	return &Condition{Name: name, Params: params}, nil
}

// ActionConfig is a named action with its parameters. The name key is
// removed from Params.
type ActionConfig struct {
	Name   string
	Params Params
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *ActionConfig) UnmarshalYAML(node *yaml.Node) error {
	name, params, err := decodeNamed(node)
	if err != nil {
		return err
	}
	a.Name, a.Params = name, params
	return nil
}

func decodeNamed(node *yaml.Node) (string, Params, error) {
	if node.Kind != yaml.MappingNode {
		return "", nil, fmt.Errorf("line %d: expected a mapping with a name", node.Line)
	}
	var params Params
	if err := node.Decode(&params); err != nil {
		return "", nil, err
	}
	var name string
	if raw, ok := params["name"]; ok {
		s, isString := raw.(string)
		if !isString {
			return "", nil, fmt.Errorf("line %d: name must be a string", node.Line)
		}
		name = s
		delete(params, "name")
	}
	return name, params, nil
}

// PolicyStep is one conditional action inside a policy group.
type PolicyStep struct {
	Condition *Condition   `yaml:"condition,omitempty"`
	Action    ActionConfig `yaml:"action"`
}

// PolicyGroup is a named, ordered list of steps. The name selects the
// action namespace the steps are resolved in.
type PolicyGroup struct {
	Name  string
	Steps []PolicyStep
}

// PolicyGroups is the ordered policy list of a pipeline. It decodes from
// a mapping of group name to steps or from a list of single-key mappings.
type PolicyGroups []PolicyGroup

// UnmarshalYAML implements yaml.Unmarshaler.
func (g *PolicyGroups) UnmarshalYAML(node *yaml.Node) error {
	var groups PolicyGroups

	switch node.Kind {
	case yaml.MappingNode:
		parsed, err := decodeGroupMapping(node)
		if err != nil {
			return err
		}
		groups = parsed
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if item.Kind != yaml.MappingNode {
				return fmt.Errorf("line %d: policy entry must be a mapping", item.Line)
			}
			parsed, err := decodeGroupMapping(item)
			if err != nil {
				return err
			}
			groups = append(groups, parsed...)
		}
	default:
		return fmt.Errorf("line %d: policies must be a mapping or a list", node.Line)
	}

	*g = groups
	return nil
}

func decodeGroupMapping(node *yaml.Node) (PolicyGroups, error) {
	groups := make(PolicyGroups, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valueNode := node.Content[i], node.Content[i+1]
		var steps []PolicyStep
		if valueNode.Tag != "!!null" {
			if err := valueNode.Decode(&steps); err != nil {
				return nil, fmt.Errorf("policy %s: %w", keyNode.Value, err)
			}
		}
		groups = append(groups, PolicyGroup{Name: keyNode.Value, Steps: steps})
	}
	return groups, nil
}

// Names returns the group names in order.
func (g PolicyGroups) Names() []string {
	names := make([]string, len(g))
	for i := range g {
		names[i] = g[i].Name
	}
	return names
}
