package domain

import (
	"encoding/json"
	"math"
)

// Node represents one operation in a Graph.
// The JSON shape matches the backend "API format": class_type, inputs and _meta.title.
type Node struct {
	ClassType string         `json:"class_type" yaml:"class_type"`
	Inputs    map[string]any `json:"inputs" yaml:"inputs"`
	Meta      NodeMeta       `json:"_meta,omitempty" yaml:"_meta,omitempty"`
}

// NodeMeta holds display metadata. Only the title is meaningful to nodegate.
type NodeMeta struct {
	Title string `json:"title,omitempty" yaml:"title,omitempty"`
}

// Title returns the display title carrying the tags.
func (n *Node) Title() string {
	if n == nil {
		return ""
	}
	return n.Meta.Title
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := &Node{
		ClassType: n.ClassType,
		Meta:      n.Meta,
	}
	if n.Inputs != nil {
		c.Inputs = make(map[string]any, len(n.Inputs))
		for k, v := range n.Inputs {
			c.Inputs[k] = cloneValue(v)
		}
	}
	return c
}

// Edge is an input value referencing an output slot of another node.
type Edge struct {
	NodeID string
	Slot   int
}

// AsEdge reports whether an input value is an edge reference ([nodeID, slot]).
func AsEdge(v any) (Edge, bool) {
	list, ok := v.([]any)
	if !ok || len(list) != 2 {
		return Edge{}, false
	}
	id, ok := list[0].(string)
	if !ok {
		return Edge{}, false
	}
	slot, ok := asInt(list[1])
	if !ok {
		return Edge{}, false
	}
	return Edge{NodeID: id, Slot: slot}, true
}

// Value returns the input representation of the edge.
func (e Edge) Value() []any {
	return []any{e.NodeID, e.Slot}
}

// TypeName classifies an input value the way templates describe them to callers:
// int, float, str, bool, list, dict or null.
func TypeName(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case string:
		return "str"
	case json.Number:
		if _, err := x.Int64(); err == nil {
			return "int"
		}
		return "float"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "int"
	case float32, float64:
		return "float"
	case []any:
		return "list"
	case map[string]any:
		return "dict"
	}
	return "str"
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		if x == math.Trunc(x) {
			return int(x), true
		}
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, vv := range x {
			m[k] = cloneValue(vv)
		}
		return m
	case []any:
		l := make([]any, len(x))
		for i, vv := range x {
			l[i] = cloneValue(vv)
		}
		return l
	}
	return v
}
