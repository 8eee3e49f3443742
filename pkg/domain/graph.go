package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Graph is a node graph keyed by node id.
// The zero value is an empty graph ready to use.
type Graph struct {
	nodes map[string]*Node
}

// NewGraph builds a Graph from a node map. The map is taken over, not copied.
func NewGraph(nodes map[string]*Node) Graph {
	if nodes == nil {
		nodes = make(map[string]*Node)
	}
	return Graph{nodes: nodes}
}

// ParseGraph decodes a serialized graph. Numbers are kept as json.Number so integer
// inputs survive a save/load round trip.
func ParseGraph(data []byte) (Graph, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var nodes map[string]*Node
	if err := dec.Decode(&nodes); err != nil {
		return Graph{}, fmt.Errorf("failed to decode graph: %w", err)
	}
	for id, n := range nodes {
		if n == nil {
			return Graph{}, fmt.Errorf("node %q is null", id)
		}
	}
	return NewGraph(nodes), nil
}

// MarshalJSON encodes the graph as the backend expects it: an object of nodes.
func (g Graph) MarshalJSON() ([]byte, error) {
	if g.nodes == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(g.nodes)
}

// UnmarshalJSON decodes an object of nodes.
func (g *Graph) UnmarshalJSON(data []byte) error {
	parsed, err := ParseGraph(data)
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

// Len returns the number of nodes.
func (g Graph) Len() int {
	return len(g.nodes)
}

// Node returns the node with the given id.
func (g Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Has reports whether a node id is present.
func (g Graph) Has(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// IDs returns node ids in a stable order: numeric ids ascending, then the rest lexically.
func (g Graph) IDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// Set inserts or replaces a node.
func (g *Graph) Set(id string, n *Node) {
	if g.nodes == nil {
		g.nodes = make(map[string]*Node)
	}
	g.nodes[id] = n
}

// Remove deletes a node and returns it.
func (g *Graph) Remove(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	if ok {
		delete(g.nodes, id)
	}
	return n, ok
}

// Clone returns a deep copy. Rewrites on the copy never reach the original.
func (g Graph) Clone() Graph {
	nodes := make(map[string]*Node, len(g.nodes))
	for id, n := range g.nodes {
		nodes[id] = n.Clone()
	}
	return Graph{nodes: nodes}
}

func sortIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		}
		return ids[i] < ids[j]
	})
}
