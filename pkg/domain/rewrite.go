package domain

import (
	"sort"
	"strconv"
	"strings"
)

// Rewire records an edge that was reconnected past a bypassed node.
type Rewire struct {
	NodeID  string // node owning the input
	Input   string
	Removed string // bypassed node id
	To      any    // new edge value
}

// DanglingEdge records an edge left pointing at a bypassed node.
type DanglingEdge struct {
	NodeID  string
	Input   string
	Removed string
}

// BypassReport describes what a Bypass call changed.
type BypassReport struct {
	Removed  []string
	Rewired  []Rewire
	Dangling []DanglingEdge
}

// SetTaggedInput writes value into input of every node tagged "$tag".
// Every check runs before the first write so a rejected call leaves the graph untouched.
func (g *Graph) SetTaggedInput(tag, input string, value any) error {
	declared, ok := g.TaggedInputs()[tag]
	if !ok || len(declared) == 0 {
		return &ConfigurationError{Tag: tag, Reason: "no inputs available for this tag"}
	}
	if _, ok := declared[input]; !ok {
		return &ConfigurationError{Tag: tag, Input: input, Reason: "input is not exposed by this tag"}
	}

	targets := g.TaggedNodes(SigilInput + tag)
	if len(targets) == 0 {
		return &ConfigurationError{Tag: tag, Reason: "no node carries this tag"}
	}
	for _, tn := range targets {
		if _, ok := tn.Node.Inputs[input]; !ok {
			return &ConfigurationError{Tag: tag, Input: input, NodeID: tn.ID, Reason: "node has no such input"}
		}
	}

	for _, tn := range targets {
		tn.Node.Inputs[input] = cloneValue(value)
	}
	return nil
}

// Bypass removes every node carrying token and reconnects its consumers to the
// matching inbound wire of the removed node.
//
// Wires are matched by a normalized singular input name ("images" on the consumer
// matches "image" on the removed node). This is a naming heuristic: consumers with no
// match keep a dangling edge, which is reported and left for the backend to reject.
func (g *Graph) Bypass(token string) BypassReport {
	var report BypassReport
	for {
		// removal can change which nodes match, so look again every round
		matches := g.TaggedNodes(token)
		if len(matches) == 0 {
			return report
		}
		target := matches[0]

		wires := make(map[string]any)
		for _, key := range sortedKeys(target.Node.Inputs) {
			v := target.Node.Inputs[key]
			if _, ok := AsEdge(v); !ok {
				continue
			}
			norm := normalizeWire(key)
			if _, taken := wires[norm]; !taken {
				wires[norm] = v
			}
		}

		g.Remove(target.ID)
		report.Removed = append(report.Removed, target.ID)

		for _, id := range g.IDs() {
			n := g.nodes[id]
			for _, key := range sortedKeys(n.Inputs) {
				edge, ok := AsEdge(n.Inputs[key])
				if !ok || edge.NodeID != target.ID {
					continue
				}
				if wire, found := wires[normalizeWire(key)]; found {
					n.Inputs[key] = cloneValue(wire)
					report.Rewired = append(report.Rewired, Rewire{NodeID: id, Input: key, Removed: target.ID, To: wire})
					continue
				}
				report.Dangling = append(report.Dangling, DanglingEdge{NodeID: id, Input: key, Removed: target.ID})
			}
		}
	}
}

// Merge inserts copies of cached nodes under ids above floor (floor+1, floor+2, ...),
// skipping ids the host graph already uses. It returns the allocated ids.
func (g *Graph) Merge(cached []CachedNode, floor int) []string {
	ids := make([]string, 0, len(cached))
	key := floor
	for _, c := range cached {
		if c.Node == nil {
			continue
		}
		key++
		for g.Has(strconv.Itoa(key)) {
			key++
		}
		id := strconv.Itoa(key)
		g.Set(id, c.Node.Clone())
		ids = append(ids, id)
	}
	return ids
}

func normalizeWire(name string) string {
	return strings.TrimSuffix(strings.ToLower(name), "s")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
