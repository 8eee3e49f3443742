package domain

import "sort"

// TaggedNode is a node whose title carries at least one tag token.
type TaggedNode struct {
	ID   string
	Node *Node
	Tags []Tag
}

// HasToken reports whether any of the node tags matches token (sigil+name).
func (t TaggedNode) HasToken(token string) bool {
	for _, tag := range t.Tags {
		if tag.Valid() && tag.Token() == token {
			return true
		}
	}
	return false
}

// CachedNode is a "!cache" node owned by one template and shared with the others.
type CachedNode struct {
	Owner string `json:"workflow_name"`
	Node  *Node  `json:"node"`
}

// TaggedNodes lists tagged nodes in id order. With a non-empty filter only nodes
// carrying that exact token are returned.
func (g Graph) TaggedNodes(filter string) []TaggedNode {
	var out []TaggedNode
	for _, id := range g.IDs() {
		n := g.nodes[id]
		tags := ScanTags(n.Title())
		if len(tags) == 0 {
			continue
		}
		tn := TaggedNode{ID: id, Node: n, Tags: tags}
		if filter != "" && !tn.HasToken(filter) {
			continue
		}
		out = append(out, tn)
	}
	return out
}

// TagsOf returns the tags of a node, or an empty slice.
func (g Graph) TagsOf(id string) []Tag {
	n, ok := g.nodes[id]
	if !ok {
		return []Tag{}
	}
	tags := ScanTags(n.Title())
	if tags == nil {
		return []Tag{}
	}
	return tags
}

// TaggedInputs groups the inputs exposed by "$name" tags:
//
//	{"sampler": {"seed": "int", "steps": "int"}}
//
// A tag with empty parentheses still gets an (empty) entry. When two nodes share a tag
// and an input key, the later node in id order wins.
func (g Graph) TaggedInputs() map[string]map[string]string {
	inputs := make(map[string]map[string]string)
	for _, tn := range g.TaggedNodes("") {
		for _, tag := range tn.Tags {
			if tag.Kind != TagInput {
				continue
			}
			bucket, ok := inputs[tag.Name]
			if !ok {
				bucket = make(map[string]string)
				inputs[tag.Name] = bucket
			}
			for key, value := range tn.Node.Inputs {
				if tag.Allows(key) {
					bucket[key] = TypeName(value)
				}
			}
		}
	}
	return inputs
}

// TaggedOutputs returns the sorted, unique names of "#name" tags.
func (g Graph) TaggedOutputs() []string {
	seen := make(map[string]struct{})
	for _, tn := range g.TaggedNodes("") {
		for _, tag := range tn.Tags {
			if tag.Kind == TagOutput {
				seen[tag.Name] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
