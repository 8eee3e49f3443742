package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/nodegate/pkg/domain"
)

// Issue is a defect found in a template. None of them stop the template from
// being served; they predict a rejected or partially applied request.
type Issue struct {
	NodeID  string
	Message string
}

func (i Issue) String() string {
	return fmt.Sprintf("node %s: %s", i.NodeID, i.Message)
}

// ValidateGraph checks for broken links and tags that will not behave as written.
func ValidateGraph(g domain.Graph) []Issue {
	var issues []Issue

	for _, id := range g.IDs() {
		node, _ := g.Node(id)

		// Inspect Edges
		inputs := make([]string, 0, len(node.Inputs))
		for name := range node.Inputs {
			inputs = append(inputs, name)
		}
		sort.Strings(inputs)
		for _, name := range inputs {
			edge, ok := domain.AsEdge(node.Inputs[name])
			if ok && !g.Has(edge.NodeID) {
				issues = append(issues, Issue{id, fmt.Sprintf("input %q points at missing node %s", name, edge.NodeID)})
			}
		}

		// Inspect Tags
		for _, tag := range g.TagsOf(id) {
			switch {
			case !tag.Valid():
				issues = append(issues, Issue{id, fmt.Sprintf("malformed tag %q is ignored", tag.Raw)})
			case tag.Kind == domain.TagInternal && tag.Token() != domain.TagBypass && tag.Token() != domain.TagCache:
				issues = append(issues, Issue{id, fmt.Sprintf("unknown tag %q has no effect", tag.Raw)})
			case tag.Kind == domain.TagInput && tag.Filters.Mode == domain.FilterSet:
				for _, name := range tag.Filters.Names {
					if _, ok := node.Inputs[name]; !ok {
						issues = append(issues, Issue{id, fmt.Sprintf("tag %s exposes %q, which the node does not have", tag.Token(), name)})
					}
				}
			}
		}
	}

	return issues
}

// Validate returns ValidateGraph as a single error, or nil for a clean template.
func Validate(g domain.Graph) error {
	issues := ValidateGraph(g)
	if len(issues) == 0 {
		return nil
	}
	lines := make([]string, len(issues))
	for i, issue := range issues {
		lines[i] = issue.String()
	}
	return fmt.Errorf("found %d errors:\n- %s", len(issues), strings.Join(lines, "\n- "))
}
