package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/nodegate/pkg/domain"
)

// GraphOverlay marks nodes to highlight, such as cache nodes merged into a request graph.
type GraphOverlay struct {
	Highlighted []string
}

// GenerateMermaid produces a Mermaid flowchart from a template graph.
// It applies semantic styling from the node tags:
// - Input ($name): [/Parallelogram/]
// - Output (#name): [[Subroutine]]
// - Cache (!cache): ((Circle))
// - Bypass (!bypass): dashed border
// - Default: [Rectangle]
// Edges point from the producing node to the consumer and carry the input name.
func GenerateMermaid(g domain.Graph, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph LR\n")

	var bypassed []string
	for _, id := range g.IDs() {
		node, _ := g.Node(id)
		safeID := sanitizeMermaidID(id)
		tags := g.TagsOf(id)

		opener, closer := "[", "]"
		switch {
		case hasToken(tags, domain.TagCache):
			opener, closer = "((", "))"
		case hasKind(tags, domain.TagInput):
			opener, closer = "[/", "/]"
		case hasKind(tags, domain.TagOutput):
			opener, closer = "[[", "]]"
		}
		if hasToken(tags, domain.TagBypass) {
			bypassed = append(bypassed, safeID)
		}

		label := fmt.Sprintf("%s: %s", id, node.ClassType)
		if title := node.Title(); title != "" {
			label += " <br/> " + title
		}
		sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", safeID, opener, escapeLabel(label), closer))

		inputs := make([]string, 0, len(node.Inputs))
		for name := range node.Inputs {
			inputs = append(inputs, name)
		}
		sort.Strings(inputs)
		for _, name := range inputs {
			edge, ok := domain.AsEdge(node.Inputs[name])
			if !ok {
				continue
			}
			arrow := "-->"
			if !g.Has(edge.NodeID) {
				// dangling: the producer is gone
				arrow = "-.->"
			}
			sb.WriteString(fmt.Sprintf("    %s %s|%s| %s\n", sanitizeMermaidID(edge.NodeID), arrow, escapeLabel(name), safeID))
		}
	}

	if len(bypassed) > 0 {
		sb.WriteString("\n    classDef bypass stroke-dasharray: 5 5,color:#888;\n")
		for _, id := range bypassed {
			sb.WriteString(fmt.Sprintf("    class %s bypass;\n", id))
		}
	}

	// Apply Overlay Styles
	if overlay != nil && len(overlay.Highlighted) > 0 {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef highlighted fill:#ffeb3b,stroke:#fbc02d,stroke-width:3px,color:#000;\n")

		seen := make(map[string]bool)
		for _, id := range overlay.Highlighted {
			safeID := sanitizeMermaidID(id)
			if !seen[safeID] && g.Has(id) {
				seen[safeID] = true
				sb.WriteString(fmt.Sprintf("    class %s highlighted;\n", safeID))
			}
		}
	}

	return sb.String()
}

func hasKind(tags []domain.Tag, kind domain.TagKind) bool {
	for _, t := range tags {
		if t.Kind == kind {
			return true
		}
	}
	return false
}

func hasToken(tags []domain.Tag, token string) bool {
	for _, t := range tags {
		if t.Valid() && t.Token() == token {
			return true
		}
	}
	return false
}

func escapeLabel(s string) string {
	s = strings.ReplaceAll(s, "\"", "'")
	s = strings.ReplaceAll(s, "|", "/")
	return s
}

// sanitizeMermaidID prefixes ids so numeric node ids are valid Mermaid identifiers.
func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return "n" + s
}
