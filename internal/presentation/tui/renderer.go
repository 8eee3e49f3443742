package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/nodegate/pkg/workflow"
	"github.com/charmbracelet/glamour"
)

// NewRenderer returns a function that renders markdown using glamour.
// Without a terminal (plain) the markdown is returned untouched.
func NewRenderer(plain bool) func(string) (string, error) {
	if plain {
		return func(markdown string) (string, error) { return markdown, nil }
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // Automatically detect light/dark background
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return func(markdown string) (string, error) { return markdown, nil }
	}

	return func(markdown string) (string, error) {
		return r.Render(markdown)
	}
}

// DescribeMarkdown documents the call surface of a template.
func DescribeMarkdown(info workflow.Info) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", info.Name)
	fmt.Fprintf(&sb, "`POST /connect/workflows/%s`\n\n", info.Name)

	sb.WriteString("## Inputs\n\n")
	if len(info.Inputs) == 0 {
		sb.WriteString("_none_\n\n")
	} else {
		sb.WriteString("| Tag | Field | Type |\n|---|---|---|\n")
		tags := make([]string, 0, len(info.Inputs))
		for tag := range info.Inputs {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		for _, tag := range tags {
			fields := make([]string, 0, len(info.Inputs[tag]))
			for f := range info.Inputs[tag] {
				fields = append(fields, f)
			}
			sort.Strings(fields)
			if len(fields) == 0 {
				fmt.Fprintf(&sb, "| `%s` | _(toggle only)_ | `false` |\n", tag)
			}
			for _, f := range fields {
				fmt.Fprintf(&sb, "| `%s` | `%s` | %s |\n", tag, f, info.Inputs[tag][f])
			}
		}
		sb.WriteString("\nSend `false` for a tag to remove its nodes.\n\n")
	}

	sb.WriteString("## Outputs\n\n")
	if len(info.Outputs) == 0 {
		sb.WriteString("_none_\n")
	}
	for _, out := range info.Outputs {
		fmt.Fprintf(&sb, "- `%s`\n", out)
	}
	return sb.String()
}
