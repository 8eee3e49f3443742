package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the nodegate banner, colored when out is a terminal.
func PrintBanner(out io.Writer, version string) {
	o := termenv.NewOutput(out)
	lines := []struct {
		text  string
		color string
	}{
		{"                  _                  _       ", "#34d399"},
		{"  _ __   ___   __| | ___  __ _  __ _| |_ ___ ", "#2dd4bf"},
		{" | '_ \\ / _ \\ / _` |/ _ \\/ _` |/ _` | __/ _ \\", "#22d3ee"},
		{" | | | | (_) | (_| |  __/ (_| | (_| | ||  __/", "#38bdf8"},
		{" |_| |_|\\___/ \\__,_|\\___|\\__, |\\__,_|\\__\\___|", "#60a5fa"},
		{"                         |___/  " + version, "#818cf8"},
	}

	fmt.Fprintln(out)
	for _, l := range lines {
		fmt.Fprintln(out, o.String(l.text).Foreground(o.Color(l.color)))
	}
	fmt.Fprintln(out)
}
