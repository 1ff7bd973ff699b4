package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the keel banner to w, coloured when the terminal supports it.
func PrintBanner(w io.Writer, process, role string) {
	p := termenv.NewOutput(w).ColorProfile()
	lines := []struct {
		text  string
		color string
	}{
		{` _              _ `, "#38bdf8"},
		{`| | _____  ___ | |`, "#22d3ee"},
		{`| |/ / _ \/ _ \| |`, "#2dd4bf"},
		{`|   <  __/  __/| |`, "#34d399"},
		{`|_|\_\___|\___||_|`, "#4ade80"},
	}
	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w, termenv.String(fmt.Sprintf("%s (%s)", process, role)).Faint())
	fmt.Fprintln(w)
}
