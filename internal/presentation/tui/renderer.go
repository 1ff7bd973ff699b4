// Package tui renders operation responses and resource trees for terminals.
// Output is built as markdown and styled with glamour when stdout is a terminal.
package tui

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/aretw0/keel/pkg/domain"
	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

// Renderer writes markdown, styled or plain.
type Renderer struct {
	w      io.Writer
	styled func(string) (string, error)
}

// NewRenderer styles output only when w is a terminal.
func NewRenderer(w io.Writer) *Renderer {
	r := &Renderer{w: w}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if g, err := glamour.NewTermRenderer(glamour.WithAutoStyle()); err == nil {
			r.styled = g.Render
		}
	}
	return r
}

// Print writes markdown.
func (r *Renderer) Print(markdown string) error {
	out := markdown
	if r.styled != nil {
		styled, err := r.styled(markdown)
		if err != nil {
			return err
		}
		out = styled
	}
	_, err := io.WriteString(r.w, out)
	return err
}

// Response renders an operation response.
func Response(resp domain.Response) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Outcome: %s\n\n", resp.Outcome.Status)
	if resp.Verdict != "" {
		fmt.Fprintf(&b, "Fleet verdict: **%s**\n\n", resp.Verdict)
	}
	if f := resp.Outcome.Failure; f != nil {
		b.WriteString(failure(f))
	}
	for _, w := range resp.Outcome.Warnings {
		fmt.Fprintf(&b, "> warning: %s\n\n", w)
	}
	if resp.Outcome.Result != nil {
		buf, _ := json.MarshalIndent(resp.Outcome.Result, "", "  ")
		fmt.Fprintf(&b, "```json\n%s\n```\n\n", buf)
	}

	if len(resp.Participants) > 0 {
		names := make([]string, 0, len(resp.Participants))
		for name := range resp.Participants {
			names = append(names, name)
		}
		sort.Strings(names)

		b.WriteString("| Participant | Status | Failure |\n|---|---|---|\n")
		for _, name := range names {
			p := resp.Participants[name]
			msg := ""
			if p.Failure != nil {
				msg = strings.ReplaceAll(p.Failure.Message, "|", `\|`)
			}
			fmt.Fprintf(&b, "| %s | %s | %s |\n", name, p.Status, msg)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func failure(f *domain.Failure) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s failure**", f.Kind)
	if f.Stage != "" {
		fmt.Fprintf(&b, " in %s", f.Stage)
	}
	if f.Participant != "" {
		fmt.Fprintf(&b, " on `%s`", f.Participant)
	}
	if len(f.Address) > 0 {
		fmt.Fprintf(&b, " at `%s`", f.Address)
	}
	fmt.Fprintf(&b, ": %s\n\n", f.Message)
	return b.String()
}

// Resource renders a resource and its children as a nested list.
func Resource(res *domain.Resource) string {
	var b strings.Builder
	writeResource(&b, res, 0)
	return b.String()
}

func writeResource(b *strings.Builder, res *domain.Resource, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(b, "%s- `%s`\n", indent, res.Address)

	keys := make([]string, 0, len(res.Attributes))
	for k := range res.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "%s  - %s = %v\n", indent, k, res.Attributes[k])
	}
	for _, ch := range res.Children {
		writeResource(b, ch, depth+1)
	}
}
