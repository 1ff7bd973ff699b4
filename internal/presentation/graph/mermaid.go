// Package graph renders resource trees as Mermaid flowcharts.
package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/keel/pkg/domain"
	"github.com/segmentio/fasthash/fnv1a"
)

// runtimeTypes are resource types backed by live process state.
var runtimeTypes = map[string]bool{
	"server-config":   true,
	"system-property": true,
}

// GenerateMermaid produces a top-down flowchart of res and its children.
// Shapes: the root is a circle, runtime-backed resources are subroutines, the rest rectangles.
// A non-nil diff highlights added and changed resources.
func GenerateMermaid(res *domain.Resource, diff *domain.TreeDiff) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")
	writeNode(&sb, res)

	if diff != nil {
		sb.WriteString("\n    %% Diff overlay\n")
		sb.WriteString("    classDef added fill:#dcfce7,stroke:#15803d,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef changed fill:#fef9c3,stroke:#a16207,stroke-width:2px,color:#000;\n")
		for _, addr := range diff.Added {
			fmt.Fprintf(&sb, "    class %s added;\n", nodeID(addr))
		}
		for addr := range diff.Changed {
			parsed, err := domain.ParseAddress(addr)
			if err != nil {
				continue
			}
			fmt.Fprintf(&sb, "    class %s changed;\n", nodeID(parsed))
		}
	}
	return sb.String()
}

func writeNode(sb *strings.Builder, res *domain.Resource) {
	id := nodeID(res.Address)
	opener, closer := "[", "]"
	label := "/"
	switch {
	case len(res.Address) == 0:
		opener, closer = "((", "))"
	default:
		last, _ := res.Address.Last()
		label = last.String()
		if runtimeTypes[last.Key] {
			opener, closer = "[[", "]]"
		}
	}
	fmt.Fprintf(sb, "    %s%s\"%s\"%s\n", id, opener, strings.ReplaceAll(label, `"`, "'"), closer)

	for _, ch := range res.Children {
		fmt.Fprintf(sb, "    %s --> %s\n", id, nodeID(ch.Address))
		writeNode(sb, ch)
	}
}

// nodeID derives a Mermaid-safe identifier; address values may hold any character.
func nodeID(addr domain.Address) string {
	return fmt.Sprintf("n%08x", fnv1a.HashString32(addr.String()))
}
