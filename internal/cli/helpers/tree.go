package helpers

import (
	"fmt"
	"strings"
	"time"

	"github.com/coral-mesh/spanprof/pkg/profiler"
)

// SpanNode is one span of a profile with its children, in recording order.
type SpanNode struct {
	Index    int
	Entry    profiler.Entry
	Children []*SpanNode
}

// Duration returns the span duration.
func (n *SpanNode) Duration() time.Duration {
	return time.Duration(n.Entry.Duration * float64(time.Second))
}

// BuildSpanTree links entries into trees through their parent indexes and
// returns the roots. Entries pointing at a missing parent become roots.
func BuildSpanTree(entries []profiler.Entry) []*SpanNode {
	nodes := make([]*SpanNode, len(entries))
	for i, e := range entries {
		nodes[i] = &SpanNode{Index: i, Entry: e}
	}

	var roots []*SpanNode
	for i, n := range nodes {
		parent := n.Entry.ParentIndex
		if parent >= 0 && parent < i {
			nodes[parent].Children = append(nodes[parent].Children, n)
			continue
		}
		roots = append(roots, n)
	}
	return roots
}

// SlowFunc reports whether a span should be flagged.
type SlowFunc func(*SpanNode) bool

// RenderTree renders span trees in ASCII art. total is used for
// percentages; slow may be nil.
func RenderTree(roots []*SpanNode, total time.Duration, slow SlowFunc) string {
	if len(roots) == 0 {
		return "No spans recorded.\n"
	}

	var buf strings.Builder
	for i, root := range roots {
		renderTreeNode(&buf, root, "", i == len(roots)-1, total, slow)
	}
	buf.WriteString("\n" + renderTreeLegend())
	return buf.String()
}

func renderTreeNode(buf *strings.Builder, node *SpanNode, prefix string, isLast bool, total time.Duration, slow SlowFunc) {
	connector := "├─"
	if isLast {
		connector = "└─"
	}

	percentage := 0.0
	if total > 0 {
		percentage = float64(node.Duration()) / float64(total) * 100
	}

	slowMarker := ""
	if slow != nil && slow(node) {
		slowMarker = " ← SLOW"
	}

	name := node.Entry.Identifier
	if node.Entry.Group != "" {
		name += " [" + node.Entry.Group + "]"
	}
	fmt.Fprintf(buf, "%s%s #%d %s (%s, %s, %.1f%%)%s\n",
		prefix,
		connector,
		node.Index,
		name,
		FormatDuration(node.Duration()),
		FormatBytes(node.Entry.MemoryPeak),
		percentage,
		slowMarker,
	)

	childPrefix := prefix
	if isLast {
		childPrefix += "  "
	} else {
		childPrefix += "│ "
	}
	for i, child := range node.Children {
		renderTreeNode(buf, child, childPrefix, i == len(node.Children)-1, total, slow)
	}
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	if d < time.Microsecond {
		return fmt.Sprintf("%dns", d.Nanoseconds())
	} else if d < time.Millisecond {
		return fmt.Sprintf("%.1fµs", float64(d.Nanoseconds())/1000)
	} else if d < time.Second {
		return fmt.Sprintf("%.1fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// FormatBytes formats a byte count with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func renderTreeLegend() string {
	return `Legend:
  ├─ = intermediate span    │  = continuation
  └─ = last child           ← SLOW = over twice its average duration
`
}
