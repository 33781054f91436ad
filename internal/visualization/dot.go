// Package visualization renders network topologies in various output formats.
package visualization

import (
	"fmt"
	"strings"

	"github.com/nvandessel/pcosc/internal/network"
)

// Format specifies the output format for graph rendering.
type Format string

const (
	FormatDOT  Format = "dot"
	FormatJSON Format = "json"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatDOT, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown format %q (valid: dot, json)", s)
	}
}

// nodeColors maps node kinds to DOT colors.
var nodeColors = map[network.Kind]string{
	network.KindPopulation: "steelblue",
	network.KindStimulus:   "goldenrod",
}

// edgeStyle picks a DOT style from the connection's filtering.
func edgeStyle(c *network.Connection) string {
	switch {
	case c.Recurrent():
		return "bold"
	case c.Synapse == 0:
		return "dashed"
	default:
		return "solid"
	}
}

// RenderDOT produces a Graphviz DOT representation of the network.
func RenderDOT(g *network.Graph) string {
	var b strings.Builder
	b.WriteString("digraph pcosc {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [style=filled, fontname=\"Helvetica\"];\n")
	b.WriteString("  edge [fontname=\"Helvetica\", fontsize=10];\n\n")

	for _, s := range g.Stimuli() {
		fmt.Fprintf(&b, "  %q [shape=ellipse, label=%q, fillcolor=%q];\n",
			s.Name, fmt.Sprintf("%s (dim=%d)", s.Name, s.Dim), nodeColors[network.KindStimulus])
	}
	for _, p := range g.Populations() {
		label := fmt.Sprintf("%s (dim=%d, r=%g)", p.Name, p.Dim, p.Radius)
		if p.Mode == network.Accumulate {
			label += " acc"
		}
		fmt.Fprintf(&b, "  %q [shape=box, label=%q, fillcolor=%q];\n",
			p.Name, label, nodeColors[network.KindPopulation])
	}
	b.WriteString("\n")

	for _, c := range g.Connections() {
		fmt.Fprintf(&b, "  %q -> %q [label=%q, style=%s];\n",
			c.Source, c.Target, edgeLabel(c), edgeStyle(c))
	}

	b.WriteString("}\n")
	return b.String()
}

// RenderJSON produces a JSON graph representation with nodes and edges arrays.
func RenderJSON(g *network.Graph) map[string]interface{} {
	nodes := make([]map[string]interface{}, 0, len(g.Stimuli())+len(g.Populations()))
	for _, s := range g.Stimuli() {
		nodes = append(nodes, map[string]interface{}{
			"id":   s.Name,
			"kind": "stimulus",
			"dim":  s.Dim,
		})
	}
	for _, p := range g.Populations() {
		nodes = append(nodes, map[string]interface{}{
			"id":     p.Name,
			"kind":   "population",
			"dim":    p.Dim,
			"radius": p.Radius,
			"mode":   p.Mode.String(),
		})
	}

	edges := make([]map[string]interface{}, 0, len(g.Connections()))
	for _, c := range g.Connections() {
		edge := map[string]interface{}{
			"index":        c.Index(),
			"source":       c.Source,
			"target":       c.Target,
			"source_slice": c.SourceSlice.String(),
			"target_slice": c.TargetSlice.String(),
			"function":     c.Function.Name(),
			"synapse":      c.Synapse,
			"recurrent":    c.Recurrent(),
		}
		if k, ok := c.ScalarTransform(); ok {
			edge["gain"] = k
		} else if c.Transform != nil {
			r, cols := c.Transform.Dims()
			edge["transform_shape"] = []int{r, cols}
		}
		edges = append(edges, edge)
	}

	return map[string]interface{}{
		"nodes":      nodes,
		"edges":      edges,
		"node_count": len(nodes),
		"edge_count": len(edges),
	}
}

// edgeLabel summarizes slices, function, gain and synapse, e.g.
// "[0:2] oscillator tau=0.2".
func edgeLabel(c *network.Connection) string {
	var parts []string
	if !c.SourceSlice.IsAll() || !c.TargetSlice.IsAll() {
		parts = append(parts, c.SourceSlice.String()+"->"+c.TargetSlice.String())
	}
	if name := c.Function.Name(); name != "identity" {
		parts = append(parts, truncate(name, 24))
	}
	if k, ok := c.ScalarTransform(); ok {
		parts = append(parts, fmt.Sprintf("x%g", k))
	} else if c.Transform != nil {
		r, cols := c.Transform.Dims()
		parts = append(parts, fmt.Sprintf("W%dx%d", r, cols))
	}
	if c.Synapse > 0 {
		parts = append(parts, fmt.Sprintf("tau=%g", c.Synapse))
	}
	return strings.Join(parts, " ")
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
