package topology

import (
	"fmt"
	"sort"
	"strings"
)

var recordEscaper = strings.NewReplacer(
	`"`, `\"`,
	`{`, `\{`,
	`}`, `\}`,
	`|`, `\|`,
	`<`, `\<`,
	`>`, `\>`)

// DOT renders the graph in the Graphviz language. Ingress edges carry the
// smoothed entry rate, the others the calls per request of their source.
func (g *Graph) DOT() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var builder strings.Builder

	builder.WriteString("digraph {")
	if len(g.edges) == 0 {
		builder.WriteString("}")
		return builder.String()
	}

	nodes := make([]string, 0, len(g.edges))
	for node := range g.edges {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)

	builder.WriteString("\n    ingress [label=\"ingress\"];\n")
	for i, node := range nodes {
		fmt.Fprintf(&builder, "    %d [shape=record,label=\"{%s|mu = %.2f req/s}\"];\n",
			i, recordEscaper.Replace(node), g.metrics[node].ServiceRate())
	}

	for i, node := range nodes {
		in, ok := g.ingress[node]
		if !ok {
			continue
		}
		fmt.Fprintf(&builder, "    ingress -> %d [label=\"%.2f req/s\"];\n", i, in.rate.Get())
	}

	requests := g.requests()
	for i, from := range nodes {
		for j, to := range nodes {
			weight, ok := g.edges[to][from]
			if !ok {
				continue
			}

			fmt.Fprintf(&builder, "    %d -> %d [label=\"%.2f\"];\n",
				i, j, float64(weight)/float64(requests[from]))
		}
	}

	builder.WriteString("}")

	return builder.String()
}
