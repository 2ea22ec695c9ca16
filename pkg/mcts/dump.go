package mcts

import (
	"fmt"
	"strings"
)

// DebugString describes the node's counters and lifecycle state.
func (nd *Node) DebugString() string {
	return fmt.Sprintf(
		"Node{this=%p child=%p move=%s index=%d p=%.4f wl=%.4f d=%.3f m=%.1f n=%d in_flight=%d %v bounds=%v}",
		nd, nd.child, nd.edge.move.String(), nd.index.Load(), nd.P(),
		nd.WL(), nd.D(), nd.M(), nd.N(), nd.NInFlight(),
		nd.terminalType, nd.Bounds())
}

// DebugString describes the position's counters and sharing state.
func (ln *LowNode) DebugString() string {
	return fmt.Sprintf(
		"LowNode{this=%p edges=%d wl=%.4f d=%.3f m=%.1f n=%d parents=%d transposition=%v %v bounds=%v}",
		ln, ln.NumEdges(), ln.WL(), ln.D(), ln.M(), ln.N(),
		ln.NumParents(), ln.IsTransposition(), ln.terminalType, ln.Bounds())
}

// DotGraphString renders the DAG reachable from the node in Graphviz dot
// format: one vertex per position, one labeled arc per realized move node
// that links a position (realized nodes without a position are omitted).
// Vertices are numbered in discovery order of a depth-first walk that
// follows edges in index order, so the output is deterministic for a given
// tree state.
func (nd *Node) DotGraphString(asOpponent bool) string {
	var b strings.Builder
	b.WriteString("digraph search {\n")
	b.WriteString("  node [shape=box];\n")
	b.WriteString("  root [shape=point];\n")

	ids := make(map[*LowNode]int)
	if nd.child != nil {
		dotWalk(&b, nd.child, ids)
		b.WriteString(dotEdgeLine("root", fmt.Sprintf("p%d", ids[nd.child]), nd, asOpponent))
	}
	b.WriteString("}\n")
	return b.String()
}

func dotWalk(b *strings.Builder, ln *LowNode, ids map[*LowNode]int) {
	if _, ok := ids[ln]; ok {
		return
	}
	id := len(ids)
	ids[ln] = id
	fmt.Fprintf(b, "  p%d [label=\"%s\"];\n", id, ln.dotLabel())

	for i := 0; i < ln.NumEdges(); i++ {
		child := ln.GetChildAt(i)
		if child == nil || child.child == nil {
			continue
		}
		dotWalk(b, child.child, ids)
		b.WriteString(dotEdgeLine(
			fmt.Sprintf("p%d", id),
			fmt.Sprintf("p%d", ids[child.child]),
			child, false))
	}
}

func (ln *LowNode) dotLabel() string {
	label := fmt.Sprintf("n=%d\\nwl=%.3f d=%.3f m=%.1f\\nparents=%d",
		ln.N(), ln.WL(), ln.D(), ln.M(), ln.NumParents())
	if ln.IsTransposition() {
		label += " T"
	}
	if ln.IsTerminal() {
		label += fmt.Sprintf("\\n%v %v", ln.terminalType, ln.Bounds())
	}
	return label
}

func dotEdgeLine(from, to string, nd *Node, asOpponent bool) string {
	mv := nd.Move(asOpponent)
	return fmt.Sprintf("  %s -> %s [label=\"%s n=%d p=%.3f\"];\n",
		from, to, mv.String(), nd.N(), nd.P())
}
