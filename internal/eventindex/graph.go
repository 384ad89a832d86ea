package eventindex

import (
	"sort"

	"github.com/rdleal/intervalst/interval"

	appLog "calview/internal/log"
	"calview/internal/model"
)

// Node is one event in an OverlapGraph.
type Node struct {
	Event model.Event
	Span  Span
}

// OverlapGraph is the interval graph of one day: nodes are events sorted
// by start, and Adj[i] lists every node whose span strictly overlaps node i.
type OverlapGraph struct {
	Nodes []Node
	Adj   [][]int
}

// BuildOverlapGraph indexes the day's spans in an interval search tree and
// derives adjacency from tree queries, so building is O(n log n + edges)
// rather than a full pairwise scan.
func BuildOverlapGraph(events []model.Event, cache TimeCache) *OverlapGraph {
	sorted := sortByStart(events, cache)
	g := &OverlapGraph{
		Nodes: make([]Node, len(sorted)),
		Adj:   make([][]int, len(sorted)),
	}

	// The tree keeps one value per interval, so events sharing an exact
	// span are stored under one entry.
	bySpan := make(map[Span][]int)
	for i, ev := range sorted {
		s := SpanOf(ev, cache)
		g.Nodes[i] = Node{Event: ev, Span: s}
		bySpan[s] = append(bySpan[s], i)
	}

	tree := interval.NewSearchTree[Span](func(x, y int) int { return x - y })
	for s := range bySpan {
		// Widen by a minute so zero-length and inverted spans are valid
		// tree keys; the strict test below removes the false positives.
		lo, hi := s.Start, s.End
		if hi < lo {
			hi = lo
		}
		if err := tree.Insert(lo, hi+1, s); err != nil {
			appLog.Error("eventindex: span insert failed", err, "start", s.Start, "end", s.End)
		}
	}

	for i, n := range g.Nodes {
		lo, hi := n.Span.Start, n.Span.End
		if hi < lo {
			hi = lo
		}
		candidates, ok := tree.AllIntersections(lo-1, hi+1)
		if !ok {
			continue
		}
		for _, cs := range candidates {
			if !n.Span.Overlaps(cs) {
				continue
			}
			for _, j := range bySpan[cs] {
				if j != i {
					g.Adj[i] = append(g.Adj[i], j)
				}
			}
		}
		sort.Ints(g.Adj[i])
	}
	return g
}

// Components returns the connected components of the graph as node index
// lists. Components are ordered by their earliest node; members ascend.
func (g *OverlapGraph) Components() [][]int {
	seen := make([]bool, len(g.Nodes))
	var comps [][]int
	for root := range g.Nodes {
		if seen[root] {
			continue
		}
		seen[root] = true
		comp := []int{root}
		queue := []int{root}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, nb := range g.Adj[cur] {
				if !seen[nb] {
					seen[nb] = true
					comp = append(comp, nb)
					queue = append(queue, nb)
				}
			}
		}
		sort.Ints(comp)
		comps = append(comps, comp)
	}
	return comps
}

// ColorLanes greedily colors nodes in start order with the lowest lane not
// used by an already-colored neighbour. For interval graphs this is
// optimal: a component needs exactly as many lanes as its peak overlap.
func (g *OverlapGraph) ColorLanes() []int {
	lanes := make([]int, len(g.Nodes))
	for i := range lanes {
		lanes[i] = -1
	}
	for i := range g.Nodes {
		used := make(map[int]bool, len(g.Adj[i]))
		for _, nb := range g.Adj[i] {
			if lanes[nb] >= 0 {
				used[lanes[nb]] = true
			}
		}
		lane := 0
		for used[lane] {
			lane++
		}
		lanes[i] = lane
	}
	return lanes
}

// AssignLanes is the order-independent alternative to first-fit grouping:
// groups are overlap-graph components and lanes come from ColorLanes, so a
// component's lane count is its peak concurrency rather than its size.
func AssignLanes(events []model.Event, cache TimeCache) []Assignment {
	if len(events) == 0 {
		return nil
	}
	g := BuildOverlapGraph(events, cache)
	colors := g.ColorLanes()

	out := make([]Assignment, 0, len(g.Nodes))
	for gi, comp := range g.Components() {
		width := 0
		for _, i := range comp {
			if colors[i]+1 > width {
				width = colors[i] + 1
			}
		}
		for _, i := range comp {
			out = append(out, Assignment{
				Event: g.Nodes[i].Event,
				Span:  g.Nodes[i].Span,
				Group: gi,
				Lane:  colors[i],
				Lanes: width,
			})
		}
	}
	return out
}
