package nav

import (
	"container/heap"
	"math"

	"caddie.ai/internal/sim/geom"
)

// grid is a lazily evaluated A* lattice over the course bounds. Nodes are cell
// centers; two extra virtual nodes stand for the exact start and goal.
type grid struct {
	bounds geom.Rect
	cell   float64
	y      float64
	nx, nz int

	walkable func(geom.Vec3) bool
	clear    func(a, b geom.Vec3) bool
}

func newGrid(b geom.Rect, cell float64, walkable func(geom.Vec3) bool, clear func(a, b geom.Vec3) bool) *grid {
	g := &grid{bounds: b, cell: cell, walkable: walkable, clear: clear}
	if !b.Empty() {
		g.nx = int(math.Ceil(b.Width() / cell))
		g.nz = int(math.Ceil(b.Depth() / cell))
	}
	return g
}

func (g *grid) center(i, j int) geom.Vec3 {
	x := math.Min(g.bounds.MinX+(float64(i)+0.5)*g.cell, g.bounds.MaxX)
	z := math.Min(g.bounds.MinZ+(float64(j)+0.5)*g.cell, g.bounds.MaxZ)
	return geom.Vec3{X: x, Y: g.y, Z: z}
}

func (g *grid) cellOf(p geom.Vec3) (int, int) {
	i := int((p.X - g.bounds.MinX) / g.cell)
	j := int((p.Z - g.bounds.MinZ) / g.cell)
	return clampInt(i, 0, g.nx-1), clampInt(j, 0, g.nz-1)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

const (
	startNode = -1
	goalNode  = -2
	// Virtual endpoints link to lattice nodes within this many cells.
	linkReach = 2
)

type pqItem struct {
	node  int
	f     float64
	index int
}

type openSet []*pqItem

func (pq openSet) Len() int { return len(pq) }

func (pq openSet) Less(i, j int) bool { return pq[i].f < pq[j].f }

func (pq openSet) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *openSet) Push(x any) {
	it := x.(*pqItem)
	it.index = len(*pq)
	*pq = append(*pq, it)
}

func (pq *openSet) Pop() any {
	old := *pq
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*pq = old[:n-1]
	return it
}

// search returns smoothed waypoints from a to b (excluding a).
func (g *grid) search(a, b geom.Vec3) ([]geom.Vec3, bool) {
	if g.nx == 0 || g.nz == 0 {
		return nil, false
	}
	pos := func(n int) geom.Vec3 {
		switch n {
		case startNode:
			return a
		case goalNode:
			return b
		}
		return g.center(n%g.nx, n/g.nx)
	}
	bi, bj := g.cellOf(b)

	neighbors := func(n int, visit func(m int)) {
		p := pos(n)
		if n == startNode {
			ai, aj := g.cellOf(a)
			g.around(ai, aj, linkReach, func(m int) {
				if g.clear(a, pos(m)) {
					visit(m)
				}
			})
			return
		}
		i, j := n%g.nx, n/g.nx
		g.around(i, j, 1, func(m int) {
			if m != n && g.clear(p, pos(m)) {
				visit(m)
			}
		})
		if absInt(i-bi) <= linkReach && absInt(j-bj) <= linkReach && g.clear(p, b) {
			visit(goalNode)
		}
	}

	gScore := map[int]float64{startNode: 0}
	cameFrom := map[int]int{}
	closed := map[int]bool{}
	pq := &openSet{}
	heap.Init(pq)
	heap.Push(pq, &pqItem{node: startNode, f: geom.Dist(a, b)})

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(*pqItem).node
		if cur == goalNode {
			return g.smooth(g.unwind(cameFrom, pos)), true
		}
		if closed[cur] {
			continue
		}
		closed[cur] = true
		cp := pos(cur)
		neighbors(cur, func(m int) {
			if closed[m] {
				return
			}
			tentative := gScore[cur] + geom.Dist(cp, pos(m))
			if old, ok := gScore[m]; ok && tentative >= old {
				return
			}
			gScore[m] = tentative
			cameFrom[m] = cur
			heap.Push(pq, &pqItem{node: m, f: tentative + geom.Dist(pos(m), b)})
		})
	}
	return nil, false
}

func (g *grid) around(i, j, r int, visit func(m int)) {
	for dj := -r; dj <= r; dj++ {
		for di := -r; di <= r; di++ {
			ni, nj := i+di, j+dj
			if ni < 0 || nj < 0 || ni >= g.nx || nj >= g.nz {
				continue
			}
			if !g.walkable(g.center(ni, nj)) {
				continue
			}
			visit(nj*g.nx + ni)
		}
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// unwind rebuilds the node chain from start to goal, both included.
func (g *grid) unwind(cameFrom map[int]int, pos func(int) geom.Vec3) []geom.Vec3 {
	var rev []geom.Vec3
	n := goalNode
	for {
		rev = append(rev, pos(n))
		if n == startNode {
			break
		}
		n = cameFrom[n]
	}
	out := make([]geom.Vec3, len(rev))
	for i := range rev {
		out[i] = rev[len(rev)-1-i]
	}
	return out
}

// smooth drops intermediate waypoints that have a clear line of sight past them.
func (g *grid) smooth(chain []geom.Vec3) []geom.Vec3 {
	var out []geom.Vec3
	anchor := 0
	for anchor < len(chain)-1 {
		next := anchor + 1
		for k := len(chain) - 1; k > anchor+1; k-- {
			if g.clear(chain[anchor], chain[k]) {
				next = k
				break
			}
		}
		out = append(out, chain[next])
		anchor = next
	}
	return out
}
