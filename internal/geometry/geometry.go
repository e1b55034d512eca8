// Package geometry implements pure, side-effect-free queries over a square
// tile grid and an undirected wall-edge set: adjacency, line of sight, and
// shortest-path stepping. Nothing here mutates its inputs.
package geometry

import "math"

// Tile addresses a single cell of the grid by its integer coordinates.
type Tile struct {
	X, Y int
}

// Vertex addresses a lattice point at a tile corner.
type Vertex struct {
	X, Y int
}

// Edge is an undirected wall edge between two lattice vertices, always
// stored with A preceding B when ordered by X, then Y, so equal edges
// compare equal regardless of construction order.
type Edge struct {
	A, B Vertex
}

// NewEdge builds a normalized Edge from two vertex coordinate pairs.
func NewEdge(ax, ay, bx, by int) Edge {
	a := Vertex{ax, ay}
	b := Vertex{bx, by}
	if b.X < a.X || (b.X == a.X && b.Y < a.Y) {
		a, b = b, a
	}
	return Edge{A: a, B: b}
}

// WallEdge is a wall edge tagged with the stable id used to break drift
// contention ties (lowest id wins).
type WallEdge struct {
	ID   int
	Edge Edge
}

// WallSet is a membership set over wall edges, used for O(1) blocking checks.
type WallSet map[Edge]struct{}

// BuildWallSet derives a WallSet from an ordered wall-edge list.
func BuildWallSet(walls []WallEdge) WallSet {
	set := make(WallSet, len(walls))
	for _, w := range walls {
		set[w.Edge] = struct{}{}
	}
	return set
}

// Has reports whether e is present in the set.
func (w WallSet) Has(e Edge) bool {
	_, ok := w[e]
	return ok
}

// Grid is a square lattice of side Size; tiles are addressed 0 <= x,y < Size.
type Grid struct {
	Size int
}

// InBounds reports whether t lies within the grid.
func (g Grid) InBounds(t Tile) bool {
	return t.X >= 0 && t.Y >= 0 && t.X < g.Size && t.Y < g.Size
}

// Center returns the tile's center point, used for diagonal/LOS math.
func (t Tile) Center() (float64, float64) {
	return float64(t.X) + 0.5, float64(t.Y) + 0.5
}

// KeypadOrder is the deterministic tie-break order used throughout: the
// keypad digits 1..9 with 5 (no-op/IDLE) excluded.
var KeypadOrder = [8]int{1, 2, 3, 4, 6, 7, 8, 9}

var keypadDelta = map[int]Tile{
	1: {X: -1, Y: -1}, 2: {X: 0, Y: -1}, 3: {X: 1, Y: -1},
	4: {X: -1, Y: 0}, 6: {X: 1, Y: 0},
	7: {X: -1, Y: 1}, 8: {X: 0, Y: 1}, 9: {X: 1, Y: 1},
}

// KeypadDelta returns the tile offset for a keypad digit 1..9 (5 excluded:
// callers must treat 5 or an absent digit as IDLE before reaching here).
func KeypadDelta(digit int) (Tile, bool) {
	d, ok := keypadDelta[digit]
	return d, ok
}

// Add returns the tile offset by d.
func (t Tile) Add(d Tile) Tile {
	return Tile{X: t.X + d.X, Y: t.Y + d.Y}
}

// OrthBlocked reports whether the wall edge between two orthogonally
// adjacent tiles a,b is present. Callers must only pass orthogonal
// neighbors; any other relationship reports blocked.
func OrthBlocked(walls WallSet, a, b Tile) bool {
	dx, dy := b.X-a.X, b.Y-a.Y
	switch {
	case dx == 1 && dy == 0:
		return walls.Has(NewEdge(b.X, b.Y, b.X, b.Y+1))
	case dx == -1 && dy == 0:
		return walls.Has(NewEdge(a.X, a.Y, a.X, a.Y+1))
	case dx == 0 && dy == 1:
		return walls.Has(NewEdge(b.X, b.Y, b.X+1, b.Y))
	case dx == 0 && dy == -1:
		return walls.Has(NewEdge(a.X, a.Y, a.X+1, a.Y))
	default:
		return true
	}
}

// DiagLegal reports whether diagonal movement from a to b is legal: the
// open segment between tile centers passes through the shared lattice
// corner, so the only wall edges that can clip it are the four orthogonal
// edges meeting at that corner (two on a's side, two on b's side). A wall
// on any one of them disallows the cut, which keeps the check symmetric.
func DiagLegal(walls WallSet, a, b Tile) bool {
	dx, dy := b.X-a.X, b.Y-a.Y
	if dx*dx != 1 || dy*dy != 1 {
		return false
	}
	cornerH := Tile{X: a.X + dx, Y: a.Y}
	cornerV := Tile{X: a.X, Y: a.Y + dy}
	if OrthBlocked(walls, a, cornerH) || OrthBlocked(walls, a, cornerV) {
		return false
	}
	if OrthBlocked(walls, b, cornerH) || OrthBlocked(walls, b, cornerV) {
		return false
	}
	return true
}

// Adjacent reports whether b is one legal step from a: Chebyshev distance 1
// and the step is legal under the orthogonal/diagonal rules above.
func Adjacent(walls WallSet, a, b Tile) bool {
	dx, dy := b.X-a.X, b.Y-a.Y
	if dx < -1 || dx > 1 || dy < -1 || dy > 1 || (dx == 0 && dy == 0) {
		return false
	}
	if dx == 0 || dy == 0 {
		return !OrthBlocked(walls, a, b)
	}
	return DiagLegal(walls, a, b)
}

// LegalNeighbors returns the tiles reachable from t in one legal step, in
// keypad tie-break order, restricted to the grid bounds.
func LegalNeighbors(walls WallSet, grid Grid, t Tile) []Tile {
	neighbors := make([]Tile, 0, 8)
	for _, digit := range KeypadOrder {
		d, _ := KeypadDelta(digit)
		n := t.Add(d)
		if !grid.InBounds(n) {
			continue
		}
		if Adjacent(walls, t, n) {
			neighbors = append(neighbors, n)
		}
	}
	return neighbors
}

// Line returns the sequence of tiles on a straight walk from a to b
// inclusive, each consecutive pair Chebyshev-adjacent. Used to decompose
// line-of-sight into single-step legality checks.
func Line(a, b Tile) []Tile {
	dx, dy := b.X-a.X, b.Y-a.Y
	steps := maxAbs(dx, dy)
	if steps == 0 {
		return []Tile{a}
	}
	tiles := make([]Tile, 0, steps+1)
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		x := a.X + int(math.Round(float64(dx)*t))
		y := a.Y + int(math.Round(float64(dy)*t))
		tiles = append(tiles, Tile{X: x, Y: y})
	}
	return tiles
}

func maxAbs(a, b int) int {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	if a > b {
		return a
	}
	return b
}

// LOS reports whether there is an unbroken line of sight from a to b:
// the pair must lie on one of the 8 principal directions (cardinal or
// exact 45 degrees) and every consecutive step of the straight tile walk
// between them must be legal. Any other angle has no LOS at all.
// Processes and gates never block LOS, only wall edges do.
func LOS(walls WallSet, a, b Tile) bool {
	if a == b {
		return true
	}
	dx, dy := b.X-a.X, b.Y-a.Y
	if dx != 0 && dy != 0 && dx != dy && dx != -dy {
		return false
	}
	tiles := Line(a, b)
	for i := 1; i < len(tiles); i++ {
		prev, cur := tiles[i-1], tiles[i]
		if prev == cur {
			continue
		}
		if !Adjacent(walls, prev, cur) {
			return false
		}
	}
	return true
}

// Distances runs a breadth-first search from source over the legal-step
// graph and returns the shortest distance (in steps) to every reachable
// tile. Ties among equal-cost frontier expansions are broken by keypad
// order, which is also what makes the result reproducible.
func Distances(walls WallSet, grid Grid, source Tile) map[Tile]int {
	dist := map[Tile]int{source: 0}
	queue := []Tile{source}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range LegalNeighbors(walls, grid, cur) {
			if _, seen := dist[next]; seen {
				continue
			}
			dist[next] = dist[cur] + 1
			queue = append(queue, next)
		}
	}
	return dist
}

// ShortestStep returns the first tile to move to from a in order to take a
// minimum-cost path toward b, breaking ties by lowest keypad index. ok is
// false if b is unreachable from a or a == b.
func ShortestStep(walls WallSet, grid Grid, a, b Tile) (Tile, bool) {
	if a == b {
		return Tile{}, false
	}
	dist := Distances(walls, grid, b)
	distA, ok := dist[a]
	if !ok {
		return Tile{}, false
	}
	for _, digit := range KeypadOrder {
		d, _ := KeypadDelta(digit)
		n := a.Add(d)
		if !grid.InBounds(n) || !Adjacent(walls, a, n) {
			continue
		}
		if dn, ok := dist[n]; ok && dn == distA-1 {
			return n, true
		}
	}
	return Tile{}, false
}

// AdjacentEdgeSlots returns the unit edges that share exactly one vertex
// with e (sliding or rotating about either endpoint), within grid bounds,
// excluding e itself. Used by the drift engine to find candidate
// relocation targets for a wall.
func AdjacentEdgeSlots(grid Grid, e Edge) []Edge {
	seen := map[Edge]struct{}{e: {}}
	var out []Edge
	addFrom := func(v Vertex) {
		candidates := []Edge{
			NewEdge(v.X, v.Y, v.X, v.Y+1),
			NewEdge(v.X, v.Y, v.X, v.Y-1),
			NewEdge(v.X, v.Y, v.X+1, v.Y),
			NewEdge(v.X, v.Y, v.X-1, v.Y),
		}
		for _, cand := range candidates {
			if !vertexInBounds(grid, cand.A) || !vertexInBounds(grid, cand.B) {
				continue
			}
			if _, dup := seen[cand]; dup {
				continue
			}
			seen[cand] = struct{}{}
			out = append(out, cand)
		}
	}
	addFrom(e.A)
	addFrom(e.B)
	return out
}

func vertexInBounds(grid Grid, v Vertex) bool {
	return v.X >= 0 && v.Y >= 0 && v.X <= grid.Size && v.Y <= grid.Size
}
