// Package drift mutates a shard's walls and gates between tick phases,
// subject to the topology invariants the rest of the engine depends on:
// the walkable graph stays one connected component, no process is ever
// left in a zero-exit cell, and the stable gate stays reachable from
// everywhere live.
package drift

import (
	"math/rand/v2"

	"github.com/PStryder/SEGFAULT/internal/geometry"
	"github.com/PStryder/SEGFAULT/internal/shard"
)

// Budget is the number of candidate drifts attempted before falling back to
// a degenerate (zero-wall-move) drift for the tick.
const Budget = 8

// Fractions bound the share of walls relocated per tick, p in [0.10, 0.25].
const (
	minFraction = 0.10
	maxFraction = 0.25
)

// Result reports what actually happened, for telemetry.
type Result struct {
	Degenerate    bool
	AttemptsTried int
}

// Apply mutates s.Walls and s.Gates in place, selecting and validating
// candidates until one satisfies every invariant or the retry budget is
// exhausted, in which case it falls back to a degenerate drift (gates still
// re-evaluate; walls stay put).
func Apply(s *shard.Shard, r *rand.Rand) Result {
	occupied := occupiedTiles(s)
	for attempt := 0; attempt < Budget; attempt++ {
		candidateWalls := candidateWallMove(s.Walls, s.Grid, r)
		candidateGates := candidateGateMove(s.Gates, s.Grid, candidateWalls, occupied, r)
		if validate(s.Grid, candidateWalls, candidateGates, s) {
			s.Walls = candidateWalls
			s.Gates = candidateGates
			return Result{Degenerate: false, AttemptsTried: attempt + 1}
		}
	}
	// Degenerate fallback: walls stay, gates still re-evaluate but only if
	// the resulting topology still validates; otherwise gates stay too.
	candidateGates := candidateGateMove(s.Gates, s.Grid, s.Walls, occupied, r)
	if validate(s.Grid, s.Walls, candidateGates, s) {
		s.Gates = candidateGates
	}
	return Result{Degenerate: true, AttemptsTried: Budget}
}

func occupiedTiles(s *shard.Shard) map[geometry.Tile]struct{} {
	m := make(map[geometry.Tile]struct{}, len(s.Processes)+1)
	for _, p := range s.Processes {
		if p.Alive {
			m[p.Pos] = struct{}{}
		}
	}
	m[s.Defragger.Pos] = struct{}{}
	return m
}

func candidateWallMove(walls []geometry.WallEdge, grid geometry.Grid, r *rand.Rand) []geometry.WallEdge {
	out := append([]geometry.WallEdge(nil), walls...)
	if len(out) == 0 {
		return out
	}
	frac := minFraction + r.Float64()*(maxFraction-minFraction)
	count := int(float64(len(out))*frac + 0.999999) // ceil
	if count < 1 {
		count = 1
	}
	if count > len(out) {
		count = len(out)
	}
	indices := r.Perm(len(out))[:count]

	occupiedSlots := make(map[geometry.Edge]int, len(out)) // edge -> wall id occupying it
	for _, w := range out {
		occupiedSlots[w.Edge] = w.ID
	}

	type move struct {
		idx  int
		dest geometry.Edge
	}
	var moves []move
	for _, idx := range indices {
		w := out[idx]
		slots := geometry.AdjacentEdgeSlots(grid, w.Edge)
		if len(slots) == 0 {
			continue
		}
		dest := slots[r.IntN(len(slots))]
		moves = append(moves, move{idx: idx, dest: dest})
	}

	// Contention: lowest wall-id wins a target slot; losers stay put.
	winner := make(map[geometry.Edge]int) // dest edge -> winning wall id
	for _, m := range moves {
		w := out[m.idx]
		if cur, ok := winner[m.dest]; !ok || w.ID < cur {
			winner[m.dest] = w.ID
		}
	}
	for _, m := range moves {
		w := out[m.idx]
		if winner[m.dest] != w.ID {
			continue // lost contention, stays put
		}
		if _, taken := occupiedSlots[m.dest]; taken && m.dest != w.Edge {
			continue // destination currently held by another wall (staying, or not yet moved in this loop)
		}
		delete(occupiedSlots, w.Edge)
		occupiedSlots[m.dest] = w.ID
		out[m.idx] = geometry.WallEdge{ID: w.ID, Edge: m.dest}
	}
	return out
}

func candidateGateMove(gates []shard.Gate, grid geometry.Grid, walls []geometry.WallEdge, occupied map[geometry.Tile]struct{}, r *rand.Rand) []shard.Gate {
	walled := geometry.BuildWallSet(walls)
	out := append([]shard.Gate(nil), gates...)
	gateTiles := make(map[geometry.Tile]struct{}, len(out))
	for _, g := range out {
		gateTiles[g.Pos] = struct{}{}
	}
	for i, g := range out {
		candidates := geometry.LegalNeighbors(walled, grid, g.Pos)
		r.Shuffle(len(candidates), func(a, b int) { candidates[a], candidates[b] = candidates[b], candidates[a] })
		for _, c := range candidates {
			if _, busy := occupied[c]; busy {
				continue
			}
			if _, busyGate := gateTiles[c]; busyGate {
				continue // gate/gate overlap forbidden
			}
			delete(gateTiles, g.Pos)
			out[i].Pos = c
			gateTiles[c] = struct{}{}
			break
		}
	}
	return out
}

// validate checks the four drift acceptance invariants against a candidate
// topology without mutating the shard.
func validate(grid geometry.Grid, walls []geometry.WallEdge, gates []shard.Gate, s *shard.Shard) bool {
	walled := geometry.BuildWallSet(walls)

	if !singleConnectedComponent(grid, walled) {
		return false
	}
	for _, p := range s.Processes {
		if !p.Alive {
			continue
		}
		if len(geometry.LegalNeighbors(walled, grid, p.Pos)) == 0 {
			return false
		}
	}
	var stableGate shard.Gate
	found := false
	for _, g := range gates {
		if g.Type == shard.GateStable {
			stableGate = g
			found = true
			break
		}
	}
	if !found {
		return false
	}
	dist := geometry.Distances(walled, grid, stableGate.Pos)
	for _, p := range s.Processes {
		if !p.Alive {
			continue
		}
		if _, reachable := dist[p.Pos]; !reachable {
			return false
		}
	}
	gateTiles := make(map[geometry.Tile]struct{}, len(gates))
	for _, g := range gates {
		if _, dup := gateTiles[g.Pos]; dup {
			return false // gate/gate overlap forbidden
		}
		gateTiles[g.Pos] = struct{}{}
	}
	return true
}

// singleConnectedComponent reports whether every in-bounds tile belongs to
// one connected component of the legal-step graph; this also implies no
// tile is an isolated pocket.
func singleConnectedComponent(grid geometry.Grid, walled geometry.WallSet) bool {
	total := grid.Size * grid.Size
	if total == 0 {
		return true
	}
	start := geometry.Tile{X: 0, Y: 0}
	dist := geometry.Distances(walled, grid, start)
	return len(dist) == total
}
