// Package genesis builds a fresh, invariant-satisfying shard topology:
// the wall-edge set, gates, and defragger starting position a brand new
// shard needs before its first tick.
package genesis

import (
	"math/rand/v2"

	"github.com/PStryder/SEGFAULT/internal/config"
	"github.com/PStryder/SEGFAULT/internal/geometry"
	"github.com/PStryder/SEGFAULT/internal/rng"
	"github.com/PStryder/SEGFAULT/internal/shard"
)

// NewShard builds an empty, populated-by-nobody shard: a grid with
// cfg.WallCount walls (skipping any candidate that would break
// connectivity), one stable gate, one ghost gate, and the defragger
// placed on a random tile distinct from both gates.
func NewShard(id string, seed uint64, cfg config.Config) *shard.Shard {
	grid := geometry.Grid{Size: cfg.GridSize}
	r := rng.ForTickPhase(seed, 0, "genesis")

	walls := buildWalls(grid, cfg.WallCount, r)
	s := &shard.Shard{
		ID:          id,
		Seed:        seed,
		Grid:        grid,
		Walls:       walls,
		Processes:   make(map[string]*shard.Process),
		VisitCounts: make(map[geometry.Tile]int),
	}
	s.SetNextWallID(len(walls))

	used := map[geometry.Tile]struct{}{}
	stable := randomFreeTile(grid, used, r)
	used[stable] = struct{}{}
	ghost := randomFreeTile(grid, used, r)
	used[ghost] = struct{}{}
	s.Gates = []shard.Gate{
		{Pos: stable, Type: shard.GateStable},
		{Pos: ghost, Type: shard.GateGhost},
	}

	s.Defragger = shard.Defragger{Pos: randomFreeTile(grid, used, r)}
	return s
}

// buildWalls samples candidate edges in random order, keeping each one
// that doesn't disconnect the walkable graph, until count walls are
// placed or candidates run out.
func buildWalls(grid geometry.Grid, count int, r *rand.Rand) []geometry.WallEdge {
	candidates := allEdgeCandidates(grid)
	perm := r.Perm(len(candidates))

	var kept []geometry.WallEdge
	keptSet := map[geometry.Edge]struct{}{}
	nextID := 0
	for _, idx := range perm {
		if len(kept) >= count {
			break
		}
		e := candidates[idx]
		if _, dup := keptSet[e]; dup {
			continue
		}
		trial := append(append([]geometry.WallEdge(nil), kept...), geometry.WallEdge{ID: nextID, Edge: e})
		if !staysConnected(grid, trial) {
			continue
		}
		keptSet[e] = struct{}{}
		kept = trial
		nextID++
	}
	return kept
}

func allEdgeCandidates(grid geometry.Grid) []geometry.Edge {
	var out []geometry.Edge
	for x := 0; x <= grid.Size; x++ {
		for y := 0; y <= grid.Size; y++ {
			if y < grid.Size {
				out = append(out, geometry.NewEdge(x, y, x, y+1))
			}
			if x < grid.Size {
				out = append(out, geometry.NewEdge(x, y, x+1, y))
			}
		}
	}
	return out
}

func staysConnected(grid geometry.Grid, walls []geometry.WallEdge) bool {
	walled := geometry.BuildWallSet(walls)
	dist := geometry.Distances(walled, grid, geometry.Tile{X: 0, Y: 0})
	return len(dist) == grid.Size*grid.Size
}

func randomFreeTile(grid geometry.Grid, used map[geometry.Tile]struct{}, r *rand.Rand) geometry.Tile {
	for {
		t := geometry.Tile{X: r.IntN(grid.Size), Y: r.IntN(grid.Size)}
		if _, busy := used[t]; !busy {
			return t
		}
	}
}
