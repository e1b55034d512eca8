// Package movement resolves one tick's worth of simultaneous process
// actions (MOVE/BUFFER/IDLE) against the pre-drift shard topology, then
// resolves gate interactions for whatever landed on a gate tile.
package movement

import (
	"math/rand/v2"
	"sort"

	"github.com/PStryder/SEGFAULT/internal/geometry"
	"github.com/PStryder/SEGFAULT/internal/shard"
)

// maxSprintSteps bounds a BUFFER sprint.
const maxSprintSteps = 3

// Result reports what the resolver decided, for the tick pipeline and for
// tests; the shard itself has already been mutated by the time this is
// returned.
type Result struct {
	// Sprinted holds the ids of every process whose buffered command was a
	// non-downgraded BUFFER this tick, regardless of how far it actually
	// moved. A sprint always breaks the defragger's LOS lock on that
	// process, per the sprint-breaks-lock law.
	Sprinted map[string]bool
}

// Resolve drains each live process's buffered command, computes its
// intended destination against the pre-drift topology, runs the
// simultaneous-move fixpoint, and commits final positions. It clears each
// process's buffered-command slot once consumed (last-valid-wins single
// register semantics: nothing sticks around for the next tick).
func Resolve(s *shard.Shard, r *rand.Rand) Result {
	walls := s.WallSet()
	grid := s.Grid
	live := s.LiveProcesses()
	sort.Slice(live, func(i, j int) bool { return live[i].ID < live[j].ID })

	sources := make(map[string]geometry.Tile, len(live))
	occupantAt := make(map[geometry.Tile]string, len(live))
	for _, p := range live {
		sources[p.ID] = p.Pos
		occupantAt[p.Pos] = p.ID
	}

	dest := make(map[string]geometry.Tile, len(live))
	sprinted := make(map[string]bool)

	for _, p := range live {
		cmd := p.Buffered
		p.Buffered = shard.Command{Verb: shard.VerbIdle}
		p.LastExecuted = cmd

		switch cmd.Verb {
		case shard.VerbMove:
			dest[p.ID] = resolveMoveIntent(walls, grid, s.Defragger.Pos, p.Pos, cmd.Arg)
		case shard.VerbBuffer:
			if s.Tick-p.LastSprintTick < 1 {
				dest[p.ID] = p.Pos // cooldown active: downgrades to IDLE
				continue
			}
			sprinted[p.ID] = true
			p.LastSprintTick = s.Tick
			p.LOSLock = false // sprint-breaks-lock, immediate regardless of outcome
			dest[p.ID] = resolveSprint(walls, grid, s.Defragger.Pos, p.Pos, cmd.Arg, r)
		default:
			dest[p.ID] = p.Pos
		}
	}

	final := runFixpoint(live, sources, occupantAt, dest)

	for _, p := range live {
		p.Pos = final[p.ID]
	}

	return Result{Sprinted: sprinted}
}

// resolveMoveIntent translates a MOVE digit into a single-tile destination,
// or the source tile (IDLE) if the digit is absent, 5, or illegal.
func resolveMoveIntent(walls geometry.WallSet, grid geometry.Grid, defraggerPos, from geometry.Tile, digit int) geometry.Tile {
	delta, ok := geometry.KeypadDelta(digit)
	if !ok {
		return from
	}
	to := from.Add(delta)
	if !grid.InBounds(to) || !geometry.Adjacent(walls, from, to) {
		return from
	}
	if to == defraggerPos {
		return from
	}
	return to
}

// resolveSprint walks up to maxSprintSteps single tiles in the intended
// direction. When the next tile in the current direction is illegal (wall,
// out of bounds, or the defragger's tile) it samples a random legal turn
// from the shard RNG; if no legal step exists at all, the sprint halts
// where it stands (a "blocked-through").
func resolveSprint(walls geometry.WallSet, grid geometry.Grid, defraggerPos, from geometry.Tile, digit int, r *rand.Rand) geometry.Tile {
	delta, ok := geometry.KeypadDelta(digit)
	if !ok {
		return from
	}
	cur := from
	for step := 0; step < maxSprintSteps; step++ {
		next := cur.Add(delta)
		if legalSprintStep(walls, grid, defraggerPos, cur, next) {
			cur = next
			continue
		}
		turn, ok := randomLegalTurn(walls, grid, defraggerPos, cur, r)
		if !ok {
			break // blocked-through: no legal step remains, sprint stops here
		}
		cur = turn
	}
	return cur
}

func legalSprintStep(walls geometry.WallSet, grid geometry.Grid, defraggerPos, from, to geometry.Tile) bool {
	if !grid.InBounds(to) || to == defraggerPos {
		return false
	}
	return geometry.Adjacent(walls, from, to)
}

func randomLegalTurn(walls geometry.WallSet, grid geometry.Grid, defraggerPos, from geometry.Tile, r *rand.Rand) (geometry.Tile, bool) {
	candidates := geometry.LegalNeighbors(walls, grid, from)
	out := candidates[:0:0]
	for _, c := range candidates {
		if c != defraggerPos {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return geometry.Tile{}, false
	}
	return out[r.IntN(len(out))], true
}

// runFixpoint resolves the dependency graph of proposed destinations:
// contested destinations force every involved mover to IDLE, and a move
// into a tick-start-occupied tile is admitted only once that occupant is
// itself confirmed moving out to a different tile. Iterates to a fixpoint.
func runFixpoint(live []*shard.Process, sources map[string]geometry.Tile, occupantAt map[geometry.Tile]string, dest map[string]geometry.Tile) map[string]geometry.Tile {
	idle := make(map[string]bool, len(live))
	for {
		changed := false

		byDest := make(map[geometry.Tile][]string)
		for _, p := range live {
			if idle[p.ID] {
				continue
			}
			if dest[p.ID] == sources[p.ID] {
				continue // not attempting to move
			}
			byDest[dest[p.ID]] = append(byDest[dest[p.ID]], p.ID)
		}
		for _, ids := range byDest {
			if len(ids) <= 1 {
				continue
			}
			for _, id := range ids {
				if !idle[id] {
					idle[id] = true
					changed = true
				}
			}
		}

		for _, p := range live {
			if idle[p.ID] || dest[p.ID] == sources[p.ID] {
				continue
			}
			occupantID, occupied := occupantAt[dest[p.ID]]
			if !occupied || occupantID == p.ID {
				continue
			}
			occupantIdle := idle[occupantID]
			occupantStaying := dest[occupantID] == sources[occupantID]
			if occupantIdle || occupantStaying {
				idle[p.ID] = true
				changed = true
			}
		}

		if !changed {
			break
		}
	}

	final := make(map[string]geometry.Tile, len(live))
	for _, p := range live {
		if idle[p.ID] {
			final[p.ID] = sources[p.ID]
		} else {
			final[p.ID] = dest[p.ID]
		}
	}
	return final
}

// GhostTransfer is a process that resolved onto a ghost gate this tick: it
// has already been destroyed in its origin shard, and the supervisor must
// schedule a fresh spawn for it (new process-id, same call-sign) into
// another shard. OriginProcessID identifies which session to re-point at
// the new shard; it is supervisor bookkeeping only and never reaches a
// perception payload.
type GhostTransfer struct {
	OriginProcessID string
	CallSign        string
}

// ResolveGates checks every live process's post-movement position against
// the shard's gates and immediately resolves any hit: a stable gate is a
// survival (the process leaves the game), a ghost gate destroys the
// process here and returns a transfer request for the supervisor to place
// elsewhere.
func ResolveGates(s *shard.Shard) []GhostTransfer {
	live := s.LiveProcesses()
	sort.Slice(live, func(i, j int) bool { return live[i].ID < live[j].ID })

	var transfers []GhostTransfer
	for _, p := range live {
		for _, g := range s.Gates {
			if g.Pos != p.Pos {
				continue
			}
			switch g.Type {
			case shard.GateStable:
				s.Events.Survived = append(s.Events.Survived, p.ID)
				s.Counters.Survivals++
				s.RemoveProcess(p.ID)
			case shard.GateGhost:
				s.Events.Ghosted = append(s.Events.Ghosted, p.ID)
				s.Counters.Ghosts++
				transfers = append(transfers, GhostTransfer{OriginProcessID: p.ID, CallSign: p.CallSign})
				s.RemoveProcess(p.ID)
			}
			break
		}
	}
	return transfers
}
