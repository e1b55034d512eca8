// Package defragger implements the predator's target-selection and
// movement policy: broadcast pull, line-of-sight acquisition, LOS-lock
// retention, patrol fallback, and the broadcast/watchdog Fibonacci
// escalation ladder. It runs once per tick, after drift, against the
// post-drift map.
package defragger

import (
	"math/rand/v2"
	"sort"

	"github.com/PStryder/SEGFAULT/internal/geometry"
	"github.com/PStryder/SEGFAULT/internal/rng"
	"github.com/PStryder/SEGFAULT/internal/shard"
)

// wanderProb is the chance that a target-seeking step takes a suboptimal
// (but still within one extra tile of shortest) path instead of the
// strict shortest step, so a cornered target isn't caught with
// mechanical inevitability.
const wanderProb = 0.15

// Result reports what happened this tick, for the orchestrator's
// quiet-tick and echo bookkeeping.
type Result struct {
	AcquiredNewLOSLock bool
	Killed             string // process-id killed this tick, "" if none
}

// RunPolicy selects the defragger's target for this tick and executes its
// movement, mutating s.Defragger and, on a kill, s.Events/s.Counters and
// removing the victim from the shard.
func RunPolicy(s *shard.Shard, r *rand.Rand) Result {
	walls := s.WallSet()
	var result Result

	target, reason, acquired := selectTarget(s, walls)
	result.AcquiredNewLOSLock = acquired
	s.Defragger.TargetID = target
	s.Defragger.TargetReason = reason

	steps, usedReason := movementBudget(s, reason, target)
	s.Defragger.TargetReason = usedReason
	s.Defragger.MovementBonus = steps - 1

	result.Killed = move(s, walls, steps, target, reason, r)
	return result
}

// selectTarget runs the priority cascade: broadcast, LOS acquisition,
// retained LOS-lock, patrol. It returns the chosen target id (empty for
// patrol) and whether a *new* LOS lock was set on a process this call.
func selectTarget(s *shard.Shard, walls geometry.WallSet) (targetID string, reason shard.TargetReason, acquiredNewLock bool) {
	if entry, ok := s.Ledger.Latest(); ok {
		if p, alive := s.Processes[entry.ProcessID]; alive && p.Alive {
			return p.ID, shard.ReasonBroadcast, false
		}
	}

	if p, ok := nearestLOS(s, walls); ok {
		isNew := !p.LOSLock
		p.LOSLock = true
		return p.ID, shard.ReasonLOS, isNew
	}

	if prev, ok := s.Processes[s.Defragger.TargetID]; ok && prev.Alive && prev.LOSLock &&
		geometry.LOS(walls, s.Defragger.Pos, prev.Pos) {
		return prev.ID, shard.ReasonLOS, false
	}

	return "", shard.ReasonPatrol, false
}

// nearestLOS returns the live process the defragger currently has line of
// sight on with the smallest BFS distance, ties broken by lowest id.
func nearestLOS(s *shard.Shard, walls geometry.WallSet) (*shard.Process, bool) {
	dist := geometry.Distances(walls, s.Grid, s.Defragger.Pos)
	live := s.LiveProcesses()
	sort.Slice(live, func(i, j int) bool { return live[i].ID < live[j].ID })

	var best *shard.Process
	bestDist := -1
	for _, p := range live {
		if !geometry.LOS(walls, s.Defragger.Pos, p.Pos) {
			continue
		}
		d, ok := dist[p.Pos]
		if !ok {
			continue
		}
		if best == nil || d < bestDist {
			best, bestDist = p, d
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

// movementBudget computes the total step count for this tick (1 base +
// applicable bonus) and the reason to report for the move, which becomes
// "watchdog" when a patrol move is elevated by a freshly discharged
// watchdog bonus. Broadcast escalation overrides watchdog escalation when
// both would apply; the watchdog's pending bonus is left undischarged in
// that case so it carries forward to a tick with no broadcast pull.
func movementBudget(s *shard.Shard, reason shard.TargetReason, targetID string) (steps int, usedReason shard.TargetReason) {
	if reason == shard.ReasonBroadcast {
		count := s.Ledger.CountFor(targetID)
		return 1 + rng.FibonacciLadder(count), reason
	}
	if reason == shard.ReasonLOS {
		return 1, reason
	}
	// Patrol: apply the watchdog bonus, if any, and relabel the reason.
	if s.Watchdog.PendingBonus > 0 {
		bonus := rng.FibonacciLadder(s.Watchdog.PendingBonus)
		s.Watchdog.PendingBonus = 0
		return 1 + bonus, shard.ReasonWatchdog
	}
	return 1, reason
}

// move executes up to `steps` single-tile moves toward the target (or a
// biased random patrol walk toward under-visited tiles when there is
// none), halting immediately on the first step that lands on a live
// process (a kill) and otherwise stopping early if no legal step remains.
func move(s *shard.Shard, walls geometry.WallSet, steps int, targetID string, reason shard.TargetReason, r *rand.Rand) (killed string) {
	for i := 0; i < steps; i++ {
		var next geometry.Tile
		var ok bool
		if targetID != "" {
			if target, alive := s.Processes[targetID]; alive && target.Alive {
				next, ok = targetStep(s, walls, target.Pos, r)
			}
		} else {
			next, ok = patrolStep(s, walls, r)
		}
		if !ok {
			break // policy error: no legal step; defragger stays, reason unchanged
		}

		if victim, hit := s.ProcessAt(next); hit {
			s.Defragger.Pos = next
			s.Events.Killed = append(s.Events.Killed, victim.ID)
			s.Counters.Kills++
			if s.VisitCounts != nil {
				s.VisitCounts[next]++
			}
			killedID := victim.ID
			s.RemoveProcess(victim.ID)
			return killedID // no multi-kill mowing: halt for this tick
		}

		s.Defragger.Pos = next
		if s.VisitCounts == nil {
			s.VisitCounts = map[geometry.Tile]int{}
		}
		s.VisitCounts[next]++
	}
	return ""
}

// targetStep returns the next tile toward target: usually the strict
// shortest step (lowest keypad index on a tie), but with probability
// wanderProb it instead samples among every legal neighbor within one
// extra tile of the shortest distance, weighted toward the closer ones.
func targetStep(s *shard.Shard, walls geometry.WallSet, target geometry.Tile, r *rand.Rand) (geometry.Tile, bool) {
	current := s.Defragger.Pos
	if current == target {
		return geometry.Tile{}, false
	}
	dist := geometry.Distances(walls, s.Grid, target)
	distCurrent, ok := dist[current]
	if !ok {
		return geometry.Tile{}, false
	}

	if r.Float64() >= wanderProb {
		return geometry.ShortestStep(walls, s.Grid, current, target)
	}

	var candidates []geometry.Tile
	var weights []float64
	for _, digit := range geometry.KeypadOrder {
		d, _ := geometry.KeypadDelta(digit)
		n := current.Add(d)
		if !s.Grid.InBounds(n) || !geometry.Adjacent(walls, current, n) {
			continue
		}
		dn, ok := dist[n]
		if !ok || dn > distCurrent {
			continue
		}
		candidates = append(candidates, n)
		weights = append(weights, 1.0/float64(1+dn))
	}
	if len(candidates) == 0 {
		return geometry.ShortestStep(walls, s.Grid, current, target)
	}
	return weightedChoice(candidates, weights, r), true
}

// weightedChoice samples one of candidates with probability proportional
// to its weight.
func weightedChoice(candidates []geometry.Tile, weights []float64, r *rand.Rand) geometry.Tile {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	roll := r.Float64() * total
	for i, w := range weights {
		roll -= w
		if roll <= 0 {
			return candidates[i]
		}
	}
	return candidates[len(candidates)-1]
}

// patrolStep picks the legal neighbor with the lowest visit count, biasing
// the random walk toward under-visited tiles; ties are broken uniformly at
// random via the shard RNG.
func patrolStep(s *shard.Shard, walls geometry.WallSet, r *rand.Rand) (geometry.Tile, bool) {
	candidates := geometry.LegalNeighbors(walls, s.Grid, s.Defragger.Pos)
	if len(candidates) == 0 {
		return geometry.Tile{}, false
	}
	best := candidates[0]
	bestCount := s.VisitCounts[best]
	var tied []geometry.Tile
	tied = append(tied, best)
	for _, c := range candidates[1:] {
		count := s.VisitCounts[c]
		switch {
		case count < bestCount:
			best, bestCount = c, count
			tied = []geometry.Tile{c}
		case count == bestCount:
			tied = append(tied, c)
		}
	}
	return tied[r.IntN(len(tied))], true
}
