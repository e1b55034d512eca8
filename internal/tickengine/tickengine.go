// Package tickengine implements the per-shard tick pipeline: the ordered
// sequence of phases that advances one shard by exactly one tick,
// atomically with respect to that shard. It is the sole mutator of a
// shard's state once a tick is in progress; nothing here suspends on I/O.
package tickengine

import (
	"github.com/PStryder/SEGFAULT/internal/defragger"
	"github.com/PStryder/SEGFAULT/internal/drift"
	"github.com/PStryder/SEGFAULT/internal/geometry"
	"github.com/PStryder/SEGFAULT/internal/movement"
	"github.com/PStryder/SEGFAULT/internal/replay"
	"github.com/PStryder/SEGFAULT/internal/rng"
	"github.com/PStryder/SEGFAULT/internal/shard"
)

// EchoRetentionTicks is how long a death marker survives on the grid.
const EchoRetentionTicks = 3

// Params carries the shard-lifecycle configuration the pipeline needs but
// the shard itself doesn't store (it comes from internal/config).
type Params struct {
	MinActiveProcesses        int
	TerminationQuietThreshold int
}

// Result reports what the tick produced, for the supervisor to route:
// ghost transfers need placement in another shard, and the snapshot needs
// fire-and-forget dispatch to the replay recorder.
type Result struct {
	GhostTransfers []movement.GhostTransfer
	Snapshot       replay.Snapshot
	Terminated     bool
	JustTerminated bool
}

// Run advances s by exactly one tick and returns what happened. It never
// blocks on I/O: the replay snapshot and ghost transfers are handed back
// for the caller to dispatch.
func Run(s *shard.Shard, params Params) Result {
	s.Events.Reset()

	startAdjacent := anyLiveAdjacentToDefragger(s)

	s.Tick++
	s.Watchdog.Advance(s.QuietLastTick)

	movement.Resolve(s, rng.ForTickPhase(s.Seed, s.Tick, "movement"))
	ghostTransfers := movement.ResolveGates(s)

	drift.Apply(s, rng.ForTickPhase(s.Seed, s.Tick, "drift"))

	defragResult := defragger.RunPolicy(s, rng.ForTickPhase(s.Seed, s.Tick, "defragger"))

	broadcastsClosed, anyBroadcast := closeLedger(s)
	sayClosed := closeSayEvents(s)

	ageEchoes(s)
	if defragResult.Killed != "" {
		s.Echoes = append(s.Echoes, shard.EchoTile{Pos: s.Defragger.Pos, DeathTick: s.Tick})
	}

	performSpawns(s)

	s.QuietLastTick = !anyBroadcast && defragResult.Killed == "" &&
		!defragResult.AcquiredNewLOSLock && !startAdjacent

	justTerminated := updateTermination(s, params)

	snap := replay.Build(s, broadcastsClosed, sayClosed)

	return Result{
		GhostTransfers: ghostTransfers,
		Snapshot:       snap,
		Terminated:     s.Terminated,
		JustTerminated: justTerminated,
	}
}

// anyLiveAdjacentToDefragger is evaluated against the tick-start topology
// (before movement or drift), one of the four quiet-tick conditions.
func anyLiveAdjacentToDefragger(s *shard.Shard) bool {
	walls := s.WallSet()
	for _, p := range s.LiveProcesses() {
		if geometry.Adjacent(walls, s.Defragger.Pos, p.Pos) {
			return true
		}
	}
	return false
}

func closeLedger(s *shard.Shard) ([]replay.Broadcast, bool) {
	out := make([]replay.Broadcast, 0, len(s.Ledger.Entries))
	for _, e := range s.Ledger.Entries {
		out = append(out, replay.Broadcast{ProcessID: e.ProcessID, Timestamp: e.Timestamp, Message: e.Message})
	}
	any := len(s.Ledger.Entries) > 0
	s.Ledger.Clear()
	return out, any
}

func closeSayEvents(s *shard.Shard) []replay.SayEvent {
	out := make([]replay.SayEvent, 0, len(s.SayEvents))
	for _, say := range s.SayEvents {
		out = append(out, replay.SayEvent{
			SenderID:   say.SenderID,
			Recipients: append([]string(nil), say.Recipients...),
			Message:    say.Message,
		})
	}
	s.SayEvents = nil
	return out
}

func ageEchoes(s *shard.Shard) {
	kept := s.Echoes[:0:0]
	for _, e := range s.Echoes {
		if s.Tick-e.DeathTick < EchoRetentionTicks {
			kept = append(kept, e)
		}
	}
	s.Echoes = kept
}

// performSpawns drains the shard's pending spawn queue (fresh joins and
// the landing side of ghost transfers), placing each on a random walkable
// tile that is unoccupied and not adjacent to the defragger.
func performSpawns(s *shard.Shard) {
	if len(s.PendingSpawns) == 0 {
		return
	}
	r := rng.ForTickPhase(s.Seed, s.Tick, "spawn")
	walls := s.WallSet()
	for _, req := range s.PendingSpawns {
		pos := pickSpawnTile(s, walls, r)
		s.Processes[req.ProcessID] = &shard.Process{
			ID:       req.ProcessID,
			CallSign: req.CallSign,
			Pos:      pos,
			Alive:    true,
		}
		s.Events.Spawned = append(s.Events.Spawned, req.ProcessID)
		s.Counters.Joined++
	}
	s.PendingSpawns = nil
}

func pickSpawnTile(s *shard.Shard, walls geometry.WallSet, r interface{ IntN(int) int }) geometry.Tile {
	occupied := make(map[geometry.Tile]struct{}, len(s.Processes)+1)
	for _, p := range s.Processes {
		if p.Alive {
			occupied[p.Pos] = struct{}{}
		}
	}
	occupied[s.Defragger.Pos] = struct{}{}

	var preferred, fallback []geometry.Tile
	for x := 0; x < s.Grid.Size; x++ {
		for y := 0; y < s.Grid.Size; y++ {
			t := geometry.Tile{X: x, Y: y}
			if _, busy := occupied[t]; busy {
				continue
			}
			fallback = append(fallback, t)
			if !geometry.Adjacent(walls, s.Defragger.Pos, t) {
				preferred = append(preferred, t)
			}
		}
	}
	if len(preferred) > 0 {
		return preferred[r.IntN(len(preferred))]
	}
	if len(fallback) > 0 {
		return fallback[r.IntN(len(fallback))]
	}
	return geometry.Tile{}
}

func updateTermination(s *shard.Shard, params Params) bool {
	if s.Terminated {
		return false
	}
	if params.MinActiveProcesses > 0 && len(s.LiveProcesses()) < params.MinActiveProcesses {
		s.LowPopulationStreak++
	} else {
		s.LowPopulationStreak = 0
	}
	if params.TerminationQuietThreshold > 0 && s.LowPopulationStreak >= params.TerminationQuietThreshold {
		s.Terminated = true
		return true
	}
	return false
}
