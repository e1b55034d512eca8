// Package shard holds the plain-data aggregate for one shard: grid, walls,
// gates, processes, the defragger, watchdog, broadcast ledger, echoes, and
// per-tick counters. The tick pipeline in internal/tickengine does nearly
// all mutation; the supervisor's command intake also writes a few fields
// (buffered commands, the ledger, say events, pending spawns, the
// terminated flag) under the shard's lock.
package shard

import "github.com/PStryder/SEGFAULT/internal/geometry"

// Verb is a buffered-command verb.
type Verb int

const (
	VerbIdle Verb = iota
	VerbMove
	VerbBuffer
)

// Command is a single buffered command slot: verb plus an optional keypad
// digit argument (0 when not applicable).
type Command struct {
	Verb Verb
	Arg  int
}

// GateType distinguishes a survival exit from a shard-transfer exit.
type GateType int

const (
	GateStable GateType = iota
	GateGhost
)

// Gate is a tile-valued exit.
type Gate struct {
	Pos  geometry.Tile
	Type GateType
}

// TargetReason is why the defragger is pursuing its current target.
type TargetReason int

const (
	ReasonNone TargetReason = iota
	ReasonBroadcast
	ReasonLOS
	ReasonPatrol
	ReasonWatchdog
)

func (r TargetReason) String() string {
	switch r {
	case ReasonBroadcast:
		return "broadcast"
	case ReasonLOS:
		return "los"
	case ReasonPatrol:
		return "patrol"
	case ReasonWatchdog:
		return "watchdog"
	default:
		return "none"
	}
}

// Process is one live participant in a shard.
type Process struct {
	ID             string
	CallSign       string
	Pos            geometry.Tile
	Alive          bool
	Buffered       Command
	LastExecuted   Command // the command movement actually consumed this tick, for replay
	LastSprintTick int64
	LOSLock        bool
}

// Defragger is the shard's single predator entity.
type Defragger struct {
	Pos           geometry.Tile
	TargetID      string
	TargetReason  TargetReason
	MovementBonus int
}

// HasTarget reports whether the defragger currently has a live target.
func (d Defragger) HasTarget() bool { return d.TargetID != "" }

// Watchdog tracks liveness escalation across quiet ticks.
type Watchdog struct {
	QuietTicks   int
	Countdown    int
	Active       bool
	PendingBonus int
}

// Advance folds one tick's quiet/non-quiet verdict into the watchdog state.
// It returns true the tick the watchdog fires (grants a bonus).
func (w *Watchdog) Advance(quiet bool) bool {
	if !quiet {
		w.QuietTicks = 0
		w.Countdown = 0
		w.Active = false
		return false
	}
	w.QuietTicks++
	if !w.Active {
		if w.QuietTicks >= 6 {
			w.Active = true
			w.Countdown = 3
		}
		return false
	}
	w.Countdown--
	if w.Countdown <= 0 {
		w.PendingBonus++
		w.QuietTicks = 0
		w.Active = false
		w.Countdown = 0
		return true
	}
	return false
}

// BroadcastEntry is one ledger row for the in-progress tick window.
type BroadcastEntry struct {
	ProcessID string
	Timestamp int64
	Message   string
}

// BroadcastLedger accumulates broadcasts for the current tick window.
type BroadcastLedger struct {
	Entries []BroadcastEntry
}

// Add appends a broadcast to the ledger.
func (l *BroadcastLedger) Add(processID string, timestamp int64, message string) {
	l.Entries = append(l.Entries, BroadcastEntry{ProcessID: processID, Timestamp: timestamp, Message: message})
}

// Clear empties the ledger at tick commit.
func (l *BroadcastLedger) Clear() { l.Entries = nil }

// CountFor returns how many broadcasts in the window came from processID.
func (l BroadcastLedger) CountFor(processID string) int {
	n := 0
	for _, e := range l.Entries {
		if e.ProcessID == processID {
			n++
		}
	}
	return n
}

// Latest returns the entry with the highest timestamp, ties broken by
// lowest process-id. ok is false when the ledger is empty.
func (l BroadcastLedger) Latest() (BroadcastEntry, bool) {
	if len(l.Entries) == 0 {
		return BroadcastEntry{}, false
	}
	best := l.Entries[0]
	for _, e := range l.Entries[1:] {
		if e.Timestamp > best.Timestamp || (e.Timestamp == best.Timestamp && e.ProcessID < best.ProcessID) {
			best = e
		}
	}
	return best, true
}

// SayEvent is a local, tick-scoped chat message.
type SayEvent struct {
	SenderID   string
	Recipients []string
	Message    string
}

// SpawnRequest is a process waiting to be placed by the tick pipeline's
// spawn phase (step 10): either a fresh join or the far side of a ghost
// transfer. The id is pre-minted by the supervisor so Join (and ghost
// transfer routing) can hand back a stable identifier before the process
// is actually on the grid.
type SpawnRequest struct {
	ProcessID string
	CallSign  string
}

// EchoTile marks a tile where a process recently died.
type EchoTile struct {
	Pos       geometry.Tile
	DeathTick int64
}

// EventAccumulator records what happened during the tick in progress; it is
// reset at the start of every tick.
type EventAccumulator struct {
	Killed   []string
	Survived []string
	Ghosted  []string
	Spawned  []string
}

// Reset clears all per-tick event lists.
func (e *EventAccumulator) Reset() {
	e.Killed = nil
	e.Survived = nil
	e.Ghosted = nil
	e.Spawned = nil
}

// Counters are per-shard cumulative totals, never reset.
type Counters struct {
	Joined    int64
	Kills     int64
	Survivals int64
	Ghosts    int64
}

// Shard is the full per-instance aggregate. The tick pipeline advances it;
// outside a tick step the supervisor reads it for projection and writes
// only intake state (buffered commands, ledger, say events, noise burst,
// pending spawns, terminated flag).
type Shard struct {
	ID   string
	Tick int64
	Seed uint64

	Grid  geometry.Grid
	Walls []geometry.WallEdge
	Gates []Gate

	Processes map[string]*Process
	Defragger Defragger
	Watchdog  Watchdog
	Ledger    BroadcastLedger
	SayEvents []SayEvent
	Echoes    []EchoTile
	Events    EventAccumulator

	// NoiseBurstRemaining is how many more SAY deliveries in a row will be
	// replaced by static noise before the artifact roll resumes being
	// probabilistic. It persists across ticks, same as the reference
	// chat-artifact burst counter.
	NoiseBurstRemaining int

	VisitCounts map[geometry.Tile]int

	PendingSpawns []SpawnRequest

	Counters             Counters
	QuietStreakForLog    int
	QuietLastTick        bool
	LowPopulationStreak  int
	Terminated           bool

	nextWallID int
}

// WallSet builds a lookup set from the current wall-edge list.
func (s *Shard) WallSet() geometry.WallSet {
	return geometry.BuildWallSet(s.Walls)
}

// NewWallID returns the next unused wall-edge id and advances the counter.
// Drift relocation keeps each wall's existing id and does not draw a new
// one from here.
func (s *Shard) NewWallID() int {
	id := s.nextWallID
	s.nextWallID++
	return id
}

// SetNextWallID initializes the wall-id counter to at least n.
func (s *Shard) SetNextWallID(n int) {
	if n > s.nextWallID {
		s.nextWallID = n
	}
}

// LiveProcesses returns all currently alive processes.
func (s *Shard) LiveProcesses() []*Process {
	out := make([]*Process, 0, len(s.Processes))
	for _, p := range s.Processes {
		if p.Alive {
			out = append(out, p)
		}
	}
	return out
}

// ProcessAt returns the live process occupying t, if any.
func (s *Shard) ProcessAt(t geometry.Tile) (*Process, bool) {
	for _, p := range s.Processes {
		if p.Alive && p.Pos == t {
			return p, true
		}
	}
	return nil, false
}

// StableGate returns the shard's single stable gate.
func (s *Shard) StableGate() (Gate, bool) {
	for _, g := range s.Gates {
		if g.Type == GateStable {
			return g, true
		}
	}
	return Gate{}, false
}

// RemoveProcess deletes a process from the shard's live set (kill, survival,
// or ghost transfer all route through this).
func (s *Shard) RemoveProcess(id string) {
	delete(s.Processes, id)
	if s.Defragger.TargetID == id {
		s.Defragger.TargetID = ""
		s.Defragger.TargetReason = ReasonNone
	}
}
