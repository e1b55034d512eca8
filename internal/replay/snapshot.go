// Package replay builds the append-only, bit-exact replay snapshot emitted
// once per shard per tick and dispatches it to the (out-of-scope)
// persistence collaborator on a fire-and-forget basis.
package replay

import (
	"sort"

	"github.com/PStryder/SEGFAULT/internal/shard"
)

// Wall is one wall edge in the wire shape: [ax, ay, bx, by].
type Wall [4]int

// Gate is one gate in the wire shape.
type Gate struct {
	Pos  [2]int `json:"pos"`
	Type string `json:"type"`
}

// Process is one process in the wire shape.
type Process struct {
	ID             string `json:"id"`
	CallSign       string `json:"call_sign"`
	Pos            [2]int `json:"pos"`
	Alive          bool   `json:"alive"`
	Verb           string `json:"verb"`
	Arg            int    `json:"arg"`
	LOSLock        bool   `json:"los_lock"`
	LastSprintTick int64  `json:"last_sprint_tick"`
}

// Defragger is the defragger in the wire shape.
type Defragger struct {
	Pos          [2]int `json:"pos"`
	TargetID     string `json:"target_id"`
	TargetReason string `json:"target_reason"`
}

// Watchdog is the watchdog in the wire shape.
type Watchdog struct {
	QuietTicks   int  `json:"quiet_ticks"`
	Countdown    int  `json:"countdown"`
	Active       bool `json:"active"`
	PendingBonus int  `json:"pending_bonus"`
}

// Broadcast is one ledger entry closed out this tick.
type Broadcast struct {
	ProcessID string `json:"process_id"`
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
}

// SayEvent is one local-chat event this tick.
type SayEvent struct {
	SenderID   string   `json:"sender_id"`
	Recipients []string `json:"recipients"`
	Message    string   `json:"message"`
}

// EchoTile is one live echo marker.
type EchoTile struct {
	Pos       [2]int `json:"pos"`
	DeathTick int64  `json:"death_tick"`
}

// Events is the tick-event accumulator in the wire shape.
type Events struct {
	Killed   []string `json:"killed"`
	Survived []string `json:"survived"`
	Ghosted  []string `json:"ghosted"`
	Spawned  []string `json:"spawned"`
}

// Snapshot is the bit-exact per-tick replay record: shard_id, tick,
// grid_size, walls, gates, processes, defragger, watchdog, broadcasts,
// say_events, echo_tiles, events.
type Snapshot struct {
	ShardID   string      `json:"shard_id"`
	Tick      int64       `json:"tick"`
	GridSize  int         `json:"grid_size"`
	Walls     []Wall      `json:"walls"`
	Gates     []Gate      `json:"gates"`
	Processes []Process   `json:"processes"`
	Defragger Defragger   `json:"defragger"`
	Watchdog  Watchdog    `json:"watchdog"`
	Broadcasts []Broadcast `json:"broadcasts"`
	SayEvents []SayEvent  `json:"say_events"`
	EchoTiles []EchoTile  `json:"echo_tiles"`
	Events    Events      `json:"events"`
}

func verbString(v shard.Verb) string {
	switch v {
	case shard.VerbMove:
		return "MOVE"
	case shard.VerbBuffer:
		return "BUFFER"
	default:
		return "IDLE"
	}
}

func gateTypeString(t shard.GateType) string {
	if t == shard.GateStable {
		return "stable"
	}
	return "ghost"
}

// Build projects a shard's current tick state into its wire-shape
// snapshot. The ledger and say-events passed in are the ones this tick
// closed out (the shard's own fields have already been cleared by the
// time the pipeline reaches emission, so the orchestrator must snapshot
// them before clearing).
func Build(s *shard.Shard, broadcasts []Broadcast, sayEvents []SayEvent) Snapshot {
	snap := Snapshot{
		ShardID:    s.ID,
		Tick:       s.Tick,
		GridSize:   s.Grid.Size,
		Broadcasts: broadcasts,
		SayEvents:  sayEvents,
		Watchdog: Watchdog{
			QuietTicks:   s.Watchdog.QuietTicks,
			Countdown:    s.Watchdog.Countdown,
			Active:       s.Watchdog.Active,
			PendingBonus: s.Watchdog.PendingBonus,
		},
		Defragger: Defragger{
			Pos:          [2]int{s.Defragger.Pos.X, s.Defragger.Pos.Y},
			TargetID:     s.Defragger.TargetID,
			TargetReason: s.Defragger.TargetReason.String(),
		},
		Events: Events{
			Killed:   append([]string(nil), s.Events.Killed...),
			Survived: append([]string(nil), s.Events.Survived...),
			Ghosted:  append([]string(nil), s.Events.Ghosted...),
			Spawned:  append([]string(nil), s.Events.Spawned...),
		},
	}
	for _, w := range s.Walls {
		snap.Walls = append(snap.Walls, Wall{w.Edge.A.X, w.Edge.A.Y, w.Edge.B.X, w.Edge.B.Y})
	}
	for _, g := range s.Gates {
		snap.Gates = append(snap.Gates, Gate{Pos: [2]int{g.Pos.X, g.Pos.Y}, Type: gateTypeString(g.Type)})
	}
	procs := make([]*shard.Process, 0, len(s.Processes))
	for _, p := range s.Processes {
		procs = append(procs, p)
	}
	sort.Slice(procs, func(i, j int) bool { return procs[i].ID < procs[j].ID })
	for _, p := range procs {
		snap.Processes = append(snap.Processes, Process{
			ID: p.ID, CallSign: p.CallSign, Pos: [2]int{p.Pos.X, p.Pos.Y}, Alive: p.Alive,
			Verb: verbString(p.LastExecuted.Verb), Arg: p.LastExecuted.Arg,
			LOSLock: p.LOSLock, LastSprintTick: p.LastSprintTick,
		})
	}
	for _, e := range s.Echoes {
		snap.EchoTiles = append(snap.EchoTiles, EchoTile{Pos: [2]int{e.Pos.X, e.Pos.Y}, DeathTick: e.DeathTick})
	}
	return snap
}
