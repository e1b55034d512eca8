package shard

import (
	"sort"

	"github.com/PStryder/SEGFAULT/internal/geometry"
)

// DebugState is a serializable snapshot of a shard's persistent mutable
// state. It round-trips through Export/Import and is what a debug or test
// harness uses to seed deterministic scenarios without driving the
// join/submit pipeline. It does not capture the ledger, say events, the
// per-tick accumulator, pending spawns, the quiet/low-population streak
// fields, or each process's LastExecuted command.
type DebugState struct {
	ID          string               `json:"id"`
	Tick        int64                `json:"tick"`
	Seed        uint64               `json:"seed"`
	GridSize    int                  `json:"grid_size"`
	Walls       []WallEdgeState      `json:"walls"`
	Gates       []GateState          `json:"gates"`
	Processes   []ProcessState       `json:"processes"`
	Defragger   DefraggerState       `json:"defragger"`
	Watchdog    Watchdog             `json:"watchdog"`
	Echoes      []EchoTile           `json:"echoes"`
	Counters            Counters       `json:"counters"`
	VisitCounts         map[string]int `json:"visit_counts"`
	Terminated          bool           `json:"terminated"`
	NoiseBurstRemaining int            `json:"noise_burst_remaining"`
}

// WallEdgeState is the export shape of a wall edge.
type WallEdgeState struct {
	ID int   `json:"id"`
	AX int   `json:"ax"`
	AY int   `json:"ay"`
	BX int   `json:"bx"`
	BY int   `json:"by"`
}

// GateState is the export shape of a gate.
type GateState struct {
	X    int    `json:"x"`
	Y    int    `json:"y"`
	Type string `json:"type"`
}

// ProcessState is the export shape of a process.
type ProcessState struct {
	ID             string `json:"id"`
	CallSign       string `json:"call_sign"`
	X              int    `json:"x"`
	Y              int    `json:"y"`
	Alive          bool   `json:"alive"`
	Verb           int    `json:"verb"`
	Arg            int    `json:"arg"`
	LastSprintTick int64  `json:"last_sprint_tick"`
	LOSLock        bool   `json:"los_lock"`
}

// DefraggerState is the export shape of the defragger.
type DefraggerState struct {
	X             int    `json:"x"`
	Y             int    `json:"y"`
	TargetID      string `json:"target_id"`
	TargetReason  int    `json:"target_reason"`
	MovementBonus int    `json:"movement_bonus"`
}

func gateTypeString(t GateType) string {
	if t == GateStable {
		return "stable"
	}
	return "ghost"
}

func gateTypeFromString(s string) GateType {
	if s == "stable" {
		return GateStable
	}
	return GateGhost
}

// ExportDebugState captures the full mutable state of the shard.
func (s *Shard) ExportDebugState() DebugState {
	out := DebugState{
		ID:                  s.ID,
		Tick:                s.Tick,
		Seed:                s.Seed,
		GridSize:            s.Grid.Size,
		Counters:            s.Counters,
		Watchdog:            s.Watchdog,
		Echoes:              append([]EchoTile(nil), s.Echoes...),
		Terminated:          s.Terminated,
		VisitCounts:         make(map[string]int, len(s.VisitCounts)),
		NoiseBurstRemaining: s.NoiseBurstRemaining,
	}
	for _, w := range s.Walls {
		out.Walls = append(out.Walls, WallEdgeState{
			ID: w.ID, AX: w.Edge.A.X, AY: w.Edge.A.Y, BX: w.Edge.B.X, BY: w.Edge.B.Y,
		})
	}
	for _, g := range s.Gates {
		out.Gates = append(out.Gates, GateState{X: g.Pos.X, Y: g.Pos.Y, Type: gateTypeString(g.Type)})
	}
	procs := make([]*Process, 0, len(s.Processes))
	for _, p := range s.Processes {
		procs = append(procs, p)
	}
	sort.Slice(procs, func(i, j int) bool { return procs[i].ID < procs[j].ID })
	for _, p := range procs {
		out.Processes = append(out.Processes, ProcessState{
			ID: p.ID, CallSign: p.CallSign, X: p.Pos.X, Y: p.Pos.Y, Alive: p.Alive,
			Verb: int(p.Buffered.Verb), Arg: p.Buffered.Arg,
			LastSprintTick: p.LastSprintTick, LOSLock: p.LOSLock,
		})
	}
	out.Defragger = DefraggerState{
		X: s.Defragger.Pos.X, Y: s.Defragger.Pos.Y,
		TargetID: s.Defragger.TargetID, TargetReason: int(s.Defragger.TargetReason),
		MovementBonus: s.Defragger.MovementBonus,
	}
	for k, v := range s.VisitCounts {
		out.VisitCounts[visitKey(k)] = v
	}
	return out
}

// ImportDebugState rebuilds a shard's mutable state from a DebugState
// captured by ExportDebugState. It overwrites every field the export
// contains; fields not modeled by DebugState (the ledger, say events, the
// per-tick accumulator, pending spawns, QuietLastTick, the streak counters,
// and LastExecuted) come back as zero values.
func ImportDebugState(in DebugState) *Shard {
	s := &Shard{
		ID:                  in.ID,
		Tick:                in.Tick,
		Seed:                in.Seed,
		Grid:                geometry.Grid{Size: in.GridSize},
		Processes:           make(map[string]*Process, len(in.Processes)),
		Counters:            in.Counters,
		Watchdog:            in.Watchdog,
		Echoes:              append([]EchoTile(nil), in.Echoes...),
		Terminated:          in.Terminated,
		VisitCounts:         make(map[geometry.Tile]int, len(in.VisitCounts)),
		NoiseBurstRemaining: in.NoiseBurstRemaining,
	}
	maxID := 0
	for _, w := range in.Walls {
		s.Walls = append(s.Walls, geometry.WallEdge{ID: w.ID, Edge: geometry.NewEdge(w.AX, w.AY, w.BX, w.BY)})
		if w.ID >= maxID {
			maxID = w.ID + 1
		}
	}
	s.SetNextWallID(maxID)
	for _, g := range in.Gates {
		s.Gates = append(s.Gates, Gate{Pos: geometry.Tile{X: g.X, Y: g.Y}, Type: gateTypeFromString(g.Type)})
	}
	for _, p := range in.Processes {
		s.Processes[p.ID] = &Process{
			ID: p.ID, CallSign: p.CallSign, Pos: geometry.Tile{X: p.X, Y: p.Y}, Alive: p.Alive,
			Buffered:       Command{Verb: Verb(p.Verb), Arg: p.Arg},
			LastSprintTick: p.LastSprintTick, LOSLock: p.LOSLock,
		}
	}
	s.Defragger = Defragger{
		Pos:           geometry.Tile{X: in.Defragger.X, Y: in.Defragger.Y},
		TargetID:      in.Defragger.TargetID,
		TargetReason:  TargetReason(in.Defragger.TargetReason),
		MovementBonus: in.Defragger.MovementBonus,
	}
	for k, v := range in.VisitCounts {
		t, ok := parseVisitKey(k)
		if ok {
			s.VisitCounts[t] = v
		}
	}
	return s
}
