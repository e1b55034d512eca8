package shard_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PStryder/SEGFAULT/internal/geometry"
	"github.com/PStryder/SEGFAULT/internal/shard"
)

func TestWatchdogFiresAfterSixQuietPlusThreeCountdown(t *testing.T) {
	var w shard.Watchdog
	for i := 0; i < 5; i++ {
		fired := w.Advance(true)
		require.False(t, fired)
	}
	require.False(t, w.Active)
	fired := w.Advance(true) // 6th quiet tick arms it
	require.False(t, fired)
	require.True(t, w.Active)
	require.Equal(t, 3, w.Countdown)

	fired = w.Advance(true)
	require.False(t, fired)
	fired = w.Advance(true)
	require.False(t, fired)
	fired = w.Advance(true)
	require.True(t, fired)
	require.Equal(t, 1, w.PendingBonus)
	require.False(t, w.Active)
	require.Equal(t, 0, w.QuietTicks)
}

func TestWatchdogResetsOnNonQuiet(t *testing.T) {
	var w shard.Watchdog
	for i := 0; i < 6; i++ {
		w.Advance(true)
	}
	require.True(t, w.Active)
	w.Advance(false)
	require.False(t, w.Active)
	require.Equal(t, 0, w.QuietTicks)
	require.Equal(t, 0, w.Countdown)
}

func TestBroadcastLedgerLatestTiesByLowestProcessID(t *testing.T) {
	var l shard.BroadcastLedger
	l.Add("proc-b", 100, "hi")
	l.Add("proc-a", 100, "hi")
	latest, ok := l.Latest()
	require.True(t, ok)
	require.Equal(t, "proc-a", latest.ProcessID)
}

func TestBroadcastLedgerLatestByTimestamp(t *testing.T) {
	var l shard.BroadcastLedger
	l.Add("proc-a", 100, "hi")
	l.Add("proc-b", 200, "hi")
	latest, ok := l.Latest()
	require.True(t, ok)
	require.Equal(t, "proc-b", latest.ProcessID)
}

func TestExportDebugStateProcessOrderIsDeterministicAcrossRepeatedCalls(t *testing.T) {
	s := &shard.Shard{
		ID:   "shard-1",
		Grid: geometry.Grid{Size: 10},
		Processes: map[string]*shard.Process{
			"p-charlie": {ID: "p-charlie", Pos: geometry.Tile{X: 1, Y: 1}, Alive: true},
			"p-alpha":   {ID: "p-alpha", Pos: geometry.Tile{X: 2, Y: 2}, Alive: true},
			"p-echo":    {ID: "p-echo", Pos: geometry.Tile{X: 3, Y: 3}, Alive: true},
			"p-bravo":   {ID: "p-bravo", Pos: geometry.Tile{X: 4, Y: 4}, Alive: true},
			"p-delta":   {ID: "p-delta", Pos: geometry.Tile{X: 5, Y: 5}, Alive: true},
		},
	}
	first := s.ExportDebugState()
	for i := 0; i < 20; i++ {
		again := s.ExportDebugState()
		require.Equal(t, first.Processes, again.Processes)
	}
	ids := make([]string, len(first.Processes))
	for i, p := range first.Processes {
		ids[i] = p.ID
	}
	require.Equal(t, []string{"p-alpha", "p-bravo", "p-charlie", "p-delta", "p-echo"}, ids)
}

func TestDebugStateRoundTrip(t *testing.T) {
	s := &shard.Shard{
		ID:   "shard-1",
		Tick: 12,
		Seed: 99,
		Grid: geometry.Grid{Size: 20},
		Walls: []geometry.WallEdge{
			{ID: 0, Edge: geometry.NewEdge(1, 0, 1, 1)},
		},
		Gates: []shard.Gate{
			{Pos: geometry.Tile{X: 0, Y: 0}, Type: shard.GateStable},
		},
		Processes: map[string]*shard.Process{
			"p1": {ID: "p1", CallSign: "alice", Pos: geometry.Tile{X: 2, Y: 2}, Alive: true},
		},
		VisitCounts: map[geometry.Tile]int{{X: 1, Y: 1}: 3},
	}
	out := s.ExportDebugState()
	restored := shard.ImportDebugState(out)
	require.Equal(t, s.ID, restored.ID)
	require.Equal(t, s.Tick, restored.Tick)
	require.Equal(t, s.Walls, restored.Walls)
	require.Equal(t, s.Gates, restored.Gates)
	require.Equal(t, s.Processes["p1"].CallSign, restored.Processes["p1"].CallSign)
	require.Equal(t, 3, restored.VisitCounts[geometry.Tile{X: 1, Y: 1}])
}
