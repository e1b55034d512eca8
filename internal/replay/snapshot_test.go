package replay_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PStryder/SEGFAULT/internal/geometry"
	"github.com/PStryder/SEGFAULT/internal/replay"
	"github.com/PStryder/SEGFAULT/internal/shard"
)

func TestBuildReportsLastExecutedNotPendingBuffer(t *testing.T) {
	s := &shard.Shard{
		ID:   "shard-1",
		Tick: 3,
		Grid: geometry.Grid{Size: 10},
		Processes: map[string]*shard.Process{
			"p1": {
				ID: "p1", CallSign: "alice", Pos: geometry.Tile{X: 1, Y: 1}, Alive: true,
				Buffered:     shard.Command{Verb: shard.VerbIdle},
				LastExecuted: shard.Command{Verb: shard.VerbMove, Arg: 8},
			},
		},
	}
	snap := replay.Build(s, nil, nil)
	require.Len(t, snap.Processes, 1)
	require.Equal(t, "MOVE", snap.Processes[0].Verb)
	require.Equal(t, 8, snap.Processes[0].Arg)
}

func TestBuildRendersWallsGatesAndDefragger(t *testing.T) {
	s := &shard.Shard{
		ID:   "shard-1",
		Tick: 1,
		Grid: geometry.Grid{Size: 10},
		Walls: []geometry.WallEdge{
			{ID: 0, Edge: geometry.NewEdge(1, 0, 1, 1)},
		},
		Gates: []shard.Gate{
			{Pos: geometry.Tile{X: 2, Y: 2}, Type: shard.GateStable},
			{Pos: geometry.Tile{X: 3, Y: 3}, Type: shard.GateGhost},
		},
		Defragger: shard.Defragger{Pos: geometry.Tile{X: 5, Y: 5}, TargetReason: shard.ReasonPatrol},
		Processes: map[string]*shard.Process{},
	}
	snap := replay.Build(s, nil, nil)
	require.Equal(t, "shard-1", snap.ShardID)
	require.Len(t, snap.Walls, 1)
	require.Equal(t, replay.Wall{1, 0, 1, 1}, snap.Walls[0])
	require.Len(t, snap.Gates, 2)
	require.Equal(t, "stable", snap.Gates[0].Type)
	require.Equal(t, "ghost", snap.Gates[1].Type)
	require.Equal(t, [2]int{5, 5}, snap.Defragger.Pos)
	require.Equal(t, "patrol", snap.Defragger.TargetReason)
}

func TestBuildCarriesClosedLedgerAndSayEvents(t *testing.T) {
	s := &shard.Shard{ID: "shard-1", Grid: geometry.Grid{Size: 10}, Processes: map[string]*shard.Process{}}
	broadcasts := []replay.Broadcast{{ProcessID: "p1", Timestamp: 5, Message: "hi"}}
	says := []replay.SayEvent{{SenderID: "p1", Recipients: []string{"p2"}, Message: "yo"}}
	snap := replay.Build(s, broadcasts, says)
	require.Equal(t, broadcasts, snap.Broadcasts)
	require.Equal(t, says, snap.SayEvents)
}

func TestBuildProcessOrderIsDeterministicAcrossRepeatedCalls(t *testing.T) {
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
	first := replay.Build(s, nil, nil)
	for i := 0; i < 20; i++ {
		again := replay.Build(s, nil, nil)
		require.Equal(t, first.Processes, again.Processes)
	}
	ids := make([]string, len(first.Processes))
	for i, p := range first.Processes {
		ids[i] = p.ID
	}
	require.Equal(t, []string{"p-alpha", "p-bravo", "p-charlie", "p-delta", "p-echo"}, ids)
}

func TestBuildEchoTilesCarryDeathTick(t *testing.T) {
	s := &shard.Shard{
		ID:        "shard-1",
		Grid:      geometry.Grid{Size: 10},
		Processes: map[string]*shard.Process{},
		Echoes:    []shard.EchoTile{{Pos: geometry.Tile{X: 4, Y: 4}, DeathTick: 9}},
	}
	snap := replay.Build(s, nil, nil)
	require.Len(t, snap.EchoTiles, 1)
	require.Equal(t, [2]int{4, 4}, snap.EchoTiles[0].Pos)
	require.Equal(t, int64(9), snap.EchoTiles[0].DeathTick)
}
