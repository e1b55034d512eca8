package perception_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PStryder/SEGFAULT/internal/geometry"
	"github.com/PStryder/SEGFAULT/internal/perception"
	"github.com/PStryder/SEGFAULT/internal/shard"
)

func newTestShard() *shard.Shard {
	return &shard.Shard{
		Grid:      geometry.Grid{Size: 20},
		Processes: make(map[string]*shard.Process),
	}
}

func TestBuildReturnsFalseForUnknownProcess(t *testing.T) {
	s := newTestShard()
	_, ok := perception.Build(s, "ghost", nil)
	require.False(t, ok)
}

func TestBuildIncludesSelfTile(t *testing.T) {
	s := newTestShard()
	s.Processes["p1"] = &shard.Process{ID: "p1", Pos: geometry.Tile{X: 5, Y: 5}, Alive: true}
	payload, ok := perception.Build(s, "p1", nil)
	require.True(t, ok)
	found := false
	for _, tile := range payload.Tiles {
		if tile.Pos == (geometry.Tile{X: 5, Y: 5}) {
			require.Equal(t, perception.TileSelf, tile.Kind)
			found = true
		}
	}
	require.True(t, found)
}

func TestBuildUnionsAdjacentProcessClusters(t *testing.T) {
	s := newTestShard()
	s.Processes["p1"] = &shard.Process{ID: "p1", Pos: geometry.Tile{X: 5, Y: 5}, Alive: true}
	s.Processes["p2"] = &shard.Process{ID: "p2", Pos: geometry.Tile{X: 6, Y: 5}, Alive: true}
	payload, ok := perception.Build(s, "p1", nil)
	require.True(t, ok)
	sawP2Tile := false
	for _, tile := range payload.Tiles {
		if tile.Pos == (geometry.Tile{X: 7, Y: 5}) {
			sawP2Tile = true
		}
	}
	require.True(t, sawP2Tile, "union should reach into p2's own 3x3 keypad view")
}

func TestBuildExcludesDistantProcessClusterTiles(t *testing.T) {
	s := newTestShard()
	s.Processes["p1"] = &shard.Process{ID: "p1", Pos: geometry.Tile{X: 0, Y: 0}, Alive: true}
	s.Processes["far"] = &shard.Process{ID: "far", Pos: geometry.Tile{X: 15, Y: 15}, Alive: true}
	payload, ok := perception.Build(s, "p1", nil)
	require.True(t, ok)
	for _, tile := range payload.Tiles {
		require.NotEqual(t, geometry.Tile{X: 15, Y: 15}, tile.Pos)
	}
}

func TestBuildClassifiesDefraggerAndGateTiles(t *testing.T) {
	s := newTestShard()
	s.Processes["p1"] = &shard.Process{ID: "p1", Pos: geometry.Tile{X: 5, Y: 5}, Alive: true}
	s.Defragger.Pos = geometry.Tile{X: 5, Y: 6}
	s.Gates = []shard.Gate{{Pos: geometry.Tile{X: 4, Y: 5}, Type: shard.GateStable}}
	payload, ok := perception.Build(s, "p1", nil)
	require.True(t, ok)
	kinds := map[geometry.Tile]perception.TileKind{}
	for _, tile := range payload.Tiles {
		kinds[tile.Pos] = tile.Kind
	}
	require.Equal(t, perception.TileDefragger, kinds[geometry.Tile{X: 5, Y: 6}])
	require.Equal(t, perception.TileGate, kinds[geometry.Tile{X: 4, Y: 5}])
}

func TestBuildNeverLeaksOtherProcessIdentity(t *testing.T) {
	s := newTestShard()
	s.Processes["p1"] = &shard.Process{ID: "p1", CallSign: "alice", Pos: geometry.Tile{X: 5, Y: 5}, Alive: true}
	s.Processes["p2"] = &shard.Process{ID: "p2", CallSign: "bob", Pos: geometry.Tile{X: 6, Y: 5}, Alive: true}
	payload, ok := perception.Build(s, "p1", nil)
	require.True(t, ok)
	require.NotContains(t, payload.Grid, "bob")
	require.NotContains(t, payload.Grid, "p2")
}

func TestBuildPassesThroughDrainedEvents(t *testing.T) {
	s := newTestShard()
	s.Processes["p1"] = &shard.Process{ID: "p1", Pos: geometry.Tile{X: 5, Y: 5}, Alive: true}
	events := []perception.Event{{Kind: perception.EventBroadcast, From: "p2", Message: "hello"}}
	payload, ok := perception.Build(s, "p1", events)
	require.True(t, ok)
	require.Equal(t, events, payload.Events)
}

func TestBuildTileOrderIsDeterministicAcrossRepeatedCalls(t *testing.T) {
	s := newTestShard()
	s.Processes["p-charlie"] = &shard.Process{ID: "p-charlie", Pos: geometry.Tile{X: 5, Y: 5}, Alive: true}
	s.Processes["p-alpha"] = &shard.Process{ID: "p-alpha", Pos: geometry.Tile{X: 6, Y: 5}, Alive: true}
	s.Processes["p-bravo"] = &shard.Process{ID: "p-bravo", Pos: geometry.Tile{X: 7, Y: 5}, Alive: true}

	first, ok := perception.Build(s, "p-charlie", nil)
	require.True(t, ok)
	for i := 0; i < 20; i++ {
		again, ok := perception.Build(s, "p-charlie", nil)
		require.True(t, ok)
		require.Equal(t, first.Tiles, again.Tiles)
	}
}

func TestOutboxDrainClearsQueue(t *testing.T) {
	o := perception.NewOutbox()
	o.PushTo("p1", perception.Event{Kind: perception.EventNoise})
	o.PushTo("p1", perception.Event{Kind: perception.EventNoise})
	events := o.Drain("p1")
	require.Len(t, events, 2)
	require.Empty(t, o.Drain("p1"))
}

func TestOutboxPushToAllFansOutToEveryID(t *testing.T) {
	o := perception.NewOutbox()
	o.PushToAll([]string{"p1", "p2", "p3"}, perception.Event{Kind: perception.EventStaticBurst})
	require.Len(t, o.Drain("p1"), 1)
	require.Len(t, o.Drain("p2"), 1)
	require.Len(t, o.Drain("p3"), 1)
}

func TestOutboxDiscardDropsWithoutReturning(t *testing.T) {
	o := perception.NewOutbox()
	o.PushTo("p1", perception.Event{Kind: perception.EventNoise})
	o.Discard("p1")
	require.Empty(t, o.Drain("p1"))
}
