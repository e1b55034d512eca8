package defragger

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PStryder/SEGFAULT/internal/geometry"
	"github.com/PStryder/SEGFAULT/internal/shard"
)

func TestTargetStepNeverIncreasesDistanceToTarget(t *testing.T) {
	s := &shard.Shard{Grid: geometry.Grid{Size: 20}}
	s.Defragger.Pos = geometry.Tile{X: 2, Y: 2}
	target := geometry.Tile{X: 10, Y: 10}
	walls := geometry.BuildWallSet(nil)
	distBefore := geometry.Distances(walls, s.Grid, target)[s.Defragger.Pos]

	for i := 0; i < 50; i++ {
		r := rand.New(rand.NewPCG(uint64(i), uint64(i)+1))
		next, ok := targetStep(s, walls, target, r)
		require.True(t, ok)
		distAfter := geometry.Distances(walls, s.Grid, target)[next]
		require.LessOrEqual(t, distAfter, distBefore)
	}
}

func TestTargetStepReturnsFalseWhenAlreadyOnTarget(t *testing.T) {
	s := &shard.Shard{Grid: geometry.Grid{Size: 20}}
	s.Defragger.Pos = geometry.Tile{X: 5, Y: 5}
	walls := geometry.BuildWallSet(nil)
	_, ok := targetStep(s, walls, geometry.Tile{X: 5, Y: 5}, rand.New(rand.NewPCG(1, 2)))
	require.False(t, ok)
}

func TestWeightedChoiceAlwaysReturnsACandidate(t *testing.T) {
	candidates := []geometry.Tile{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0}}
	weights := []float64{1, 1, 1}
	r := rand.New(rand.NewPCG(7, 9))
	for i := 0; i < 20; i++ {
		got := weightedChoice(candidates, weights, r)
		require.Contains(t, candidates, got)
	}
}
