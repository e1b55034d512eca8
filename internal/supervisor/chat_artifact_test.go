package supervisor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PStryder/SEGFAULT/internal/perception"
	"github.com/PStryder/SEGFAULT/internal/rng"
	"github.com/PStryder/SEGFAULT/internal/shard"
)

func TestShouldEmitChatArtifactLockedHonorsBurstBeforeRolling(t *testing.T) {
	s := &shard.Shard{NoiseBurstRemaining: 2}
	roll := rng.ForTickPhase(1, 1, "say:0")

	require.True(t, shouldEmitChatArtifactLocked(s, roll))
	require.Equal(t, 1, s.NoiseBurstRemaining)
	require.True(t, shouldEmitChatArtifactLocked(s, roll))
	require.Equal(t, 0, s.NoiseBurstRemaining)
}

func TestDeliverSayLockedIsDeterministicForIdenticalShardState(t *testing.T) {
	newShard := func() *shard.Shard {
		return &shard.Shard{Seed: 42, Tick: 7, SayEvents: make([]shard.SayEvent, 3)}
	}

	sup1 := &Supervisor{outbox: perception.NewOutbox()}
	sup1.deliverSayLocked(newShard(), "p1", "hello", []string{"p2", "p3"})

	sup2 := &Supervisor{outbox: perception.NewOutbox()}
	sup2.deliverSayLocked(newShard(), "p1", "hello", []string{"p2", "p3"})

	require.Equal(t, sup1.outbox.Drain("p2"), sup2.outbox.Drain("p2"))
	require.Equal(t, sup1.outbox.Drain("p3"), sup2.outbox.Drain("p3"))
}
