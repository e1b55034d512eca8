package supervisor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PStryder/SEGFAULT/internal/config"
	"github.com/PStryder/SEGFAULT/internal/shard"
	"github.com/PStryder/SEGFAULT/internal/supervisor"
)

func testConfig() config.Config {
	cfg := config.Config{
		GridSize:            10,
		WallCount:           10,
		ShardPopulationCap:  2,
		ReplayQueueCapacity: 8,
	}
	cfg.Normalize()
	return cfg
}

func TestJoinAssignsShardAndSessionThenSpawnsOnNextTick(t *testing.T) {
	sup := supervisor.New(testConfig(), nil, nil)
	shardID, processID, token, err := sup.Join("alice")
	require.NoError(t, err)
	require.NotEmpty(t, shardID)
	require.NotEmpty(t, processID)
	require.NotEmpty(t, token)

	require.NoError(t, sup.TickAll(context.Background()))
	payload, err := sup.Perceive(token)
	require.NoError(t, err)
	require.Equal(t, processID, payload.ProcessID)
}

func TestJoinFillsExistingShardBeforeCreatingANewOne(t *testing.T) {
	sup := supervisor.New(testConfig(), nil, nil) // cap is 2
	shardA, _, _, err := sup.Join("alice")
	require.NoError(t, err)
	shardB, _, _, err := sup.Join("bob")
	require.NoError(t, err)
	require.Equal(t, shardA, shardB)

	shardC, _, _, err := sup.Join("carol")
	require.NoError(t, err)
	require.NotEqual(t, shardA, shardC)
}

func TestSubmitRejectsUnknownSessionToken(t *testing.T) {
	sup := supervisor.New(testConfig(), nil, nil)
	err := sup.Submit("no-such-token", shard.Command{Verb: shard.VerbMove, Arg: 6}, "", false, false)
	require.Error(t, err)
}

func TestSubmitMoveIsConsumedByTheNextTick(t *testing.T) {
	sup := supervisor.New(testConfig(), nil, nil)
	_, processID, token, err := sup.Join("alice")
	require.NoError(t, err)
	require.NoError(t, sup.TickAll(context.Background())) // spawn

	payload, err := sup.Perceive(token)
	require.NoError(t, err)
	require.Equal(t, processID, payload.ProcessID)

	require.NoError(t, sup.Submit(token, shard.Command{Verb: shard.VerbMove, Arg: 6}, "", false, false))
	require.NoError(t, sup.TickAll(context.Background()))
	_, err = sup.Perceive(token)
	require.NoError(t, err)
}

func TestPerceiveIsIdempotentWithinATick(t *testing.T) {
	sup := supervisor.New(testConfig(), nil, nil)
	_, _, token, err := sup.Join("alice")
	require.NoError(t, err)
	require.NoError(t, sup.TickAll(context.Background()))

	first, err := sup.Perceive(token)
	require.NoError(t, err)
	second, err := sup.Perceive(token)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestSubmitBroadcastDeliversImmediatelyOutOfBand(t *testing.T) {
	sup := supervisor.New(testConfig(), nil, nil)
	_, _, tokenA, err := sup.Join("alice")
	require.NoError(t, err)
	_, _, tokenB, err := sup.Join("bob")
	require.NoError(t, err)
	require.NoError(t, sup.TickAll(context.Background())) // spawn both

	require.NoError(t, sup.Submit(tokenA, shard.Command{}, "help", true, false))

	payload, err := sup.Perceive(tokenB)
	require.NoError(t, err)
	require.Len(t, payload.Events, 1)
}

func TestShutdownIsIdempotent(t *testing.T) {
	sup := supervisor.New(testConfig(), nil, nil)
	shardID, _, _, err := sup.Join("alice")
	require.NoError(t, err)
	sup.Shutdown(shardID)
	sup.Shutdown(shardID)
}
