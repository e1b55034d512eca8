// Package telemetry builds the single *zap.Logger threaded through the
// supervisor and every per-shard tick driver. It also supplies field
// helpers for shard-scoped log lines: shard-id, tick, and the condition
// name.
package telemetry

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production logger, or a development one with debug
// verbosity when verbose is set.
func New(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	return cfg.Build()
}

// ShardFields returns the shard-id/tick pair for a shard-scoped log line.
// The supervisor's invariant-violation line uses it; the replay recorder's
// drop-oldest line builds the same two fields itself. Drift-retry
// exhaustion is reported only in drift.Result and is not logged.
func ShardFields(shardID string, tick int64) []zap.Field {
	return []zap.Field{
		zap.String("shard_id", shardID),
		zap.Int64("tick", tick),
	}
}

// Condition tags a log line with the error-taxonomy condition name.
func Condition(name string) zap.Field {
	return zap.String("condition", name)
}
