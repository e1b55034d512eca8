package replay

import (
	"sync"

	"go.uber.org/zap"
)

// Sink is the narrow capability surface the (out-of-scope) persistence
// collaborator exposes, per the design notes' "small fixed surface area"
// guidance: record_tick_snapshot, register_shard, finalize_shard.
type Sink interface {
	RecordTickSnapshot(Snapshot) error
	RegisterShard(shardID string) error
	FinalizeShard(shardID string, terminal bool) error
}

// QueueRecorder is a fire-and-forget dispatcher: the tick pipeline never
// blocks on persistence. Snapshots land in a bounded, mutex-protected
// slice, drained by one background worker; on overflow the oldest
// snapshot is dropped and a diagnostic counter increments.
type QueueRecorder struct {
	log *zap.Logger
	sink Sink

	mu       sync.Mutex
	queue    []Snapshot
	capacity int
	dropped  uint64
	closed   bool
	wake     chan struct{}
	done     chan struct{}
}

// NewQueueRecorder starts a QueueRecorder with the given bounded capacity,
// draining to sink on a background goroutine.
func NewQueueRecorder(sink Sink, capacity int, log *zap.Logger) *QueueRecorder {
	if capacity <= 0 {
		capacity = 512
	}
	r := &QueueRecorder{
		log:      log,
		sink:     sink,
		capacity: capacity,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go r.drainLoop()
	return r
}

// RecordTickSnapshot enqueues snap without blocking the caller; on
// overflow the oldest queued snapshot is dropped.
func (r *QueueRecorder) RecordTickSnapshot(snap Snapshot) {
	r.mu.Lock()
	if len(r.queue) >= r.capacity {
		r.queue = r.queue[1:]
		r.dropped++
		if r.log != nil {
			r.log.Warn("replay queue overflow, dropping oldest snapshot",
				zap.String("shard_id", snap.ShardID),
				zap.Int64("tick", snap.Tick),
				zap.Uint64("dropped_total", r.dropped),
			)
		}
	}
	r.queue = append(r.queue, snap)
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// RegisterShard tells the sink a shard has come online. Best-effort: a
// failure is logged, never propagated to the caller.
func (r *QueueRecorder) RegisterShard(shardID string) {
	if r.sink == nil {
		return
	}
	if err := r.sink.RegisterShard(shardID); err != nil && r.log != nil {
		r.log.Warn("replay sink register_shard failed", zap.String("shard_id", shardID), zap.Error(err))
	}
}

// FinalizeShard publishes a terminal replay marker. Best-effort.
func (r *QueueRecorder) FinalizeShard(shardID string, terminal bool) {
	if r.sink == nil {
		return
	}
	if err := r.sink.FinalizeShard(shardID, terminal); err != nil && r.log != nil {
		r.log.Warn("replay sink finalize_shard failed", zap.String("shard_id", shardID), zap.Error(err))
	}
}

// Dropped returns the cumulative drop-oldest count, for telemetry.
func (r *QueueRecorder) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close stops the drain worker once the queue empties.
func (r *QueueRecorder) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
	<-r.done
}

func (r *QueueRecorder) drainLoop() {
	defer close(r.done)
	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			closed := r.closed
			r.mu.Unlock()
			if closed {
				return
			}
			<-r.wake
			continue
		}
		snap := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()

		if r.sink == nil {
			continue
		}
		if err := r.sink.RecordTickSnapshot(snap); err != nil && r.log != nil {
			r.log.Warn("replay sink record_tick_snapshot failed",
				zap.String("shard_id", snap.ShardID), zap.Int64("tick", snap.Tick), zap.Error(err))
		}
	}
}
