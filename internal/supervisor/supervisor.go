// Package supervisor implements the Engine Supervisor: shard lifecycle,
// session-scoped command intake, perception delivery, and the parallel
// tick-all fan-out, via a mutex-guarded hub generalized to many
// independently-ticking shards.
package supervisor

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/PStryder/SEGFAULT/internal/config"
	"github.com/PStryder/SEGFAULT/internal/genesis"
	"github.com/PStryder/SEGFAULT/internal/geometry"
	"github.com/PStryder/SEGFAULT/internal/movement"
	"github.com/PStryder/SEGFAULT/internal/perception"
	"github.com/PStryder/SEGFAULT/internal/replay"
	"github.com/PStryder/SEGFAULT/internal/rng"
	"github.com/PStryder/SEGFAULT/internal/shard"
	"github.com/PStryder/SEGFAULT/internal/telemetry"
	"github.com/PStryder/SEGFAULT/internal/tickengine"
)

// maxMessageCodePoints is the BROADCAST/SAY message truncation limit.
const maxMessageCodePoints = 256

// shardEntry pairs a shard with the mutex that serializes access to it:
// tick-all, submit, and perceive all take this lock before touching the
// shard, keeping each shard single-writer as the concurrency model requires.
type shardEntry struct {
	mu sync.Mutex
	s  *shard.Shard
}

type session struct {
	ShardID   string
	ProcessID string
}

// Supervisor is the process-wide lifecycle owner for every shard. Tick
// state advances only inside tickengine.Run; outside it the supervisor
// writes just command-intake state (buffered commands, ledger, say events,
// pending spawns) and the terminated flag. Everything else here is routing,
// bookkeeping, and session management.
type Supervisor struct {
	cfg    config.Config
	log    *zap.Logger
	params tickengine.Params

	outbox   *perception.Outbox
	recorder *replay.QueueRecorder

	// mu guards shards/order/sessions/byProc. Lock order is always mu before
	// any shardEntry.mu; nothing here ever acquires mu while holding a
	// shardEntry's lock, to avoid a reverse-order deadlock against
	// pickOrCreateShardLocked (which acquires entry.mu while holding mu).
	mu       sync.Mutex
	shards   map[string]*shardEntry
	order    []string // shard creation order, for round-robin join placement
	sessions map[string]session
	byProc   map[string]string // process-id -> session token, for ghost-transfer re-pointing

	// cacheMu is independent of mu precisely so Perceive can hold a
	// shardEntry's lock and this one simultaneously without risking the
	// reverse-order deadlock described above.
	cacheMu       sync.Mutex
	perceiveCache map[string]cachedPayload

	tickCounter int64 // monotonic broadcast timestamp source
}

type cachedPayload struct {
	tick    int64
	payload perception.Payload
}

// New constructs a Supervisor. recorder may be nil (snapshots are then
// discarded).
func New(cfg config.Config, log *zap.Logger, recorder *replay.QueueRecorder) *Supervisor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{
		cfg: cfg,
		log: log,
		params: tickengine.Params{
			MinActiveProcesses:        cfg.MinimumActiveProcessesPerShard,
			TerminationQuietThreshold: cfg.ShardTerminationQuietThreshold,
		},
		outbox:        perception.NewOutbox(),
		recorder:      recorder,
		shards:        make(map[string]*shardEntry),
		sessions:      make(map[string]session),
		byProc:        make(map[string]string),
		perceiveCache: make(map[string]cachedPayload),
	}
}

// Join places a freshly-arriving call-sign into a shard under its
// population cap, minting fresh shard/process/session identifiers as
// needed, and returns the session token the caller submits and perceives
// with from then on.
func (sup *Supervisor) Join(callSign string) (shardID, processID, sessionToken string, err error) {
	sup.mu.Lock()
	entry, isNew := sup.pickOrCreateShardLocked()
	sup.mu.Unlock()

	processID = uuid.NewString()
	sessionToken = uuid.NewString()

	entry.mu.Lock()
	entry.s.PendingSpawns = append(entry.s.PendingSpawns, shard.SpawnRequest{ProcessID: processID, CallSign: callSign})
	shardID = entry.s.ID
	entry.mu.Unlock()

	sup.mu.Lock()
	sup.sessions[sessionToken] = session{ShardID: shardID, ProcessID: processID}
	sup.byProc[processID] = sessionToken
	sup.mu.Unlock()

	if isNew && sup.recorder != nil {
		sup.recorder.RegisterShard(shardID)
	}
	return shardID, processID, sessionToken, nil
}

// pickOrCreateShardLocked must be called with sup.mu held. It returns an
// existing shard under its population cap, or creates a new one.
func (sup *Supervisor) pickOrCreateShardLocked() (*shardEntry, bool) {
	for _, id := range sup.order {
		entry := sup.shards[id]
		entry.mu.Lock()
		full := entry.s.Terminated || sup.populationOf(entry.s) >= sup.cfg.ShardPopulationCap
		entry.mu.Unlock()
		if !full {
			return entry, false
		}
	}
	id := uuid.NewString()
	seed := shardSeedFromID(id)
	s := genesis.NewShard(id, seed, sup.cfg)
	entry := &shardEntry{s: s}
	sup.shards[id] = entry
	sup.order = append(sup.order, id)
	return entry, true
}

func (sup *Supervisor) populationOf(s *shard.Shard) int {
	return len(s.Processes) + len(s.PendingSpawns)
}

func shardSeedFromID(id string) uint64 {
	u, err := uuid.Parse(id)
	if err != nil {
		return 0
	}
	b := u[:]
	var h uint64
	for i, v := range b {
		h ^= uint64(v) << uint((i%8)*8)
	}
	return h
}

// Submit validates the session token and routes a command. MOVE/BUFFER/
// IDLE write the process's single-slot buffered-command register.
// BROADCAST and SAY are delivered out-of-band immediately: BROADCAST
// appends to the shard's in-progress ledger window, SAY fans out to the
// sender's current adjacency cluster. Neither touches the buffered slot.
func (sup *Supervisor) Submit(token string, cmd shard.Command, verbatimText string, isBroadcast, isSay bool) error {
	entry, procID, err := sup.resolveSession(token)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	p, ok := entry.s.Processes[procID]
	if !ok || !p.Alive {
		return fmt.Errorf("segfault: session %q has no live process", token)
	}

	switch {
	case isBroadcast:
		msg := truncateMessage(verbatimText)
		ts := atomic.AddInt64(&sup.tickCounter, 1)
		entry.s.Ledger.Add(procID, ts, msg)
		sup.deliverBroadcastLocked(entry.s, procID, msg)
		return nil
	case isSay:
		msg := truncateMessage(verbatimText)
		recipients := sup.localRecipientsLocked(entry.s, p)
		entry.s.SayEvents = append(entry.s.SayEvents, shard.SayEvent{SenderID: procID, Recipients: recipients, Message: msg})
		sup.deliverSayLocked(entry.s, procID, msg, recipients)
		return nil
	default:
		p.Buffered = cmd
		return nil
	}
}

func truncateMessage(text string) string {
	if utf8.RuneCountInString(text) <= maxMessageCodePoints {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxMessageCodePoints])
}

// deliverBroadcastLocked fans the broadcast out to every live process's
// event queue immediately, out-of-band from the tick pipeline; defragger
// retargeting on this broadcast still waits for the next tick boundary.
func (sup *Supervisor) deliverBroadcastLocked(s *shard.Shard, from, msg string) {
	ids := make([]string, 0, len(s.Processes))
	for id := range s.Processes {
		ids = append(ids, id)
	}
	sup.outbox.PushToAll(ids, perception.Event{Kind: perception.EventBroadcast, From: from, Message: msg})
}

// chatArtifactProb is the per-recipient static-noise chance on an otherwise
// clean SAY delivery.
const chatArtifactProb = 0.012

// chatArtifactBurstMax bounds how many consecutive deliveries a triggered
// noise burst garbles, once it starts.
const chatArtifactBurstMax = 3

var chatArtifacts = []string{"...", "[STATIC]"}

// deliverSayLocked fans a SAY message out to its recipients, garbling an
// occasional delivery into static noise instead of the real text. A
// triggered burst keeps garbling the next few deliveries (shard-wide,
// across SAY calls and ticks) before the roll goes back to probabilistic.
func (sup *Supervisor) deliverSayLocked(s *shard.Shard, senderID, msg string, recipients []string) {
	roll := rng.ForTickPhase(s.Seed, s.Tick, fmt.Sprintf("say:%d", len(s.SayEvents)))
	for _, r := range recipients {
		if shouldEmitChatArtifactLocked(s, roll) {
			sup.outbox.PushTo(r, perception.Event{Kind: perception.EventNoise, Message: chatArtifacts[roll.IntN(len(chatArtifacts))]})
			continue
		}
		sup.outbox.PushTo(r, perception.Event{Kind: perception.EventLocalChat, From: senderID, Message: msg})
	}
}

func shouldEmitChatArtifactLocked(s *shard.Shard, roll *rand.Rand) bool {
	if s.NoiseBurstRemaining > 0 {
		s.NoiseBurstRemaining--
		return true
	}
	if roll.Float64() < chatArtifactProb {
		s.NoiseBurstRemaining = roll.IntN(chatArtifactBurstMax) // burst length (1..Max) minus this delivery
		return true
	}
	return false
}

// localRecipientsLocked returns every live process transitively adjacent to
// sender, excluding the sender itself.
func (sup *Supervisor) localRecipientsLocked(s *shard.Shard, sender *shard.Process) []string {
	walls := s.WallSet()
	live := s.LiveProcesses()
	sort.Slice(live, func(i, j int) bool { return live[i].ID < live[j].ID })
	visited := map[string]bool{sender.ID: true}
	queue := []*shard.Process{sender}
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, p := range live {
			if visited[p.ID] {
				continue
			}
			if geometry.Adjacent(walls, cur.Pos, p.Pos) {
				visited[p.ID] = true
				out = append(out, p.ID)
				queue = append(queue, p)
			}
		}
	}
	return out
}

// Perceive returns the requesting process's current perception payload.
// It is idempotent within a tick: a re-request after a dropped connection
// (but before the next tick commits) returns the identical cached payload
// rather than draining the event queue a second time.
func (sup *Supervisor) Perceive(token string) (perception.Payload, error) {
	entry, procID, err := sup.resolveSession(token)
	if err != nil {
		return perception.Payload{}, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	sup.cacheMu.Lock()
	cached, ok := sup.perceiveCache[procID]
	sup.cacheMu.Unlock()
	if ok && cached.tick == entry.s.Tick {
		return cached.payload, nil
	}

	drained := sup.outbox.Drain(procID)
	payload, ok := perception.Build(entry.s, procID, drained)
	if !ok {
		return perception.Payload{}, fmt.Errorf("segfault: process %q is not live", procID)
	}

	sup.cacheMu.Lock()
	sup.perceiveCache[procID] = cachedPayload{tick: entry.s.Tick, payload: payload}
	sup.cacheMu.Unlock()
	return payload, nil
}

func (sup *Supervisor) resolveSession(token string) (*shardEntry, string, error) {
	sup.mu.Lock()
	sess, ok := sup.sessions[token]
	sup.mu.Unlock()
	if !ok {
		return nil, "", fmt.Errorf("segfault: unknown session token")
	}
	sup.mu.Lock()
	entry, ok := sup.shards[sess.ShardID]
	sup.mu.Unlock()
	if !ok {
		return nil, "", fmt.Errorf("segfault: session points at a shard that no longer exists")
	}
	return entry, sess.ProcessID, nil
}

// pendingTransfer is a ghost transfer still awaiting cross-shard routing,
// carrying the origin shard id so routing can place it elsewhere.
type pendingTransfer struct {
	originShardID string
	transfer      movement.GhostTransfer
}

// TickAll runs one orchestrator step per live, non-terminated shard,
// fanning out one goroutine per shard via errgroup and awaiting all —
// parallel across shards, strictly serial within each (the per-shard lock
// already enforces the latter even if a caller races a Submit against it).
// Ghost-transfer routing is deliberately deferred until every shard's tick
// has committed and released its lock, so that two shards ghost-swapping
// processes in the same tick-all pass can never lock each other out of
// order.
func (sup *Supervisor) TickAll(ctx context.Context) error {
	sup.mu.Lock()
	entries := make([]*shardEntry, 0, len(sup.shards))
	for _, id := range sup.order {
		entries = append(entries, sup.shards[id])
	}
	sup.mu.Unlock()

	results := make([][]pendingTransfer, len(entries))
	g, _ := errgroup.WithContext(ctx)
	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			results[i] = sup.tickOne(entry)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, transfers := range results {
		for _, t := range transfers {
			sup.routeGhostTransfer(t)
		}
	}
	return nil
}

// tickOne runs a single shard's tick, contained against panics so one
// shard's failure can never take down the fan-out or another shard. It
// returns any ghost transfers this tick produced, for the caller to route
// once every shard's lock has been released. Session/cache cleanup for
// ended processes happens after releasing entry.mu (via tickLocked's
// return), never nested inside it, to keep lock order consistent with
// pickOrCreateShardLocked.
func (sup *Supervisor) tickOne(entry *shardEntry) []pendingTransfer {
	endedIDs, transfers := sup.tickLocked(entry)
	for _, id := range endedIDs {
		sup.finishSessionFor(id)
	}
	return transfers
}

func (sup *Supervisor) tickLocked(entry *shardEntry) (endedIDs []string, transfers []pendingTransfer) {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	s := entry.s
	if s.Terminated {
		return nil, nil
	}

	defer func() {
		if r := recover(); r != nil {
			s.Terminated = true
			sup.log.Error("shard tick panicked, shard terminated",
				append(telemetry.ShardFields(s.ID, s.Tick), telemetry.Condition("invariant_violation"), zap.Any("panic", r))...)
			if sup.recorder != nil {
				sup.recorder.FinalizeShard(s.ID, true)
			}
			transfers = nil
			endedIDs = nil
		}
	}()

	result := tickengine.Run(s, sup.params)

	if sup.recorder != nil && sup.cfg.ReplayLoggingEnabled {
		sup.recorder.RecordTickSnapshot(result.Snapshot)
	}

	for _, id := range result.Snapshot.Events.Killed {
		sup.outbox.Discard(id)
		endedIDs = append(endedIDs, id)
	}
	if len(result.Snapshot.Events.Killed) > 0 {
		sup.deliverStaticBurstLocked(s)
	}
	for _, id := range result.Snapshot.Events.Survived {
		sup.outbox.Discard(id)
		endedIDs = append(endedIDs, id)
	}
	for _, t := range result.GhostTransfers {
		sup.outbox.Discard(t.OriginProcessID)
		transfers = append(transfers, pendingTransfer{originShardID: s.ID, transfer: t})
	}

	if result.JustTerminated && sup.recorder != nil {
		sup.recorder.FinalizeShard(s.ID, true)
	}
	return endedIDs, transfers
}

// deliverStaticBurstLocked pushes the global static-burst notice every
// remaining live process receives after a kill, independent of adjacency.
func (sup *Supervisor) deliverStaticBurstLocked(s *shard.Shard) {
	ids := make([]string, 0, len(s.Processes))
	for id := range s.Processes {
		ids = append(ids, id)
	}
	sup.outbox.PushToAll(ids, perception.Event{Kind: perception.EventStaticBurst})
}

// routeGhostTransfer places the far side of a ghost-gate crossing into a
// shard other than its origin (under that shard's population cap) and
// re-points the origin session, if any, at the new shard/process pair.
// Called only once every shard's tick-all pass has released its lock.
func (sup *Supervisor) routeGhostTransfer(pt pendingTransfer) {
	sup.mu.Lock()
	token, hasSession := sup.byProc[pt.transfer.OriginProcessID]
	entry, isNew := sup.pickOrCreateShardExcludingLocked(pt.originShardID)
	sup.mu.Unlock()

	newProcID := uuid.NewString()
	entry.mu.Lock()
	entry.s.PendingSpawns = append(entry.s.PendingSpawns, shard.SpawnRequest{ProcessID: newProcID, CallSign: pt.transfer.CallSign})
	newShardID := entry.s.ID
	entry.mu.Unlock()

	if isNew && sup.recorder != nil {
		sup.recorder.RegisterShard(newShardID)
	}

	sup.mu.Lock()
	delete(sup.byProc, pt.transfer.OriginProcessID)
	if hasSession {
		sup.sessions[token] = session{ShardID: newShardID, ProcessID: newProcID}
		sup.byProc[newProcID] = token
	}
	sup.mu.Unlock()

	sup.cacheMu.Lock()
	delete(sup.perceiveCache, pt.transfer.OriginProcessID)
	sup.cacheMu.Unlock()
}

// pickOrCreateShardExcludingLocked is pickOrCreateShardLocked restricted to
// shards other than excludeID, used by ghost-transfer routing so a process
// never lands back in the shard it just left. Must be called with sup.mu
// held.
func (sup *Supervisor) pickOrCreateShardExcludingLocked(excludeID string) (*shardEntry, bool) {
	for _, id := range sup.order {
		if id == excludeID {
			continue
		}
		entry := sup.shards[id]
		entry.mu.Lock()
		full := entry.s.Terminated || sup.populationOf(entry.s) >= sup.cfg.ShardPopulationCap
		entry.mu.Unlock()
		if !full {
			return entry, false
		}
	}
	id := uuid.NewString()
	seed := shardSeedFromID(id)
	s := genesis.NewShard(id, seed, sup.cfg)
	entry := &shardEntry{s: s}
	sup.shards[id] = entry
	sup.order = append(sup.order, id)
	return entry, true
}

func (sup *Supervisor) finishSessionFor(processID string) {
	sup.mu.Lock()
	if token, ok := sup.byProc[processID]; ok {
		delete(sup.sessions, token)
		delete(sup.byProc, processID)
	}
	sup.mu.Unlock()

	sup.cacheMu.Lock()
	delete(sup.perceiveCache, processID)
	sup.cacheMu.Unlock()
}

// Shutdown finalizes a shard: marks it terminated and publishes a terminal
// replay marker. Idempotent.
func (sup *Supervisor) Shutdown(shardID string) {
	sup.mu.Lock()
	entry, ok := sup.shards[shardID]
	sup.mu.Unlock()
	if !ok {
		return
	}
	entry.mu.Lock()
	already := entry.s.Terminated
	entry.s.Terminated = true
	entry.mu.Unlock()
	if !already && sup.recorder != nil {
		sup.recorder.FinalizeShard(shardID, true)
	}
}

// Close stops the supervisor's background recorder, if any.
func (sup *Supervisor) Close() {
	if sup.recorder != nil {
		sup.recorder.Close()
	}
}
