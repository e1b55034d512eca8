// Package rng derives reproducible per-shard, per-tick random sources. No
// process-global RNG is ever shared: every caller must derive a fresh
// generator from (shard seed, tick number) so that parallel shard ticks stay
// reproducible regardless of goroutine scheduling order.
package rng

import "math/rand/v2"

// hashSeed folds a shard seed and tick number into a single 64-bit value
// using an FNV-1a style avalanche, for deterministic per-tick content.
func hashSeed(shardSeed uint64, tick int64) uint64 {
	const (
		offset = 14695981039346656037
		prime  = 1099511628211
	)
	h := uint64(offset)
	mix := func(v uint64) {
		for i := 0; i < 8; i++ {
			h ^= v & 0xff
			h *= prime
			v >>= 8
		}
	}
	mix(shardSeed)
	mix(uint64(tick))
	return h
}

// ForTick returns a *rand.Rand deterministically derived from shardSeed and
// tick: identical inputs always produce an identical sequence of draws,
// independent of wall-clock time or goroutine interleaving.
func ForTick(shardSeed uint64, tick int64) *rand.Rand {
	h := hashSeed(shardSeed, tick)
	return rand.New(rand.NewPCG(h, h^0x9e3779b97f4a7c15))
}

// ForTickPhase derives a further-split generator for a specific phase within
// a tick (e.g. drift vs. movement vs. defragger), so that two phases
// consuming different numbers of draws from the same tick never perturb
// each other's sequences.
func ForTickPhase(shardSeed uint64, tick int64, phase string) *rand.Rand {
	h := hashSeed(shardSeed, tick)
	for _, c := range phase {
		h ^= uint64(c)
		h *= 1099511628211
	}
	return rand.New(rand.NewPCG(h, h^0x9e3779b97f4a7c15))
}

// FibonacciLadder returns the index-th (1-based) term of the escalation
// ladder {1,3,5,8,13,...}, continued past its fixed prefix by ordinary
// Fibonacci addition. index <= 0 yields 0.
func FibonacciLadder(index int) int {
	if index <= 0 {
		return 0
	}
	ladder := []int{1, 3, 5, 8, 13}
	for len(ladder) < index {
		n := len(ladder)
		ladder = append(ladder, ladder[n-1]+ladder[n-2])
	}
	return ladder[index-1]
}
