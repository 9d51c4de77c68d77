package mixer

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"time"
)

// HopPlan is the full randomized route decision for one mix, produced
// before any I/O begins so it can be inspected and tested independently
// of execution.
type HopPlan struct {
	// HopCount is the number of intermediate accounts the transfer
	// passes through.
	HopCount int
	// Delays holds one independently drawn suspension per hop: Delays[i]
	// is applied after hop i+1 is funded (and delegated, when enabled)
	// and before its outbound transfer. Timing obfuscation is a designed
	// property, not a side effect of network latency.
	Delays []time.Duration
}

// Planner draws hop counts and inter-hop delays. Randomness comes from a
// cryptographically adequate source so neither can be inferred from
// request content or account patterns.
type Planner struct {
	rand io.Reader
}

// NewPlanner creates a planner backed by the system CSPRNG.
func NewPlanner() *Planner {
	return &Planner{rand: rand.Reader}
}

// NewPlannerWithSource creates a planner with a caller-supplied entropy
// source. Used in tests.
func NewPlannerWithSource(r io.Reader) *Planner {
	return &Planner{rand: r}
}

// Plan produces the hop count and per-boundary delays for one mix. Pure
// computation; called exactly once per mix.
func (p *Planner) Plan(cfg MixerConfig) HopPlan {
	hops := cfg.MinHops + p.intn(cfg.MaxHops-cfg.MinHops+1)

	delays := make([]time.Duration, hops)
	span := cfg.MaxDelay - cfg.MinDelay
	for i := range delays {
		delays[i] = cfg.MinDelay + p.duration(span)
	}

	return HopPlan{HopCount: hops, Delays: delays}
}

// intn returns a uniform value in [0, n). n <= 1 yields 0.
func (p *Planner) intn(n int) int {
	if n <= 1 {
		return 0
	}
	return int(p.uint64n(uint64(n)))
}

// duration returns a uniform duration in [0, span].
func (p *Planner) duration(span time.Duration) time.Duration {
	if span <= 0 {
		return 0
	}
	return time.Duration(p.uint64n(uint64(span) + 1))
}

// uint64n draws a uniform value in [0, n) by rejection sampling, which
// avoids the modulo bias of truncating raw CSPRNG output.
func (p *Planner) uint64n(n uint64) uint64 {
	max := ^uint64(0) - ^uint64(0)%n
	var b [8]byte
	for {
		if _, err := io.ReadFull(p.rand, b[:]); err != nil {
			// The system CSPRNG does not fail in practice; a broken
			// custom source degrades to the range minimum rather than
			// aborting a mix.
			return 0
		}
		v := binary.BigEndian.Uint64(b[:])
		if v < max {
			return v % n
		}
	}
}
