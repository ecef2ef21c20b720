package backend

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/pitabwire/intake/internal/config"
	"github.com/pitabwire/intake/model"
)

// failureMessages are the messages attached to injected failures.
var failureMessages = []string{
	"Connection timed out - please try again",
	"Database temporarily unavailable",
	"Invalid request format",
	"Something went wrong. Please refresh and try again.",
	"Server error - our team has been notified",
}

// Simulator injects latency and failures into answer updates. A zero
// SimulationConfig disables both.
type Simulator struct {
	cfg config.SimulationConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator creates a simulator. A non-zero cfg.Seed makes the sequence
// of failures and delays reproducible.
func NewSimulator(cfg config.SimulationConfig) *Simulator {
	var src rand.Source
	if cfg.Seed != 0 {
		src = rand.NewPCG(uint64(cfg.Seed), uint64(cfg.Seed))
	} else {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Simulator{cfg: cfg, rng: rand.New(src)}
}

// Failure decides whether the next update fails. The returned envelope
// carries a status drawn from the configured statuses and one of the stock
// failure messages.
func (s *Simulator) Failure() (*model.ErrorEnvelope, bool) {
	if s == nil || s.cfg.ErrorRate <= 0 || len(s.cfg.ErrorStatuses) == 0 {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rng.Float64() >= s.cfg.ErrorRate {
		return nil, false
	}
	msg := failureMessages[s.rng.IntN(len(failureMessages))]
	status := s.cfg.ErrorStatuses[s.rng.IntN(len(s.cfg.ErrorStatuses))]
	return model.NewStatusError(status, model.ErrSimulatedFailure, msg), true
}

// Latency returns the delay of the next response: uniform in
// [LatencyMin, LatencyMax] plus SpikeDelay with probability SpikeRate.
func (s *Simulator) Latency() time.Duration {
	if s == nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var d time.Duration
	if s.cfg.LatencyMax > 0 {
		d = s.cfg.LatencyMin
		if span := s.cfg.LatencyMax - s.cfg.LatencyMin; span > 0 {
			d += time.Duration(s.rng.Int64N(int64(span) + 1))
		}
	}
	if s.cfg.SpikeRate > 0 && s.rng.Float64() < s.cfg.SpikeRate {
		d += s.cfg.SpikeDelay
	}
	return d
}

// Delay blocks for the next simulated latency or until ctx is done.
func (s *Simulator) Delay(ctx context.Context) error {
	d := s.Latency()
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
