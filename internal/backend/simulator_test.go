package backend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/intake/internal/config"
	"github.com/pitabwire/intake/model"
)

func TestSimulator_disabledByDefault(t *testing.T) {
	sim := NewSimulator(config.Defaults().Simulation)
	for i := 0; i < 100; i++ {
		_, failed := sim.Failure()
		require.False(t, failed)
		require.Zero(t, sim.Latency())
	}
}

func TestSimulator_nil(t *testing.T) {
	var sim *Simulator
	_, failed := sim.Failure()
	assert.False(t, failed)
	assert.Zero(t, sim.Latency())
	assert.NoError(t, sim.Delay(context.Background()))
}

func TestSimulator_alwaysFails(t *testing.T) {
	statuses := []int{400, 400, 500, 500, 404, 502}
	sim := NewSimulator(config.SimulationConfig{ErrorRate: 1, ErrorStatuses: statuses, Seed: 7})

	for i := 0; i < 50; i++ {
		ee, failed := sim.Failure()
		require.True(t, failed)
		assert.Contains(t, statuses, ee.Status)
		assert.Contains(t, failureMessages, ee.Message)
		assert.Equal(t, model.ErrSimulatedFailure, ee.Code)
	}
}

func TestSimulator_seedIsReproducible(t *testing.T) {
	cfg := config.SimulationConfig{
		ErrorRate:     0.5,
		ErrorStatuses: []int{400, 500, 502},
		LatencyMin:    600 * time.Millisecond,
		LatencyMax:    time.Second,
		Seed:          42,
	}
	a, b := NewSimulator(cfg), NewSimulator(cfg)

	for i := 0; i < 20; i++ {
		ea, fa := a.Failure()
		eb, fb := b.Failure()
		require.Equal(t, fa, fb)
		if fa {
			require.Equal(t, ea.Status, eb.Status)
			require.Equal(t, ea.Message, eb.Message)
		}
		require.Equal(t, a.Latency(), b.Latency())
	}
}

func TestSimulator_latencyRange(t *testing.T) {
	sim := NewSimulator(config.SimulationConfig{
		LatencyMin: 600 * time.Millisecond,
		LatencyMax: time.Second,
		Seed:       3,
	})
	for i := 0; i < 100; i++ {
		d := sim.Latency()
		require.GreaterOrEqual(t, d, 600*time.Millisecond)
		require.LessOrEqual(t, d, time.Second)
	}
}

func TestSimulator_spike(t *testing.T) {
	sim := NewSimulator(config.SimulationConfig{
		LatencyMin: 10 * time.Millisecond,
		LatencyMax: 10 * time.Millisecond,
		SpikeRate:  1,
		SpikeDelay: 2 * time.Second,
		Seed:       1,
	})
	assert.Equal(t, 2010*time.Millisecond, sim.Latency())
}

func TestSimulator_DelayHonoursContext(t *testing.T) {
	sim := NewSimulator(config.SimulationConfig{LatencyMin: time.Hour, LatencyMax: time.Hour, Seed: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := sim.Delay(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
