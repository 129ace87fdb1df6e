package source

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/cwbudde/algo-vecmath"
)

var ErrInvalidSimulation = errors.New("invalid simulator configuration")

// spikeShape is a biphasic extracellular action potential, in units of the
// spike amplitude.
var spikeShape = []float64{-0.35, -1, -0.7, -0.1, 0.3, 0.4, 0.3, 0.15, 0.05}

// SimConfig configures a Simulator.
type SimConfig struct {
	Channels   int
	SampleRate float64
	// Tick is how often a batch is emitted per channel.
	Tick time.Duration
	Seed int64
	// Amplitude scales the slow carrier wave.
	Amplitude float64
	Noise     float64
	// Spike is the peak amplitude of simulated action potentials.
	Spike float64
	// SpikeRate is the mean number of spikes per second per channel.
	SpikeRate float64
}

// DefaultSimConfig resembles a small extracellular recording in microvolts.
func DefaultSimConfig(channels int) SimConfig {
	return SimConfig{
		Channels:   channels,
		SampleRate: 30_000,
		Tick:       10 * time.Millisecond,
		Seed:       1,
		Amplitude:  40,
		Noise:      12,
		Spike:      120,
		SpikeRate:  8,
	}
}

func (c SimConfig) Validate() error {
	if c.Channels < 1 {
		return fmt.Errorf("%w: need at least one channel, got %d", ErrInvalidSimulation, c.Channels)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive, got %f", ErrInvalidSimulation, c.SampleRate)
	}
	if c.Tick <= 0 {
		return fmt.Errorf("%w: tick must be positive, got %v", ErrInvalidSimulation, c.Tick)
	}
	if c.Noise < 0 || c.SpikeRate < 0 {
		return fmt.Errorf("%w: noise and spike rate must not be negative", ErrInvalidSimulation)
	}
	return nil
}

// Simulator synthesizes bioelectric-looking traces: a slow sine carrier per
// channel, white noise, and sparse spikes. Output is fully determined by the
// seed.
type Simulator struct {
	cfg   SimConfig
	rng   *rand.Rand
	phase []float64
	step  []float64
	// owed carries the fractional sample count between ticks so the long run
	// average matches the sample rate.
	owed  float64
	noise []float64
	block [][]float64
}

func NewSimulator(cfg SimConfig) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Simulator{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		phase: make([]float64, cfg.Channels),
		step:  make([]float64, cfg.Channels),
		block: make([][]float64, cfg.Channels),
	}
	for ch := range s.step {
		// Spread carriers between 4 and 12 Hz so stacked traces are easy to
		// tell apart.
		freq := 4 + 8*float64(ch)/float64(max(cfg.Channels-1, 1))
		s.step[ch] = 2 * math.Pi * freq / cfg.SampleRate
		s.phase[ch] = s.rng.Float64() * 2 * math.Pi
	}
	return s, nil
}

// BatchSize returns the nominal number of samples per channel per tick.
func (s *Simulator) BatchSize() int {
	return max(1, int(math.Round(s.cfg.SampleRate*s.cfg.Tick.Seconds())))
}

// Next synthesizes the next batch for every channel. The returned slices are
// reused by the following call.
func (s *Simulator) Next() [][]float64 {
	s.owed += s.cfg.SampleRate * s.cfg.Tick.Seconds()
	n := int(s.owed)
	s.owed -= float64(n)
	if n == 0 {
		n = 1
	}
	if cap(s.noise) < n {
		s.noise = make([]float64, n)
	}
	s.noise = s.noise[:n]
	spikeChance := s.cfg.SpikeRate / s.cfg.SampleRate
	for ch := range s.block {
		out := s.block[ch]
		if cap(out) < n {
			out = make([]float64, n)
		}
		out = out[:n]
		for i := range out {
			out[i] = math.Sin(s.phase[ch] + s.step[ch]*float64(i))
		}
		s.phase[ch] = math.Mod(s.phase[ch]+s.step[ch]*float64(n), 2*math.Pi)
		vecmath.ScaleBlock(out, out, s.cfg.Amplitude)

		for i := range s.noise {
			s.noise[i] = 2*s.rng.Float64() - 1
		}
		vecmath.ScaleBlock(s.noise, s.noise, s.cfg.Noise)
		vecmath.AddBlockInPlace(out, s.noise)

		for i := range out {
			if s.rng.Float64() >= spikeChance {
				continue
			}
			end := min(i+len(spikeShape), n)
			for j := i; j < end; j++ {
				out[j] += s.cfg.Spike * spikeShape[j-i]
			}
		}
		s.block[ch] = out
	}
	return s.block
}

// Run emits one batch per channel every tick until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context, sink Sink) error {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	sink.SetConnected(true)
	defer sink.SetConnected(false)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for ch, samples := range s.Next() {
				sink.Push(ch, samples)
			}
		}
	}
}
