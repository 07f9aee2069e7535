// Package meter estimates motor rotation frequency from the current waveform.
//
// Samples are collected into a fixed window. When the window is full it is
// transformed and the strongest bin above the low-frequency cutoff (mains hum
// and its first harmonics) gives the frequency.
package meter

import (
	"fmt"
	"io"
	"log/slog"

	"sensorless/internal/fft"
	"sensorless/internal/store"
)

// Config describes the sampling setup. It is fixed at initialization.
type Config struct {
	SampleRate uint32 // Hz
	WindowBits int    // window = 2^WindowBits samples
	CutoffHz   uint32 // bins at or below this frequency are ignored
}

// DefaultConfig returns the firmware sampling setup: 512 points at 16384 Hz,
// ignoring everything below 500 Hz.
func DefaultConfig() Config {
	return Config{
		SampleRate: 16384,
		WindowBits: 9,
		CutoffHz:   500,
	}
}

// Validate checks the sampling setup.
func (c Config) Validate() error {
	if c.SampleRate == 0 {
		return fmt.Errorf("sample rate must be > 0")
	}
	if c.WindowBits < 4 || c.WindowBits > 14 {
		return fmt.Errorf("window bits must be between 4 and 14, got %d", c.WindowBits)
	}
	n := uint32(1) << c.WindowBits
	if skip := c.CutoffHz*n/c.SampleRate + 1; skip >= n/2 {
		return fmt.Errorf("cutoff %d Hz leaves no bins below Nyquist", c.CutoffHz)
	}
	return nil
}

// Meter is owned by the main loop.
type Meter struct {
	cfg   Config
	store store.Store
	log   *slog.Logger

	plan      *fft.Plan
	buf       []fft.Complex
	collected int
	skip      int

	// Frequency is the last detected frequency in Hz, 0 when below the gate.
	Frequency uint32
	// Magnitude2 is the squared magnitude of the winning bin.
	Magnitude2 uint32
	// Threshold is the noise gate on Magnitude2.
	Threshold uint32
}

// New builds a meter. Call Configure before use.
func New(cfg Config, st store.Store, logger *slog.Logger) (*Meter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("meter config: %w", err)
	}
	plan, err := fft.NewPlan(cfg.WindowBits)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	n := plan.Size()
	return &Meter{
		cfg:   cfg,
		store: st,
		log:   logger,
		plan:  plan,
		buf:   make([]fft.Complex, n),
		skip:  int(cfg.CutoffHz*uint32(n)/cfg.SampleRate) + 1,
	}, nil
}

// Configure loads the noise gate from the store.
func (m *Meter) Configure() {
	m.Threshold = m.store.Uint32(store.KeyMagnitudeNoiseThreshold, 0)
	m.log.Debug("meter configured", "threshold", m.Threshold, "window", len(m.buf), "skip_bins", m.skip)
}

// RPM converts the last frequency to revolutions per minute for a motor
// with the given pole count.
func (m *Meter) RPM(poles uint32) uint32 {
	if poles == 0 {
		return 0
	}
	return m.Frequency * 60 / poles
}

// WindowSize returns the number of samples per measurement.
func (m *Meter) WindowSize() int { return len(m.buf) }

// ResetState drops a partially filled window without producing a result.
func (m *Meter) ResetState() {
	m.collected = 0
}

// Consume adds one current sample. It returns true exactly when the sample
// completes a window; Frequency and Magnitude2 are then updated.
func (m *Meter) Consume(current uint16) bool {
	m.buf[m.collected] = fft.Complex{Re: int32(current)}
	m.collected++
	if m.collected < len(m.buf) {
		return false
	}
	m.collected = 0

	m.plan.Transform(m.buf)

	var peak uint32
	peakIdx := 0
	for i := m.skip; i < len(m.buf)/2; i++ {
		if mag2 := fft.Magnitude2(m.buf[i]); mag2 > peak {
			peak = mag2
			peakIdx = i
		}
	}

	if peak < m.Threshold {
		m.Frequency = 0
		m.Magnitude2 = 0
		return true
	}

	n := uint32(len(m.buf))
	m.Frequency = (uint32(peakIdx)*m.cfg.SampleRate + n/2) / n
	m.Magnitude2 = peak
	return true
}
