// Package regulator implements a first-order ADRC speed loop.
//
// The law follows https://arxiv.org/pdf/1908.04596.pdf (augmented with a
// proportional correction term): a linear proportional controller on the
// observed speed, plus a generalized disturbance observer whose estimate is
// subtracted from the output. All state is Q16.16, normalized so that 1.0 is
// the calibrated maximum motor frequency.
package regulator

import (
	"errors"
	"io"
	"log/slog"

	"sensorless/internal/fix16"
	"sensorless/internal/store"
)

// Actuator receives the commanded power in [0, 1].
type Actuator interface {
	SetPower(duty fix16.Fix16)
}

// Config holds the motor profile and loop constants. Fixed at initialization.
type Config struct {
	Poles    uint32  // electrical cycles per revolution seen in the current
	MinRPM   float32 // absolute floor, used as the min limit
	MaxRPM   float32 // absolute cap on the max limit
	DeadZone fix16.Fix16

	// MaxLimitFraction of the calibrated max speed is the default upper limit.
	MaxLimitFraction fix16.Fix16

	ControlHz uint32  // loop rate; the observers integrate with 1/ControlHz
	B0        float32 // plant gain estimate
}

// DefaultConfig returns the firmware motor profile.
func DefaultConfig() Config {
	return Config{
		Poles:            8,
		MinRPM:           5000,
		MaxRPM:           100000,
		DeadZone:         fix16.F(0.02),
		MaxLimitFraction: fix16.F(0.8),
		ControlHz:        40,
		B0:               5.0,
	}
}

// Validate checks profile sanity.
func (c Config) Validate() error {
	if c.Poles == 0 {
		return errors.New("regulator.poles must be > 0")
	}
	if c.MinRPM <= 0 || c.MaxRPM <= c.MinRPM {
		return errors.New("regulator.min_rpm must be > 0 and < regulator.max_rpm")
	}
	if c.DeadZone < 0 || c.DeadZone >= fix16.One {
		return errors.New("regulator.dead_zone must be in [0, 1)")
	}
	if c.MaxLimitFraction <= 0 || c.MaxLimitFraction > fix16.One {
		return errors.New("regulator.max_limit_fraction must be in (0, 1]")
	}
	if c.ControlHz == 0 {
		return errors.New("regulator.control_hz must be > 0")
	}
	if c.B0 <= 0 {
		return errors.New("regulator.b0 must be > 0")
	}
	return nil
}

// Regulator is owned by the main loop. The exported fields are shared with
// the calibrator, which drives them directly while tuning.
type Regulator struct {
	cfg   Config
	store store.Store
	out   Actuator
	log   *slog.Logger

	// FreqIn is the last measured frequency in Hz.
	FreqIn uint32
	// Setpoint is the normalized speed target.
	Setpoint fix16.Fix16
	// PowerOut is the last commanded power.
	PowerOut fix16.Fix16

	Kp         fix16.Fix16
	KObservers fix16.Fix16
	PCorrCoeff fix16.Fix16
	B0Inv      fix16.Fix16

	// MinPowerThreshold is the mean power at minimum speed found by
	// calibration. Loaded for reporting.
	MinPowerThreshold fix16.Fix16

	enabled bool

	maxLimit fix16.Fix16
	minLimit fix16.Fix16

	freqNormCoeff fix16.Fix16
	knobNormCoeff fix16.Fix16
	integrCoeff   fix16.Fix16

	correction fix16.Fix16 // disturbance estimate
	estimate   fix16.Fix16 // speed estimate

	l1 fix16.Fix16
	l2 fix16.Fix16
}

// New returns a disabled regulator. Call Configure before Tick.
func New(cfg Config, st store.Store, out Actuator, logger *slog.Logger) (*Regulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Regulator{
		cfg:           cfg,
		store:         st,
		out:           out,
		log:           logger,
		freqNormCoeff: fix16.FromFloat32(1.0 / cfg.MaxRPM),
		knobNormCoeff: fix16.One,
		integrCoeff:   fix16.F(1.0 / float64(cfg.ControlHz)),
	}, nil
}

// Enabled reports whether Tick is active.
func (r *Regulator) Enabled() bool { return r.enabled }

// Disable stops the loop. The last commanded power stays on the actuator.
func (r *Regulator) Disable() { r.enabled = false }

// Enable starts the loop from zeroed observers.
func (r *Regulator) Enable() {
	r.enabled = true
	r.estimate = 0
	r.correction = 0
}

// Limits returns the normalized [min, max] speed limits.
func (r *Regulator) Limits() (lo, hi fix16.Fix16) { return r.minLimit, r.maxLimit }

// Estimate returns the observed speed (normalized).
func (r *Regulator) Estimate() fix16.Fix16 { return r.estimate }

// Disturbance returns the disturbance estimate.
func (r *Regulator) Disturbance() fix16.Fix16 { return r.correction }

// Gains returns the observer gains L1 and L2.
func (r *Regulator) Gains() (l1, l2 fix16.Fix16) { return r.l1, r.l2 }

// UpdateObservers recomputes L1 = 2·Ko·Kp and L2 = (Ko·Kp)². It must follow
// every change of Kp or KObservers.
func (r *Regulator) UpdateObservers() {
	k := fix16.Mul(r.KObservers, r.Kp)
	r.l1 = 2 * k
	r.l2 = fix16.Mul(k, k)
}

// Configure reloads coefficients and limits from the store. Not safe to
// interleave with Tick.
func (r *Regulator) Configure() {
	rpmMax := r.store.Float32(store.KeyRPMMax, store.DefaultRPMMax)

	r.freqNormCoeff = fix16.FromFloat32(1.0 / (rpmMax * float32(r.cfg.Poles) / 60))

	r.maxLimit = r.cfg.MaxLimitFraction
	if rpmMax > r.cfg.MaxRPM {
		r.maxLimit = fix16.FromFloat32(r.cfg.MaxRPM / rpmMax)
	}
	r.minLimit = fix16.FromFloat32(r.cfg.MinRPM / rpmMax)

	r.knobNormCoeff = fix16.Div(r.maxLimit-r.minLimit, fix16.One-r.cfg.DeadZone)

	r.Kp = fix16.FromFloat32(r.store.Float32(store.KeyKp, store.DefaultKp))
	r.KObservers = fix16.FromFloat32(r.store.Float32(store.KeyKObservers, store.DefaultKObservers))
	r.PCorrCoeff = fix16.FromFloat32(r.store.Float32(store.KeyPCorrCoeff, store.DefaultPCorrCoeff))

	r.B0Inv = fix16.FromFloat32(1.0 / r.cfg.B0)

	r.UpdateObservers()

	r.MinPowerThreshold = fix16.Fix16(r.store.Uint32(store.KeyMinPowerThreshold, 0))

	r.log.Debug("regulator configured",
		"rpm_max", rpmMax,
		"min_limit", r.minLimit.Float32(),
		"max_limit", r.maxLimit.Float32(),
		"kp", r.Kp.Float32(),
		"kobservers", r.KObservers.Float32(),
		"p_corr", r.PCorrCoeff.Float32())
}

// ApplyKnob maps the knob to a setpoint: 0 inside the dead zone, otherwise
// an affine map of [dead zone, 1] onto [min limit, max limit].
func (r *Regulator) ApplyKnob(knob fix16.Fix16) {
	if knob < r.cfg.DeadZone {
		r.Setpoint = 0
		return
	}
	r.Setpoint = fix16.Mul(knob-r.cfg.DeadZone, r.knobNormCoeff) + r.minLimit
}

// Tick runs one control step. No-op while disabled.
func (r *Regulator) Tick() {
	if !r.enabled {
		return
	}

	freqNorm := fix16.Mul(fix16.FromInt(int32(r.FreqIn)), r.freqNormCoeff)

	// Proportional correction reacts to load changes faster than the
	// observer alone.
	pCorrection := fix16.Mul(freqNorm-r.estimate, r.PCorrCoeff)

	u0 := fix16.Mul(r.Setpoint-r.estimate, r.Kp)

	r.correction += fix16.Mul(fix16.Mul(freqNorm-r.estimate, r.l2), r.integrCoeff)
	r.estimate += fix16.Mul(u0+fix16.Mul(r.l1, freqNorm-r.estimate), r.integrCoeff)
	r.estimate = fix16.Clamp(r.estimate, r.minLimit, r.maxLimit)

	output := fix16.Mul(u0-r.correction-pCorrection, r.B0Inv)

	// Anti-windup: output = (u0 - correction) * b0inv, so at a limit the
	// correction is pinned to u0 - limit/b0inv.
	if output < r.minLimit {
		output = r.minLimit
		r.correction = u0 - fix16.Div(r.minLimit, r.B0Inv)
	}
	if output > r.maxLimit {
		output = r.maxLimit
		r.correction = u0 - fix16.Div(r.maxLimit, r.B0Inv)
	}

	r.PowerOut = output
	r.out.SetPower(output)
}
