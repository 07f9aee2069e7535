// Package calibrator runs the operator-triggered auto-tune.
//
// The calibrator is a cooperative state machine ticked once per speed
// measurement. It waits for the knob gesture, then takes over the power
// output and the regulator, measures the motor, searches the ADRC
// coefficients, persists them, and blinks the motor speed to confirm.
package calibrator

import (
	"errors"
	"io"
	"log/slog"

	"sensorless/internal/fix16"
	"sensorless/internal/meter"
	"sensorless/internal/regulator"
	"sensorless/internal/store"
)

// Clock is a monotonic millisecond counter. It may wrap.
type Clock interface {
	Millis() uint32
}

// KnobSource provides the smoothed knob position.
type KnobSource interface {
	Knob() fix16.Fix16
}

// Config holds the gesture parameters and the motor profile needed for the
// tuning setpoint.
type Config struct {
	KnobThreshold    fix16.Fix16
	GestureMinWaitMs uint32
	GestureMaxWaitMs uint32
	GestureDials     int

	Poles  uint32
	MinRPM float32
}

// DefaultConfig returns the firmware gesture: 3 dials across 5% of the knob,
// each half lasting 200..1000 ms.
func DefaultConfig() Config {
	return Config{
		KnobThreshold:    fix16.F(0.05),
		GestureMinWaitMs: 200,
		GestureMaxWaitMs: 1000,
		GestureDials:     3,
		Poles:            8,
		MinRPM:           5000,
	}
}

func (c Config) Validate() error {
	if c.KnobThreshold <= 0 || c.KnobThreshold >= fix16.One {
		return errors.New("calibrator.knob_threshold must be in (0, 1)")
	}
	if c.GestureMinWaitMs == 0 || c.GestureMaxWaitMs < c.GestureMinWaitMs {
		return errors.New("calibrator.gesture_min_wait_ms must be > 0 and <= calibrator.gesture_max_wait_ms")
	}
	if c.GestureDials < 1 {
		return errors.New("calibrator.gesture_dials must be >= 1")
	}
	if c.Poles == 0 || c.MinRPM <= 0 {
		return errors.New("calibrator.poles and calibrator.min_rpm must be > 0")
	}
	return nil
}

// Phase is the top-level calibration step.
type Phase uint8

const (
	PhaseWaitGesture Phase = iota
	PhaseDisableRegulator
	PhaseAutotune
	PhaseFlash
	PhasePersistDone
)

func (p Phase) String() string {
	switch p {
	case PhaseWaitGesture:
		return "wait_gesture"
	case PhaseDisableRegulator:
		return "disable_regulator"
	case PhaseAutotune:
		return "autotune"
	case PhaseFlash:
		return "flash"
	case PhasePersistDone:
		return "persist"
	default:
		return "unknown"
	}
}

const (
	flashMs      = 150
	flashToggles = 6
)

var (
	flashHigh = fix16.One
	flashLow  = fix16.F(0.1)
)

// Calibrator is owned by the main loop, together with the regulator and
// meter it drives.
type Calibrator struct {
	cfg   Config
	reg   *regulator.Regulator
	store store.Store
	knob  KnobSource
	clock Clock
	log   *slog.Logger

	// Done is true once a calibration has been persisted.
	Done bool
	// Active is true while the calibrator owns power and regulator.
	Active bool

	phase   Phase
	w       wait
	flashes int

	gesture gesture
	tune    *autotune
}

// New wires a calibrator. Call Configure before Tick.
func New(cfg Config, reg *regulator.Regulator, m *meter.Meter, out regulator.Actuator, st store.Store, knob KnobSource, clock Clock, logger *slog.Logger) (*Calibrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("component", "calibrator")
	return &Calibrator{
		cfg:     cfg,
		reg:     reg,
		store:   st,
		knob:    knob,
		clock:   clock,
		log:     logger,
		gesture: newGesture(cfg),
		tune:    newAutotune(reg, m, out, st, cfg.Poles, cfg.MinRPM, logger),
	}, nil
}

// Configure loads the calibration-done flag.
func (c *Calibrator) Configure() {
	c.Done = c.store.Uint32(store.KeyCalibrationDone, 0) != 0
}

// Phase returns the current top-level step.
func (c *Calibrator) Phase() Phase { return c.phase }

// Step returns a finer label for the current position, for status output.
func (c *Calibrator) Step() string {
	switch c.phase {
	case PhaseWaitGesture:
		return "gesture_" + c.gesture.state.String()
	case PhaseAutotune:
		return "autotune_" + c.tune.state.String()
	default:
		return c.phase.String()
	}
}

// Tick advances calibration by as many steps as possible without blocking.
// It returns true on the call that completes a calibration; the machine is
// then back at waiting for the gesture.
func (c *Calibrator) Tick() bool {
	now := c.clock.Millis()

	for {
		switch c.phase {
		case PhaseWaitGesture:
			if !c.gesture.tick(now, c.knob.Knob()) {
				return false
			}
			c.phase = PhaseDisableRegulator

		case PhaseDisableRegulator:
			c.Active = true
			c.reg.Disable()
			c.tune.meter.Threshold = 0
			c.log.Info("calibration started")
			c.phase = PhaseAutotune

		case PhaseAutotune:
			if !c.tune.tick(now) {
				return false
			}
			c.reg.Enable()
			c.flashes = 0
			c.phase = PhaseFlash

		case PhaseFlash:
			if !c.w.armed {
				if c.flashes >= flashToggles {
					c.phase = PhasePersistDone
					continue
				}
				if c.flashes%2 == 0 {
					c.reg.Setpoint = flashHigh
				} else {
					c.reg.Setpoint = flashLow
				}
			}
			if !c.w.sleep(now, flashMs) {
				return false
			}
			c.flashes++

		case PhasePersistDone:
			c.store.SetUint32(store.KeyCalibrationDone, 1)
			c.Done = true
			c.Active = false
			c.phase = PhaseWaitGesture
			c.log.Info("calibration done")
			return true

		default:
			c.phase = PhaseWaitGesture
		}
	}
}
