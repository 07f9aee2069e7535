// Package controller wires the sampler, meter, regulator and calibrator into
// one owned context and runs the single-owner main loop.
//
// Only the goroutine running Run (or calling Step) touches the core. The
// sample source talks to the Sampler, and status leaves through Snapshot
// values, so neither side ever calls into the core directly.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"sensorless/internal/calibrator"
	"sensorless/internal/fix16"
	"sensorless/internal/meter"
	"sensorless/internal/regulator"
	"sensorless/internal/sampler"
	"sensorless/internal/store"
)

// Config collects the build-time tunables of every component.
type Config struct {
	Meter      meter.Config
	Regulator  regulator.Config
	Calibrator calibrator.Config

	// UncalibratedPower is driven open-loop until a calibration is stored.
	UncalibratedPower fix16.Fix16
	QueueLen          int
	// PublishInterval is the snapshot cadence of Run. Zero disables it.
	PublishInterval time.Duration
}

// DefaultConfig returns the firmware profile.
func DefaultConfig() Config {
	return Config{
		Meter:             meter.DefaultConfig(),
		Regulator:         regulator.DefaultConfig(),
		Calibrator:        calibrator.DefaultConfig(),
		UncalibratedPower: fix16.F(0.2),
		QueueLen:          sampler.DefaultQueueLen,
		PublishInterval:   250 * time.Millisecond,
	}
}

func (c Config) Validate() error {
	if err := c.Meter.Validate(); err != nil {
		return fmt.Errorf("meter: %w", err)
	}
	if err := c.Regulator.Validate(); err != nil {
		return err
	}
	if err := c.Calibrator.Validate(); err != nil {
		return err
	}
	if c.Calibrator.Poles != c.Regulator.Poles || c.Calibrator.MinRPM != c.Regulator.MinRPM {
		return errors.New("calibrator motor profile must match regulator.poles and regulator.min_rpm")
	}
	if c.UncalibratedPower < 0 || c.UncalibratedPower > fix16.One {
		return errors.New("uncalibrated_power must be in [0, 1]")
	}
	return nil
}

// trackedActuator remembers the last commanded power for status output.
type trackedActuator struct {
	next regulator.Actuator
	last fix16.Fix16
}

func (t *trackedActuator) SetPower(duty fix16.Fix16) {
	t.last = duty
	t.next.SetPower(duty)
}

// Controller is the owned context of the core.
type Controller struct {
	cfg   Config
	log   *slog.Logger
	out   *trackedActuator
	clock calibrator.Clock

	sampler    *sampler.Sampler
	meter      *meter.Meter
	regulator  *regulator.Regulator
	calibrator *calibrator.Calibrator

	measurements uint64
	staleDropped uint64
	queueDropped uint64

	snapshots chan Snapshot
}

// New builds the core around a store, an actuator and a clock.
func New(cfg Config, st store.Store, out regulator.Actuator, clock calibrator.Clock, logger *slog.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	tracked := &trackedActuator{next: out}

	m, err := meter.New(cfg.Meter, st, logger.With("component", "meter"))
	if err != nil {
		return nil, err
	}
	reg, err := regulator.New(cfg.Regulator, st, tracked, logger.With("component", "regulator"))
	if err != nil {
		return nil, err
	}
	smp := sampler.New(cfg.QueueLen)
	cal, err := calibrator.New(cfg.Calibrator, reg, m, tracked, st, smp, clock, logger)
	if err != nil {
		return nil, err
	}

	return &Controller{
		cfg:        cfg,
		log:        logger,
		out:        tracked,
		clock:      clock,
		sampler:    smp,
		meter:      m,
		regulator:  reg,
		calibrator: cal,
		snapshots:  make(chan Snapshot, 1),
	}, nil
}

// Sampler is the producer-side entry point for the sample source.
func (c *Controller) Sampler() *sampler.Sampler { return c.sampler }

// Snapshots delivers status at the publish interval. Stale values are
// replaced, never queued.
func (c *Controller) Snapshots() <-chan Snapshot { return c.snapshots }

// Boot loads persisted configuration and picks the start-up mode: closed
// loop when a calibration is stored, fixed low power otherwise.
func (c *Controller) Boot() {
	c.meter.Configure()
	c.calibrator.Configure()
	c.regulator.Configure()

	if !c.calibrator.Done {
		c.regulator.Disable()
		c.out.SetPower(c.cfg.UncalibratedPower)
		c.log.Warn("motor not calibrated, running at fixed power",
			"power", c.cfg.UncalibratedPower.Float32())
		return
	}

	c.regulator.Enable()
	lo, hi := c.regulator.Limits()
	c.log.Info("calibration loaded",
		"min_limit", lo.Float32(),
		"max_limit", hi.Float32(),
		"noise_threshold", c.meter.Threshold)
}

// PowerOff stops the loop output.
func (c *Controller) PowerOff() {
	c.regulator.Disable()
	c.out.SetPower(0)
}

func (c *Controller) advance(n int) {
	if a, ok := c.clock.(advancer); ok {
		a.Advance(n)
	}
}

// process feeds one sample to the meter and, when it completes a
// measurement, runs one control step. It reports whether that happened.
func (c *Controller) process(s sampler.Sample) bool {
	c.advance(1)
	if !c.meter.Consume(s.Current) {
		return false
	}

	c.regulator.FreqIn = c.meter.Frequency

	// Samples queued while the window was processed belong to no window.
	stale := c.sampler.Clear()
	c.staleDropped += uint64(stale)
	c.advance(stale)

	// Samples the queue refused still took sample time.
	if d := c.sampler.Dropped(); d > c.queueDropped {
		c.advance(int(d - c.queueDropped))
		c.queueDropped = d
	}

	if c.calibrator.Tick() {
		c.log.Info("calibration stored",
			"kp", c.regulator.Kp.Float32(),
			"kobservers", c.regulator.KObservers.Float32(),
			"p_corr", c.regulator.PCorrCoeff.Float32())
	}
	if !c.calibrator.Active {
		c.regulator.ApplyKnob(c.sampler.Knob())
	}
	c.regulator.Tick()

	c.measurements++
	return true
}

// Step drains what is queued without blocking and returns the number of
// measurements completed.
func (c *Controller) Step() int {
	n := 0
	for {
		s, ok := c.sampler.Pop()
		if !ok {
			return n
		}
		if c.process(s) {
			n++
		}
	}
}

// Run is the main loop. It returns when ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if c.cfg.PublishInterval > 0 {
		ticker := time.NewTicker(c.cfg.PublishInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	samples := c.sampler.Samples()
	for {
		select {
		case <-ctx.Done():
			c.log.Info("control loop stopping", "measurements", c.measurements)
			return nil

		case s := <-samples:
			c.process(s)

		case now := <-tick:
			c.publish(c.Snapshot(now))
		}
	}
}

func (c *Controller) publish(s Snapshot) {
	select {
	case c.snapshots <- s:
		return
	default:
	}
	// Replace the unread value.
	select {
	case <-c.snapshots:
	default:
	}
	select {
	case c.snapshots <- s:
	default:
	}
}
