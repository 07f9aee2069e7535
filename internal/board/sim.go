package board

import (
	"context"
	"errors"
	"time"

	"sensorless/internal/fix16"
	"sensorless/internal/plant"
	"sensorless/internal/sampler"
)

// simTick is how often the simulated sampler catches up with wall time.
const simTick = time.Millisecond

type SimConfig struct {
	Plant plant.Config `yaml:"plant"`
	// Knob is the fixed knob position in [0, 1].
	Knob float64 `yaml:"knob"`
}

func (c SimConfig) Validate() error {
	if c.Knob < 0 || c.Knob > 1 {
		return errors.New("board.sim.knob must be in [0, 1]")
	}
	return c.Plant.Validate()
}

// Sim runs the simulated motor at its sample rate in real time.
type Sim struct {
	motor *plant.Motor
	rate  uint32
}

func NewSim(cfg SimConfig) (*Sim, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m, err := plant.New(cfg.Plant)
	if err != nil {
		return nil, err
	}
	m.SetKnob(uint16(cfg.Knob * adcMax))
	return &Sim{motor: m, rate: cfg.Plant.SampleRate}, nil
}

func (s *Sim) Name() string { return "sim" }

// Motor exposes the simulated plant, for setting the knob or the load.
func (s *Sim) Motor() *plant.Motor { return s.motor }

// ReadSamples produces as many samples as wall time says are due.
func (s *Sim) ReadSamples(ctx context.Context, sink func(sampler.Raw)) error {
	ticker := time.NewTicker(simTick)
	defer ticker.Stop()

	start := time.Now()
	var produced uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			due := uint64(now.Sub(start).Seconds() * float64(s.rate))
			for ; produced < due; produced++ {
				sink(s.motor.Next())
			}
		}
	}
}

func (s *Sim) WritePower(duty fix16.Fix16) error {
	s.motor.SetPower(duty)
	return nil
}

func (s *Sim) Close() error {
	s.motor.SetPower(0)
	return nil
}
