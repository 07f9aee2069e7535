// Package plant simulates a single-phase motor as seen by the controller:
// a first-order speed response to commanded power, and a phase current whose
// fundamental runs at the electrical frequency, with mains hum and noise on
// top.
//
// Next runs in the sampling context; SetPower, SetKnob and SetLoad may be
// called from any goroutine.
package plant

import (
	"errors"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"sensorless/internal/fix16"
	"sensorless/internal/sampler"
)

const adcMax = 4095

type Config struct {
	SampleRate   uint32        `yaml:"sample_rate"`
	MaxHz        float64       `yaml:"max_hz"` // electrical frequency at full power, no load
	TimeConstant time.Duration `yaml:"time_constant"`

	Offset         float64 `yaml:"offset"`          // ADC counts at zero current
	BaseAmplitude  float64 `yaml:"base_amplitude"`  // current ripple with the motor idling
	PowerAmplitude float64 `yaml:"power_amplitude"` // added ripple at full power
	HumHz          float64 `yaml:"hum_hz"`
	HumAmplitude   float64 `yaml:"hum_amplitude"`
	Noise          float64 `yaml:"noise"` // uniform, peak counts

	Seed int64 `yaml:"seed"`
}

// DefaultConfig models a 30000 rpm, 8-pole motor sampled at 16384 Hz.
func DefaultConfig() Config {
	return Config{
		SampleRate:     16384,
		MaxHz:          4000,
		TimeConstant:   150 * time.Millisecond,
		Offset:         2048,
		BaseAmplitude:  600,
		PowerAmplitude: 1200,
		HumHz:          100,
		HumAmplitude:   60,
		Noise:          30,
		Seed:           1,
	}
}

func (c Config) Validate() error {
	if c.SampleRate == 0 {
		return errors.New("plant.sample_rate must be > 0")
	}
	if c.MaxHz <= 0 || c.MaxHz >= float64(c.SampleRate)/2 {
		return errors.New("plant.max_hz must be > 0 and below Nyquist")
	}
	if c.TimeConstant <= 0 {
		return errors.New("plant.time_constant must be > 0")
	}
	swing := c.BaseAmplitude + c.PowerAmplitude + c.HumAmplitude + c.Noise
	if c.Offset-swing < 0 || c.Offset+swing > adcMax {
		return errors.New("plant current waveform must fit the 12-bit ADC range")
	}
	return nil
}

type Motor struct {
	cfg   Config
	dt    float64
	alpha float64
	rng   *rand.Rand

	power atomic.Int32 // fix16
	knob  atomic.Uint32
	load  atomic.Uint64 // float64 bits

	// Sampling context only.
	speed    float64
	phase    float64
	humPhase float64
}

func New(cfg Config) (*Motor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dt := 1 / float64(cfg.SampleRate)
	m := &Motor{
		cfg:   cfg,
		dt:    dt,
		alpha: dt / cfg.TimeConstant.Seconds(),
		rng:   rand.New(rand.NewSource(cfg.Seed)),
	}
	m.load.Store(math.Float64bits(1))
	return m, nil
}

// SetPower commands the duty cycle. Values outside [0, 1] are clamped.
func (m *Motor) SetPower(duty fix16.Fix16) {
	m.power.Store(int32(fix16.Clamp(duty, 0, fix16.One)))
}

// Power returns the commanded duty cycle.
func (m *Motor) Power() fix16.Fix16 { return fix16.Fix16(m.power.Load()) }

// SetKnob sets the raw 12-bit knob reading.
func (m *Motor) SetKnob(raw uint16) {
	if raw > adcMax {
		raw = adcMax
	}
	m.knob.Store(uint32(raw))
}

// SetLoad scales the reachable speed; 1 is unloaded, 0.5 halves it.
func (m *Motor) SetLoad(factor float64) {
	m.load.Store(math.Float64bits(math.Max(0, factor)))
}

// Speed returns the electrical frequency in Hz. Sampling context only.
func (m *Motor) Speed() float64 { return m.speed }

// Next advances the motor by one sample period and returns the reading.
func (m *Motor) Next() sampler.Raw {
	power := fix16.Fix16(m.power.Load()).Float64()
	load := math.Float64frombits(m.load.Load())

	target := power * m.cfg.MaxHz * load
	m.speed += (target - m.speed) * m.alpha

	m.phase += 2 * math.Pi * m.speed * m.dt
	if m.phase > 2*math.Pi {
		m.phase -= 2 * math.Pi
	}
	m.humPhase += 2 * math.Pi * m.cfg.HumHz * m.dt
	if m.humPhase > 2*math.Pi {
		m.humPhase -= 2 * math.Pi
	}

	amp := m.cfg.BaseAmplitude + m.cfg.PowerAmplitude*power
	v := m.cfg.Offset +
		amp*math.Sin(m.phase) +
		m.cfg.HumAmplitude*math.Sin(m.humPhase) +
		m.cfg.Noise*(2*m.rng.Float64()-1)

	return sampler.Raw{
		Current: uint16(math.Round(math.Min(math.Max(v, 0), adcMax))),
		Knob:    uint16(m.knob.Load()),
	}
}
