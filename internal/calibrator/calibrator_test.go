package calibrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensorless/internal/fix16"
	"sensorless/internal/meter"
	"sensorless/internal/regulator"
	"sensorless/internal/store"
)

const (
	rigStepMs  = 25
	plantMaxHz = 4000.0
)

type fakeClock struct{ ms uint32 }

func (c *fakeClock) Millis() uint32 { return c.ms }

type fakeKnob struct{ v fix16.Fix16 }

func (k *fakeKnob) Knob() fix16.Fix16 { return k.v }

type lastPower struct{ duty fix16.Fix16 }

func (p *lastPower) SetPower(d fix16.Fix16) { p.duty = d }

// rig runs the calibrator against a synthetic motor. With the regulator off
// the motor follows commanded power with a 100 ms lag. With the regulator on
// it tracks the setpoint exactly, plus a square-wave oscillation whose
// amplitude jumps once any coefficient passes its crossover.
type rig struct {
	clock *fakeClock
	knob  *fakeKnob
	out   *lastPower
	st    *store.Memory
	meter *meter.Meter
	reg   *regulator.Regulator
	cal   *Calibrator

	speed float64

	crossKp, crossKo, crossP float64
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{
		clock:   &fakeClock{ms: 1000},
		knob:    &fakeKnob{},
		out:     &lastPower{},
		st:      store.NewMemory(),
		crossKp: 7,
		crossKo: 2.3,
		crossP:  1.7,
	}
	var err error
	r.meter, err = meter.New(meter.DefaultConfig(), r.st, nil)
	require.NoError(t, err)
	r.reg, err = regulator.New(regulator.DefaultConfig(), r.st, r.out, nil)
	require.NoError(t, err)
	r.cal, err = New(DefaultConfig(), r.reg, r.meter, r.out, r.st, r.knob, r.clock, nil)
	require.NoError(t, err)

	r.meter.Configure()
	r.reg.Configure()
	r.cal.Configure()
	return r
}

func (r *rig) amplitude() float64 {
	if r.reg.Kp.Float64() > r.crossKp || r.reg.KObservers.Float64() > r.crossKo || r.reg.PCorrCoeff.Float64() > r.crossP {
		return 40
	}
	return 4
}

// step advances one measurement period in main-loop order.
func (r *rig) step() bool {
	r.clock.ms += rigStepMs

	if r.reg.Enabled() {
		sign := 1.0
		if (r.clock.ms/100)%2 == 1 {
			sign = -1
		}
		r.speed = r.reg.Setpoint.Float64()*plantMaxHz + sign*r.amplitude()/2
	} else {
		target := r.out.duty.Float64() * plantMaxHz
		r.speed += (target - r.speed) * rigStepMs / 100
	}
	if r.speed < 0 {
		r.speed = 0
	}
	r.meter.Frequency = uint32(r.speed + 0.5)
	r.meter.Magnitude2 = 1000

	r.reg.FreqIn = r.meter.Frequency
	done := r.cal.Tick()
	if !r.cal.Active {
		r.reg.ApplyKnob(r.knob.v)
	}
	r.reg.Tick()
	return done
}

func (r *rig) hold(knob fix16.Fix16, ms uint32) bool {
	r.knob.v = knob
	done := false
	for t := uint32(0); t < ms; t += rigStepMs {
		done = r.step() || done
	}
	return done
}

func (r *rig) dialGesture() {
	r.hold(0, 300)
	for i := 0; i < 3; i++ {
		r.hold(fix16.F(0.5), 400)
		r.hold(0, 400)
	}
}

func TestCalibrator_ConfigureReadsDoneFlag(t *testing.T) {
	r := newRig(t)
	assert.False(t, r.cal.Done)

	r.st.SetUint32(store.KeyCalibrationDone, 1)
	r.cal.Configure()
	assert.True(t, r.cal.Done)
}

func TestCalibrator_IdleWithoutGesture(t *testing.T) {
	r := newRig(t)
	for i := 0; i < 400; i++ {
		require.False(t, r.step())
	}
	assert.False(t, r.cal.Active)
	assert.Equal(t, PhaseWaitGesture, r.cal.Phase())
	assert.Zero(t, r.st.Writes())
}

func TestCalibrator_FullRun(t *testing.T) {
	r := newRig(t)
	r.reg.Enable()

	// Start the gesture; the last low interval is cut short by the takeover.
	r.knob.v = 0
	r.hold(0, 300)
	for i := 0; i < 3; i++ {
		r.hold(fix16.F(0.5), 400)
		if i < 2 {
			r.hold(0, 400)
		}
	}
	r.knob.v = 0
	require.False(t, r.step())
	require.True(t, r.cal.Active, "gesture did not start calibration")
	assert.False(t, r.reg.Enabled(), "regulator must be released during tuning")
	assert.Equal(t, fix16.One, r.out.duty)
	assert.Zero(t, r.meter.Threshold)

	var flashes []fix16.Fix16
	done := false
	for i := 0; i < 4000 && !done; i++ {
		done = r.step()
		if r.cal.Phase() == PhaseFlash {
			if n := len(flashes); n == 0 || flashes[n-1] != r.reg.Setpoint {
				flashes = append(flashes, r.reg.Setpoint)
			}
		}
	}
	require.True(t, done, "calibration did not finish, stuck at %s", r.cal.Step())

	assert.True(t, r.cal.Done)
	assert.False(t, r.cal.Active)
	assert.Equal(t, PhaseWaitGesture, r.cal.Phase())
	assert.Equal(t, uint32(1), r.st.Uint32(store.KeyCalibrationDone, 0))
	assert.True(t, r.reg.Enabled())

	assert.Equal(t, []fix16.Fix16{flashHigh, flashLow, flashHigh, flashLow, flashHigh, flashLow}, flashes)

	assert.InDelta(t, 30000, r.st.Float32(store.KeyRPMMax, 0), 5)

	checkTuned := func(key store.Key, crossover, step float64) {
		t.Helper()
		require.True(t, r.st.Has(key), "%s not persisted", key)
		candidate := float64(r.st.Float32(key, 0)) / 0.6
		assert.InDelta(t, crossover, candidate, step/64+0.01, "%s", key)
	}
	checkTuned(store.KeyKp, r.crossKp, 20)
	checkTuned(store.KeyKObservers, r.crossKo, 4)
	checkTuned(store.KeyPCorrCoeff, r.crossP, 5)

	// The regulator runs on what was persisted.
	assert.Equal(t, fix16.FromFloat32(r.st.Float32(store.KeyKp, 0)), r.reg.Kp)

	assert.Equal(t, uint32(700), r.st.Uint32(store.KeyMagnitudeNoiseThreshold, 0))
	assert.Equal(t, uint32(700), r.meter.Threshold)

	minPower := fix16.Fix16(r.st.Uint32(store.KeyMinPowerThreshold, 0))
	lo, hi := r.reg.Limits()
	assert.Equal(t, r.reg.MinPowerThreshold, minPower)
	assert.GreaterOrEqual(t, minPower, lo)
	assert.LessOrEqual(t, minPower, hi)
}

func TestCalibrator_SecondGestureRecalibrates(t *testing.T) {
	r := newRig(t)
	r.st.SetUint32(store.KeyCalibrationDone, 1)
	r.cal.Configure()

	r.dialGesture()
	require.True(t, r.cal.Active, "gesture must start calibration even when already calibrated")
	assert.Equal(t, PhaseAutotune, r.cal.Phase())
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.GestureMaxWaitMs = 100
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.GestureDials = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.KnobThreshold = 0
	assert.Error(t, bad.Validate())
}
