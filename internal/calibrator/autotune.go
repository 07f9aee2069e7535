package calibrator

import (
	"log/slog"

	"sensorless/internal/fix16"
	"sensorless/internal/meter"
	"sensorless/internal/regulator"
	"sensorless/internal/stability"
	"sensorless/internal/store"
)

const (
	blindMs    = 1000 // spin-up time before sampling max speed
	sampleMs   = 100
	tuneIters  = 7
	noiseCount = 16

	trackerLength = 10
)

var (
	trackerTolerance = fix16.F(2) // percent

	lowSpeedPoint  = fix16.F(0.3)
	highSpeedPoint = fix16.F(0.7)
	slowDownPower  = fix16.F(0.1)

	searchMultiple = fix16.F(3)
	searchSafety   = fix16.F(0.6)

	// Ko is held here while Kp is searched.
	safeKObservers = fix16.One
)

type tuneState uint8

const (
	tuneFullPower tuneState = iota
	tuneBlind
	tuneMaxSpeed
	tuneFallHigh
	tuneFallLow
	tuneRise
	tuneBaseline
	tuneSettle
	tuneMeasure
	tuneStore
	tuneNoiseSettle
	tuneNoiseSample
)

var tuneStateNames = [...]string{
	tuneFullPower:   "full_power",
	tuneBlind:       "spin_up",
	tuneMaxSpeed:    "max_speed",
	tuneFallHigh:    "fall_high",
	tuneFallLow:     "fall_low",
	tuneRise:        "rise",
	tuneBaseline:    "baseline",
	tuneSettle:      "settle",
	tuneMeasure:     "measure",
	tuneStore:       "store",
	tuneNoiseSettle: "noise_settle",
	tuneNoiseSample: "noise_sample",
}

func (s tuneState) String() string {
	if int(s) < len(tuneStateNames) {
		return tuneStateNames[s]
	}
	return "unknown"
}

// autotune runs the measurement and tuning sequence:
//
//  1. full power until the speed is stable: that is the max speed,
//  2. time the slow-down from 70% to 30% and the spin-up back to 70% to get
//     the settling bound for one response,
//  3. search Kp, then Ko, then the proportional correction, each against its
//     own baseline,
//  4. persist, then sample the noise floor at minimum speed.
//
// Loops that sample every 100 ms keep their position in the wait record: an
// armed wait means the loop is parked in its sleep, otherwise it sits at the
// loop condition.
type autotune struct {
	reg   *regulator.Regulator
	meter *meter.Meter
	out   regulator.Actuator
	store store.Store
	log   *slog.Logger

	poles  uint32
	minRPM float32

	state   tuneState
	w       wait
	tracker *stability.Filter

	ts    uint32 // start of the current bounded loop
	bound uint32 // settling time, ms

	freqMax fix16.Fix16
	stopMs  uint32
	startMs uint32

	param     param
	search    search
	amplitude struct{ max, min fix16.Fix16 }
	results   [3]fix16.Fix16

	noiseMag   uint64
	noisePower int64
	noiseN     int
}

func newAutotune(reg *regulator.Regulator, m *meter.Meter, out regulator.Actuator, st store.Store, poles uint32, minRPM float32, logger *slog.Logger) *autotune {
	return &autotune{
		reg:     reg,
		meter:   m,
		out:     out,
		store:   st,
		log:     logger,
		poles:   poles,
		minRPM:  minRPM,
		tracker: stability.New(trackerTolerance, trackerLength),
	}
}

func (a *autotune) speed() fix16.Fix16 {
	return fix16.FromInt(int32(a.meter.Frequency))
}

// applyParam sets the coefficient p to v on the regulator.
func (a *autotune) applyParam(p param, v fix16.Fix16) {
	switch p {
	case paramKp:
		a.reg.Kp = v
		a.reg.UpdateObservers()
	case paramKObservers:
		a.reg.KObservers = v
		a.reg.UpdateObservers()
	case paramPCorr:
		a.reg.PCorrCoeff = v
	}
}

// baseline is the coefficient value the reference oscillation is measured at
// before each candidate.
func (a *autotune) baseline(p param) fix16.Fix16 {
	switch p {
	case paramKp:
		return fix16.Div(fix16.F(0.3), a.reg.B0Inv)
	default:
		return 0
	}
}

// beginSearch prepares the regulator for searching p and starts the search.
func (a *autotune) beginSearch(p param) {
	a.param = p
	switch p {
	case paramKp:
		a.reg.PCorrCoeff = 0
		a.reg.KObservers = safeKObservers
		a.search.begin(fix16.Div(fix16.F(0.3), a.reg.B0Inv), fix16.Div(fix16.F(4), a.reg.B0Inv), searchMultiple, tuneIters)
	case paramKObservers:
		a.reg.Kp = a.results[paramKp]
		a.search.begin(0, fix16.F(4), searchMultiple, tuneIters)
	case paramPCorr:
		a.reg.Kp = a.results[paramKp]
		a.reg.KObservers = a.results[paramKObservers]
		a.reg.UpdateObservers()
		a.search.begin(0, fix16.F(5), searchMultiple, tuneIters)
	}
}

// tick advances the sequence. It returns true once, when everything is
// persisted, and then starts over from full power on the next call.
func (a *autotune) tick(now uint32) bool {
	for {
		switch a.state {
		case tuneFullPower:
			a.out.SetPower(fix16.One)
			a.state = tuneBlind

		case tuneBlind:
			if !a.w.sleep(now, blindMs) {
				return false
			}
			a.tracker.Reset()
			a.state = tuneMaxSpeed

		case tuneMaxSpeed:
			if !a.w.armed && a.tracker.IsStable() {
				a.finishMaxSpeed()
				a.state = tuneFallHigh
				continue
			}
			if !a.w.sleep(now, sampleMs) {
				return false
			}
			a.tracker.Push(a.speed())

		case tuneFallHigh:
			if !a.w.while(now, a.speed() > fix16.Mul(a.freqMax, highSpeedPoint)) {
				return false
			}
			a.state = tuneFallLow

		case tuneFallLow:
			if !a.w.while(now, a.speed() > fix16.Mul(a.freqMax, lowSpeedPoint)) {
				return false
			}
			a.stopMs = a.w.elapsed(now)
			a.out.SetPower(fix16.One)
			a.state = tuneRise

		case tuneRise:
			if !a.w.while(now, a.speed() < fix16.Mul(a.freqMax, highSpeedPoint)) {
				return false
			}
			a.startMs = a.w.elapsed(now)
			a.bound = (a.stopMs + a.startMs) * 2
			a.log.Info("response timed", "slow_down_ms", a.stopMs, "spin_up_ms", a.startMs, "settle_bound_ms", a.bound)

			// Tune at minimum speed, where the loop is least damped.
			a.reg.Setpoint = fix16.Div(fix16.F(float64(a.minRPM)*float64(a.poles)/60), a.freqMax)
			a.reg.Enable()
			a.beginSearch(paramKp)
			a.state = tuneBaseline

		case tuneBaseline:
			a.tracker.Reset()
			a.applyParam(a.param, a.baseline(a.param))
			a.ts = now
			a.state = tuneSettle

		case tuneSettle:
			if !a.w.armed && (a.tracker.IsStable() || now-a.ts >= a.bound) {
				a.applyParam(a.param, a.search.attempt)
				a.amplitude.max = 0
				a.amplitude.min = fix16.Max
				a.ts = now
				a.state = tuneMeasure
				continue
			}
			if !a.w.sleep(now, sampleMs) {
				return false
			}
			a.tracker.Push(a.speed())

		case tuneMeasure:
			if !a.w.armed && now-a.ts >= a.bound {
				a.finishIteration()
				continue
			}
			if !a.w.sleep(now, sampleMs) {
				return false
			}
			f := a.speed()
			if f > a.amplitude.max {
				a.amplitude.max = f
			}
			if f < a.amplitude.min {
				a.amplitude.min = f
			}

		case tuneStore:
			a.store.SetFloat32(store.KeyKp, a.results[paramKp].Float32())
			a.store.SetFloat32(store.KeyKObservers, a.results[paramKObservers].Float32())
			a.store.SetFloat32(store.KeyPCorrCoeff, a.results[paramPCorr].Float32())
			a.reg.Configure()
			a.meter.ResetState()
			a.tracker.Reset()
			a.ts = now
			a.state = tuneNoiseSettle

		case tuneNoiseSettle:
			if !a.w.armed && (a.tracker.IsStable() || now-a.ts >= a.bound) {
				a.noiseMag = 0
				a.noisePower = 0
				a.noiseN = 0
				a.state = tuneNoiseSample
				continue
			}
			if !a.w.sleep(now, sampleMs) {
				return false
			}
			a.tracker.Push(a.speed())

		case tuneNoiseSample:
			if !a.w.armed && a.noiseN >= noiseCount {
				a.finishNoise()
				a.state = tuneFullPower
				return true
			}
			if !a.w.sleep(now, sampleMs) {
				return false
			}
			a.noiseMag += uint64(a.meter.Magnitude2)
			a.noisePower += int64(a.reg.PowerOut)
			a.noiseN++

		default:
			a.state = tuneFullPower
		}
	}
}

func (a *autotune) finishMaxSpeed() {
	a.freqMax = a.tracker.Average()

	rpm := fix16.Mul(a.freqMax, fix16.F(60/float64(a.poles)))
	a.store.SetFloat32(store.KeyRPMMax, rpm.Float32())
	a.reg.Configure()

	a.log.Info("max speed measured", "freq_hz", a.freqMax.Float32(), "rpm", rpm.Float32())

	a.out.SetPower(slowDownPower)
}

func (a *autotune) finishIteration() {
	amp := a.amplitude.max - a.amplitude.min
	a.log.Debug("search iteration",
		"param", a.param.String(),
		"iteration", a.search.iter,
		"candidate", a.search.attempt.Float32(),
		"amplitude", amp.Float32())

	if !a.search.record(amp) {
		a.state = tuneBaseline
		return
	}

	a.results[a.param] = a.search.result(searchSafety)
	a.log.Info("coefficient tuned", "param", a.param.String(), "value", a.results[a.param].Float32())

	if a.param == paramPCorr {
		a.state = tuneStore
		return
	}
	a.beginSearch(a.param + 1)
	a.state = tuneBaseline
}

func (a *autotune) finishNoise() {
	avgMag := a.noiseMag / noiseCount
	threshold := uint32(avgMag * 7 / 10)
	minPower := fix16.Fix16(a.noisePower / noiseCount)

	a.meter.Threshold = threshold
	a.reg.MinPowerThreshold = minPower
	a.store.SetUint32(store.KeyMagnitudeNoiseThreshold, threshold)
	a.store.SetUint32(store.KeyMinPowerThreshold, uint32(minPower))

	a.log.Info("noise floor measured", "magnitude_threshold", threshold, "min_power", minPower.Float32())
}
