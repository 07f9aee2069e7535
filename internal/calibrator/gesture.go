package calibrator

import "sensorless/internal/fix16"

type gestureState uint8

const (
	gestureArm  gestureState = iota // short settle before watching the knob
	gestureRest                     // knob must stay low for at least MinWait
	gestureHigh                     // timing a high interval
	gestureLow                      // timing a low interval
)

func (s gestureState) String() string {
	switch s {
	case gestureArm:
		return "arm"
	case gestureRest:
		return "rest"
	case gestureHigh:
		return "high"
	case gestureLow:
		return "low"
	default:
		return "unknown"
	}
}

// gesture detects the "dial the knob N times" start signal.
//
// After a rest period with the knob low, the operator turns the knob up and
// back down N times. Each high and each low interval must last between
// MinWait and MaxWait; anything else starts over from the rest period. The
// gesture completes when the N-th high interval ends.
type gesture struct {
	threshold fix16.Fix16
	minWait   uint32
	maxWait   uint32
	dials     int

	state gestureState
	w     wait
	count int
}

func newGesture(cfg Config) gesture {
	return gesture{
		threshold: cfg.KnobThreshold,
		minWait:   cfg.GestureMinWaitMs,
		maxWait:   cfg.GestureMaxWaitMs,
		dials:     cfg.GestureDials,
	}
}

func (g *gesture) inBand(ms uint32) bool {
	return ms >= g.minWait && ms <= g.maxWait
}

// restart goes back to waiting for a rest period.
func (g *gesture) restart() {
	g.state = gestureArm
	g.w.reset()
}

// tick advances detection with the current knob value. It returns true once,
// when the gesture completes, and is back at its entry state on the next call.
func (g *gesture) tick(now uint32, knob fix16.Fix16) bool {
	low := knob < g.threshold

	for {
		switch g.state {
		case gestureArm:
			if !g.w.sleep(now, 1) {
				return false
			}
			g.state = gestureRest

		case gestureRest:
			if !g.w.while(now, low) {
				return false
			}
			if g.w.elapsed(now) < g.minWait {
				g.restart()
				continue
			}
			g.count = 0
			g.state = gestureHigh

		case gestureHigh:
			if !g.w.while(now, !low) {
				return false
			}
			if !g.inBand(g.w.elapsed(now)) {
				g.restart()
				continue
			}
			g.count++
			if g.count >= g.dials {
				g.restart()
				return true
			}
			g.state = gestureLow

		case gestureLow:
			if !g.w.while(now, low) {
				return false
			}
			if !g.inBand(g.w.elapsed(now)) {
				g.restart()
				continue
			}
			g.state = gestureHigh

		default:
			g.restart()
		}
	}
}
