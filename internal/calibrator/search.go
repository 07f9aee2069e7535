package calibrator

import "sensorless/internal/fix16"

// param names the coefficient a search is tuning.
type param uint8

const (
	paramKp param = iota
	paramKObservers
	paramPCorr
)

func (p param) String() string {
	switch p {
	case paramKp:
		return "kp"
	case paramKObservers:
		return "kobservers"
	case paramPCorr:
		return "p_corr"
	default:
		return "unknown"
	}
}

// search is a half-cut search for the largest coefficient whose oscillation
// amplitude stays within multiple × the amplitude of the first probe.
//
// The candidate moves by step, which halves every iteration; the sign of the
// step flips whenever the last candidate overshot.
type search struct {
	attempt    fix16.Fix16
	step       fix16.Fix16
	ref        fix16.Fix16
	multiple   fix16.Fix16
	iter       int
	iterations int
}

func (s *search) begin(start, step, multiple fix16.Fix16, iterations int) {
	s.attempt = start
	s.step = step
	s.multiple = multiple
	s.iterations = iterations
	s.iter = 0
	s.ref = 0
}

// record feeds the amplitude measured with the current candidate and
// advances to the next one. It returns true after the last iteration.
func (s *search) record(amplitude fix16.Fix16) bool {
	if s.iter == 0 {
		s.ref = amplitude
	}

	if amplitude <= fix16.Mul(s.ref, s.multiple) {
		s.step = fix16.Abs(s.step)
	} else {
		s.step = -fix16.Abs(s.step)
	}

	s.attempt += s.step
	s.step /= 2
	s.iter++

	return s.iter >= s.iterations
}

func (s *search) done() bool { return s.iter >= s.iterations }

// result is the final candidate scaled down by safety.
func (s *search) result(safety fix16.Fix16) fix16.Fix16 {
	return fix16.Mul(s.attempt, safety)
}
