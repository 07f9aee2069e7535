package calibrator

// wait is the continuation record of a suspension point. A sequence parks
// in a state, and the wait remembers when the suspension began so that the
// next call resumes with elapsed time intact.
//
// Every helper returns true when the wait is over and the caller may fall
// through to the next statement in the same call.
type wait struct {
	armed bool
	start uint32 // ms
}

// sleep suspends for ms milliseconds.
func (w *wait) sleep(now, ms uint32) bool {
	if !w.armed {
		w.armed = true
		w.start = now
	}
	if now-w.start < ms {
		return false
	}
	w.armed = false
	return true
}

// while suspends as long as cond holds. cond is evaluated by the caller on
// every call, including the first one.
func (w *wait) while(now uint32, cond bool) bool {
	if !w.armed {
		w.armed = true
		w.start = now
	}
	if cond {
		return false
	}
	w.armed = false
	return true
}

// elapsed returns the time since the most recent wait began. It stays valid
// after the wait has finished.
func (w *wait) elapsed(now uint32) uint32 { return now - w.start }

// reset drops a pending suspension.
func (w *wait) reset() { w.armed = false }
