package controller

import "time"

// WallClock counts milliseconds since it was created.
type WallClock struct {
	start time.Time
}

func NewWallClock() *WallClock { return &WallClock{start: time.Now()} }

func (c *WallClock) Millis() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}

// SampleClock derives time from the number of samples the source produced:
// processed, discarded as stale, or refused by the full queue. A simulation
// then runs on sample time regardless of how fast the host executes it.
// Owned by the main loop.
type SampleClock struct {
	rate uint32
	n    uint64
}

func NewSampleClock(sampleRate uint32) *SampleClock {
	return &SampleClock{rate: sampleRate}
}

// Advance accounts for n more samples.
func (c *SampleClock) Advance(n int) { c.n += uint64(n) }

func (c *SampleClock) Millis() uint32 {
	return uint32(c.n * 1000 / uint64(c.rate))
}

// advancer is implemented by clocks that run on sample time.
type advancer interface {
	Advance(n int)
}
