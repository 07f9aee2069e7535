// Package sampler is the producer side of the control loop: it smooths the
// knob input and queues current samples for the main loop.
//
// Consume runs in the sampling context (a board reader goroutine). The main
// loop reads Knob and drains Samples. The knob is published through an atomic
// so readers never see a torn value.
package sampler

import (
	"sync/atomic"

	"sensorless/internal/fix16"
)

// DefaultQueueLen matches the firmware queue: one element expected, room for
// a few more while a measurement is being processed.
const DefaultQueueLen = 10

// Sample is one queued current reading in raw ADC counts.
type Sample struct {
	Current uint16
}

// Raw is one (current, knob) pair from the sample source.
type Raw struct {
	Current uint16
	Knob    uint16
}

// Sampler owns knob smoothing and the bounded sample queue.
type Sampler struct {
	out chan Sample

	prevKnob uint16 // producer-only
	knob     atomic.Int32

	dropped atomic.Uint64
}

// New returns a sampler with a queue of queueLen samples.
func New(queueLen int) *Sampler {
	if queueLen <= 0 {
		queueLen = DefaultQueueLen
	}
	return &Sampler{out: make(chan Sample, queueLen)}
}

// Consume takes one raw pair: updates the smoothed knob and enqueues the
// current sample. It never blocks; a full queue drops the new sample.
func (s *Sampler) Consume(r Raw) {
	next := uint16((uint32(s.prevKnob)*15 + uint32(r.Knob)) >> 4)
	s.prevKnob = next
	s.knob.Store(int32(next) << 4)

	select {
	case s.out <- Sample{Current: r.Current}:
	default:
		s.dropped.Add(1)
	}
}

// Knob returns the smoothed knob as Q16.16; full-scale 12-bit input is ~1.0.
func (s *Sampler) Knob() fix16.Fix16 {
	return fix16.Fix16(s.knob.Load())
}

// Samples is the consumer end of the queue.
func (s *Sampler) Samples() <-chan Sample { return s.out }

// Pop returns the next queued sample without blocking.
func (s *Sampler) Pop() (Sample, bool) {
	select {
	case v := <-s.out:
		return v, true
	default:
		return Sample{}, false
	}
}

// Clear discards everything currently queued and returns how many samples
// were dropped.
func (s *Sampler) Clear() int {
	n := 0
	for {
		select {
		case <-s.out:
			n++
		default:
			return n
		}
	}
}

// Dropped returns the number of samples lost to a full queue.
func (s *Sampler) Dropped() uint64 { return s.dropped.Load() }
