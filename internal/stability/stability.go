// Package stability answers "has this signal settled?" over a short window.
package stability

import "sensorless/internal/fix16"

// Filter tracks the last Length pushed values in a ring buffer.
//
// IsStable compares the window spread against tolerance% of the window
// maximum. The maximum is used signed (|max|, not max(|max|, |min|)), so for
// signals that dip below zero the tolerance is asymmetric.
type Filter struct {
	data  []fix16.Fix16
	head  int
	count int

	edge fix16.Fix16 // tolerance / 100
}

// New returns a filter accepting tolerancePercent spread over length samples.
func New(tolerancePercent fix16.Fix16, length int) *Filter {
	if length < 1 {
		length = 1
	}
	return &Filter{
		data: make([]fix16.Fix16, length),
		edge: tolerancePercent / 100,
	}
}

// Len returns the window length.
func (f *Filter) Len() int { return len(f.data) }

// Reset invalidates history. Stored values are kept but not trusted.
func (f *Filter) Reset() {
	f.head = 0
	f.count = 0
}

// Push records v, overwriting the oldest value once the window is full.
func (f *Filter) Push(v fix16.Fix16) {
	f.data[f.head] = v
	f.head++
	if f.head == len(f.data) {
		f.head = 0
	}
	if f.count < len(f.data) {
		f.count++
	}
}

// IsStable reports whether a full window has been seen since Reset and
// its spread is within tolerance.
func (f *Filter) IsStable() bool {
	if f.count < len(f.data) {
		return false
	}

	lo, hi := fix16.Max, fix16.Min
	for _, v := range f.data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}

	diff := hi - lo
	return fix16.Mul(fix16.Abs(hi), f.edge) >= diff
}

// Average returns the window mean, rounded to nearest. Only meaningful once
// IsStable is true.
//
// The sum is accumulated in 64 bits: ten samples of a 4 kHz signal already
// exceed the Q16.16 range.
func (f *Filter) Average() fix16.Fix16 {
	var sum int64
	for _, v := range f.data {
		sum += int64(v)
	}
	n := int64(len(f.data))
	if sum >= 0 {
		return fix16.Fix16((sum + n/2) / n)
	}
	return fix16.Fix16((sum - n/2) / n)
}
