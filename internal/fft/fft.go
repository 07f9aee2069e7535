// Package fft provides an in-place radix-2 integer FFT.
//
// Samples are plain integers (raw ADC counts) and twiddle factors are Q16.16.
// No scaling is applied between stages, so a window of N samples of magnitude
// A grows to at most N*A; 12-bit input and N <= 4096 stays well inside int32.
package fft

import (
	"fmt"
	"math"
	"math/bits"

	"sensorless/internal/fix16"
)

// Complex is one FFT bin or input sample.
type Complex struct {
	Re int32
	Im int32
}

// Plan holds the twiddle table for one transform size. A Plan is read-only
// after construction and may be shared.
type Plan struct {
	bits int
	n    int
	cos  []fix16.Fix16
	sin  []fix16.Fix16
}

// NewPlan prepares a transform of 2^log2n points.
func NewPlan(log2n int) (*Plan, error) {
	if log2n < 1 || log2n > 14 {
		return nil, fmt.Errorf("fft size 2^%d out of range [2^1, 2^14]", log2n)
	}
	n := 1 << log2n
	p := &Plan{
		bits: log2n,
		n:    n,
		cos:  make([]fix16.Fix16, n/2),
		sin:  make([]fix16.Fix16, n/2),
	}
	// The table is computed once; the transform itself is integer-only.
	for k := 0; k < n/2; k++ {
		angle := 2 * math.Pi * float64(k) / float64(n)
		p.cos[k] = fix16.F(math.Cos(angle))
		p.sin[k] = fix16.F(-math.Sin(angle))
	}
	return p, nil
}

// Size returns the number of points.
func (p *Plan) Size() int { return p.n }

// Bits returns log2 of the number of points.
func (p *Plan) Bits() int { return p.bits }

// Transform computes the forward DFT of buf in place. len(buf) must equal
// Size(); shorter or longer buffers are left untouched.
func (p *Plan) Transform(buf []Complex) {
	if len(buf) != p.n {
		return
	}

	shift := uint(bits.UintSize - p.bits)
	for i := 0; i < p.n; i++ {
		j := int(bits.Reverse(uint(i)) >> shift)
		if j > i {
			buf[i], buf[j] = buf[j], buf[i]
		}
	}

	for size := 2; size <= p.n; size <<= 1 {
		half := size >> 1
		stride := p.n / size
		for start := 0; start < p.n; start += size {
			for k := 0; k < half; k++ {
				wr := int64(p.cos[k*stride])
				wi := int64(p.sin[k*stride])

				b := buf[start+k+half]
				tr := mulQ16(int64(b.Re), wr) - mulQ16(int64(b.Im), wi)
				ti := mulQ16(int64(b.Re), wi) + mulQ16(int64(b.Im), wr)

				a := buf[start+k]
				buf[start+k] = Complex{Re: a.Re + int32(tr), Im: a.Im + int32(ti)}
				buf[start+k+half] = Complex{Re: a.Re - int32(tr), Im: a.Im - int32(ti)}
			}
		}
	}
}

// mulQ16 multiplies an integer by a Q16.16 factor, rounding to nearest.
func mulQ16(x, w int64) int64 {
	return (x*w + 0x8000) >> 16
}

// Magnitude2 returns the scaled squared magnitude (re²>>33) + (im²>>33).
func Magnitude2(c Complex) uint32 {
	acc0 := uint32((int64(c.Re) * int64(c.Re)) >> 33)
	acc1 := uint32((int64(c.Im) * int64(c.Im)) >> 33)
	return acc0 + acc1
}
