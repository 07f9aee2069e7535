// Package fix16 implements signed Q16.16 fixed-point arithmetic with the
// rounding and overflow behavior of libfixmath's fix16_t.
//
// Addition and subtraction use the native int32 operators and wrap on
// overflow, exactly like the C code they mirror. Multiplication and division
// round to nearest and report Overflow when the result does not fit.
package fix16

// Fix16 is a Q16.16 fixed-point number.
type Fix16 int32

const (
	One     Fix16 = 0x00010000
	Half    Fix16 = 0x00008000
	Max     Fix16 = 0x7FFFFFFF
	Min     Fix16 = -0x80000000
	Epsilon Fix16 = 1

	// Overflow is returned by Mul and Div when the result is not representable.
	Overflow = Min
)

// F converts a float constant to Fix16, rounding half away from zero.
// It matches the F16() macro and is meant for constants.
func F(x float64) Fix16 {
	if x >= 0 {
		return Fix16(x*65536.0 + 0.5)
	}
	return Fix16(x*65536.0 - 0.5)
}

// FromInt converts an integer. Values outside [-32768, 32767] wrap.
func FromInt(a int32) Fix16 { return Fix16(a * int32(One)) }

// FromFloat32 converts a float32, rounding half away from zero.
func FromFloat32(a float32) Fix16 {
	temp := a * float32(One)
	if temp >= 0 {
		temp += 0.5
	} else {
		temp -= 0.5
	}
	return Fix16(temp)
}

// Float32 returns a as a float32.
func (a Fix16) Float32() float32 { return float32(a) / float32(One) }

// Float64 returns a as a float64.
func (a Fix16) Float64() float64 { return float64(a) / float64(One) }

// Int rounds a to the nearest integer, halves away from zero.
func (a Fix16) Int() int32 {
	if a >= 0 {
		return int32((a + Half) / One)
	}
	return int32((a - Half) / One)
}

// Abs returns |a|. Abs(Min) is Min, as with C abs().
func Abs(a Fix16) Fix16 {
	if a < 0 {
		return -a
	}
	return a
}

// Mul returns a*b rounded to nearest.
func Mul(a, b Fix16) Fix16 {
	product := int64(a) * int64(b)

	// The upper 17 bits must all equal the sign bit.
	upper := uint32(product >> 47)
	if product < 0 {
		if ^upper != 0 {
			return Overflow
		}
		// Rounds -1/2 correctly.
		product--
	} else if upper != 0 {
		return Overflow
	}

	result := Fix16(product >> 16)
	result += Fix16((product & 0x8000) >> 15)
	return result
}

// Div returns a/b rounded to nearest. Division by zero returns Min.
func Div(a, b Fix16) Fix16 {
	if b == 0 {
		return Min
	}

	remainder := uint64(absU32(a))
	divider := uint64(absU32(b))

	// Two extra fraction bits are kept: one for rounding and one for the
	// shift back into Q16.16.
	quotient := (remainder << 17) / divider
	if quotient > 0xFFFFFFFF {
		return Overflow
	}

	quotient++
	result := quotient >> 1
	if result > 0x7FFFFFFF {
		return Overflow
	}

	if (a ^ b) < 0 {
		return -Fix16(result)
	}
	return Fix16(result)
}

func absU32(a Fix16) uint32 {
	if a < 0 {
		return uint32(-int64(a))
	}
	return uint32(a)
}

// Clamp limits a to [lo, hi].
func Clamp(a, lo, hi Fix16) Fix16 {
	if a < lo {
		return lo
	}
	if a > hi {
		return hi
	}
	return a
}
