// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package gf16 implements GF(2^16) arithmetic and the region
// multiply-accumulate used to compute recovery data.
package gf16

import "encoding/binary"

const (
	// Polynomial is the field reduction polynomial x^16+x^12+x^3+x+1.
	Polynomial = 0x1100B
	// Order is the number of field elements.
	Order = 1 << 16
	// Modulus is the order of the multiplicative group.
	Modulus = Order - 1
	// MaxInputs is the number of usable input constants: exponents in
	// [1, Modulus) sharing no factor (3, 5, 17, 257) with Modulus.
	MaxInputs = 32768
	// MaxExponent bounds recovery exponents; valid values are < MaxExponent.
	MaxExponent = Modulus
)

// Field holds the precomputed tables. It is immutable once built and safe
// for concurrent use.
type Field struct {
	log [Order]uint16
	exp [Order]uint16 // exp[Modulus] == exp[0]

	// expHi[k] = 2^(8k); the low three bits of an exponent are applied as a
	// plain shift and folded back through reduce.
	expHi  [8192]uint16
	reduce [128]uint16

	inputLog [MaxInputs]uint16
}

// NewField builds the field tables.
func NewField() *Field {
	f := new(Field)

	n := 1
	for i := 0; i < Modulus; i++ {
		f.exp[i] = uint16(n)
		f.log[n] = uint16(i)
		n <<= 1
		if n&Order != 0 {
			n ^= Polynomial
		}
	}
	f.exp[Modulus] = f.exp[0]

	for k := range f.expHi {
		f.expHi[k] = f.exp[k<<3]
	}
	for i := range f.reduce {
		x := i << 9
		for j := 0; j < 7; j++ {
			x <<= 1
			if x&Order != 0 {
				x ^= Polynomial
			}
		}
		f.reduce[i] = uint16(x)
	}

	e := 0
	for i := range f.inputLog {
		for {
			e++
			if e%3 != 0 && e%5 != 0 && e%17 != 0 && e%257 != 0 {
				break
			}
		}
		f.inputLog[i] = uint16(e)
	}
	return f
}

// Coefficient returns the factor applied to input inputNum when computing
// the recovery output with the given exponent, i.e. InputConstant(inputNum)
// raised to exponent. inputNum must be < MaxInputs and exponent < MaxExponent.
func (f *Field) Coefficient(inputNum, exponent uint16) uint16 {
	r := uint32(f.inputLog[inputNum&(MaxInputs-1)]) * uint32(exponent)
	r = (r >> 16) + (r & Modulus)
	r = (r >> 16) + (r & Modulus)

	v := uint32(f.expHi[r>>3]) << (r & 7)
	return uint16(v) ^ f.reduce[v>>16]
}

// InputLog returns the discrete log of the constant assigned to inputNum.
func (f *Field) InputLog(inputNum uint16) uint16 {
	return f.inputLog[inputNum&(MaxInputs-1)]
}

// InputConstant returns the field element assigned to inputNum.
func (f *Field) InputConstant(inputNum uint16) uint16 {
	return f.exp[f.InputLog(inputNum)]
}

// Exp returns 2^e.
func (f *Field) Exp(e uint16) uint16 { return f.exp[e] }

// Log returns the discrete log of a; Log(0) is undefined and returns 0.
func (f *Field) Log(a uint16) uint16 { return f.log[a] }

// Mul multiplies two field elements.
func (f *Field) Mul(a, b uint16) uint16 {
	if a == 0 || b == 0 {
		return 0
	}
	return f.exp[addMod(f.log[a], f.log[b])]
}

// Pow raises a to the n-th power.
func (f *Field) Pow(a uint16, n uint32) uint16 {
	if n == 0 {
		return 1
	}
	if a == 0 {
		return 0
	}
	return f.exp[uint64(f.log[a])*uint64(n)%Modulus]
}

func addMod(a, b uint16) uint16 {
	s := uint32(a) + uint32(b)
	return uint16((s & Modulus) + (s >> 16))
}

// Checksum XOR-folds buf as little-endian 16-bit words. A trailing odd byte
// is treated as the low half of a final word. The fold is linear over the
// field: Checksum(c·x) == c·Checksum(x).
func Checksum(buf []byte) uint16 {
	var acc uint64
	n := len(buf) &^ 7
	for i := 0; i < n; i += 8 {
		acc ^= binary.LittleEndian.Uint64(buf[i:])
	}
	sum := uint16(acc) ^ uint16(acc>>16) ^ uint16(acc>>32) ^ uint16(acc>>48)
	for i := n; i+1 < len(buf); i += 2 {
		sum ^= binary.LittleEndian.Uint16(buf[i:])
	}
	if len(buf)&1 == 1 {
		sum ^= uint16(buf[len(buf)-1])
	}
	return sum
}
