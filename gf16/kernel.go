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

package gf16

import (
	"github.com/templexxx/xorsimd"
)

// Kernel performs the scaled multi-source XOR-accumulate over a region:
// dst ^= coeffs[0]·srcs[0] ^ coeffs[1]·srcs[1] ^ ...
// Regions are little-endian 16-bit words; len(dst) must be even and every
// source at least len(dst) bytes long.
type Kernel interface {
	Info() MethodInfo
	MulAddMulti(dst []byte, srcs [][]byte, coeffs []uint16, s *Scratch)
}

// Scratch is per-thread working memory for a kernel.
type Scratch struct {
	lo, hi [256]uint16
	srcs   [][]byte
	ones   [][]byte
}

func newScratch() *Scratch {
	return &Scratch{}
}

// xorOnes folds the sources gathered with coefficient 1 into dst in one pass.
// s.ones[0] is dst itself.
func (s *Scratch) xorOnes(dst []byte) {
	if len(s.ones) > 1 {
		xorsimd.Encode(dst, s.ones)
	}
	s.ones = s.ones[:0]
}

type lookupKernel struct {
	field *Field
	info  MethodInfo
}

func (k *lookupKernel) Info() MethodInfo { return k.info }

func (k *lookupKernel) MulAddMulti(dst []byte, srcs [][]byte, coeffs []uint16, s *Scratch) {
	s.ones = append(s.ones[:0], dst)
	for i, src := range srcs {
		switch c := coeffs[i]; c {
		case 0:
		case 1:
			s.ones = append(s.ones, src[:len(dst)])
		default:
			k.buildTables(c, s)
			mulAddTables(dst, src, &s.lo, &s.hi)
		}
	}
	s.xorOnes(dst)
}

// buildTables fills the split product tables for c using linearity: the
// product of a byte is the XOR of the products of its set bits.
func (k *lookupKernel) buildTables(c uint16, s *Scratch) {
	s.lo[0], s.hi[0] = 0, 0
	for b := 0; b < 8; b++ {
		s.lo[1<<b] = k.field.Mul(c, uint16(1)<<b)
		s.hi[1<<b] = k.field.Mul(c, uint16(1)<<(b+8))
	}
	for x := 3; x < 256; x++ {
		low := x & -x
		if low == x {
			continue
		}
		s.lo[x] = s.lo[x^low] ^ s.lo[low]
		s.hi[x] = s.hi[x^low] ^ s.hi[low]
	}
}

func mulAddTables(dst, src []byte, lo, hi *[256]uint16) {
	src = src[:len(dst)]
	for i := 0; i+1 < len(dst); i += 2 {
		p := lo[src[i]] ^ hi[src[i+1]]
		dst[i] ^= byte(p)
		dst[i+1] ^= byte(p >> 8)
	}
}

type logKernel struct {
	field *Field
	info  MethodInfo
}

func (k *logKernel) Info() MethodInfo { return k.info }

func (k *logKernel) MulAddMulti(dst []byte, srcs [][]byte, coeffs []uint16, s *Scratch) {
	f := k.field
	s.ones = append(s.ones[:0], dst)
	for i, src := range srcs {
		c := coeffs[i]
		switch c {
		case 0:
			continue
		case 1:
			s.ones = append(s.ones, src[:len(dst)])
			continue
		}
		lc := f.log[c]
		src = src[:len(dst)]
		for j := 0; j+1 < len(dst); j += 2 {
			w := uint16(src[j]) | uint16(src[j+1])<<8
			if w == 0 {
				continue
			}
			p := f.exp[addMod(f.log[w], lc)]
			dst[j] ^= byte(p)
			dst[j+1] ^= byte(p >> 8)
		}
	}
	s.xorOnes(dst)
}
