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

package proc

import "github.com/pkg/errors"

// Range is the contiguous byte range of a slice owned by one backend.
type Range struct {
	Offset int
	Size   int
}

// End returns the offset one past the range.
func (r Range) End() int { return r.Offset + r.Size }

// CheckAllocation verifies that ranges, taken in order starting from the
// first, can be merged one by one into a single interval equal to
// [0, sliceSize), that no two ranges overlap, and that every range starts on
// a 16-bit word. Only the range ending at sliceSize may have an odd size.
//
// Backend counts are small, so the quadratic scan is fine.
func CheckAllocation(ranges []Range, sliceSize int) error {
	if len(ranges) == 0 {
		return ErrNoBackends
	}
	for i, r := range ranges {
		if r.Offset < 0 || r.Size < 0 {
			return errors.Wrapf(ErrAllocation, "backend %d: offset %d size %d", i, r.Offset, r.Size)
		}
	}
	if err := checkAlignment(0, ranges[0], sliceSize); err != nil {
		return err
	}

	start, end := ranges[0].Offset, ranges[0].End()
	overlap := false
	merged := make([]bool, len(ranges))
	merged[0] = true
	for remaining := len(ranges) - 1; remaining > 0; {
		found := false
		for i := 1; i < len(ranges); i++ {
			if merged[i] {
				continue
			}
			r := ranges[i]
			if r.Offset > end || r.End() < start {
				continue
			}
			// touching ranges merge; a non-empty intersection is an overlap
			if max(start, r.Offset) < min(end, r.End()) {
				overlap = true
			}
			start = min(start, r.Offset)
			end = max(end, r.End())
			merged[i] = true
			remaining--
			found = true

			if err := checkAlignment(i, r, sliceSize); err != nil {
				return err
			}
		}
		if !found {
			return errors.Wrapf(ErrAllocationGap, "merged [%d, %d)", start, end)
		}
	}
	if overlap {
		return ErrAllocationOverlap
	}
	if start != 0 || end != sliceSize {
		return errors.Wrapf(ErrAllocationCoverage, "ranges cover [%d, %d) of %d bytes", start, end, sliceSize)
	}
	return nil
}

func checkAlignment(i int, r Range, sliceSize int) error {
	if r.Offset&1 != 0 {
		return errors.Wrapf(ErrAlignment, "backend %d: odd offset %d", i, r.Offset)
	}
	if r.Size&1 != 0 && r.End() != sliceSize {
		return errors.Wrapf(ErrAlignment, "backend %d: odd size %d", i, r.Size)
	}
	return nil
}

// SplitEven divides sliceSize into n word-aligned ranges of near equal size;
// the last range absorbs the remainder.
func SplitEven(sliceSize, n int) []Range {
	if n <= 0 {
		return nil
	}
	share := (sliceSize / n) &^ 1
	ranges := make([]Range, n)
	pos := 0
	for i := range ranges {
		size := share
		if i == n-1 {
			size = sliceSize - pos
		}
		ranges[i] = Range{Offset: pos, Size: size}
		pos += size
	}
	return ranges
}
