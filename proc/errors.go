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

var (
	// ErrFull reports that at least one backend had no free staging memory.
	// Resubmit the same input once a completion has been signalled.
	ErrFull = errors.New("backend staging full")

	ErrSliceSize    = errors.New("invalid slice size")
	ErrExponent     = errors.New("invalid recovery exponent")
	ErrInputNum     = errors.New("input number out of range")
	ErrInputSize    = errors.New("input larger than current slice size")
	ErrOutputIndex  = errors.New("recovery index out of range")
	ErrOutputSize   = errors.New("output buffer smaller than current slice size")
	ErrResize       = errors.New("backend could not be resized")
	ErrBackendIndex = errors.New("backend index out of range")

	ErrNoBackends         = errors.New("no backends")
	ErrAllocation         = errors.New("invalid backend range")
	ErrAlignment          = errors.New("backend range not aligned to 16-bit words")
	ErrAllocationGap      = errors.New("backend ranges are disconnected")
	ErrAllocationOverlap  = errors.New("overlapping backend ranges are not supported")
	ErrAllocationCoverage = errors.New("backend ranges do not cover the slice")

	// protocol misuse
	ErrBusy         = errors.New("operation not allowed while inputs are in flight")
	ErrClosed       = errors.New("controller closed")
	ErrEndSignalled = errors.New("end of input already signalled")
)
