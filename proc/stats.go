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

import (
	"fmt"
	"sync/atomic"
)

// Stats holds controller counters.
type Stats struct {
	InputsAdded      uint64 // inputs fully accepted
	InputBytes       uint64 // bytes of accepted inputs
	FullRejections   uint64 // submissions refused by at least one backend
	InputsProcessed  uint64 // inputs reported processed by backends
	BatchesProcessed uint64 // backend batches completed
	OutputsRead      uint64 // GetOutput continuations fired
	InvalidOutputs   uint64 // outputs that failed verification
	PassesFinished   uint64 // EndInput cycles completed
}

func newStats() *Stats {
	return new(Stats)
}

func (s *Stats) Header() []string {
	return []string{
		"InputsAdded",
		"InputBytes",
		"FullRejections",
		"InputsProcessed",
		"BatchesProcessed",
		"OutputsRead",
		"InvalidOutputs",
		"PassesFinished",
	}
}

func (s *Stats) ToSlice() []string {
	snapshot := s.Copy()
	return []string{
		fmt.Sprint(snapshot.InputsAdded),
		fmt.Sprint(snapshot.InputBytes),
		fmt.Sprint(snapshot.FullRejections),
		fmt.Sprint(snapshot.InputsProcessed),
		fmt.Sprint(snapshot.BatchesProcessed),
		fmt.Sprint(snapshot.OutputsRead),
		fmt.Sprint(snapshot.InvalidOutputs),
		fmt.Sprint(snapshot.PassesFinished),
	}
}

// Copy makes a consistent-enough snapshot of the counters.
func (s *Stats) Copy() *Stats {
	d := newStats()
	d.InputsAdded = atomic.LoadUint64(&s.InputsAdded)
	d.InputBytes = atomic.LoadUint64(&s.InputBytes)
	d.FullRejections = atomic.LoadUint64(&s.FullRejections)
	d.InputsProcessed = atomic.LoadUint64(&s.InputsProcessed)
	d.BatchesProcessed = atomic.LoadUint64(&s.BatchesProcessed)
	d.OutputsRead = atomic.LoadUint64(&s.OutputsRead)
	d.InvalidOutputs = atomic.LoadUint64(&s.InvalidOutputs)
	d.PassesFinished = atomic.LoadUint64(&s.PassesFinished)
	return d
}

// Reset zeroes all counters.
func (s *Stats) Reset() {
	atomic.StoreUint64(&s.InputsAdded, 0)
	atomic.StoreUint64(&s.InputBytes, 0)
	atomic.StoreUint64(&s.FullRejections, 0)
	atomic.StoreUint64(&s.InputsProcessed, 0)
	atomic.StoreUint64(&s.BatchesProcessed, 0)
	atomic.StoreUint64(&s.OutputsRead, 0)
	atomic.StoreUint64(&s.InvalidOutputs, 0)
	atomic.StoreUint64(&s.PassesFinished, 0)
}
