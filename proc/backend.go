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

import "sync"

// AddResult is a backend's answer to an input submission.
type AddResult int

const (
	// AddAccepted means the backend took the input and will call its done
	// continuation once the input has been processed.
	AddAccepted AddResult = iota
	// AddFull means no staging memory was free; nothing was retained.
	AddFull
)

func (r AddResult) String() string {
	if r == AddFull {
		return "full"
	}
	return "accepted"
}

// ProgressFunc observes processed batches: the number of inputs in the batch
// and the input number of its first input.
type ProgressFunc func(numInputs int, firstInput uint16)

// Backend computes recovery data for one contiguous byte range of every
// slice. Buffers handed to a backend are already cut to its range.
//
// Continuations passed to a backend must be delivered on the loop the backend
// was created with, never from inside the call that received them.
type Backend interface {
	// SetSliceSize commits the maximum range size the backend must hold.
	SetSliceSize(size int)
	// SetCurrentSliceSize changes the active range size; it reports false
	// when the backend cannot hold it.
	SetCurrentSliceSize(size int) bool
	SetRecoverySlices(exponents []uint16) bool
	SetProgressCb(fn ProgressFunc)

	AddInput(buf []byte, inputNum uint16, flush bool, done func()) AddResult
	DummyInput(inputNum uint16, flush bool) AddResult
	// FillInput pre-stages buf into free staging memory and reports true
	// once every staging slot holds it.
	FillInput(buf []byte) bool
	Flush()
	EndInput()
	IsEmpty() bool

	GetOutput(index int, out []byte, done func(valid bool))
	ProcessingFinished()
	DiscardOutput()
	FreeProcessingMem()
	Deinit(done func())

	MethodName() string
	NumThreads() int
	SetNumThreads(n int)
}

// BackendAlloc binds a backend to the range it owns.
type BackendAlloc struct {
	Range
	Backend Backend
}

// ReleaseBackends deinits backends that were never bound to a controller,
// for instance after Init failed, and waits until all of them have stopped.
func ReleaseBackends(allocs []BackendAlloc) {
	var wg sync.WaitGroup
	wg.Add(len(allocs))
	for _, a := range allocs {
		a.Backend.Deinit(wg.Done)
	}
	wg.Wait()
}
