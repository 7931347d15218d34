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
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// pinWorker is replaced in tests.
var pinWorker = pinThread

// EngineParams configures an Engine.
type EngineParams struct {
	Method    Method
	Threads   int  // worker count, <= 0 uses GOMAXPROCS
	Pin       bool // pin workers to CPUs where supported
	ChunkSize int  // overrides the method's ideal chunk size when > 0
	Logger    *logrus.Logger
}

// Engine drives a kernel over whole regions with a persistent team of
// workers, each owning its scratch memory.
type Engine struct {
	field  *Field
	kernel Kernel
	pin    bool
	log    *logrus.Logger

	mu      sync.Mutex // serializes MultiplyMat, SetNumThreads and Close
	scratch []*Scratch
	team    []chan *task
	teamWg  sync.WaitGroup
	factors []uint16
	closed  bool
}

type task struct {
	total int64
	next  int64
	fn    func(loop int, s *Scratch)
	wg    sync.WaitGroup
}

// NewEngine creates an Engine over field f.
func NewEngine(f *Field, p EngineParams) (*Engine, error) {
	if f == nil {
		return nil, errors.New("gf16: nil field")
	}
	k, err := NewKernel(f, p.Method, p.ChunkSize)
	if err != nil {
		return nil, err
	}
	if p.Logger == nil {
		p.Logger = logrus.StandardLogger()
	}
	e := &Engine{field: f, kernel: k, pin: p.Pin, log: p.Logger}
	e.SetNumThreads(p.Threads)
	return e, nil
}

// Info reports the kernel in use.
func (e *Engine) Info() MethodInfo { return e.kernel.Info() }

// NumThreads returns the size of the worker team.
func (e *Engine) NumThreads() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.scratch)
}

// SetNumThreads resizes the worker team. Scratch memory is only reallocated
// when the count actually changes.
func (e *Engine) SetNumThreads(n int) {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || n == len(e.scratch) {
		return
	}
	e.stopTeam()
	if n < len(e.scratch) {
		e.scratch = e.scratch[:n]
	}
	for len(e.scratch) < n {
		e.scratch = append(e.scratch, newScratch())
	}
	e.startTeam()
}

// thread 0 is the calling goroutine; the team holds the others.
func (e *Engine) startTeam() {
	e.team = make([]chan *task, len(e.scratch)-1)
	for i := range e.team {
		ch := make(chan *task, 1)
		e.team[i] = ch
		e.teamWg.Add(1)
		go e.worker(i+1, ch)
	}
}

func (e *Engine) stopTeam() {
	for _, ch := range e.team {
		close(ch)
	}
	e.teamWg.Wait()
	e.team = nil
}

func (e *Engine) worker(id int, ch chan *task) {
	defer e.teamWg.Done()
	if e.pin {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		// an unpinned worker still computes correctly
		if err := pinWorker(id % runtime.NumCPU()); err != nil {
			e.log.WithError(err).WithField("worker", id).Debug("gf16: worker not pinned")
		}
	}
	s := e.scratch[id]
	for t := range ch {
		t.run(s)
	}
}

func (t *task) run(s *Scratch) {
	defer t.wg.Done()
	for {
		i := atomic.AddInt64(&t.next, 1) - 1
		if i >= t.total {
			return
		}
		t.fn(int(i), s)
	}
}

// parallel runs fn for every loop index in [0, total) across the team.
func (e *Engine) parallel(total int, fn func(loop int, s *Scratch)) {
	t := &task{total: int64(total), fn: fn}
	helpers := len(e.team)
	if helpers > total-1 {
		helpers = total - 1
	}
	t.wg.Add(helpers + 1)
	for i := 0; i < helpers; i++ {
		e.team[i] <- t
	}
	t.run(e.scratch[0])
	t.wg.Wait()
}

// MultiplyMat computes, for every output o,
//
//	outputs[o] (^)= sum over i of Coefficient(iNums[i], oNums[o]) · inputs[i]
//
// overwriting the outputs unless add is set. All regions must have the same
// even length.
func (e *Engine) MultiplyMat(inputs [][]byte, iNums []uint16, outputs [][]byte, oNums []uint16, add bool) error {
	if len(inputs) != len(iNums) || len(outputs) != len(oNums) {
		return errors.New("gf16: mismatched index lists")
	}
	if len(outputs) == 0 {
		return nil
	}
	n := len(outputs[0])
	if n&1 != 0 {
		return errors.Errorf("gf16: region length %d is not a multiple of 2", n)
	}
	for _, b := range outputs {
		if len(b) != n {
			return errors.New("gf16: output regions differ in length")
		}
	}
	for _, b := range inputs {
		if len(b) != n {
			return errors.New("gf16: input regions differ in length")
		}
	}
	for _, num := range iNums {
		if num >= MaxInputs {
			return errors.Errorf("gf16: input number %d out of range", num)
		}
	}
	for _, exp := range oNums {
		if exp >= MaxExponent {
			return errors.Errorf("gf16: recovery exponent %d out of range", exp)
		}
	}
	if n == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("gf16: engine closed")
	}

	// all coefficients up front, before the memory-heavy pass
	numIn, numOut := len(inputs), len(outputs)
	if cap(e.factors) < numIn*numOut {
		e.factors = make([]uint16, numIn*numOut)
	}
	factors := e.factors[:numIn*numOut]
	for out := 0; out < numOut; out++ {
		for in := 0; in < numIn; in++ {
			factors[in+out*numIn] = e.field.Coefficient(iNums[in], oNums[out])
		}
	}

	info := e.kernel.Info()
	numChunks := (n + info.IdealChunkSize/2) / info.IdealChunkSize
	if numChunks < 1 {
		numChunks = 1
	}
	alignMask := info.Stride - 1
	chunkSize := ((n+numChunks-1)/numChunks + alignMask) &^ alignMask

	e.parallel(numOut*numChunks, func(loop int, s *Scratch) {
		offset := (loop / numOut) * chunkSize
		if offset >= n {
			return
		}
		out := loop % numOut
		end := offset + chunkSize
		if end > n {
			end = n
		}
		dst := outputs[out][offset:end]
		if !add {
			clear(dst)
		}
		s.srcs = s.srcs[:0]
		for _, in := range inputs {
			s.srcs = append(s.srcs, in[offset:end])
		}
		e.kernel.MulAddMulti(dst, s.srcs, factors[out*numIn:(out+1)*numIn], s)
	})
	return nil
}

// Close stops the worker team.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.stopTeam()
}
