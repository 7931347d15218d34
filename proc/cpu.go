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
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/xtaci/gf16proc/gf16"
)

const (
	defaultStagingAreas  = 2
	defaultInputGrouping = 12
)

// CPUParams configures a CPUBackend.
type CPUParams struct {
	Method        gf16.Method
	Threads       int // <= 0 uses GOMAXPROCS
	StagingAreas  int // batches that may be staged or in flight at once
	InputGrouping int // inputs per batch
	Pin           bool
	ChunkSize     int
	Logger        *logrus.Logger
}

type stagingArea struct {
	slots  [][]byte
	nums   []uint16
	done   []func()
	filled []bool // slot holds FillInput data
	count  int
	active bool // submitted and not yet released
}

// CPUBackend computes its range on a gf16.Engine. Inputs are copied into
// staging areas and multiplied in batches on a private compute loop; the
// completion of each batch is delivered on the controller loop.
type CPUBackend struct {
	mu      sync.Mutex
	loop    *Loop // controller loop
	compute *Loop
	engine  *gf16.Engine
	field   *gf16.Field
	log     *logrus.Logger

	grouping    int
	sliceSize   int
	currentSize int
	regionLen   int // currentSize rounded up to a whole word

	staging     []*stagingArea
	current     int
	activeCount int

	exponents     []uint16
	outputs       [][]byte
	expected      []uint16 // checksum each output must have
	processingAdd bool
	hasOutput     bool

	// only touched on the compute loop
	computeErr error

	progress ProgressFunc
	closed   bool
}

// NewCPUBackend creates a CPU backend delivering completions on loop.
func NewCPUBackend(loop *Loop, field *gf16.Field, p CPUParams) (*CPUBackend, error) {
	if p.StagingAreas <= 0 {
		p.StagingAreas = defaultStagingAreas
	}
	if p.InputGrouping <= 0 {
		p.InputGrouping = defaultInputGrouping
	}
	if p.Logger == nil {
		p.Logger = logrus.StandardLogger()
	}
	engine, err := gf16.NewEngine(field, gf16.EngineParams{
		Method:    p.Method,
		Threads:   p.Threads,
		Pin:       p.Pin,
		ChunkSize: p.ChunkSize,
		Logger:    p.Logger,
	})
	if err != nil {
		return nil, errors.Wrap(err, "cpu backend")
	}

	b := &CPUBackend{
		loop:     loop,
		compute:  NewLoop(),
		engine:   engine,
		field:    field,
		log:      p.Logger,
		grouping: p.InputGrouping,
		staging:  make([]*stagingArea, p.StagingAreas),
	}
	for i := range b.staging {
		b.staging[i] = &stagingArea{
			nums:   make([]uint16, p.InputGrouping),
			done:   make([]func(), p.InputGrouping),
			filled: make([]bool, p.InputGrouping),
		}
	}
	info := engine.Info()
	b.log.WithFields(logrus.Fields{
		"method":   info.Name,
		"threads":  engine.NumThreads(),
		"chunk":    info.IdealChunkSize,
		"grouping": p.InputGrouping,
		"staging":  p.StagingAreas,
	}).Debug("cpu backend: created")
	return b, nil
}

func (b *CPUBackend) MethodName() string { return b.engine.Info().Name }

func (b *CPUBackend) NumThreads() int { return b.engine.NumThreads() }

// SetNumThreads resizes the engine's worker team.
func (b *CPUBackend) SetNumThreads(n int) { b.engine.SetNumThreads(n) }

func (b *CPUBackend) SetProgressCb(fn ProgressFunc) {
	b.mu.Lock()
	b.progress = fn
	b.mu.Unlock()
}

func (b *CPUBackend) SetSliceSize(size int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sliceSize = size
	b.resizeLocked(size)
}

func (b *CPUBackend) SetCurrentSliceSize(size int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.activeCount > 0 || b.closed {
		return false
	}
	if size > b.sliceSize {
		b.sliceSize = size
	}
	b.resizeLocked(size)
	return true
}

func (b *CPUBackend) resizeLocked(size int) {
	b.currentSize = size
	b.regionLen = (size + 1) &^ 1
	for _, a := range b.staging {
		if a.slots == nil {
			continue
		}
		for j := range a.slots {
			a.slots[j] = b.region(a.slots[j])
			a.filled[j] = false
		}
	}
	b.allocOutputsLocked()
}

// region returns a buffer of regionLen bytes, reusing buf when it is big
// enough.
func (b *CPUBackend) region(buf []byte) []byte {
	capacity := (b.sliceSize + 1) &^ 1
	if capacity < b.regionLen {
		capacity = b.regionLen
	}
	if cap(buf) < capacity {
		return make([]byte, b.regionLen, capacity)
	}
	return buf[:b.regionLen]
}

func (b *CPUBackend) allocOutputsLocked() {
	// fresh memory so that outputs captured by queued work stay intact
	b.outputs = make([][]byte, len(b.exponents))
	for i := range b.outputs {
		b.outputs[i] = make([]byte, b.regionLen)
	}
	b.expected = make([]uint16, len(b.exponents))
	b.processingAdd = false
	b.hasOutput = false
}

func (b *CPUBackend) SetRecoverySlices(exponents []uint16) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.activeCount > 0 || b.closed {
		return false
	}
	b.exponents = append([]uint16(nil), exponents...)
	b.allocOutputsLocked()
	return true
}

func (b *CPUBackend) ensureStagingLocked() {
	for _, a := range b.staging {
		if a.slots != nil {
			continue
		}
		a.slots = make([][]byte, b.grouping)
		for j := range a.slots {
			a.slots[j] = b.region(nil)
			a.filled[j] = false
		}
	}
}

// stageLocked claims the next slot of the current area, or returns nil when
// that area is still being processed.
func (b *CPUBackend) stageLocked(inputNum uint16, done func()) ([]byte, int) {
	b.ensureStagingLocked()
	a := b.staging[b.current]
	if a.active {
		return nil, 0
	}
	j := a.count
	a.nums[j] = inputNum
	a.done[j] = done
	a.count++
	return a.slots[j], j
}

func (b *CPUBackend) AddInput(buf []byte, inputNum uint16, flush bool, done func()) AddResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	slot, j := b.stageLocked(inputNum, done)
	if slot == nil {
		return AddFull
	}
	n := copy(slot, buf)
	clear(slot[n:])
	b.staging[b.current].filled[j] = false
	b.afterStageLocked(flush)
	return AddAccepted
}

func (b *CPUBackend) DummyInput(inputNum uint16, flush bool) AddResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	slot, j := b.stageLocked(inputNum, nil)
	if slot == nil {
		return AddFull
	}
	if !b.staging[b.current].filled[j] {
		clear(slot)
	}
	b.afterStageLocked(flush)
	return AddAccepted
}

func (b *CPUBackend) afterStageLocked(flush bool) {
	if flush || b.staging[b.current].count == b.grouping {
		b.submitLocked()
	}
}

func (b *CPUBackend) FillInput(buf []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ensureStagingLocked()
	all := true
	for _, a := range b.staging {
		if a.active {
			all = false
			continue
		}
		for j := a.count; j < len(a.slots); j++ {
			if a.filled[j] {
				continue
			}
			n := copy(a.slots[j], buf)
			clear(a.slots[j][n:])
			a.filled[j] = true
		}
	}
	return all
}

func (b *CPUBackend) Flush() {
	b.mu.Lock()
	b.submitLocked()
	b.mu.Unlock()
}

// EndInput needs nothing beyond the flush the controller sends first.
func (b *CPUBackend) EndInput() {}

func (b *CPUBackend) IsEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activeCount == 0 && b.staging[b.current].count == 0
}

// submitLocked hands the current area to the compute loop.
func (b *CPUBackend) submitLocked() {
	a := b.staging[b.current]
	if a.count == 0 || a.active {
		return
	}
	a.active = true
	b.activeCount++
	b.current = (b.current + 1) % len(b.staging)

	add := b.processingAdd
	b.processingAdd = true
	b.hasOutput = true

	inputs := a.slots[:a.count]
	nums := a.nums[:a.count]
	outputs, exps, expected := b.outputs, b.exponents, b.expected
	b.compute.Post(func() {
		if err := b.engine.MultiplyMat(inputs, nums, outputs, exps, add); err != nil {
			b.computeErr = err
			b.log.WithError(err).Error("cpu backend: multiply failed")
		}
		for o, exp := range exps {
			var sum uint16
			if add {
				sum = expected[o]
			}
			for i, num := range nums {
				sum ^= b.field.Mul(b.field.Coefficient(num, exp), gf16.Checksum(inputs[i]))
			}
			expected[o] = sum
		}
		b.deliver(func() { b.release(a) })
	})
}

// release runs on the controller loop once a batch is computed.
func (b *CPUBackend) release(a *stagingArea) {
	b.mu.Lock()
	n := a.count
	first := a.nums[0]
	done := make([]func(), n)
	copy(done, a.done[:n])
	clear(a.done)
	a.count = 0
	a.active = false
	b.activeCount--
	progress := b.progress
	b.mu.Unlock()

	for _, fn := range done {
		if fn != nil {
			fn()
		}
	}
	if progress != nil {
		progress(n, first)
	}
}

// deliver runs fn on the controller loop, or inline once that loop is gone.
func (b *CPUBackend) deliver(fn func()) {
	if !b.loop.Post(fn) {
		fn()
	}
}

func (b *CPUBackend) GetOutput(index int, out []byte, done func(valid bool)) {
	b.mu.Lock()
	has := b.hasOutput
	outputs, expected := b.outputs, b.expected
	b.mu.Unlock()

	b.compute.Post(func() {
		valid := true
		switch {
		case !has:
			clear(out)
		case index < 0 || index >= len(outputs):
			clear(out)
			valid = false
		default:
			copy(out, outputs[index])
			valid = b.computeErr == nil && gf16.Checksum(outputs[index]) == expected[index]
		}
		b.deliver(func() { done(valid) })
	})
}

func (b *CPUBackend) ProcessingFinished() {
	b.mu.Lock()
	if b.activeCount == 0 {
		b.current = 0
	}
	b.mu.Unlock()
}

func (b *CPUBackend) DiscardOutput() {
	b.mu.Lock()
	b.processingAdd = false
	b.hasOutput = false
	b.mu.Unlock()
	b.compute.Post(func() { b.computeErr = nil })
}

// FreeProcessingMem drops the staging memory; it is reallocated by the next
// input.
func (b *CPUBackend) FreeProcessingMem() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.activeCount > 0 {
		return
	}
	for _, a := range b.staging {
		a.slots = nil
		a.count = 0
		clear(a.filled)
	}
	b.current = 0
}

func (b *CPUBackend) Deinit(done func()) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.compute.Post(func() {
		b.engine.Close()
		if done != nil {
			b.deliver(done)
		}
	})
	b.compute.Close()
}
