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

// Package proc coordinates recovery computation across backends that each own
// a byte range of the slice.
package proc

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/xtaci/gf16proc/gf16"
)

type phase int

const (
	phaseIdle phase = iota
	phaseAdding
	phaseEnding
	phaseClosed
)

func (p phase) String() string {
	switch p {
	case phaseAdding:
		return "adding"
	case phaseEnding:
		return "ending"
	case phaseClosed:
		return "closed"
	}
	return "idle"
}

// fillKey tracks FillInput acceptance alongside real input numbers.
const fillKey = -1

type backendSlot struct {
	be    Backend
	Range       // current allocation
	share Range // allocation given to Init
	added map[int32]struct{}
}

func (s *backendSlot) intersects(size int) bool {
	return s.Size > 0 && s.Offset < size
}

// sub returns the part of buf that falls in the slot's range.
func (s *backendSlot) sub(buf []byte) []byte {
	end := s.End()
	if end > len(buf) {
		end = len(buf)
	}
	return buf[s.Offset:end]
}

// addAttempt is the bookkeeping for one input number until every
// intersecting backend has accepted it.
type addAttempt struct {
	ref *CallbackRef
	cb  func()
}

// Controller streams inputs to its backends and reassembles their outputs.
// Its methods never block on computation; continuations are delivered on the
// Loop it was created with, and the controller lock is never held while they
// run.
type Controller struct {
	mu    sync.Mutex
	loop  *Loop
	log   *logrus.Logger
	stats *Stats

	backends         []*backendSlot
	sliceSize        int
	currentSliceSize int
	exponents        []uint16

	attempts map[uint16]*addAttempt
	hasAdded bool
	phase    phase

	finishCb   func()
	progressCb ProgressFunc
}

// NewController creates a controller delivering continuations on loop.
func NewController(loop *Loop, log *logrus.Logger) *Controller {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Controller{
		loop:     loop,
		log:      log,
		stats:    newStats(),
		attempts: make(map[uint16]*addAttempt),
	}
}

// violation reports a misuse of the protocol by the caller.
func (c *Controller) violation(err error) error {
	c.log.WithError(err).WithField("phase", c.phase).Error("controller: contract violation")
	if strictContracts {
		panic(err)
	}
	return err
}

func (c *Controller) usableLocked() error {
	if c.phase == phaseClosed {
		return ErrClosed
	}
	if len(c.backends) == 0 {
		return ErrNoBackends
	}
	return nil
}

func (c *Controller) idleLocked() error {
	if err := c.usableLocked(); err != nil {
		return err
	}
	if c.phase != phaseIdle {
		return errors.Wrapf(ErrBusy, "controller is %v", c.phase)
	}
	if len(c.attempts) > 0 {
		return errors.Wrapf(ErrBusy, "%d inputs partially accepted", len(c.attempts))
	}
	return nil
}

// Init binds the backends to their ranges of a slice of sliceSize bytes.
// Nothing is changed when validation fails.
func (c *Controller) Init(sliceSize int, allocs []BackendAlloc, progress ProgressFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == phaseClosed {
		return c.violation(ErrClosed)
	}
	if len(c.backends) > 0 {
		return c.violation(errors.Wrap(ErrBusy, "already initialized"))
	}
	if sliceSize < 2 || sliceSize&1 != 0 {
		return errors.Wrapf(ErrSliceSize, "slice size %d", sliceSize)
	}
	ranges := make([]Range, len(allocs))
	for i, a := range allocs {
		if a.Backend == nil {
			return errors.Wrapf(ErrAllocation, "backend %d is nil", i)
		}
		ranges[i] = a.Range
	}
	if err := CheckAllocation(ranges, sliceSize); err != nil {
		return err
	}

	c.backends = make([]*backendSlot, len(allocs))
	for i, a := range allocs {
		c.backends[i] = &backendSlot{be: a.Backend, Range: a.Range, share: a.Range, added: make(map[int32]struct{})}
		a.Backend.SetSliceSize(a.Size)
		a.Backend.SetProgressCb(c.onBackendProcess)
		c.log.WithFields(logrus.Fields{"backend": i, "offset": a.Offset, "size": a.Size, "method": a.Backend.MethodName()}).Debug("controller: backend bound")
	}
	c.sliceSize = sliceSize
	c.currentSliceSize = sliceSize
	c.progressCb = progress
	return nil
}

// AddInput submits buf, the leading bytes of input inputNum; the rest of the
// slice is taken as zero. It returns ErrFull when some backend had no room:
// the caller must resubmit the same inputNum later, and backends that already
// accepted it are not given it again. cb runs once every backend has
// processed the input; a resubmission replaces it. buf may be reused as soon
// as AddInput returns.
func (c *Controller) AddInput(buf []byte, inputNum uint16, flush bool, cb func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.addableLocked(); err != nil {
		return c.violation(err)
	}
	if err := c.checkInputLocked(len(buf), inputNum); err != nil {
		return err
	}

	at := c.attempts[inputNum]
	if at == nil {
		at = &addAttempt{}
		at.ref = NewCallbackRef(len(c.backends), func() { c.fireAdd(at) })
		for _, s := range c.backends {
			if !s.intersects(len(buf)) {
				at.ref.Discount()
			}
		}
		if at.ref.Pending() == 0 {
			c.loop.Post(func() { c.fireAdd(at) })
		}
		c.attempts[inputNum] = at
	}
	at.cb = cb

	key := int32(inputNum)
	full := false
	for i, s := range c.backends {
		if !s.intersects(len(buf)) {
			continue
		}
		if _, ok := s.added[key]; ok {
			continue
		}
		if s.be.AddInput(s.sub(buf), inputNum, flush, c.releaser(at.ref)) == AddFull {
			c.log.WithFields(logrus.Fields{"backend": i, "inputNum": inputNum}).Debug("controller: backend full")
			full = true
			continue
		}
		s.added[key] = struct{}{}
	}
	if full {
		atomic.AddUint64(&c.stats.FullRejections, 1)
		if !c.rejectedLocked(key) {
			delete(c.attempts, inputNum)
		}
		return ErrFull
	}

	for _, s := range c.backends {
		delete(s.added, key)
	}
	delete(c.attempts, inputNum)
	c.hasAdded = true
	c.phase = phaseAdding
	atomic.AddUint64(&c.stats.InputsAdded, 1)
	atomic.AddUint64(&c.stats.InputBytes, uint64(len(buf)))
	return nil
}

// rejectedLocked reports whether some backend already holds the input under
// key after a partial rejection. The controller then counts as adding, so it
// cannot be reconfigured before the input is resubmitted.
func (c *Controller) rejectedLocked(key int32) bool {
	for _, s := range c.backends {
		if _, ok := s.added[key]; ok {
			c.phase = phaseAdding
			return true
		}
	}
	return false
}

func (c *Controller) releaser(ref *CallbackRef) func() {
	return func() { ref.Release() }
}

func (c *Controller) fireAdd(at *addAttempt) {
	c.mu.Lock()
	cb := at.cb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (c *Controller) addableLocked() error {
	if err := c.usableLocked(); err != nil {
		return err
	}
	if c.phase == phaseEnding {
		return ErrEndSignalled
	}
	return nil
}

func (c *Controller) checkInputLocked(size int, inputNum uint16) error {
	if inputNum >= gf16.MaxInputs {
		return errors.Wrapf(ErrInputNum, "input %d", inputNum)
	}
	if size > c.currentSliceSize {
		return errors.Wrapf(ErrInputSize, "input %d is %d bytes, slice is %d", inputNum, size, c.currentSliceSize)
	}
	return nil
}

// DummyInput submits input inputNum without data: backends use whatever their
// staging memory holds, zeros unless FillInput pre-staged it. size selects
// the backends involved as for AddInput. There is no continuation.
func (c *Controller) DummyInput(size int, inputNum uint16, flush bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.addableLocked(); err != nil {
		return c.violation(err)
	}
	if err := c.checkInputLocked(size, inputNum); err != nil {
		return err
	}

	key := int32(inputNum)
	full := false
	for _, s := range c.backends {
		if !s.intersects(size) {
			continue
		}
		if _, ok := s.added[key]; ok {
			continue
		}
		if s.be.DummyInput(inputNum, flush) == AddFull {
			full = true
			continue
		}
		s.added[key] = struct{}{}
	}
	if full {
		atomic.AddUint64(&c.stats.FullRejections, 1)
		c.rejectedLocked(key)
		return ErrFull
	}
	for _, s := range c.backends {
		delete(s.added, key)
	}
	c.hasAdded = true
	c.phase = phaseAdding
	atomic.AddUint64(&c.stats.InputsAdded, 1)
	atomic.AddUint64(&c.stats.InputBytes, uint64(size))
	return nil
}

// FillInput copies buf into the free staging memory of every backend, for
// benchmarking with DummyInput. It reports true once all backends have been
// filled; until then the caller repeats the call.
func (c *Controller) FillInput(buf []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.addableLocked(); err != nil {
		return false, c.violation(err)
	}
	if len(buf) > c.currentSliceSize {
		return false, errors.Wrapf(ErrInputSize, "fill is %d bytes, slice is %d", len(buf), c.currentSliceSize)
	}

	done := true
	for _, s := range c.backends {
		if !s.intersects(len(buf)) {
			continue
		}
		if _, ok := s.added[fillKey]; ok {
			continue
		}
		if !s.be.FillInput(s.sub(buf)) {
			done = false
			continue
		}
		s.added[fillKey] = struct{}{}
	}
	if done {
		for _, s := range c.backends {
			delete(s.added, fillKey)
		}
	}
	return done, nil
}

// Flush asks backends to start processing partially filled batches.
func (c *Controller) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		return c.violation(err)
	}
	for _, s := range c.backends {
		if s.Size > 0 {
			s.be.Flush()
		}
	}
	return nil
}

// EndInput signals that the pass has no more inputs. cb runs once, after every
// backend has finished processing; if they already have, it runs before
// EndInput returns.
func (c *Controller) EndInput(cb func()) error {
	c.mu.Lock()
	if err := c.addableLocked(); err != nil {
		c.mu.Unlock()
		return c.violation(err)
	}
	c.phase = phaseEnding
	c.finishCb = cb
	for _, s := range c.backends {
		if s.Size > 0 {
			s.be.Flush()
			s.be.EndInput()
		}
	}
	var fin func()
	if c.allEmptyLocked() {
		fin = c.processingFinishedLocked()
	}
	c.mu.Unlock()

	if fin != nil {
		fin()
	}
	return nil
}

func (c *Controller) allEmptyLocked() bool {
	for _, s := range c.backends {
		if s.Size > 0 && !s.be.IsEmpty() {
			return false
		}
	}
	return true
}

// processingFinishedLocked closes the pass and returns the continuation to
// run once the lock is released.
func (c *Controller) processingFinishedLocked() func() {
	for _, s := range c.backends {
		s.be.ProcessingFinished()
	}
	if n := len(c.attempts); n > 0 {
		// the accepting backends already computed these inputs
		c.log.WithField("inputs", n).Warn("controller: pass ended with partially accepted inputs")
		for num := range c.attempts {
			for _, s := range c.backends {
				delete(s.added, int32(num))
			}
		}
		clear(c.attempts)
		c.hasAdded = true
	}
	c.phase = phaseIdle
	cb := c.finishCb
	c.finishCb = nil
	atomic.AddUint64(&c.stats.PassesFinished, 1)
	return cb
}

// onBackendProcess is installed as every backend's progress callback.
func (c *Controller) onBackendProcess(numInputs int, firstInput uint16) {
	c.mu.Lock()
	atomic.AddUint64(&c.stats.InputsProcessed, uint64(numInputs))
	atomic.AddUint64(&c.stats.BatchesProcessed, 1)
	progress := c.progressCb
	var fin func()
	if c.phase == phaseEnding && c.allEmptyLocked() {
		fin = c.processingFinishedLocked()
	}
	c.mu.Unlock()

	if progress != nil {
		progress(numInputs, firstInput)
	}
	if fin != nil {
		fin()
	}
}

// GetOutput writes recovery output index into out[:CurrentSliceSize()] and
// reports whether every backend verified its part. When nothing has been
// added the output is all zero and cb runs before GetOutput returns.
func (c *Controller) GetOutput(index int, out []byte, cb func(valid bool)) error {
	c.mu.Lock()
	if err := c.idleLocked(); err != nil {
		c.mu.Unlock()
		return c.violation(err)
	}
	if index < 0 || index >= len(c.exponents) {
		c.mu.Unlock()
		return errors.Wrapf(ErrOutputIndex, "index %d of %d", index, len(c.exponents))
	}
	if len(out) < c.currentSliceSize {
		c.mu.Unlock()
		return errors.Wrapf(ErrOutputSize, "%d bytes, slice is %d", len(out), c.currentSliceSize)
	}

	if !c.hasAdded {
		clear(out[:c.currentSliceSize])
		c.mu.Unlock()
		atomic.AddUint64(&c.stats.OutputsRead, 1)
		cb(true)
		return nil
	}

	count := 0
	for _, s := range c.backends {
		if s.Size > 0 {
			count++
		}
	}
	var invalid int32
	ref := NewCallbackRef(count, func() {
		valid := atomic.LoadInt32(&invalid) == 0
		atomic.AddUint64(&c.stats.OutputsRead, 1)
		if !valid {
			atomic.AddUint64(&c.stats.InvalidOutputs, 1)
			c.log.WithField("index", index).Warn("controller: output failed verification")
		}
		cb(valid)
	})
	for _, s := range c.backends {
		if s.Size == 0 {
			continue
		}
		s.be.GetOutput(index, out[s.Offset:s.End()], func(valid bool) {
			if !valid {
				atomic.StoreInt32(&invalid, 1)
			}
			ref.Release()
		})
	}
	c.mu.Unlock()
	return nil
}

// DiscardOutput makes the next pass overwrite the outputs instead of
// accumulating into them.
func (c *Controller) DiscardOutput() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		return c.violation(err)
	}
	c.hasAdded = false
	for _, s := range c.backends {
		s.be.DiscardOutput()
	}
	return nil
}

// SetCurrentSliceSize shrinks or regrows the slice, splitting it between the
// backends in the proportions given to Init.
func (c *Controller) SetCurrentSliceSize(size int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.idleLocked(); err != nil {
		return c.violation(err)
	}
	if size < 1 || size > c.sliceSize {
		return errors.Wrapf(ErrSliceSize, "current slice size %d, limit %d", size, c.sliceSize)
	}

	scale := func(pos int) int {
		if pos == c.sliceSize {
			return size
		}
		return (pos * size / c.sliceSize) &^ 1
	}
	ranges := make([]Range, len(c.backends))
	for i, s := range c.backends {
		start, end := scale(s.share.Offset), scale(s.share.End())
		ranges[i] = Range{Offset: start, Size: end - start}
	}
	if err := CheckAllocation(ranges, size); err != nil {
		return err
	}
	return c.applyLocked(size, ranges)
}

// SetCurrentSliceSizeAlloc sets the slice size with an explicit range per
// backend, in Init order.
func (c *Controller) SetCurrentSliceSizeAlloc(size int, ranges []Range) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.idleLocked(); err != nil {
		return c.violation(err)
	}
	if size < 1 {
		return errors.Wrapf(ErrSliceSize, "current slice size %d", size)
	}
	if len(ranges) != len(c.backends) {
		return errors.Wrapf(ErrAllocation, "%d ranges for %d backends", len(ranges), len(c.backends))
	}
	if err := CheckAllocation(ranges, size); err != nil {
		return err
	}
	return c.applyLocked(size, ranges)
}

func (c *Controller) applyLocked(size int, ranges []Range) error {
	for i, s := range c.backends {
		if s.be.SetCurrentSliceSize(ranges[i].Size) {
			continue
		}
		for j := 0; j < i; j++ {
			c.backends[j].be.SetCurrentSliceSize(c.backends[j].Size)
		}
		return errors.Wrapf(ErrResize, "backend %d to %d bytes", i, ranges[i].Size)
	}
	for i, s := range c.backends {
		s.Range = ranges[i]
	}
	if size > c.sliceSize {
		c.sliceSize = size
	}
	c.currentSliceSize = size
	c.hasAdded = false
	c.log.WithFields(logrus.Fields{"size": size, "ranges": ranges}).Debug("controller: slice resized")
	return nil
}

// SetRecoverySlices selects the recovery outputs by exponent. Exponents must
// be unique and below gf16.MaxExponent.
func (c *Controller) SetRecoverySlices(exponents []uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.idleLocked(); err != nil {
		return c.violation(err)
	}
	seen := make(map[uint16]struct{}, len(exponents))
	for _, e := range exponents {
		if e >= gf16.MaxExponent {
			return errors.Wrapf(ErrExponent, "exponent %d", e)
		}
		if _, ok := seen[e]; ok {
			return errors.Wrapf(ErrExponent, "duplicate exponent %d", e)
		}
		seen[e] = struct{}{}
	}

	exps := append([]uint16(nil), exponents...)
	for i, s := range c.backends {
		if s.be.SetRecoverySlices(exps) {
			continue
		}
		for j := 0; j < i; j++ {
			c.backends[j].be.SetRecoverySlices(c.exponents)
		}
		return errors.Wrapf(ErrResize, "backend %d cannot hold %d outputs", i, len(exps))
	}
	c.exponents = exps
	c.hasAdded = false
	return nil
}

// FreeProcessingMem lets backends release memory held for processing; it is
// reallocated on demand.
func (c *Controller) FreeProcessingMem() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.idleLocked(); err != nil {
		return c.violation(err)
	}
	for _, s := range c.backends {
		s.be.FreeProcessingMem()
	}
	return nil
}

// Deinit releases every backend and closes the controller. cb runs once all
// backends have shut down.
func (c *Controller) Deinit(cb func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == phaseClosed {
		return c.violation(ErrClosed)
	}
	c.phase = phaseClosed
	ref := NewCallbackRef(len(c.backends), cb)
	if len(c.backends) == 0 && cb != nil {
		c.loop.Post(cb)
	}
	for _, s := range c.backends {
		s.be.Deinit(c.releaser(ref))
	}
	return nil
}

func (c *Controller) SliceSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sliceSize
}

func (c *Controller) CurrentSliceSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSliceSize
}

func (c *Controller) NumRecoverySlices() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.exponents)
}

func (c *Controller) RecoveryExponents() []uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint16(nil), c.exponents...)
}

// SetNumThreads resizes the worker team of one backend; n <= 0 selects the
// backend's default.
func (c *Controller) SetNumThreads(backend, n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		return c.violation(err)
	}
	if backend < 0 || backend >= len(c.backends) {
		return errors.Wrapf(ErrBackendIndex, "backend %d of %d", backend, len(c.backends))
	}
	c.backends[backend].be.SetNumThreads(n)
	c.log.WithFields(logrus.Fields{"backend": backend, "threads": n}).Debug("controller: threads set")
	return nil
}

// NumThreads sums the worker threads of all backends.
func (c *Controller) NumThreads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.backends {
		n += s.be.NumThreads()
	}
	return n
}

// MethodName lists the distinct methods of the backends.
func (c *Controller) MethodName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var names []string
	seen := make(map[string]bool)
	for _, s := range c.backends {
		if name := s.be.MethodName(); !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return strings.Join(names, "+")
}

// Allocation returns the current range of every backend.
func (c *Controller) Allocation() []Range {
	c.mu.Lock()
	defer c.mu.Unlock()
	ranges := make([]Range, len(c.backends))
	for i, s := range c.backends {
		ranges[i] = s.Range
	}
	return ranges
}

func (c *Controller) Stats() *Stats { return c.stats }

// SequentialExponents returns first, first+1, ..., first+count-1.
func SequentialExponents(first, count int) ([]uint16, error) {
	if first < 0 || count < 0 || first+count > gf16.MaxExponent {
		return nil, errors.Wrapf(ErrExponent, "%d exponents from %d", count, first)
	}
	exps := make([]uint16, count)
	for i := range exps {
		exps[i] = uint16(first + i)
	}
	return exps, nil
}
