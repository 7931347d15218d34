package proc

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// fakeBackend accepts inputs and holds them until the test completes them.
type fakeBackend struct {
	mu       sync.Mutex
	loop     *Loop
	full     bool
	invalid  bool
	fill     byte
	adds     map[uint16]int
	added    [][]byte
	pending  []func()
	inflight int
	progress ProgressFunc
	sizes    []int
	exps     []uint16
	outputs  int
	ends     int
	finished int
	discards int
	deinits  int
	threads  int
}

func newFakeBackend(loop *Loop, fill byte) *fakeBackend {
	return &fakeBackend{loop: loop, fill: fill, adds: make(map[uint16]int), threads: 1}
}

func (f *fakeBackend) setFull(full bool) {
	f.mu.Lock()
	f.full = full
	f.mu.Unlock()
}

func (f *fakeBackend) addCount(num uint16) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.adds[num]
}

// complete delivers every pending completion on the loop.
func (f *fakeBackend) complete() {
	f.mu.Lock()
	done := f.pending
	f.pending = nil
	f.inflight += len(done)
	f.mu.Unlock()
	if len(done) == 0 {
		return
	}
	f.loop.Post(func() {
		f.mu.Lock()
		f.inflight -= len(done)
		progress := f.progress
		f.mu.Unlock()
		for _, fn := range done {
			if fn != nil {
				fn()
			}
		}
		if progress != nil {
			progress(len(done), 0)
		}
	})
}

func (f *fakeBackend) SetSliceSize(size int) {
	f.mu.Lock()
	f.sizes = append(f.sizes, size)
	f.mu.Unlock()
}

func (f *fakeBackend) SetCurrentSliceSize(size int) bool {
	f.SetSliceSize(size)
	return true
}

func (f *fakeBackend) SetRecoverySlices(exps []uint16) bool {
	f.mu.Lock()
	f.exps = exps
	f.mu.Unlock()
	return true
}

func (f *fakeBackend) SetProgressCb(fn ProgressFunc) {
	f.mu.Lock()
	f.progress = fn
	f.mu.Unlock()
}

func (f *fakeBackend) AddInput(buf []byte, inputNum uint16, flush bool, done func()) AddResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return AddFull
	}
	f.adds[inputNum]++
	f.added = append(f.added, append([]byte(nil), buf...))
	f.pending = append(f.pending, done)
	return AddAccepted
}

func (f *fakeBackend) DummyInput(inputNum uint16, flush bool) AddResult {
	return f.AddInput(nil, inputNum, flush, nil)
}

func (f *fakeBackend) FillInput(buf []byte) bool { return !f.full }
func (f *fakeBackend) Flush()                    {}

func (f *fakeBackend) EndInput() {
	f.mu.Lock()
	f.ends++
	f.mu.Unlock()
}

func (f *fakeBackend) IsEmpty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending) == 0 && f.inflight == 0
}

func (f *fakeBackend) GetOutput(index int, out []byte, done func(valid bool)) {
	f.mu.Lock()
	f.outputs++
	valid := !f.invalid
	f.mu.Unlock()
	f.loop.Post(func() {
		for i := range out {
			out[i] = f.fill
		}
		done(valid)
	})
}

func (f *fakeBackend) ProcessingFinished() {
	f.mu.Lock()
	f.finished++
	f.mu.Unlock()
}

func (f *fakeBackend) DiscardOutput() {
	f.mu.Lock()
	f.discards++
	f.mu.Unlock()
}

func (f *fakeBackend) FreeProcessingMem() {}

func (f *fakeBackend) Deinit(done func()) {
	f.mu.Lock()
	f.deinits++
	f.mu.Unlock()
	f.loop.Post(done)
}

func (f *fakeBackend) MethodName() string { return "fake" }
func (f *fakeBackend) NumThreads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.threads
}

func (f *fakeBackend) SetNumThreads(n int) {
	f.mu.Lock()
	f.threads = n
	f.mu.Unlock()
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-timeoutCh():
		t.Fatalf("timeout waiting for %v", what)
	}
}

func timeoutCh() <-chan time.Time {
	return time.After(5 * time.Second)
}

func signal() (chan struct{}, func()) {
	ch := make(chan struct{})
	var once sync.Once
	return ch, func() { once.Do(func() { close(ch) }) }
}

// newFakeController returns a controller over two fake backends splitting an
// 8-byte slice in half.
func newFakeController(t *testing.T) (*Controller, *fakeBackend, *fakeBackend, *Loop) {
	loop := NewLoop()
	t.Cleanup(loop.Close)
	b1, b2 := newFakeBackend(loop, 0x11), newFakeBackend(loop, 0x22)
	c := NewController(loop, nil)
	require.NoError(t, c.Init(8, []BackendAlloc{
		{Range{0, 4}, b1},
		{Range{4, 4}, b2},
	}, nil))
	require.NoError(t, c.SetRecoverySlices([]uint16{0, 1}))
	return c, b1, b2, loop
}

func TestInitValidation(t *testing.T) {
	loop := NewLoop()
	defer loop.Close()
	b := newFakeBackend(loop, 0)

	c := NewController(loop, nil)
	require.Equal(t, ErrSliceSize, errors.Cause(c.Init(7, []BackendAlloc{{Range{0, 7}, b}}, nil)))
	require.Equal(t, ErrSliceSize, errors.Cause(c.Init(0, []BackendAlloc{{Range{0, 0}, b}}, nil)))
	require.Equal(t, ErrAllocationOverlap, errors.Cause(c.Init(8, []BackendAlloc{
		{Range{0, 6}, b},
		{Range{4, 4}, newFakeBackend(loop, 0)},
	}, nil)))
	require.Empty(t, b.sizes, "failed Init must not touch backends")

	require.NoError(t, c.Init(8, []BackendAlloc{{Range{0, 8}, b}}, nil))
	require.Equal(t, []int{8}, b.sizes)
	require.Equal(t, 8, c.SliceSize())
	require.Equal(t, 8, c.CurrentSliceSize())
	require.Equal(t, ErrBusy, errors.Cause(c.Init(8, []BackendAlloc{{Range{0, 8}, b}}, nil)))
}

func TestAddInputResubmission(t *testing.T) {
	c, b1, b2, _ := newFakeController(t)
	b2.setFull(true)

	firstCalled := false
	err := c.AddInput(make([]byte, 8), 5, false, func() { firstCalled = true })
	require.Equal(t, ErrFull, err)
	require.Equal(t, 1, b1.addCount(5))
	require.Equal(t, 0, b2.addCount(5))

	// b1 may finish before b2 has even accepted
	b1.complete()

	b2.setFull(false)
	done, fire := signal()
	require.NoError(t, c.AddInput(make([]byte, 8), 5, false, fire))
	require.Equal(t, 1, b1.addCount(5), "accepted backend must not see the input twice")
	require.Equal(t, 1, b2.addCount(5))

	b2.complete()
	waitFor(t, done, "add continuation")
	require.False(t, firstCalled)
	require.EqualValues(t, 1, c.Stats().FullRejections)
	require.EqualValues(t, 1, c.Stats().InputsAdded)

	// a fresh submission of the same number is a new input
	require.NoError(t, c.AddInput(make([]byte, 8), 5, false, nil))
	require.Equal(t, 2, b1.addCount(5))
	require.Equal(t, 2, b2.addCount(5))
}

func TestPartialRejectionBlocksReconfiguration(t *testing.T) {
	c, b1, b2, _ := newFakeController(t)
	b2.setFull(true)
	require.Equal(t, ErrFull, c.AddInput(make([]byte, 8), 5, false, nil))
	require.Equal(t, 1, b1.addCount(5))

	require.Equal(t, ErrBusy, errors.Cause(c.SetCurrentSliceSize(6)))
	require.Equal(t, ErrBusy, errors.Cause(c.SetCurrentSliceSizeAlloc(6, []Range{{0, 2}, {2, 4}})))
	require.Equal(t, ErrBusy, errors.Cause(c.SetRecoverySlices([]uint16{9})))
	require.Equal(t, ErrBusy, errors.Cause(c.FreeProcessingMem()))
	require.Equal(t, 8, c.CurrentSliceSize())
	require.Equal(t, []uint16{0, 1}, c.RecoveryExponents())

	// once resubmitted and the pass has finished, the controller is idle again
	b2.setFull(false)
	require.NoError(t, c.AddInput(make([]byte, 8), 5, false, nil))
	require.Equal(t, 1, b1.addCount(5))
	done, fire := signal()
	require.NoError(t, c.EndInput(fire))
	b1.complete()
	b2.complete()
	waitFor(t, done, "end of pass")
	require.NoError(t, c.SetCurrentSliceSize(6))
	require.NoError(t, c.SetRecoverySlices([]uint16{9}))
}

func TestFullRejectionStaysIdle(t *testing.T) {
	c, b1, b2, _ := newFakeController(t)
	b1.setFull(true)
	b2.setFull(true)
	require.Equal(t, ErrFull, c.AddInput(make([]byte, 8), 5, false, nil))
	require.Equal(t, ErrFull, c.DummyInput(8, 6, false))
	require.NoError(t, c.SetRecoverySlices([]uint16{9}))
}

func TestEndInputDropsPartialInputs(t *testing.T) {
	c, b1, b2, _ := newFakeController(t)
	b2.setFull(true)
	require.Equal(t, ErrFull, c.AddInput(make([]byte, 8), 5, false, nil))

	done, fire := signal()
	require.NoError(t, c.EndInput(fire))
	b1.complete()
	waitFor(t, done, "end of pass")
	require.NoError(t, c.SetRecoverySlices([]uint16{9}))

	b2.setFull(false)
	require.NoError(t, c.AddInput(make([]byte, 8), 5, false, nil))
	require.Equal(t, 2, b1.addCount(5), "a new pass submits the input afresh")
}

func TestAddInputSplitsBuffer(t *testing.T) {
	c, b1, b2, _ := newFakeController(t)
	buf := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	require.NoError(t, c.AddInput(buf, 0, false, nil))
	require.Equal(t, [][]byte{{1, 2, 3, 4}}, b1.added)
	require.Equal(t, [][]byte{{5, 6, 7, 8}}, b2.added)

	require.NoError(t, c.AddInput(buf[:6], 1, false, nil))
	require.Equal(t, []byte{5, 6}, b2.added[1])
}

func TestAddInputShortBuffer(t *testing.T) {
	c, b1, b2, _ := newFakeController(t)

	// only the first backend intersects, the second must not stall completion
	done, fire := signal()
	require.NoError(t, c.AddInput([]byte{1, 2, 3}, 3, false, fire))
	require.Equal(t, 0, b2.addCount(3))
	b1.complete()
	waitFor(t, done, "short input")

	// nothing intersects an empty input
	done, fire = signal()
	require.NoError(t, c.AddInput(nil, 4, false, fire))
	require.Equal(t, 0, b1.addCount(4))
	waitFor(t, done, "empty input")
}

func TestAddInputRejects(t *testing.T) {
	c, _, _, _ := newFakeController(t)
	require.Equal(t, ErrInputSize, errors.Cause(c.AddInput(make([]byte, 9), 0, false, nil)))
	require.Equal(t, ErrInputNum, errors.Cause(c.AddInput(make([]byte, 8), 32768, false, nil)))
}

func TestZeroInputOutput(t *testing.T) {
	c, b1, b2, _ := newFakeController(t)
	out := []byte{9, 9, 9, 9, 9, 9, 9, 9}
	called, valid := false, false
	require.NoError(t, c.GetOutput(1, out, func(v bool) { called, valid = true, v }))
	require.True(t, called, "must complete synchronously")
	require.True(t, valid)
	require.Equal(t, make([]byte, 8), out)
	require.Equal(t, 0, b1.outputs+b2.outputs)
}

func TestEndInputFinishesOnce(t *testing.T) {
	c, b1, b2, _ := newFakeController(t)
	require.NoError(t, c.AddInput(make([]byte, 8), 0, false, nil))
	require.NoError(t, c.AddInput(make([]byte, 8), 1, false, nil))

	var mu sync.Mutex
	finishes := 0
	done, fire := signal()
	require.NoError(t, c.EndInput(func() {
		mu.Lock()
		finishes++
		mu.Unlock()
		fire()
	}))
	require.Equal(t, ErrEndSignalled, c.EndInput(nil))
	require.Equal(t, ErrEndSignalled, c.AddInput(make([]byte, 8), 2, false, nil))
	require.Equal(t, ErrBusy, errors.Cause(c.SetRecoverySlices([]uint16{3})))

	b1.complete()
	b2.complete()
	waitFor(t, done, "finish")

	// later progress must not finish again
	b1.loop.Sync(func() { c.onBackendProcess(1, 0) })
	mu.Lock()
	require.Equal(t, 1, finishes)
	mu.Unlock()
	require.Equal(t, 1, b1.ends)
	require.Equal(t, 1, b1.finished)
	require.EqualValues(t, 1, c.Stats().PassesFinished)
}

func TestEndInputWhenEmpty(t *testing.T) {
	c, _, _, _ := newFakeController(t)
	finished := false
	require.NoError(t, c.EndInput(func() { finished = true }))
	require.True(t, finished)

	// the controller is idle again and accepts a new pass
	require.NoError(t, c.AddInput(make([]byte, 8), 0, false, nil))
}

func TestGetOutput(t *testing.T) {
	c, b1, b2, _ := newFakeController(t)
	require.NoError(t, c.AddInput(make([]byte, 8), 0, true, nil))
	b1.complete()
	b2.complete()
	end, fire := signal()
	require.NoError(t, c.EndInput(fire))
	waitFor(t, end, "finish")

	out := make([]byte, 8)
	got, fire := signal()
	var valid bool
	require.NoError(t, c.GetOutput(0, out, func(v bool) { valid = v; fire() }))
	waitFor(t, got, "output")
	require.True(t, valid)
	require.Equal(t, []byte{0x11, 0x11, 0x11, 0x11, 0x22, 0x22, 0x22, 0x22}, out)

	b2.mu.Lock()
	b2.invalid = true
	b2.mu.Unlock()
	got, fire = signal()
	require.NoError(t, c.GetOutput(1, out, func(v bool) { valid = v; fire() }))
	waitFor(t, got, "output")
	require.False(t, valid)
	require.EqualValues(t, 1, c.Stats().InvalidOutputs)

	require.Equal(t, ErrOutputIndex, errors.Cause(c.GetOutput(2, out, func(bool) {})))
	require.Equal(t, ErrOutputSize, errors.Cause(c.GetOutput(0, out[:4], func(bool) {})))

	// discarding makes the pass read as empty again
	require.NoError(t, c.DiscardOutput())
	require.Equal(t, 1, b1.discards)
	called := false
	require.NoError(t, c.GetOutput(0, out, func(v bool) { called = v }))
	require.True(t, called)
	require.Equal(t, make([]byte, 8), out)
}

func TestSetCurrentSliceSize(t *testing.T) {
	c, b1, b2, _ := newFakeController(t)

	require.NoError(t, c.SetCurrentSliceSize(6))
	require.Equal(t, []Range{{0, 2}, {2, 4}}, c.Allocation())
	require.Equal(t, 6, c.CurrentSliceSize())

	require.NoError(t, c.SetCurrentSliceSize(7))
	require.Equal(t, []Range{{0, 2}, {2, 5}}, c.Allocation())
	require.Equal(t, []int{4, 2, 2}, b1.sizes)
	require.Equal(t, []int{4, 4, 5}, b2.sizes)

	require.Equal(t, ErrSliceSize, errors.Cause(c.SetCurrentSliceSize(9)))
	require.Equal(t, ErrSliceSize, errors.Cause(c.SetCurrentSliceSize(0)))

	require.NoError(t, c.SetCurrentSliceSizeAlloc(8, []Range{{0, 6}, {6, 2}}))
	require.Equal(t, []Range{{0, 6}, {6, 2}}, c.Allocation())
	require.Equal(t, ErrAllocationOverlap, errors.Cause(c.SetCurrentSliceSizeAlloc(8, []Range{{0, 6}, {4, 4}})))
	require.Equal(t, ErrAllocation, errors.Cause(c.SetCurrentSliceSizeAlloc(8, []Range{{0, 8}})))
	require.Equal(t, []Range{{0, 6}, {6, 2}}, c.Allocation(), "failed reconfiguration must not change state")

	// a short input now only reaches the first backend
	require.NoError(t, c.AddInput(make([]byte, 6), 0, false, nil))
	require.Equal(t, 0, b2.addCount(0))
}

func TestSetRecoverySlices(t *testing.T) {
	c, b1, _, _ := newFakeController(t)
	require.Equal(t, ErrExponent, errors.Cause(c.SetRecoverySlices([]uint16{1, 1})))
	require.Equal(t, ErrExponent, errors.Cause(c.SetRecoverySlices([]uint16{65535})))
	require.Equal(t, []uint16{0, 1}, c.RecoveryExponents())

	require.NoError(t, c.SetRecoverySlices([]uint16{65534, 7}))
	require.Equal(t, 2, c.NumRecoverySlices())
	require.Equal(t, []uint16{65534, 7}, b1.exps)
}

func TestDeinit(t *testing.T) {
	c, b1, b2, _ := newFakeController(t)
	done, fire := signal()
	require.NoError(t, c.Deinit(fire))
	waitFor(t, done, "deinit")
	require.Equal(t, 1, b1.deinits)
	require.Equal(t, 1, b2.deinits)

	require.Equal(t, ErrClosed, c.AddInput(nil, 0, false, nil))
	require.Equal(t, ErrClosed, c.Flush())
	require.Equal(t, ErrClosed, c.Deinit(nil))
}

func TestReleaseBackends(t *testing.T) {
	loop := NewLoop()
	defer loop.Close()
	b1, b2 := newFakeBackend(loop, 0), newFakeBackend(loop, 0)
	ReleaseBackends([]BackendAlloc{{Range{0, 4}, b1}, {Range{4, 4}, b2}})
	require.Equal(t, 1, b1.deinits)
	require.Equal(t, 1, b2.deinits)
	ReleaseBackends(nil)
}

func TestGetters(t *testing.T) {
	c, _, _, _ := newFakeController(t)
	require.Equal(t, "fake", c.MethodName())
	require.Equal(t, 2, c.NumThreads())
	require.NoError(t, c.SetNumThreads(1, 4))
	require.Equal(t, 5, c.NumThreads())
	require.Equal(t, ErrBackendIndex, errors.Cause(c.SetNumThreads(2, 4)))

	exps, err := SequentialExponents(10, 3)
	require.NoError(t, err)
	require.Equal(t, []uint16{10, 11, 12}, exps)
	_, err = SequentialExponents(65530, 6)
	require.Equal(t, ErrExponent, errors.Cause(err))
}
