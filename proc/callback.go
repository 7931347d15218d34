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
	"sync/atomic"
)

// CallbackRef counts the backends that still owe a completion for one
// logical operation and runs its continuation exactly once, when the last of
// them reports.
type CallbackRef struct {
	pending int32
	once    sync.Once
	fn      func()
}

// NewCallbackRef creates a CallbackRef waiting for count completions.
func NewCallbackRef(count int, fn func()) *CallbackRef {
	return &CallbackRef{pending: int32(count), fn: fn}
}

// Discount removes a participant that will never report. It must only be
// used before any completion can arrive, and never fires the continuation;
// it returns the remaining count.
func (r *CallbackRef) Discount() int {
	return int(atomic.AddInt32(&r.pending, -1))
}

// Release records one completion. The call that brings the count to zero
// runs the continuation and returns true.
func (r *CallbackRef) Release() bool {
	if atomic.AddInt32(&r.pending, -1) != 0 {
		return false
	}
	r.once.Do(func() {
		if r.fn != nil {
			r.fn()
		}
	})
	return true
}

// Pending returns the number of outstanding completions.
func (r *CallbackRef) Pending() int {
	return int(atomic.LoadInt32(&r.pending))
}
