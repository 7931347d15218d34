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
	"fmt"
	"strings"

	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
)

// Method selects a kernel implementation.
type Method int

const (
	MethodAuto Method = iota
	MethodLookup
	MethodLog
)

var methodNames = map[Method]string{
	MethodAuto:   "auto",
	MethodLookup: "lookup",
	MethodLog:    "log",
}

// MethodInfo describes a kernel.
type MethodInfo struct {
	ID             Method
	Name           string
	Alignment      int // preferred buffer alignment in bytes
	Stride         int // chunk sizes are rounded up to a multiple of this
	IdealChunkSize int // bytes per output processed per work item
}

const (
	minChunkSize     = 16 << 10
	maxChunkSize     = 1 << 20
	defaultCacheSize = 256 << 10
)

func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return fmt.Sprintf("method(%d)", int(m))
}

// ParseMethod maps a method name to a Method.
func ParseMethod(name string) (Method, error) {
	for m, n := range methodNames {
		if strings.EqualFold(n, name) {
			return m, nil
		}
	}
	return MethodAuto, errors.Errorf("unknown method: %v", name)
}

// Methods lists the concrete kernels.
func Methods() []Method {
	return []Method{MethodLookup, MethodLog}
}

// DefaultMethod is the kernel chosen for MethodAuto.
func DefaultMethod() Method {
	return MethodLookup
}

// Info reports the parameters of a method on this machine.
func Info(m Method) MethodInfo {
	if m == MethodAuto {
		m = DefaultMethod()
	}
	cache := cpuid.CPU.Cache.L2
	if cache <= 0 {
		cache = cpuid.CPU.Cache.L1D * 8
	}
	if cache <= 0 {
		cache = defaultCacheSize
	}
	switch m {
	case MethodLog:
		// the log and antilog tables take 256KiB of cache themselves
		return MethodInfo{ID: m, Name: "Log", Alignment: 2, Stride: 2, IdealChunkSize: clampChunk(cache/4, 2)}
	default:
		return MethodInfo{ID: MethodLookup, Name: "Lookup", Alignment: 64, Stride: 64, IdealChunkSize: clampChunk(cache/2, 64)}
	}
}

func clampChunk(size, stride int) int {
	if size < minChunkSize {
		size = minChunkSize
	}
	if size > maxChunkSize {
		size = maxChunkSize
	}
	return size &^ (stride - 1)
}

// NewKernel returns the kernel implementing m. chunkSize overrides the ideal
// chunk size when positive.
func NewKernel(f *Field, m Method, chunkSize int) (Kernel, error) {
	if m != MethodAuto && m != MethodLookup && m != MethodLog {
		return nil, errors.Errorf("unknown method: %v", m)
	}
	info := Info(m)
	if chunkSize > 0 {
		info.IdealChunkSize = (chunkSize + info.Stride - 1) &^ (info.Stride - 1)
	}
	if info.ID == MethodLog {
		return &logKernel{field: f, info: info}, nil
	}
	return &lookupKernel{field: f, info: info}, nil
}

// CPUInfo describes the host processor for logs and benchmarks.
func CPUInfo() string {
	var features []string
	for _, f := range []cpuid.FeatureID{cpuid.SSE2, cpuid.SSSE3, cpuid.AVX2, cpuid.AVX512F, cpuid.GFNI, cpuid.ASIMD, cpuid.SVE} {
		if cpuid.CPU.Supports(f) {
			features = append(features, f.String())
		}
	}
	return fmt.Sprintf("%s, %d cores/%d threads, L2 %dKiB, features: %s",
		cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores,
		cpuid.CPU.Cache.L2>>10, strings.Join(features, " "))
}
