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

package main

import (
	"math/rand"
	"strings"
	"time"

	"github.com/klauspost/reedsolomon"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/xtaci/gf16proc/gf16"
	"github.com/xtaci/gf16proc/proc"
)

// maxShards bounds a GF(2^8) code.
const maxShards = 256

type result struct {
	Name     string
	Threads  int
	Inputs   int
	Recovery int
	Elapsed  time.Duration
	Valid    bool
	bytes    float64
}

// MBps is the input throughput.
func (r result) MBps() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return r.bytes / r.Elapsed.Seconds() / 1e6
}

// methods resolves the comma separated method list; "all" selects every
// concrete method.
func methods(list string) ([]gf16.Method, error) {
	if list == "" || list == "all" {
		return gf16.Methods(), nil
	}
	var ms []gf16.Method
	for _, name := range strings.Split(list, ",") {
		m, err := gf16.ParseMethod(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		ms = append(ms, m)
	}
	return ms, nil
}

type benchRun struct {
	loop     *proc.Loop
	ctrl     *proc.Controller
	progress chan struct{}
}

func newBenchRun(config *Config, field *gf16.Field, m gf16.Method, log *logrus.Logger) (*benchRun, error) {
	b := &benchRun{loop: proc.NewLoop(), progress: make(chan struct{}, 1)}
	b.ctrl = proc.NewController(b.loop, log)
	ranges := proc.SplitEven(config.SliceSize, config.Backends)
	allocs := make([]proc.BackendAlloc, 0, len(ranges))
	for _, r := range ranges {
		be, err := proc.NewCPUBackend(b.loop, field, proc.CPUParams{
			Method:        m,
			Threads:       config.Threads,
			StagingAreas:  config.Staging,
			InputGrouping: config.Grouping,
			Pin:           config.Pin,
			Logger:        log,
		})
		if err != nil {
			proc.ReleaseBackends(allocs)
			b.loop.Close()
			return nil, err
		}
		allocs = append(allocs, proc.BackendAlloc{Range: r, Backend: be})
	}
	if err := b.ctrl.Init(config.SliceSize, allocs, func(int, uint16) {
		select {
		case b.progress <- struct{}{}:
		default:
		}
	}); err != nil {
		proc.ReleaseBackends(allocs)
		b.loop.Close()
		return nil, err
	}
	exps, err := proc.SequentialExponents(0, config.Recovery)
	if err == nil {
		err = b.ctrl.SetRecoverySlices(exps)
	}
	if err != nil {
		b.close()
		return nil, err
	}
	return b, nil
}

// fill pre-stages random data into all staging memory.
func (b *benchRun) fill(size int) error {
	buf := make([]byte, size)
	rand.New(rand.NewSource(1)).Read(buf)
	for {
		ok, err := b.ctrl.FillInput(buf)
		if err != nil || ok {
			return err
		}
		<-b.progress
	}
}

func (b *benchRun) pass(inputs, size int) error {
	for i := 0; i < inputs; i++ {
		for {
			err := b.ctrl.DummyInput(size, uint16(i), false)
			if err == nil {
				break
			}
			if errors.Cause(err) != proc.ErrFull {
				return err
			}
			<-b.progress
		}
	}
	done := make(chan struct{})
	if err := b.ctrl.EndInput(func() { close(done) }); err != nil {
		return err
	}
	<-done
	return nil
}

func (b *benchRun) verify(size int) (bool, error) {
	out := make([]byte, size)
	done := make(chan bool, 1)
	if err := b.ctrl.GetOutput(0, out, func(valid bool) { done <- valid }); err != nil {
		return false, err
	}
	return <-done, nil
}

func (b *benchRun) close() {
	done := make(chan struct{})
	if err := b.ctrl.Deinit(func() { close(done) }); err == nil {
		<-done
	}
	b.loop.Close()
}

// runMethod measures rounds passes of config.Inputs inputs through one method.
func runMethod(config *Config, field *gf16.Field, m gf16.Method, log *logrus.Logger) (result, error) {
	b, err := newBenchRun(config, field, m, log)
	if err != nil {
		return result{}, err
	}
	defer b.close()

	if err := b.fill(config.SliceSize); err != nil {
		return result{}, err
	}
	// warm up the worker team and staging memory
	if err := b.pass(config.Inputs, config.SliceSize); err != nil {
		return result{}, err
	}
	if err := b.ctrl.DiscardOutput(); err != nil {
		return result{}, err
	}

	start := time.Now()
	for i := 0; i < config.Rounds; i++ {
		if err := b.pass(config.Inputs, config.SliceSize); err != nil {
			return result{}, err
		}
	}
	elapsed := time.Since(start)

	valid, err := b.verify(config.SliceSize)
	if err != nil {
		return result{}, err
	}
	return result{
		Name:     b.ctrl.MethodName(),
		Threads:  b.ctrl.NumThreads(),
		Inputs:   config.Inputs,
		Recovery: config.Recovery,
		Elapsed:  elapsed,
		Valid:    valid,
		bytes:    float64(config.Inputs) * float64(config.SliceSize) * float64(config.Rounds),
	}, nil
}

// runBaseline measures a GF(2^8) Reed-Solomon encode of the same slices,
// capped to the shard count such a code supports.
func runBaseline(config *Config) (result, error) {
	parity := config.Recovery
	if parity > maxShards/2 {
		parity = maxShards / 2
	}
	data := config.Inputs
	if data+parity > maxShards {
		data = maxShards - parity
	}
	enc, err := reedsolomon.New(data, parity)
	if err != nil {
		return result{}, errors.Wrap(err, "reedsolomon.New")
	}

	rng := rand.New(rand.NewSource(1))
	shards := make([][]byte, data+parity)
	for i := range shards {
		shards[i] = make([]byte, config.SliceSize)
		if i < data {
			rng.Read(shards[i])
		}
	}

	start := time.Now()
	for i := 0; i < config.Rounds; i++ {
		if err := enc.Encode(shards); err != nil {
			return result{}, errors.WithStack(err)
		}
	}
	elapsed := time.Since(start)

	ok, err := enc.Verify(shards)
	if err != nil {
		return result{}, errors.WithStack(err)
	}
	return result{
		Name:     "reedsolomon GF(2^8)",
		Inputs:   data,
		Recovery: parity,
		Elapsed:  elapsed,
		Valid:    ok,
		bytes:    float64(data) * float64(config.SliceSize) * float64(config.Rounds),
	}, nil
}
