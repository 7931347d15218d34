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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/xtaci/gf16proc/gf16"
	"github.com/xtaci/gf16proc/proc"
	"github.com/xtaci/gf16proc/std"
)

// inputSlice is one slice-sized block of an input file.
type inputSlice struct {
	file   *os.File
	offset int64
	size   int // bytes present; the rest of the slice is zero
	num    uint16
}

type recoveryFile struct {
	Index    int    `json:"index"`
	Exponent uint16 `json:"exponent"`
	Path     string `json:"path"`
	Valid    bool   `json:"valid"`

	f *os.File
	w *std.CompWriter
}

type inputFile struct {
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	FirstInput int    `json:"first_input"`
	Slices     int    `json:"slices"`
}

// Manifest describes an encoding run.
type Manifest struct {
	Version     string          `json:"version"`
	SliceSize   int             `json:"slicesize"`
	Method      string          `json:"method"`
	Compression string          `json:"compression"`
	Inputs      []inputFile     `json:"inputs"`
	Recovery    []*recoveryFile `json:"recovery"`
}

type encoder struct {
	config *Config
	log    *logrus.Logger

	loop     *proc.Loop
	ctrl     *proc.Controller
	progress chan struct{}

	files  []*os.File
	slices []inputSlice
	man    Manifest

	// backends released by setup after a failure
	released int
}

func newEncoder(config *Config, log *logrus.Logger) *encoder {
	return &encoder{
		config:   config,
		log:      log,
		progress: make(chan struct{}, 1),
	}
}

// openInputs splits every input file into slices and numbers them.
func (e *encoder) openInputs() error {
	num := 0
	for _, path := range e.config.Inputs {
		f, err := os.Open(path)
		if err != nil {
			return errors.WithStack(err)
		}
		e.files = append(e.files, f)
		st, err := f.Stat()
		if err != nil {
			return errors.WithStack(err)
		}

		in := inputFile{Path: path, Size: st.Size(), FirstInput: num}
		for off := int64(0); off < st.Size(); off += int64(e.config.SliceSize) {
			if num >= gf16.MaxInputs {
				return errors.Errorf("more than %d input slices", gf16.MaxInputs)
			}
			size := st.Size() - off
			if size > int64(e.config.SliceSize) {
				size = int64(e.config.SliceSize)
			}
			e.slices = append(e.slices, inputSlice{file: f, offset: off, size: int(size), num: uint16(num)})
			num++
			in.Slices++
		}
		e.man.Inputs = append(e.man.Inputs, in)
	}
	return nil
}

// chunkSize is the number of bytes of every slice processed per pass.
func (e *encoder) chunkSize() int {
	chunk := e.config.Chunk
	if chunk <= 0 || chunk > e.config.SliceSize {
		chunk = e.config.SliceSize
	}
	return (chunk + 1) &^ 1
}

func (e *encoder) setup() error {
	exps, err := proc.SequentialExponents(e.config.First, e.config.Recovery)
	if err != nil {
		return err
	}

	chunk := e.chunkSize()
	var ranges []proc.Range
	if e.config.Alloc != "" {
		if ranges, err = std.ParseAllocation(e.config.Alloc); err != nil {
			return err
		}
	} else {
		ranges = proc.SplitEven(chunk, e.config.Backends)
	}

	method, err := gf16.ParseMethod(e.config.Method)
	if err != nil {
		return err
	}

	field := gf16.NewField()
	e.loop = proc.NewLoop()
	e.ctrl = proc.NewController(e.loop, e.log)
	allocs := make([]proc.BackendAlloc, 0, len(ranges))
	for _, r := range ranges {
		be, err := proc.NewCPUBackend(e.loop, field, proc.CPUParams{
			Method:        method,
			Threads:       e.config.Threads,
			StagingAreas:  e.config.Staging,
			InputGrouping: e.config.Grouping,
			Pin:           e.config.Pin,
			Logger:        e.log,
		})
		if err != nil {
			e.releaseBackends(allocs)
			return err
		}
		allocs = append(allocs, proc.BackendAlloc{Range: r, Backend: be})
	}
	if err := e.ctrl.Init(chunk, allocs, e.onProgress); err != nil {
		// the controller never took ownership
		e.releaseBackends(allocs)
		return err
	}
	if err := e.ctrl.SetRecoverySlices(exps); err != nil {
		return err
	}

	if err := os.MkdirAll(e.config.Out, 0755); err != nil {
		return errors.WithStack(err)
	}
	e.man.Version = VERSION
	e.man.SliceSize = e.config.SliceSize
	e.man.Method = e.ctrl.MethodName()
	e.man.Compression = e.config.Comp
	for i, exp := range exps {
		path := filepath.Join(e.config.Out, fmt.Sprintf("recovery.%05d%s", i, std.CompExt(e.config.Comp)))
		f, err := os.Create(path)
		if err != nil {
			return errors.WithStack(err)
		}
		w, err := std.NewCompWriter(f, e.config.Comp)
		if err != nil {
			f.Close()
			return err
		}
		e.man.Recovery = append(e.man.Recovery, &recoveryFile{Index: i, Exponent: exp, Path: path, Valid: true, f: f, w: w})
	}
	return nil
}

func (e *encoder) releaseBackends(allocs []proc.BackendAlloc) {
	proc.ReleaseBackends(allocs)
	e.released += len(allocs)
}

func (e *encoder) onProgress(numInputs int, firstInput uint16) {
	select {
	case e.progress <- struct{}{}:
	default:
	}
}

// add submits an input, waiting for the backends to make room when full.
func (e *encoder) add(buf []byte, num uint16) error {
	for {
		err := e.ctrl.AddInput(buf, num, false, nil)
		if errors.Cause(err) != proc.ErrFull {
			return err
		}
		<-e.progress
	}
}

func (e *encoder) end() error {
	done := make(chan struct{})
	if err := e.ctrl.EndInput(func() { close(done) }); err != nil {
		return err
	}
	<-done
	return nil
}

// pass computes bytes [pos, pos+size) of every recovery slice and appends
// them to the recovery files.
func (e *encoder) pass(pos, size int, buf []byte) error {
	if size != e.ctrl.CurrentSliceSize() {
		if err := e.ctrl.SetCurrentSliceSize(size); err != nil {
			return err
		}
	}
	if err := e.ctrl.DiscardOutput(); err != nil {
		return err
	}

	for _, in := range e.slices {
		n := in.size - pos
		if n <= 0 {
			continue
		}
		if n > size {
			n = size
		}
		section := io.NewSectionReader(in.file, in.offset+int64(pos), int64(n))
		if _, err := std.ReadBlock(section, buf[:n]); err != nil {
			return errors.Wrapf(err, "input %d", in.num)
		}
		if err := e.add(buf[:n], in.num); err != nil {
			return err
		}
	}
	if err := e.end(); err != nil {
		return err
	}

	out := buf[:size]
	for _, r := range e.man.Recovery {
		done := make(chan bool, 1)
		if err := e.ctrl.GetOutput(r.Index, out, func(valid bool) { done <- valid }); err != nil {
			return err
		}
		if !<-done {
			r.Valid = false
			e.log.WithFields(logrus.Fields{"index": r.Index, "offset": pos}).Warn("recovery data failed verification")
		}
		if _, err := r.w.Write(out); err != nil {
			return errors.Wrapf(err, "write %v", r.Path)
		}
	}
	return nil
}

func (e *encoder) run() error {
	if err := e.openInputs(); err != nil {
		return err
	}
	if err := e.setup(); err != nil {
		return err
	}

	stop := make(chan struct{})
	defer close(stop)
	go std.StatsLogger(e.config.StatsLog, e.config.StatsPeriod, e.ctrl.Stats(), stop)
	go sigHandler(e.ctrl.Stats())

	start := time.Now()
	chunk := e.chunkSize()
	buf := make([]byte, chunk)
	for pos := 0; pos < e.config.SliceSize; pos += chunk {
		size := e.config.SliceSize - pos
		if size > chunk {
			size = chunk
		}
		if err := e.pass(pos, size, buf); err != nil {
			return err
		}
		if !e.config.Quiet {
			e.log.Printf("pass done: %d-%d of %d", pos, pos+size, e.config.SliceSize)
		}
	}

	elapsed := time.Since(start)
	volume := float64(len(e.slices)) * float64(e.config.SliceSize) * float64(len(e.man.Recovery))
	e.log.Printf("%d inputs, %d recovery slices in %v (%.1f MB/s)", len(e.slices), len(e.man.Recovery),
		elapsed, volume/elapsed.Seconds()/1e6)

	for _, r := range e.man.Recovery {
		if !r.Valid {
			return errors.Errorf("recovery slice %d failed verification", r.Index)
		}
	}
	return nil
}

func (e *encoder) writeManifest() error {
	path := e.config.Manifest
	if path == "" {
		path = filepath.Join(e.config.Out, "manifest.json")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return errors.WithStack(enc.Encode(&e.man))
}

// close flushes the recovery files and releases the backends.
func (e *encoder) close() error {
	var firstErr error
	for _, r := range e.man.Recovery {
		if err := r.w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := r.f.Close(); err != nil && firstErr == nil {
			firstErr = errors.WithStack(err)
		}
	}
	for _, f := range e.files {
		f.Close()
	}
	if e.ctrl != nil {
		// a controller that failed Init owns no backends
		if len(e.ctrl.Allocation()) > 0 {
			done := make(chan struct{})
			if err := e.ctrl.Deinit(func() { close(done) }); err == nil {
				<-done
			}
		}
		e.loop.Close()
	}
	return firstErr
}

// encode runs a complete encoding for config.
func encode(config *Config, log *logrus.Logger) (*Manifest, error) {
	e := newEncoder(config, log)
	err := e.run()
	if cerr := e.close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	if err := e.writeManifest(); err != nil {
		return nil, err
	}
	return &e.man, nil
}
