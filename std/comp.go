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

package std

import (
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Compression codecs for recovery files.
const (
	CompNone   = "none"
	CompSnappy = "snappy"
	CompZstd   = "zstd"
)

// CompWriter compresses everything written to it with the selected codec.
// Close flushes the codec but leaves the underlying writer open.
type CompWriter struct {
	w     io.Writer
	flush func() error
	close func() error
}

func (c *CompWriter) Write(p []byte) (n int, err error) {
	if _, err := c.w.Write(p); err != nil {
		return 0, errors.WithStack(err)
	}
	return len(p), nil
}

// Flush pushes buffered data to the underlying writer.
func (c *CompWriter) Flush() error {
	if c.flush == nil {
		return nil
	}
	return errors.WithStack(c.flush())
}

func (c *CompWriter) Close() error {
	if c.close == nil {
		return nil
	}
	return errors.WithStack(c.close())
}

// NewCompWriter wraps w with codec kind.
func NewCompWriter(w io.Writer, kind string) (*CompWriter, error) {
	switch kind {
	case "", CompNone:
		return &CompWriter{w: w}, nil
	case CompSnappy:
		sw := snappy.NewBufferedWriter(w)
		return &CompWriter{w: sw, flush: sw.Flush, close: sw.Close}, nil
	case CompZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, errors.Wrap(err, "zstd.NewWriter")
		}
		return &CompWriter{w: zw, flush: zw.Flush, close: zw.Close}, nil
	}
	return nil, errors.Errorf("unknown compression: %v", kind)
}

// NewCompReader undoes NewCompWriter.
func NewCompReader(r io.Reader, kind string) (io.ReadCloser, error) {
	switch kind {
	case "", CompNone:
		return io.NopCloser(r), nil
	case CompSnappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	case CompZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "zstd.NewReader")
		}
		return zr.IOReadCloser(), nil
	}
	return nil, errors.Errorf("unknown compression: %v", kind)
}

// CompExt is the file name suffix for codec kind.
func CompExt(kind string) string {
	switch kind {
	case CompSnappy:
		return ".sz"
	case CompZstd:
		return ".zst"
	}
	return ""
}
