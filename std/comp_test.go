package std

import (
	"bytes"
	"io"
	"math/rand"
	"testing"
)

func TestCompRoundTrip(t *testing.T) {
	payload := make([]byte, 200000)
	rand.New(rand.NewSource(1)).Read(payload[:100000])

	for _, kind := range []string{CompNone, CompSnappy, CompZstd} {
		var buf bytes.Buffer
		w, err := NewCompWriter(&buf, kind)
		if err != nil {
			t.Fatalf("%v: NewCompWriter: %v", kind, err)
		}
		if n, err := w.Write(payload); err != nil {
			t.Fatalf("%v: write error: %v", kind, err)
		} else if n != len(payload) {
			t.Fatalf("%v: write returned %d, want %d", kind, n, len(payload))
		}
		if err := w.Close(); err != nil {
			t.Fatalf("%v: close writer: %v", kind, err)
		}
		if kind != CompNone && buf.Len() >= len(payload) {
			t.Fatalf("%v: %d bytes compressed to %d", kind, len(payload), buf.Len())
		}

		r, err := NewCompReader(&buf, kind)
		if err != nil {
			t.Fatalf("%v: NewCompReader: %v", kind, err)
		}
		got, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("%v: read compressed data: %v", kind, err)
		}
		r.Close()
		if !bytes.Equal(got, payload) {
			t.Fatalf("%v: payload mismatch", kind)
		}
	}
}

func TestCompUnknown(t *testing.T) {
	if _, err := NewCompWriter(io.Discard, "lzma"); err == nil {
		t.Fatal("expected error for unknown codec")
	}
	if CompExt(CompZstd) != ".zst" || CompExt(CompNone) != "" {
		t.Fatal("unexpected extension")
	}
}
