package std

import (
	"bytes"
	"io"
	"testing"
)

func TestReadBlock(t *testing.T) {
	r := bytes.NewReader([]byte("abcdefghij"))
	buf := make([]byte, 4)

	for _, want := range []string{"abcd", "efgh"} {
		n, err := ReadBlock(r, buf)
		if err != nil || n != 4 || string(buf) != want {
			t.Fatalf("got %d %q %v, want %q", n, buf, err, want)
		}
	}
	n, err := ReadBlock(r, buf)
	if err != nil || n != 2 {
		t.Fatalf("short block: %d %v", n, err)
	}
	if !bytes.Equal(buf, []byte{'i', 'j', 0, 0}) {
		t.Fatalf("short block not padded: %q", buf)
	}
	if _, err := ReadBlock(r, buf); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}
