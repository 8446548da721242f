// Flat image tests.
package strata

import (
	"bytes"
	"testing"
)

func TestImageWriteRead(t *testing.T) {
	img := NewImage(&memStream{buf: make([]byte, 256)})

	if err := img.Write(12, []byte("hello, world")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := img.Read(Range{12, 24})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "hello, world" {
		t.Errorf("Read = %q, want %q", got, "hello, world")
	}
}

// TestImageOverwriteInPlace verifies the defining difference from DB:
// an image overwrites bytes where they are, no layering, no history.
func TestImageOverwriteInPlace(t *testing.T) {
	stream := &memStream{buf: make([]byte, 16)}
	img := NewImage(stream)

	img.Write(0, []byte("AAAA"))
	img.Write(1, []byte("bb"))

	got, _ := img.Read(Range{0, 4})
	if !bytes.Equal(got, []byte("AbbA")) {
		t.Errorf("Read = %q, want %q", got, "AbbA")
	}
	if len(stream.buf) != 16 {
		t.Errorf("stream grew to %d bytes, want 16 (in-place)", len(stream.buf))
	}
}

// TestImageReadPastEndFails verifies that Image has no zero-fill: a
// read past the stream's end is an error, unlike DB.Read.
func TestImageReadPastEndFails(t *testing.T) {
	img := NewImage(&memStream{buf: make([]byte, 8)})

	if _, err := img.Read(Range{4, 12}); err == nil {
		t.Errorf("Read past end succeeded, want error")
	}
}

func TestImageZeroLengthRead(t *testing.T) {
	img := NewImage(&memStream{})
	got, err := img.Read(Range{5, 5})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Read = %v, want empty", got)
	}
}
