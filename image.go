// Flat byte image over a single seekable stream.
//
// Image is the degenerate, non-layered companion to DB: writes mutate
// the stream in place and reads return exactly the stored bytes. It
// has no overwrite history, no stack and no compaction — useful for
// fixed-size binary images where layering would be overhead.
package strata

import (
	"fmt"
	"io"
)

// Image is a byte-addressable view over one seekable stream.
type Image struct {
	stream io.ReadWriteSeeker
}

// NewImage returns an image over stream.
func NewImage(stream io.ReadWriteSeeker) *Image {
	return &Image{stream: stream}
}

// Write stores data at [addr, addr+len(data)), overwriting in place.
func (img *Image) Write(addr uint64, data []byte) error {
	if _, err := img.stream.Seek(int64(addr), io.SeekStart); err != nil {
		return fmt.Errorf("image: seek: %w", err)
	}
	if _, err := img.stream.Write(data); err != nil {
		return fmt.Errorf("image: write: %w", err)
	}
	return nil
}

// Read returns the bytes of rng. Unlike DB.Read there is no zero-fill:
// a range past the end of the stream is an I/O error.
func (img *Image) Read(rng Range) ([]byte, error) {
	buf := make([]byte, rng.Len())
	if rng.Empty() {
		return buf, nil
	}
	if _, err := img.stream.Seek(int64(rng.Start), io.SeekStart); err != nil {
		return nil, fmt.Errorf("image: seek: %w", err)
	}
	if _, err := io.ReadFull(img.stream, buf); err != nil {
		return nil, fmt.Errorf("image: read: %w", err)
	}
	return buf, nil
}
