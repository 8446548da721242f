// Layer allocation.
//
// An Allocator decides where layer streams live — memory, a directory
// of files, anything seekable — and maintains the stack order. The
// database owns exactly one allocator and funnels every layer
// lifecycle event through it.
package strata

import (
	"fmt"
	"io"
)

// Allocator supplies and catalogues the byte streams backing layers.
// Implementations must preserve stack order (bottom to top) across
// every operation.
type Allocator interface {
	// LoadLayers returns all pre-existing layers in stack order,
	// bottom to top, in read-only (disk) mode.
	LoadLayers() ([]*Layer, error)

	// AddLayer creates a fresh mutable layer backed by a new stream
	// positioned at zero.
	AddLayer() (*Layer, error)

	// DropTopLayer removes the most recently added layer. Used to
	// discard heap layers that were never written to.
	DropTopLayer() error

	// Rebase deletes layers [0, k) and renumbers the remaining layers
	// to occupy [0, n-k), preserving order.
	Rebase(k int) error
}

// MemAlloc backs layers with growable in-memory buffers. Nothing
// survives the process; rebase and drop are logical no-ops because the
// database rewrites its own layer list.
type MemAlloc struct{}

func (MemAlloc) LoadLayers() ([]*Layer, error) {
	return nil, nil
}

func (MemAlloc) AddLayer() (*Layer, error) {
	return NewLayer(&memStream{}), nil
}

func (MemAlloc) DropTopLayer() error {
	return nil
}

func (MemAlloc) Rebase(int) error {
	return nil
}

// memStream is a growable in-memory byte buffer implementing
// io.ReadWriteSeeker. The standard library offers no seekable
// read-write buffer (bytes.Buffer cannot seek, bytes.Reader cannot
// write), so the in-memory allocator carries its own.
type memStream struct {
	buf []byte
	pos int64
}

func (s *memStream) Read(p []byte) (int, error) {
	if s.pos >= int64(len(s.buf)) {
		return 0, io.EOF
	}
	n := copy(p, s.buf[s.pos:])
	s.pos += int64(n)
	return n, nil
}

func (s *memStream) Write(p []byte) (int, error) {
	if end := s.pos + int64(len(p)); end > int64(len(s.buf)) {
		grown := make([]byte, end)
		copy(grown, s.buf)
		s.buf = grown
	}
	n := copy(s.buf[s.pos:], p)
	s.pos += int64(n)
	return n, nil
}

func (s *memStream) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = s.pos + offset
	case io.SeekEnd:
		pos = int64(len(s.buf)) + offset
	default:
		return 0, fmt.Errorf("memstream: invalid whence %d", whence)
	}
	if pos < 0 {
		return 0, fmt.Errorf("memstream: negative position %d", pos)
	}
	s.pos = pos
	return pos, nil
}
