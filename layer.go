// One layer of the stack.
//
// A Layer owns a mapper, a seekable stream, and bookkeeping: the
// minimum enclosing bounds of its segments, the total payload size,
// and a read cursor that accelerates sequential disk reads. Heap
// layers answer queries from memory; disk layers answer them by
// scanning segment frames in the stream, skipping payloads that the
// query does not touch.
//
// The layer file format is fixed: a 24-byte header holding size,
// bounds.start and bounds.end as big-endian u64s, followed by the
// segment frames in ascending order.
package strata

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"iter"
	"sort"
)

// flushBufferSize is the write buffer used when serialising a heap
// layer to its stream.
const flushBufferSize = 4 * 1024 * 1024

// diskCursor remembers where the last visited segment frame of a disk
// layer lives, so monotonically increasing reads resume mid-stream
// instead of rescanning from the first frame.
type diskCursor struct {
	addr     uint64 // range.start of the frame at off
	off      int64  // stream offset of that frame's header
	consumed uint64 // payload bytes decoded before off
}

// Layer is one layer of the database stack: a sorted, non-colliding
// collection of segments over part of the address space. A layer is
// created mutable (heap) and becomes immutable (disk) when flushed.
type Layer struct {
	bounds Range // minimum enclosing range; zero ⇔ no segments
	size   uint64
	rcur   diskCursor
	stream io.ReadWriteSeeker
	m      mapper
}

// NewLayer returns an empty mutable layer backed by stream. The stream
// is only written on flush.
func NewLayer(stream io.ReadWriteSeeker) *Layer {
	return &Layer{stream: stream, m: newMapper()}
}

// LoadLayer reads a serialised layer's header from stream and returns
// the read-only layer. Segments stay on disk and are streamed on
// demand. Fails with a corruption error on a short header or
// inconsistent metadata.
func LoadLayer(stream io.ReadWriteSeeker) (*Layer, error) {
	if _, err := stream.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("layer: seek: %w", err)
	}

	var hdr [layerHeaderSize]byte
	if _, err := io.ReadFull(stream, hdr[:]); err != nil {
		return nil, corruptLayer(err)
	}

	size := binary.BigEndian.Uint64(hdr[0:8])
	bounds := Range{
		Start: binary.BigEndian.Uint64(hdr[8:16]),
		End:   binary.BigEndian.Uint64(hdr[16:24]),
	}

	// Segments are non-colliding within bounds, so the payload total
	// can never exceed the bounds width.
	if bounds.Start > bounds.End || size > bounds.End-bounds.Start {
		return nil, corruptLayer(nil)
	}

	return &Layer{
		bounds: bounds,
		size:   size,
		stream: stream,
		m:      diskMapper(),
	}, nil
}

// Bounds returns the minimum enclosing range of the layer's segments.
// ok is false when the layer has no segments.
func (l *Layer) Bounds() (r Range, ok bool) {
	return l.bounds, !l.bounds.Empty()
}

// Size returns the total payload bytes stored in the layer.
func (l *Layer) Size() uint64 {
	return l.size
}

// readOnly reports whether the layer has been flushed to disk.
func (l *Layer) readOnly() bool {
	return !l.m.heap
}

// diskStart is the cursor addressing the first segment frame.
func (l *Layer) diskStart() diskCursor {
	return diskCursor{off: layerHeaderSize}
}

// walk scans a disk layer's segment frames in order starting at from,
// calling fn with each range and the stream offset of its payload.
// fn may reposition the stream freely; walk re-seeks every frame. The
// scan ends when fn returns stop, or when the layer's size worth of
// payload has been accounted for. The read cursor tracks the last
// visited frame.
func (l *Layer) walk(from diskCursor, fn func(r Range, payloadOff int64) (stop bool, err error)) error {
	off := from.off
	consumed := from.consumed
	var hdr [segmentHeaderSize]byte

	for consumed < l.size {
		if _, err := l.stream.Seek(off, io.SeekStart); err != nil {
			return fmt.Errorf("layer: seek: %w", err)
		}
		if _, err := io.ReadFull(l.stream, hdr[:]); err != nil {
			return corruptLayer(err)
		}
		r := decodeFrame(hdr[:])
		if r.Empty() || r.Len() > l.size-consumed {
			return corruptLayer(nil)
		}

		l.rcur = diskCursor{addr: r.Start, off: off, consumed: consumed}
		stop, err := fn(r, off+segmentHeaderSize)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}

		off += segmentHeaderSize + int64(r.Len())
		consumed += r.Len()
	}
	return nil
}

// checkCollisions returns the ascending, non-colliding clipped
// intersections of q with the layer's segments. Heap layers answer
// from memory; disk layers scan frame headers, never touching
// payloads, and stop at the first segment past q.
func (l *Layer) checkCollisions(q Range) ([]Range, error) {
	if q.Empty() {
		return nil, nil
	}

	if !l.readOnly() {
		set := make([]Range, len(l.m.segs))
		for i, s := range l.m.segs {
			set[i] = s.Range
		}
		return collisions(q, set), nil
	}

	var out []Range
	err := l.walk(l.diskStart(), func(r Range, _ int64) (bool, error) {
		if r.Start >= q.End {
			return true, nil
		}
		if q.Collides(r) {
			out = append(out, clip(q, r))
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// checkNonCollisions returns the gaps of q not covered by cols, where
// cols is the output of checkCollisions for q.
func (l *Layer) checkNonCollisions(q Range, cols []Range) []Range {
	return complement(q, cols)
}

// writeUnchecked inserts [addr, addr+len(data)) into a heap layer and
// updates bounds, size and the write cursor. The caller guarantees the
// range collides with no existing segment; the layer would be corrupt
// otherwise. The provided slice is retained as-is — no copy is made —
// so the caller must not mutate it before the layer is flushed. Fails
// with ErrReadOnly on a disk layer.
func (l *Layer) writeUnchecked(addr uint64, data []byte) error {
	if l.readOnly() {
		return ErrReadOnly
	}
	if len(data) == 0 {
		return nil
	}

	r := Range{Start: addr, End: addr + uint64(len(data))}
	if err := l.m.insertAt(l.m.positionFor(addr), Segment{Range: r, Data: data}); err != nil {
		return err
	}

	l.size += r.Len()
	if l.bounds.Empty() {
		l.bounds = r
	} else {
		l.bounds = union(l.bounds, r)
	}
	return nil
}

// readUnchecked returns the bytes of sub, which the caller guarantees
// is entirely covered by a single segment of this layer (a range
// produced by checkCollisions). The result is the containing segment's
// payload and the offset of sub within it: data[off : off+sub.Len()]
// are the requested bytes. Heap layers return the stored buffer; disk
// layers load the segment's payload into a fresh one, resuming from
// the read cursor when the query address is monotonic.
func (l *Layer) readUnchecked(sub Range) (off int, data []byte, err error) {
	if !l.readOnly() {
		segs := l.m.segs
		i := sort.Search(len(segs), func(i int) bool {
			return segs[i].Range.End > sub.Start
		})
		if i == len(segs) || !segs[i].Range.Contains(sub) {
			return 0, nil, corruptLayer(nil)
		}
		return int(sub.Start - segs[i].Range.Start), segs[i].Data, nil
	}

	from := l.diskStart()
	if l.rcur.off >= layerHeaderSize && sub.Start >= l.rcur.addr {
		from = l.rcur
	}

	found := false
	err = l.walk(from, func(r Range, payloadOff int64) (bool, error) {
		if r.Start >= sub.End {
			return true, nil
		}
		if !r.Contains(sub) {
			return false, nil
		}

		buf := make([]byte, r.Len())
		if _, err := l.stream.Seek(payloadOff, io.SeekStart); err != nil {
			return false, fmt.Errorf("layer: seek: %w", err)
		}
		if _, err := io.ReadFull(l.stream, buf); err != nil {
			return false, corruptLayer(err)
		}

		off = int(sub.Start - r.Start)
		data = buf
		found = true
		return true, nil
	})
	if err != nil {
		return 0, nil, err
	}
	if !found {
		return 0, nil, corruptLayer(nil)
	}
	return off, data, nil
}

// flush serialises a heap layer to its stream and transitions it to
// disk mode; afterwards the layer is read-only and its segments are
// streamed on demand. Flushing an empty layer or one already on disk
// is a no-op. A mid-write failure leaves the stream undefined; the
// caller should discard the layer.
func (l *Layer) flush() error {
	if l.readOnly() || l.bounds.Empty() {
		return nil
	}

	if _, err := l.stream.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("layer: seek: %w", err)
	}

	w := bufio.NewWriterSize(l.stream, flushBufferSize)

	var hdr [layerHeaderSize]byte
	binary.BigEndian.PutUint64(hdr[0:8], l.size)
	binary.BigEndian.PutUint64(hdr[8:16], l.bounds.Start)
	binary.BigEndian.PutUint64(hdr[16:24], l.bounds.End)
	w.Write(hdr[:])

	var frame [segmentHeaderSize]byte
	for _, s := range l.m.segs {
		encodeFrame(frame[:], s.Range)
		w.Write(frame[:])
		w.Write(s.Data)
	}

	// bufio latches the first error; Flush surfaces it.
	if err := w.Flush(); err != nil {
		return fmt.Errorf("layer: flush: %w", err)
	}

	l.m = diskMapper()
	l.rcur = diskCursor{}
	return nil
}

// Segments yields the layer's segments in ascending order. Disk
// layers decode frames from the stream as the iteration advances, so
// the iterator assumes exclusive use of the layer until it finishes.
func (l *Layer) Segments() iter.Seq2[Segment, error] {
	return l.m.segments(l.stream, l.size)
}
