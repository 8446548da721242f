// Segment storage for a single layer.
//
// A mapper holds one layer's writes as an ordered, non-colliding
// sequence of segments. It has two variants: heap (mutable, segments
// live in memory) and disk (read-only, segments are decoded from the
// layer's stream on demand). A layer starts heap and becomes disk
// exactly once, at flush.
//
// The write cursor makes sequential appends O(1): after an insertion
// ending at address a, the next insertion starting at a lands at the
// remembered position without scanning. Out-of-order inserts fall back
// to a linear scan. The cursor is an optimization only — correctness
// never depends on it.
package strata

import (
	"encoding/binary"
	"io"
	"iter"
	"slices"
)

// On-disk framing sizes. A layer file is a 24-byte header (size,
// bounds.start, bounds.end as big-endian u64s) followed by segment
// frames: a 16-byte header (range.start, range.end) and the payload.
const (
	layerHeaderSize   = 24
	segmentHeaderSize = 16
)

// Segment pairs a range with its payload bytes.
// len(Data) == Range.Len() always.
type Segment struct {
	Range Range
	Data  []byte
}

// cursor pairs an address with a position in the segment sequence.
type cursor struct {
	addr uint64
	idx  int
}

// mapper is the segment store of one layer. heap distinguishes the
// mutable in-memory variant from the read-only disk sentinel.
type mapper struct {
	heap bool
	segs []Segment
	wcur cursor
}

func newMapper() mapper {
	return mapper{heap: true}
}

func diskMapper() mapper {
	return mapper{}
}

// positionFor returns the index at which a segment starting at addr
// belongs. The write cursor answers sequential appends directly;
// otherwise the first segment starting past addr marks the slot, or
// the end of the sequence if none does.
func (m *mapper) positionFor(addr uint64) int {
	if m.wcur.addr == addr && m.wcur.idx <= len(m.segs) {
		return m.wcur.idx
	}
	for i, s := range m.segs {
		if s.Range.Start > addr {
			return i
		}
	}
	return len(m.segs)
}

// insertAt places seg at position i and advances the write cursor to
// (seg.Range.End, i+1). The caller guarantees the sequence stays
// sorted and non-colliding. Fails with ErrReadOnly on a disk mapper.
func (m *mapper) insertAt(i int, seg Segment) error {
	if !m.heap {
		return ErrReadOnly
	}
	m.segs = slices.Insert(m.segs, i, seg)
	m.wcur = cursor{addr: seg.Range.End, idx: i + 1}
	return nil
}

// decodeFrame parses a 16-byte segment frame header.
func decodeFrame(buf []byte) Range {
	return Range{
		Start: binary.BigEndian.Uint64(buf[0:8]),
		End:   binary.BigEndian.Uint64(buf[8:16]),
	}
}

// encodeFrame renders a segment frame header into buf.
func encodeFrame(buf []byte, r Range) {
	binary.BigEndian.PutUint64(buf[0:8], r.Start)
	binary.BigEndian.PutUint64(buf[8:16], r.End)
}

// segments yields the mapper's segments in ascending range order. Heap
// segments come straight from memory and alias the stored buffers.
// Disk segments are decoded from stream — frames begin right after the
// layer header and total size payload bytes — and each yielded Data is
// a fresh buffer. Disk iteration stops once size payload bytes have
// been consumed; a frame that is truncated, inverted, or would overrun
// size fails with a corruption error.
func (m *mapper) segments(stream io.ReadWriteSeeker, size uint64) iter.Seq2[Segment, error] {
	if m.heap {
		return func(yield func(Segment, error) bool) {
			for _, s := range m.segs {
				if !yield(s, nil) {
					return
				}
			}
		}
	}

	return func(yield func(Segment, error) bool) {
		if _, err := stream.Seek(layerHeaderSize, io.SeekStart); err != nil {
			yield(Segment{}, err)
			return
		}

		var hdr [segmentHeaderSize]byte
		var consumed uint64
		for consumed < size {
			if _, err := io.ReadFull(stream, hdr[:]); err != nil {
				yield(Segment{}, corruptLayer(err))
				return
			}
			r := decodeFrame(hdr[:])
			if r.Empty() || r.Len() > size-consumed {
				yield(Segment{}, corruptLayer(nil))
				return
			}

			data := make([]byte, r.Len())
			if _, err := io.ReadFull(stream, data); err != nil {
				yield(Segment{}, corruptLayer(err))
				return
			}
			consumed += r.Len()

			if !yield(Segment{Range: r, Data: data}, nil) {
				return
			}
		}
	}
}
