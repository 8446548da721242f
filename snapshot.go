// Snapshot export and import.
//
// Dump streams the stack's newest-wins projection — only the bytes
// some layer actually covers, not the zero-filled gaps — as a
// zstd-compressed sequence of segment frames with a digest trailer.
// Restore replays such a stream into a database. The snapshot is the
// engine's portable backup format; it is independent of the layer
// files and survives any future re-layering of the source.
//
// Snapshot layout:
//
//	magic "stra"              4 bytes
//	version                   1 byte
//	digest algorithm          1 byte
//	zstd stream of:
//	    segment frames        16-byte header + payload, ascending
//	    terminator frame      16 zero bytes
//	    digest                16 hex chars over the segment frames
package strata

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/zstd"
)

var snapMagic = [4]byte{'s', 't', 'r', 'a'}

const snapVersion = 1

// corruptSnapshot wraps a malformed-snapshot failure so that both
// ErrCorrupt and ErrCorruptSnapshot match via errors.Is.
func corruptSnapshot(cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, ErrCorruptSnapshot)
	}
	return fmt.Errorf("%w: %w: %w", ErrCorrupt, ErrCorruptSnapshot, cause)
}

// extent returns the coalesced union of every layer's segment ranges,
// ascending: the sub-ranges of the address space the stack actually
// covers. Disk layers contribute via a headers-only scan.
func (db *DB) extent() ([]Range, error) {
	var all []Range
	for _, l := range db.layers {
		if !l.readOnly() {
			for _, s := range l.m.segs {
				all = append(all, s.Range)
			}
			continue
		}
		err := l.walk(l.diskStart(), func(r Range, _ int64) (bool, error) {
			all = append(all, r)
			return false, nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Start < all[j].Start })

	// Coalesce overlapping and abutting ranges.
	var out []Range
	for _, r := range all {
		if n := len(out); n > 0 && r.Start <= out[n-1].End {
			out[n-1].End = max(out[n-1].End, r.End)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Dump writes a snapshot of the database's projection to w. The
// compression level favours encode speed: dumps run against live
// data and the stream is typically bound for slower storage anyway.
func (db *DB) Dump(w io.Writer) error {
	if db.closed {
		return ErrClosed
	}

	hdr := append(append([]byte{}, snapMagic[:]...), snapVersion, byte(db.config.Checksum))
	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("dump: %w", err)
	}

	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return fmt.Errorf("dump: %w", err)
	}

	exts, err := db.extent()
	if err != nil {
		zw.Close()
		return fmt.Errorf("dump: %w", err)
	}

	h := newDigest(db.config.Checksum)
	var frame [segmentHeaderSize]byte
	for _, ext := range exts {
		// Large extents are chunked so the materialised read stays
		// bounded, same as Rebase.
		for idx := ext.Start; idx < ext.End; {
			end := ext.End
			if chunk := idx + db.config.RebaseBuffer; chunk > idx && chunk < end {
				end = chunk
			}
			buf, err := db.Read(Range{Start: idx, End: end})
			if err != nil {
				zw.Close()
				return fmt.Errorf("dump: %w", err)
			}

			encodeFrame(frame[:], Range{Start: idx, End: end})
			for _, part := range [][]byte{frame[:], buf} {
				h.Write(part)
				if _, err := zw.Write(part); err != nil {
					zw.Close()
					return fmt.Errorf("dump: %w", err)
				}
			}
			idx = end
		}
	}

	encodeFrame(frame[:], Range{})
	if _, err := zw.Write(frame[:]); err != nil {
		zw.Close()
		return fmt.Errorf("dump: %w", err)
	}
	sum := fmt.Sprintf("%016x", h.Sum(nil))
	if _, err := zw.Write([]byte(sum)); err != nil {
		zw.Close()
		return fmt.Errorf("dump: %w", err)
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("dump: %w", err)
	}
	return nil
}

// Restore replays a snapshot stream into the database as ordinary
// writes and flushes the result. The stream's digest trailer is
// verified over the decompressed frames; a mismatch fails with
// ErrCorruptSnapshot after the writes have already landed — restore
// into a fresh database when that matters.
func (db *DB) Restore(r io.Reader) error {
	if db.closed {
		return ErrClosed
	}

	var hdr [6]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return corruptSnapshot(err)
	}
	if !bytes.Equal(hdr[:4], snapMagic[:]) || hdr[4] != snapVersion {
		return corruptSnapshot(nil)
	}
	alg := int(hdr[5])

	zr, err := zstd.NewReader(r)
	if err != nil {
		return corruptSnapshot(err)
	}
	defer zr.Close()

	h := newDigest(alg)
	var frame [segmentHeaderSize]byte
	for {
		if _, err := io.ReadFull(zr, frame[:]); err != nil {
			return corruptSnapshot(err)
		}
		fr := decodeFrame(frame[:])
		if fr.Start == 0 && fr.End == 0 {
			break
		}
		if fr.Empty() {
			return corruptSnapshot(nil)
		}

		buf := make([]byte, fr.Len())
		if _, err := io.ReadFull(zr, buf); err != nil {
			return corruptSnapshot(err)
		}
		h.Write(frame[:])
		h.Write(buf)

		if err := db.Write(fr.Start, buf); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
	}

	var sum [16]byte
	if _, err := io.ReadFull(zr, sum[:]); err != nil {
		return corruptSnapshot(err)
	}
	if string(sum[:]) != fmt.Sprintf("%016x", h.Sum(nil)) {
		return corruptSnapshot(nil)
	}

	return db.Flush()
}
