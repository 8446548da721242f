// Boundary-condition tests.
//
// The engine's arithmetic lives on half-open interval edges: a write
// that exactly abuts a segment, a zero-length operation, a write fully
// inside an existing segment. Off-by-one errors here don't crash —
// they silently merge, split or drop bytes, which is why each edge
// gets a test pinning the exact resulting stack shape.
package strata

import (
	"bytes"
	"os"
	"testing"
)

// TestEmptyWriteNoop verifies that a zero-length write does nothing —
// in particular it must not allocate a heap layer. An empty write that
// opened a layer would leave an empty file behind on the next flush
// cycle, or an empty segment violating range arithmetic.
func TestEmptyWriteNoop(t *testing.T) {
	db := memDB(t)

	if err := db.Write(42, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := db.Write(42, []byte{}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if len(db.layers) != 0 {
		t.Errorf("layers = %d, want 0 (no layer allocated)", len(db.layers))
	}
	if db.heapOpen {
		t.Errorf("heapOpen = true, want false")
	}
}

// TestZeroLengthRead verifies that an empty range returns an empty
// buffer without touching any layer.
func TestZeroLengthRead(t *testing.T) {
	db := memDB(t)
	db.Write(0, []byte{1, 2, 3})

	got := mustRead(t, db, Range{2, 2})
	if len(got) != 0 {
		t.Errorf("Read of empty range = %v, want empty", got)
	}
}

// TestAbuttingWriteNotMerged verifies that a write starting exactly at
// an existing segment's end goes into the same layer as a separate,
// adjacent segment. Abutting is not colliding — merging would change
// segment identity, and splitting to a new layer would waste a flush.
func TestAbuttingWriteNotMerged(t *testing.T) {
	db := memDB(t)

	db.Write(0, []byte{1, 1})
	db.Write(2, []byte{2, 2})

	if len(db.layers) != 1 {
		t.Fatalf("layers = %d, want 1 (abutting write stays in layer)", len(db.layers))
	}
	segs := collectSegments(t, db.layers[0])
	if len(segs) != 2 {
		t.Fatalf("segments = %d, want 2 (not merged)", len(segs))
	}
	if segs[0].Range != (Range{0, 2}) || segs[1].Range != (Range{2, 4}) {
		t.Errorf("segments = %v %v, want [0,2) [2,4)", segs[0].Range, segs[1].Range)
	}

	got := mustRead(t, db, Range{0, 4})
	if !bytes.Equal(got, []byte{1, 1, 2, 2}) {
		t.Errorf("Read = %v, want [1 1 2 2]", got)
	}
}

// TestContainedWriteSplits verifies that a write fully inside an
// existing segment of the heap layer seals that layer and lands in a
// fresh one. The old layer cannot hold both versions of the bytes —
// its segments must stay non-colliding.
func TestContainedWriteSplits(t *testing.T) {
	db := memDB(t)

	db.Write(0, []byte{1, 1, 1, 1, 1, 1})
	db.Write(2, []byte{2, 2})

	if len(db.layers) != 2 {
		t.Fatalf("layers = %d, want 2 (split)", len(db.layers))
	}
	if !db.layers[0].readOnly() {
		t.Errorf("old layer still mutable after split")
	}
	if !db.heapOpen {
		t.Errorf("heapOpen = false, want true (new layer holds the overwrite)")
	}

	got := mustRead(t, db, Range{0, 6})
	if !bytes.Equal(got, []byte{1, 1, 2, 2, 1, 1}) {
		t.Errorf("Read = %v, want [1 1 2 2 1 1]", got)
	}
}

// TestFlushEmptyHeapDropsLayer verifies the open question's resolution:
// a heap layer that was allocated but never written is deallocated via
// the allocator on flush, leaving no file behind.
func TestFlushEmptyHeapDropsLayer(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	// Force an empty heap layer into existence, bypassing Write's
	// empty-write short-circuit.
	if _, err := db.heapLayer(); err != nil {
		t.Fatalf("heapLayer: %v", err)
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if len(db.layers) != 0 {
		t.Errorf("layers = %d, want 0", len(db.layers))
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != metaName {
			t.Errorf("leftover file %q, want only %q", e.Name(), metaName)
		}
	}
}

// TestWriteAfterFlushOpensNewLayer verifies the heap lifecycle: after
// a flush seals the stack, the next write allocates a fresh mutable
// layer on top rather than failing with ErrReadOnly.
func TestWriteAfterFlushOpensNewLayer(t *testing.T) {
	db := memDB(t)

	db.Write(0, []byte{1})
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := db.Write(1, []byte{2}); err != nil {
		t.Fatalf("Write after flush: %v", err)
	}

	if len(db.layers) != 2 {
		t.Errorf("layers = %d, want 2", len(db.layers))
	}
	got := mustRead(t, db, Range{0, 2})
	if !bytes.Equal(got, []byte{1, 2}) {
		t.Errorf("Read = %v, want [1 2]", got)
	}
}

// TestOverwriteSameAddressManyTimes verifies repeated overwrites of
// one address across unflushed splits: every generation lands in its
// own layer and the last one wins. This exercises the write recursion
// repeatedly without any explicit Flush calls.
func TestOverwriteSameAddressManyTimes(t *testing.T) {
	db := memDB(t)

	for i := range byte(8) {
		if err := db.Write(3, []byte{i}); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	got := mustRead(t, db, Range{3, 4})
	if got[0] != 7 {
		t.Errorf("Read = %d, want 7", got[0])
	}
}

// TestRebaseTopEmptyHeapNoop verifies the guard at the top of Rebase:
// with an open, never-written heap layer on top, rebase does nothing —
// even when sealed layers below hold data.
func TestRebaseTopEmptyHeapNoop(t *testing.T) {
	db := memDB(t)

	db.Write(0, []byte{5})
	db.Flush()
	if _, err := db.heapLayer(); err != nil {
		t.Fatalf("heapLayer: %v", err)
	}

	if err := db.Rebase(16); err != nil {
		t.Fatalf("Rebase: %v", err)
	}
	if len(db.layers) != 2 {
		t.Errorf("layers = %d, want 2 (untouched)", len(db.layers))
	}
}

// TestLargeWriteSpanningChunks verifies a write far larger than the
// rebase buffer survives compaction intact — the chunked loop must
// reassemble it without seams.
func TestLargeWriteSpanningChunks(t *testing.T) {
	db := memDB(t)

	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i % 251)
	}
	db.Write(500, data)
	db.Flush()
	db.Write(900, []byte{255, 255, 255})
	db.Flush()

	if err := db.Rebase(64); err != nil {
		t.Fatalf("Rebase: %v", err)
	}

	want := bytes.Clone(data)
	copy(want[400:403], []byte{255, 255, 255})
	got := mustRead(t, db, Range{500, 1500})
	if !bytes.Equal(got, want) {
		t.Errorf("projection mismatch after chunked rebase")
	}
}
