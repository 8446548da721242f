// Core database type and lifecycle operations.
//
// DB is the user-facing stack: an ordered list of layers, oldest
// first, plus a flag marking whether the topmost layer is a mutable
// heap layer open for writes. All layers below the top are immutable.
// Reads resolve newest-wins byte-by-byte across the stack; writes land
// in the heap layer, splitting around collisions so every layer stays
// internally non-colliding.
//
// A database is owned by one caller at a time. There is no internal
// locking and no operation suspends; everything runs to completion or
// fails.
package strata

import (
	"fmt"
	"io"
)

// defaultRebaseBuffer is the chunk size used when Rebase is asked to
// pick one.
const defaultRebaseBuffer = 4 * 1024 * 1024

// Config holds database configuration options.
type Config struct {
	Checksum     int    // digest algorithm for directory meta and snapshots
	RebaseBuffer uint64 // chunk size when Rebase is called with 0
}

// DB represents an open database.
type DB struct {
	alloc    Allocator
	layers   []*Layer // stack order, oldest first
	heapOpen bool     // topmost layer is mutable
	config   Config
	closed   bool
}

// New opens a database over the given allocator, loading any
// pre-existing layers in stack order.
func New(alloc Allocator, config Config) (*DB, error) {
	if config.Checksum == 0 {
		config.Checksum = AlgXXH3
	}
	if config.RebaseBuffer == 0 {
		config.RebaseBuffer = defaultRebaseBuffer
	}

	layers, err := alloc.LoadLayers()
	if err != nil {
		return nil, err
	}
	return &DB{alloc: alloc, layers: layers, config: config}, nil
}

// Open opens or creates a directory-backed database. An existing
// directory keeps the digest algorithm recorded in its meta document,
// regardless of config.
func Open(dir string, config Config) (*DB, error) {
	if config.Checksum == 0 {
		config.Checksum = AlgXXH3
	}

	alloc, err := OpenDirAlloc(dir, config.Checksum)
	if err != nil {
		return nil, err
	}
	config.Checksum = alloc.Algorithm()

	db, err := New(alloc, config)
	if err != nil {
		alloc.Close()
		return nil, err
	}
	return db, nil
}

// Close releases every layer stream and the allocator. Unflushed heap
// writes are lost; call Flush first to commit them. Subsequent
// operations return ErrClosed.
func (db *DB) Close() error {
	if db.closed {
		return nil
	}
	db.closed = true

	var errs []error
	for _, l := range db.layers {
		if c, ok := l.stream.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if c, ok := db.alloc.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// heapLayer returns the open heap layer, allocating one on top of the
// stack if none is open.
func (db *DB) heapLayer() (*Layer, error) {
	if db.heapOpen {
		return db.layers[len(db.layers)-1], nil
	}

	l, err := db.alloc.AddLayer()
	if err != nil {
		return nil, fmt.Errorf("write: add layer: %w", err)
	}
	db.layers = append(db.layers, l)
	db.heapOpen = true
	return l, nil
}

// Write places data at [addr, addr+len(data)). The bytes land in the
// heap layer; where they collide with bytes already written to that
// layer, the layer is flushed and the colliding portions go to a fresh
// layer above it, so newest-wins reads still return data. The engine
// retains the provided slice until the holding layer is flushed; the
// caller must not mutate it before then. A zero-length write is a
// no-op.
func (db *DB) Write(addr uint64, data []byte) error {
	if db.closed {
		return ErrClosed
	}
	if len(data) == 0 {
		return nil
	}
	return db.write(addr, data)
}

func (db *DB) write(addr uint64, data []byte) error {
	layer, err := db.heapLayer()
	if err != nil {
		return err
	}

	q := Range{Start: addr, End: addr + uint64(len(data))}
	cols, err := layer.checkCollisions(q)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}

	// The gaps go into the current heap layer first; the colliding
	// ranges then land in a fresh layer above it, preserving
	// newest-wins for this call's bytes.
	for _, g := range layer.checkNonCollisions(q, cols) {
		if err := layer.writeUnchecked(g.Start, data[g.Start-addr:g.End-addr]); err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}

	if len(cols) > 0 {
		if err := db.Flush(); err != nil {
			return err
		}
		// The recursion terminates in one step: the next heap layer
		// starts empty, so nothing collides there.
		for _, c := range cols {
			if err := db.write(c.Start, data[c.Start-addr:c.End-addr]); err != nil {
				return err
			}
		}
	}
	return nil
}

// Read materialises rng.Len() bytes, newest-wins across the stack.
// Bytes not covered by any layer read as zero.
func (db *DB) Read(rng Range) ([]byte, error) {
	if db.closed {
		return nil, ErrClosed
	}

	out := make([]byte, rng.Len())
	if rng.Empty() {
		return out, nil
	}

	missing := []Range{rng}
	for i := len(db.layers) - 1; i >= 0 && len(missing) > 0; i-- {
		layer := db.layers[i]

		var cols, still []Range
		for _, m := range missing {
			c, err := layer.checkCollisions(m)
			if err != nil {
				return nil, fmt.Errorf("read: %w", err)
			}
			cols = append(cols, c...)
			still = append(still, layer.checkNonCollisions(m, c)...)
		}
		// Once a byte is served by a layer it is never revisited;
		// only the still-missing gaps descend to older layers.
		missing = still

		for _, c := range cols {
			off, data, err := layer.readUnchecked(c)
			if err != nil {
				return nil, fmt.Errorf("read: %w", err)
			}
			copy(out[c.Start-rng.Start:c.End-rng.Start], data[off:off+int(c.Len())])
		}
	}
	return out, nil
}

// Flush seals the open heap layer, writing its segments to its stream
// and leaving it read-only on the stack. A heap layer that was never
// written to is discarded via the allocator instead, so empty layers
// never pollute the catalog. No-op when no heap layer is open.
func (db *DB) Flush() error {
	if db.closed {
		return ErrClosed
	}
	if !db.heapOpen {
		return nil
	}

	top := db.layers[len(db.layers)-1]
	if _, ok := top.Bounds(); !ok {
		if c, ok := top.stream.(io.Closer); ok {
			c.Close()
		}
		db.layers = db.layers[:len(db.layers)-1]
		db.heapOpen = false
		if err := db.alloc.DropTopLayer(); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
		return nil
	}

	if err := top.flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	db.heapOpen = false
	return nil
}

// Rebase fuses the stack into the newest-wins projection over the
// union of all layer bounds, then retires the old layers. Space
// occupied by shadowed bytes is reclaimed; on-disk size temporarily
// doubles while the fused copy is appended above the old stack. The
// projection is written in bufferSize chunks (Config.RebaseBuffer when
// 0), each flushed as its own layer. No-op on an empty database.
func (db *DB) Rebase(bufferSize uint64) error {
	if db.closed {
		return ErrClosed
	}
	if bufferSize == 0 {
		bufferSize = db.config.RebaseBuffer
	}
	if len(db.layers) == 0 {
		return nil
	}
	if _, ok := db.layers[len(db.layers)-1].Bounds(); !ok {
		return nil
	}

	if err := db.Flush(); err != nil {
		return err
	}
	oldCount := len(db.layers)

	bounds, ok := db.stackBounds()
	if !ok {
		return nil
	}

	for idx := bounds.Start; idx < bounds.End; {
		end := bounds.End
		if chunk := idx + bufferSize; chunk > idx && chunk < end {
			end = chunk
		}
		buf, err := db.Read(Range{Start: idx, End: end})
		if err != nil {
			return fmt.Errorf("rebase: %w", err)
		}
		if err := db.Write(idx, buf); err != nil {
			return fmt.Errorf("rebase: %w", err)
		}
		if err := db.Flush(); err != nil {
			return fmt.Errorf("rebase: %w", err)
		}
		idx = end
	}

	// Retire the old stack: close the dropped layers' streams, let
	// the allocator delete and renumber, then drop them in memory.
	for _, l := range db.layers[:oldCount] {
		if c, ok := l.stream.(io.Closer); ok {
			c.Close()
		}
	}
	if err := db.alloc.Rebase(oldCount); err != nil {
		return fmt.Errorf("rebase: %w", err)
	}
	db.layers = append([]*Layer(nil), db.layers[oldCount:]...)
	return nil
}

// stackBounds returns the union of all layer bounds, or ok=false when
// no layer has any segments.
func (db *DB) stackBounds() (r Range, ok bool) {
	for _, l := range db.layers {
		b, has := l.Bounds()
		if !has {
			continue
		}
		if !ok {
			r, ok = b, true
		} else {
			r = union(r, b)
		}
	}
	return r, ok
}
