// Directory-backed layer allocation.
//
// DirAlloc stores one file per layer, named by a monotonically
// increasing decimal integer; stack order is numeric order. A "meta"
// JSON document anchors the directory: it records the format version,
// digest algorithm and creation time, carries its own digest, and
// doubles as the lock file enforcing single ownership. Its name does
// not parse as an integer, so layer scans skip it naturally.
//
// Rebase is delete-then-rename and is not crash-atomic: a crash
// between the two phases can leave a renumbering hole. The old stack
// stays authoritative up to the first delete, which is the window that
// matters for restarting an interrupted rebase.
package strata

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

const (
	metaName    = "meta"
	metaVersion = 1
)

// dirMeta is the metadata document stored in a database directory.
type dirMeta struct {
	Version   int    `json:"_v"`
	Algorithm int    `json:"_alg"`
	Timestamp int64  `json:"_ts"`
	Sum       string `json:"_sum"`
}

// sum digests the meta fields (excluding Sum itself) with the meta's
// own algorithm.
func (m *dirMeta) sum() string {
	payload := fmt.Sprintf("%d|%d|%d", m.Version, m.Algorithm, m.Timestamp)
	return digest([]byte(payload), m.Algorithm)
}

// DirAlloc allocates layers as numbered files in a directory.
type DirAlloc struct {
	dir    string
	layers []string // layer file paths in stack order
	cursor uint64   // next layer file number
	meta   dirMeta
	lock   dirLock // exclusive lock on the meta file
}

// OpenDirAlloc opens or creates a database directory. A fresh
// directory gets a meta document digested with alg; an existing one is
// verified against its stored digest and keeps its original algorithm.
// The meta file is locked exclusively until Close — a second opener
// fails with ErrLocked.
func OpenDirAlloc(dir string, alg int) (*DirAlloc, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("diralloc: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, metaName), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("diralloc: %w", err)
	}

	a := &DirAlloc{dir: dir, lock: dirLock{f: f}}
	if err := a.lock.acquire(); err != nil {
		f.Close()
		return nil, err
	}

	raw, err := io.ReadAll(f)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("diralloc: read meta: %w", err)
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		// Fresh directory: write the meta document.
		a.meta = dirMeta{
			Version:   metaVersion,
			Algorithm: alg,
			Timestamp: time.Now().UnixMilli(),
		}
		a.meta.Sum = a.meta.sum()

		doc, err := json.Marshal(&a.meta)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("diralloc: encode meta: %w", err)
		}
		if _, err := f.Write(append(doc, '\n')); err != nil {
			a.Close()
			return nil, fmt.Errorf("diralloc: write meta: %w", err)
		}
		if err := f.Sync(); err != nil {
			a.Close()
			return nil, fmt.Errorf("diralloc: sync meta: %w", err)
		}
	} else {
		if err := json.Unmarshal(bytes.TrimSpace(raw), &a.meta); err != nil {
			a.Close()
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, ErrCorruptMeta)
		}
		if a.meta.Sum != a.meta.sum() {
			a.Close()
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, ErrCorruptMeta)
		}
	}

	if err := a.scan(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Algorithm returns the digest algorithm recorded in the directory's
// meta document.
func (a *DirAlloc) Algorithm() int {
	return a.meta.Algorithm
}

// scan indexes the directory's layer files: entries whose names parse
// as integers, in numeric order. The next file number is one past the
// highest, or zero for an empty directory.
func (a *DirAlloc) scan() error {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return fmt.Errorf("diralloc: %w", err)
	}

	var nums []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n, err := strconv.ParseUint(e.Name(), 10, 64)
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	slices.Sort(nums)

	a.layers = a.layers[:0]
	for _, n := range nums {
		a.layers = append(a.layers, filepath.Join(a.dir, strconv.FormatUint(n, 10)))
	}
	a.cursor = 0
	if len(nums) > 0 {
		a.cursor = nums[len(nums)-1] + 1
	}
	return nil
}

// LoadLayers opens every layer file in stack order as a read-only
// disk layer.
func (a *DirAlloc) LoadLayers() ([]*Layer, error) {
	layers := make([]*Layer, 0, len(a.layers))
	for _, path := range a.layers {
		f, err := os.OpenFile(path, os.O_RDWR, 0644)
		if err != nil {
			return nil, fmt.Errorf("diralloc: %w", err)
		}
		l, err := LoadLayer(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("diralloc: layer %s: %w", filepath.Base(path), err)
		}
		layers = append(layers, l)
	}
	return layers, nil
}

// AddLayer creates the next numbered layer file and returns a fresh
// mutable layer backed by it.
func (a *DirAlloc) AddLayer() (*Layer, error) {
	path := filepath.Join(a.dir, strconv.FormatUint(a.cursor, 10))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("diralloc: %w", err)
	}
	a.cursor++
	a.layers = append(a.layers, path)
	return NewLayer(f), nil
}

// DropTopLayer deletes the most recently added layer file. The caller
// has already closed the layer's stream.
func (a *DirAlloc) DropTopLayer() error {
	if len(a.layers) == 0 {
		return nil
	}
	path := a.layers[len(a.layers)-1]
	a.layers = a.layers[:len(a.layers)-1]
	a.cursor--
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("diralloc: %w", err)
	}
	return nil
}

// Rebase deletes layer files [0, k) and renames the remaining files to
// a contiguous sequence starting at 0, preserving order.
func (a *DirAlloc) Rebase(k int) error {
	if k <= 0 {
		return nil
	}
	if k > len(a.layers) {
		return fmt.Errorf("diralloc: rebase %d of %d layers", k, len(a.layers))
	}

	for _, path := range a.layers[:k] {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("diralloc: %w", err)
		}
	}

	kept := a.layers[k:]
	renamed := make([]string, 0, len(kept))
	for i, path := range kept {
		dst := filepath.Join(a.dir, strconv.Itoa(i))
		if err := os.Rename(path, dst); err != nil {
			return fmt.Errorf("diralloc: %w", err)
		}
		renamed = append(renamed, dst)
	}

	a.layers = renamed
	a.cursor = uint64(len(renamed))
	return nil
}

// Close releases the directory lock and the meta file handle.
func (a *DirAlloc) Close() error {
	a.lock.release()
	if err := a.lock.f.Close(); err != nil {
		return fmt.Errorf("diralloc: %w", err)
	}
	return nil
}
