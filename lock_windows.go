//go:build windows

// LockFileEx backend for the directory lock.
//
// Mirrors the Unix flock backend: exclusive, fail-immediately. A
// contended lock reports ErrLocked rather than waiting.
package strata

import (
	"os"
	"syscall"
	"unsafe"
)

var (
	modkernel32      = syscall.NewLazyDLL("kernel32.dll")
	procLockFileEx   = modkernel32.NewProc("LockFileEx")
	procUnlockFileEx = modkernel32.NewProc("UnlockFileEx")
)

const (
	lockfileExclusiveLock   = 0x00000002
	lockfileFailImmediately = 0x00000001
)

// dirLock holds an exclusive OS-level lock on a database directory's
// meta file for the lifetime of the allocator handle.
type dirLock struct {
	f *os.File
}

func (l *dirLock) acquire() error {
	h := syscall.Handle(l.f.Fd())
	var overlapped syscall.Overlapped

	r1, _, err := procLockFileEx.Call(
		uintptr(h),
		uintptr(lockfileExclusiveLock|lockfileFailImmediately),
		0,
		0xFFFFFFFF,
		0xFFFFFFFF,
		uintptr(unsafe.Pointer(&overlapped)),
	)
	if r1 == 0 {
		if err == syscall.ERROR_LOCK_VIOLATION {
			return ErrLocked
		}
		return err
	}
	return nil
}

func (l *dirLock) release() error {
	h := syscall.Handle(l.f.Fd())
	var overlapped syscall.Overlapped

	r1, _, err := procUnlockFileEx.Call(
		uintptr(h),
		0,
		0xFFFFFFFF,
		0xFFFFFFFF,
		uintptr(unsafe.Pointer(&overlapped)),
	)
	if r1 == 0 {
		return err
	}
	return nil
}
