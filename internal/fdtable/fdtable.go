// Package fdtable implements a process's file-descriptor table: the
// mapping from small integers to open file objects, independent of any
// concrete filesystem implementation.
package fdtable

import (
	"sort"
	"sync"

	"github.com/xingmin1/NexusOS-sub000/internal/errs"
)

// OpenMax is the default soft limit on simultaneously open descriptors,
// overridable per-table, standing in for RLIMIT_NOFILE.
const OpenMax = 1 << 20

// File is the minimal contract an object occupying a descriptor slot must
// satisfy. Concrete file, directory, socket, and pipe implementations live
// outside this package; the table itself is filesystem-agnostic.
type File interface {
	Close() error
}

// Flags are descriptor-level (not open-file-level) flags.
type Flags uint8

// FdCloexec marks a descriptor to be closed automatically across execve.
const FdCloexec Flags = 1 << 0

// Entry is one occupied slot: an open file object plus its descriptor flags.
type Entry struct {
	File  File
	Flags Flags
}

// Table is a process's file-descriptor table. The zero value is not usable;
// construct with New.
type Table struct {
	mu       sync.RWMutex
	entries  map[int32]*Entry
	next     int32
	capacity int32
}

// New creates an empty table. capacity <= 0 selects OpenMax.
func New(capacity int32) *Table {
	if capacity <= 0 {
		capacity = OpenMax
	}
	return &Table{entries: make(map[int32]*Entry), capacity: capacity}
}

// Alloc installs entry at the lowest unused descriptor >= max(minFd, next),
// where next is one past the most recently allocated descriptor. Close does
// not lower next, so a freed descriptor below it is not reused by Alloc.
func (t *Table) Alloc(entry *Entry, minFd int32) (int32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if int32(len(t.entries)) >= t.capacity {
		return 0, errs.New(errs.EMFILE, "fdtable: table full")
	}
	fd := t.next
	if minFd > fd {
		fd = minFd
	}
	for {
		if fd >= t.capacity {
			return 0, errs.New(errs.EMFILE, "fdtable: table full")
		}
		if _, ok := t.entries[fd]; !ok {
			break
		}
		fd++
	}
	t.entries[fd] = entry
	t.next = fd + 1
	return fd, nil
}

// Get returns a copy of the entry at fd.
func (t *Table) Get(fd int32) (Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[fd]
	if !ok {
		return Entry{}, errs.New(errs.EBADF, "fdtable: bad fd")
	}
	return *e, nil
}

// SetFlags replaces the descriptor-level flags at fd.
func (t *Table) SetFlags(fd int32, flags Flags) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[fd]
	if !ok {
		return errs.New(errs.EBADF, "fdtable: bad fd")
	}
	e.Flags = flags
	return nil
}

// Close removes and closes the entry at fd.
func (t *Table) Close(fd int32) error {
	t.mu.Lock()
	e, ok := t.entries[fd]
	if ok {
		delete(t.entries, fd)
	}
	t.mu.Unlock()
	if !ok {
		return errs.New(errs.EBADF, "fdtable: bad fd")
	}
	return e.File.Close()
}

// Dup implements the dup/dup2/dup3 family: it duplicates oldfd onto exactly
// minFd, first closing any existing entry there. When minFd == oldfd only
// the close-on-exec flag is (optionally) set.
func (t *Table) Dup(oldfd, minFd int32, setCloexec bool) (int32, error) {
	t.mu.Lock()
	src, ok := t.entries[oldfd]
	t.mu.Unlock()
	if !ok {
		return 0, errs.New(errs.EBADF, "fdtable: bad fd")
	}

	cloned := &Entry{File: src.File, Flags: src.Flags}
	if setCloexec {
		cloned.Flags |= FdCloexec
	}

	if oldfd == minFd {
		t.mu.Lock()
		if setCloexec {
			t.entries[oldfd].Flags |= FdCloexec
		}
		t.mu.Unlock()
		return oldfd, nil
	}

	t.mu.RLock()
	_, clash := t.entries[minFd]
	t.mu.RUnlock()
	if clash {
		if err := t.Close(minFd); err != nil {
			return 0, err
		}
	}
	return t.allocAt(cloned, minFd)
}

// allocAt installs entry at exactly fd, bypassing the scan-for-a-hole
// search Alloc performs (used by dup2/dup3, which target a specific fd).
func (t *Table) allocAt(entry *Entry, fd int32) (int32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fd < 0 || fd >= t.capacity {
		return 0, errs.New(errs.EMFILE, "fdtable: fd out of range")
	}
	t.entries[fd] = entry
	if fd >= t.next {
		t.next = fd + 1
	}
	return fd, nil
}

// Fork returns an independent deep copy of the table: the same file objects
// under the same descriptors, with an independently-advancing allocator.
// The child shares open-file state with the parent but not descriptor
// slots themselves.
func (t *Table) Fork() *Table {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := &Table{entries: make(map[int32]*Entry, len(t.entries)), next: t.next, capacity: t.capacity}
	for fd, e := range t.entries {
		out.entries[fd] = &Entry{File: e.File, Flags: e.Flags}
	}
	return out
}

// ClearCloexecOnExec closes every descriptor marked FD_CLOEXEC, as execve
// must before transferring control to the new image.
func (t *Table) ClearCloexecOnExec() {
	t.mu.Lock()
	var toClose []File
	for fd, e := range t.entries {
		if e.Flags&FdCloexec != 0 {
			toClose = append(toClose, e.File)
			delete(t.entries, fd)
		}
	}
	if len(t.entries) == 0 {
		t.next = 0
	} else {
		min := t.lowestFdLocked()
		t.next = min
	}
	t.mu.Unlock()
	for _, f := range toClose {
		_ = f.Close()
	}
}

// lowestFdLocked returns the lowest occupied descriptor. Callers must hold
// t.mu.
func (t *Table) lowestFdLocked() int32 {
	fds := make([]int32, 0, len(t.entries))
	for fd := range t.entries {
		fds = append(fds, fd)
	}
	sort.Slice(fds, func(i, j int) bool { return fds[i] < fds[j] })
	return fds[0]
}
