// Package mm implements process virtual memory: Vmo, Vmar, the init-stack
// builder, the ELF loader, and ProcessVm.
package mm

import (
	"sync"

	"github.com/xingmin1/NexusOS-sub000/internal/errs"
	"github.com/xingmin1/NexusOS-sub000/internal/rt"
)

// PageSize is the fixed page size pages are committed in.
const PageSize = uint64(rt.PageSize)

// AlignDown rounds addr down to the nearest page boundary.
func AlignDown(addr uint64) uint64 { return addr &^ (PageSize - 1) }

// AlignUp rounds addr up to the nearest page boundary.
func AlignUp(addr uint64) uint64 { return AlignDown(addr+PageSize-1) }

func pageIndex(offset uint64) uint64 { return offset / PageSize }

type pageEntry struct {
	frame []byte
	// private is false for a page shared with another Vmo since a fork,
	// until one side's write fault duplicates it.
	private bool
}

// Vmo is a lazily-populated, page-addressed byte store of fixed length.
// Uncommitted pages read as zero.
type Vmo struct {
	mu    sync.Mutex
	len   uint64
	pages map[uint64]*pageEntry
	alloc rt.FrameAllocator
}

// NewVmo allocates a Vmo of the given byte length with every page
// uncommitted.
func NewVmo(length uint64, alloc rt.FrameAllocator) *Vmo {
	return &Vmo{len: length, pages: make(map[uint64]*pageEntry), alloc: alloc}
}

// Len returns the Vmo's fixed byte length.
func (v *Vmo) Len() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.len
}

// CommitPage returns the backing frame for the page containing offset,
// allocating and zero-filling it on first access.
func (v *Vmo) CommitPage(offset uint64) ([]byte, error) {
	idx := pageIndex(offset)
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.commitLocked(idx)
}

func (v *Vmo) commitLocked(idx uint64) ([]byte, error) {
	if e, ok := v.pages[idx]; ok {
		return e.frame, nil
	}
	frame, err := v.alloc.Alloc()
	if err != nil {
		return nil, errs.New(errs.ENOMEM, "vmo: frame allocation failed")
	}
	v.pages[idx] = &pageEntry{frame: frame, private: true}
	return frame, nil
}

// isPrivate reports whether the page at index idx is privately owned
// by this Vmo (as opposed to shared with a sibling since a fork). It does
// not commit the page.
func (v *Vmo) isPrivate(idx uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.pages[idx]
	return !ok || e.private
}

// Replace atomically substitutes the page at pageIndex with frame, marking
// it privately owned. Used by Vmar.HandlePageFault to realize copy-on-write;
// the ELF loader does not call it.
func (v *Vmo) Replace(frame []byte, pageIdx uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pages[pageIdx] = &pageEntry{frame: frame, private: true}
}

// Fork returns a new Vmo of the same length sharing this Vmo's committed
// frames. Both the source's and the result's pages are marked non-private,
// so the first write fault on either side duplicates that page instead of
// mutating the shared frame, realizing fork_from's copy-on-write obligation.
func (v *Vmo) Fork() *Vmo {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := &Vmo{len: v.len, pages: make(map[uint64]*pageEntry, len(v.pages)), alloc: v.alloc}
	for idx, e := range v.pages {
		e.private = false
		out.pages[idx] = &pageEntry{frame: e.frame, private: false}
	}
	return out
}

// ReadSlice reads len(buf) bytes starting at offset. Uncommitted pages
// contribute zero bytes without being committed.
func (v *Vmo) ReadSlice(offset uint64, buf []byte) error {
	if offset+uint64(len(buf)) > v.Len() {
		return errs.New(errs.EFAULT, "vmo: read out of range")
	}
	for n := 0; n < len(buf); {
		off := offset + uint64(n)
		idx := pageIndex(off)
		inPage := off % PageSize
		chunk := int(min64(PageSize-inPage, uint64(len(buf)-n)))
		v.mu.Lock()
		e, ok := v.pages[idx]
		v.mu.Unlock()
		if ok {
			copy(buf[n:n+chunk], e.frame[inPage:int(inPage)+chunk])
		}
		n += chunk
	}
	return nil
}

// WriteSlice writes data starting at offset, committing pages as needed.
func (v *Vmo) WriteSlice(offset uint64, data []byte) error {
	if offset+uint64(len(data)) > v.Len() {
		return errs.New(errs.EFAULT, "vmo: write out of range")
	}
	for n := 0; n < len(data); {
		off := offset + uint64(n)
		idx := pageIndex(off)
		inPage := off % PageSize
		chunk := int(min64(PageSize-inPage, uint64(len(data)-n)))
		v.mu.Lock()
		frame, err := v.commitLocked(idx)
		v.mu.Unlock()
		if err != nil {
			return err
		}
		copy(frame[inPage:int(inPage)+chunk], data[n:n+chunk])
		n += chunk
	}
	return nil
}

// ReadCString reads a NUL-terminated string starting at offset, up to
// maxLen bytes excluding the terminator.
func (v *Vmo) ReadCString(offset uint64, maxLen int) (string, error) {
	buf := make([]byte, 0, 64)
	var chunk [64]byte
	for off := offset; len(buf) < maxLen; off += uint64(len(chunk)) {
		n := len(chunk)
		if remaining := v.Len() - off; remaining < uint64(n) {
			n = int(remaining)
		}
		if n == 0 {
			return "", errs.New(errs.EFAULT, "vmo: unterminated string")
		}
		if err := v.ReadSlice(off, chunk[:n]); err != nil {
			return "", err
		}
		for i := 0; i < n; i++ {
			if chunk[i] == 0 {
				buf = append(buf, chunk[:i]...)
				if len(buf) > maxLen {
					return "", errs.New(errs.ENAMETOOLONG, "vmo: string exceeds max length")
				}
				return string(buf), nil
			}
		}
		buf = append(buf, chunk[:n]...)
	}
	return "", errs.New(errs.ENAMETOOLONG, "vmo: string exceeds max length")
}

// WriteVal writes the fixed-size value val at offset using its raw bytes.
func WriteVal[T any](v *Vmo, offset uint64, val T) error {
	buf := anyToBytes(&val)
	return v.WriteSlice(offset, buf)
}

// ReadVal reads a fixed-size value of type T from offset.
func ReadVal[T any](v *Vmo, offset uint64) (T, error) {
	var out T
	buf := anyToBytes(&out)
	if err := v.ReadSlice(offset, buf); err != nil {
		return out, err
	}
	return out, nil
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
