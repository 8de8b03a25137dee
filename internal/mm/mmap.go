package mm

import (
	"github.com/xingmin1/NexusOS-sub000/internal/errs"
)

// MmapFlags mirrors the POSIX mmap(2) flag bits this kernel core
// recognizes.
type MmapFlags uint32

const (
	MapShared MmapFlags = 1 << iota
	MapPrivate
	MapFixed
	MapAnonymous
)

// Mmap creates an anonymous or fixed-address mapping in the process's
// address space. File-backed mmap is a stated Non-goal; only MAP_ANONYMOUS
// is accepted.
func Mmap(pv *ProcessVm, addr, length uint64, perms VmPerms, flags MmapFlags) (uint64, error) {
	if flags&MapAnonymous == 0 {
		return 0, errs.New(errs.ENOSYS, "mmap: file-backed mappings are unsupported")
	}
	if length == 0 {
		return 0, errs.New(errs.EINVAL, "mmap: zero length")
	}
	length = AlignUp(length)

	b := pv.rootVmar.NewMap(length, perms)
	if flags&MapFixed != 0 {
		if addr%PageSize != 0 {
			return 0, errs.New(errs.EINVAL, "mmap: MAP_FIXED address not page-aligned")
		}
		b = b.At(addr).CanOverwrite(true)
	} else {
		placed, err := pv.rootVmar.findFreeRange(length)
		if err != nil {
			return 0, err
		}
		b = b.At(placed)
	}
	return b.Build()
}

// Munmap removes [addr, addr+len) from the process's address space, per
// do_munmap in the original kernel (vm/munmap.rs): addr must be
// page-aligned and len non-zero; len is rounded up to a page boundary.
func Munmap(pv *ProcessVm, addr, length uint64) error {
	if addr%PageSize != 0 || length == 0 {
		return errs.New(errs.EINVAL, "munmap: bad addr/len")
	}
	length = AlignUp(length)
	return pv.rootVmar.RemoveMapping(addr, addr+length)
}
