package kernel

import (
	"github.com/xingmin1/NexusOS-sub000/internal/mm"
	"github.com/xingmin1/NexusOS-sub000/internal/rt"
)

// Linux mmap(2) prot/flags bit values this kernel core recognizes.
const (
	protRead  = 0x1
	protWrite = 0x2
	protExec  = 0x4

	mapShared    = 0x01
	mapPrivate   = 0x02
	mapFixed     = 0x10
	mapAnonymous = 0x20
)

func vmPermsFromProt(prot uint64) mm.VmPerms {
	var p mm.VmPerms
	if prot&protRead != 0 {
		p |= mm.PermRead
	}
	if prot&protWrite != 0 {
		p |= mm.PermWrite
	}
	if prot&protExec != 0 {
		p |= mm.PermExec
	}
	return p
}

func mmapFlagsFromLinux(flags uint64) mm.MmapFlags {
	var f mm.MmapFlags
	if flags&mapShared != 0 {
		f |= mm.MapShared
	}
	if flags&mapPrivate != 0 {
		f |= mm.MapPrivate
	}
	if flags&mapFixed != 0 {
		f |= mm.MapFixed
	}
	if flags&mapAnonymous != 0 {
		f |= mm.MapAnonymous
	}
	return f
}

// handleMmap implements the mmap(2) syscall ABI: addr, length, prot, flags,
// fd, offset. Only anonymous mappings are supported; fd/offset are ignored.
func handleMmap(ts *ThreadState, _ rt.UserContext, args [6]uintptr) (SyscallResult, error) {
	addr := uint64(args[0])
	length := uint64(args[1])
	prot := uint64(args[2])
	flags := uint64(args[3])

	ret, err := mm.Mmap(ts.ProcessVm, addr, length, vmPermsFromProt(prot), mmapFlagsFromLinux(flags))
	if err != nil {
		return SyscallResult{}, err
	}
	return continueWith(int64(ret))
}

// handleMunmap implements munmap(2): addr, length.
func handleMunmap(ts *ThreadState, _ rt.UserContext, args [6]uintptr) (SyscallResult, error) {
	addr := uint64(args[0])
	length := uint64(args[1])
	if err := mm.Munmap(ts.ProcessVm, addr, length); err != nil {
		return SyscallResult{}, err
	}
	return continueWith(0)
}
