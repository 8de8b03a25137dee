package kernel

import (
	"github.com/xingmin1/NexusOS-sub000/internal/errs"
	"github.com/xingmin1/NexusOS-sub000/internal/mm"
	"github.com/xingmin1/NexusOS-sub000/internal/rt"
)

// utsLen is the fixed width of each struct utsname field.
const utsLen = 65

// utsname mirrors struct utsname, one 65-byte field per member.
type utsname struct {
	Sysname    [utsLen]byte
	Nodename   [utsLen]byte
	Release    [utsLen]byte
	Version    [utsLen]byte
	Machine    [utsLen]byte
	Domainname [utsLen]byte
}

func fillUts(dst *[utsLen]byte, s string) {
	n := len(s)
	if n > utsLen-1 {
		n = utsLen - 1
	}
	copy(dst[:n], s[:n])
}

func currentUtsname() utsname {
	var u utsname
	fillUts(&u.Sysname, "NexusOS")
	fillUts(&u.Nodename, "localhost")
	fillUts(&u.Release, "0.1.0")
	fillUts(&u.Version, "0.1.0")
	fillUts(&u.Machine, "riscv32")
	fillUts(&u.Domainname, "")
	return u
}

// handleUname writes the fixed struct utsname describing this kernel core
// into the buffer named by args[0].
func handleUname(ts *ThreadState, _ rt.UserContext, args [6]uintptr) (SyscallResult, error) {
	bufPtr := uint64(args[0])
	if bufPtr == 0 {
		return SyscallResult{}, errs.New(errs.EFAULT, "uname: buf is NULL")
	}
	if err := mm.WriteProcVal(ts.ProcessVm, bufPtr, currentUtsname()); err != nil {
		return SyscallResult{}, err
	}
	return continueWith(0)
}
