package kernel

import (
	"github.com/xingmin1/NexusOS-sub000/internal/errs"
	"github.com/xingmin1/NexusOS-sub000/internal/rt"
)

// Syscall numbers this kernel core recognizes, matching the Linux x86-64
// ABI subset named in the syscall ABI section.
const (
	SysRead      = 0
	SysWrite     = 1
	SysMmap      = 9
	SysMunmap    = 11
	SysBrk       = 12
	SysGetpid    = 39
	SysClone     = 56
	SysExecve    = 59
	SysExit      = 60
	SysWait4     = 61
	SysUname     = 63
	SysGetppid   = 110
	SysExitGroup = 231
)

// SyscallResult is the outcome of one dispatched syscall: either resume the
// caller with RetVal (unless NoReturnValue, used by execve which has
// already repointed the context itself), or terminate the thread with
// ExitCode.
type SyscallResult struct {
	Continue      bool
	RetVal        int64
	NoReturnValue bool
	ExitCode      int32
}

func continueWith(ret int64) (SyscallResult, error) {
	return SyscallResult{Continue: true, RetVal: ret}, nil
}

func continueNoReturn() (SyscallResult, error) {
	return SyscallResult{Continue: true, NoReturnValue: true}, nil
}

func exitWith(code int32) (SyscallResult, error) {
	return SyscallResult{Continue: false, ExitCode: code}, nil
}

// Handler implements one syscall.
type Handler func(ts *ThreadState, ctx rt.UserContext, args [6]uintptr) (SyscallResult, error)

var handlers = map[int64]Handler{
	SysClone:     handleClone,
	SysExecve:    handleExecve,
	SysExit:      handleExit,
	SysExitGroup: handleExitGroup,
	SysWait4:     handleWait4,
	SysGetpid:    handleGetpid,
	SysGetppid:   handleGetppid,
	SysBrk:       handleBrk,
	SysMmap:      handleMmap,
	SysMunmap:    handleMunmap,
	SysUname:     handleUname,
}

// Dispatch routes one syscall trap to its handler.
func Dispatch(ts *ThreadState, ctx rt.UserContext, nr int64, args [6]uintptr) (SyscallResult, error) {
	h, ok := handlers[nr]
	if !ok {
		return SyscallResult{}, errs.New(errs.ENOSYS, "dispatch: unrecognized syscall")
	}
	return h(ts, ctx, args)
}
