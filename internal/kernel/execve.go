package kernel

import (
	"github.com/xingmin1/NexusOS-sub000/internal/errs"
	"github.com/xingmin1/NexusOS-sub000/internal/mm"
	"github.com/xingmin1/NexusOS-sub000/internal/rt"
)

const maxPathLen = 4096

// handleExecve replaces the calling thread's image in place: a fresh
// address space is loaded over the existing ProcessVm, and the user context
// is repointed at the new entry point and stack. It never returns a syscall
// value on success, matching the original's ControlFlow::Continue(None).
func handleExecve(ts *ThreadState, ctx rt.UserContext, args [6]uintptr) (SyscallResult, error) {
	pathPtr := uint64(args[0])
	argvPtr := uint64(args[1])
	envpPtr := uint64(args[2])

	path, err := ts.ProcessVm.ReadCString(pathPtr, maxPathLen)
	if err != nil {
		return SyscallResult{}, err
	}
	argv, err := readCStringVec(ts.ProcessVm, argvPtr, mm.MaxArgvNumber, mm.MaxArgLen)
	if err != nil {
		return SyscallResult{}, err
	}
	envp, err := readCStringVec(ts.ProcessVm, envpPtr, mm.MaxEnvpNumber, mm.MaxEnvLen)
	if err != nil {
		return SyscallResult{}, err
	}

	image, err := ts.Loader.LoadImage(path)
	if err != nil {
		return SyscallResult{}, err
	}

	ts.ProcessVm.RootVmar().Clear()
	info, err := mm.LoadElfToVm(ts.ProcessVm, ts.Alloc, image, argv, envp)
	if err != nil {
		return SyscallResult{}, err
	}

	ctx.SetInstructionPointer(uintptr(info.EntryPoint))
	ctx.SetStackPointer(uintptr(info.UserStackTop))

	ts.FdTable.ClearCloexecOnExec()

	return continueNoReturn()
}

// readCStringVec reads a NULL-terminated array of C-string pointers out of
// user memory, the layout argv/envp share, grounded on execve.rs's
// read_cstring_vec.
func readCStringVec(pv *mm.ProcessVm, arrayPtr uint64, maxCount, maxLen int) ([]string, error) {
	var out []string
	if arrayPtr == 0 {
		return out, nil
	}
	readAddr := arrayPtr
	foundNull := false
	for i := 0; i < maxCount; i++ {
		ptr, err := mm.ReadProcVal[uint64](pv, readAddr)
		if err != nil {
			return nil, err
		}
		readAddr += 8
		if ptr == 0 {
			foundNull = true
			break
		}
		s, err := pv.ReadCString(ptr, maxLen)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if !foundNull {
		return nil, errs.New(errs.E2BIG, "execve: argv/envp vector has no terminating NULL")
	}
	return out, nil
}
