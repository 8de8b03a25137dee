package kernel

import "github.com/xingmin1/NexusOS-sub000/internal/rt"

func handleGetpid(ts *ThreadState, _ rt.UserContext, _ [6]uintptr) (SyscallResult, error) {
	return continueWith(int64(ts.ThreadGroup.ID()))
}

// handleGetppid reports 1 (init) for a thread whose parent has already
// exited and been reaped, mirroring Linux reparenting to init.
func handleGetppid(ts *ThreadState, _ rt.UserContext, _ [6]uintptr) (SyscallResult, error) {
	parent := ts.SharedInfo.Parent()
	if parent == nil {
		return continueWith(1)
	}
	return continueWith(int64(parent.Tid))
}
