package kernel

import "github.com/xingmin1/NexusOS-sub000/internal/rt"

// handleExit terminates only the calling thread.
func handleExit(ts *ThreadState, _ rt.UserContext, args [6]uintptr) (SyscallResult, error) {
	code := int32(args[0]) & 0xff
	return exitWith(code)
}

// handleExitGroup marks every thread in the calling thread's group exited
// with code; each other member's run loop stops before it next enters user
// mode, and the caller itself exits on return.
func handleExitGroup(ts *ThreadState, _ rt.UserContext, args [6]uintptr) (SyscallResult, error) {
	code := int32(args[0]) & 0xff
	for _, member := range ts.ThreadGroup.Members() {
		if member.Tid == ts.SharedInfo.Tid {
			continue
		}
		member.Lifecycle.Exit(code)
		if parent := member.Parent(); parent != nil {
			parent.notifyChildEvent()
		}
	}
	return exitWith(code)
}
