package kernel

import "github.com/xingmin1/NexusOS-sub000/internal/rt"

// handleBrk implements brk(2): a zero argument queries the current break,
// grounded on the original's vm/brk.rs.
func handleBrk(ts *ThreadState, _ rt.UserContext, args [6]uintptr) (SyscallResult, error) {
	newBrk := uint64(args[0])
	var target *uint64
	if newBrk != 0 {
		target = &newBrk
	}
	end, err := ts.ProcessVm.Heap().Brk(target, ts.ProcessVm.RootVmar())
	if err != nil {
		return SyscallResult{}, err
	}
	return continueWith(int64(end))
}
