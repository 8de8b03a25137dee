package kernel

import (
	"context"

	"github.com/xingmin1/NexusOS-sub000/internal/errs"
	"github.com/xingmin1/NexusOS-sub000/internal/mm"
	"github.com/xingmin1/NexusOS-sub000/internal/rt"
)

const wnohang = 0x01

// handleWait4 supports pid == -1 (any child) or a specific child tid.
func handleWait4(ts *ThreadState, ctx rt.UserContext, args [6]uintptr) (SyscallResult, error) {
	pid := int64(args[0])
	statusPtr := uint64(args[1])
	options := uint64(args[2])

	if options&wnohang != 0 {
		tid, code, found, err := tryCollect(ts.SharedInfo, pid)
		if err != nil {
			return SyscallResult{}, err
		}
		if found {
			writeStatus(ts, statusPtr, code)
			return continueWith(int64(tid))
		}
		return continueWith(0)
	}

	for {
		tid, code, found, err := tryCollect(ts.SharedInfo, pid)
		if err != nil {
			return SyscallResult{}, err
		}
		if found {
			writeStatus(ts, statusPtr, code)
			return continueWith(int64(tid))
		}
		<-ts.SharedInfo.childEventChan()
	}
}

// tryCollect looks for a matching, already-exited child and reaps it,
// matching the original's try_collect: it scans every matching child and
// keeps the last one found matching, then checks whether that one has
// exited.
func tryCollect(parent *ThreadSharedInfo, pid int64) (tid uint64, code int32, found bool, err error) {
	children := parent.Children()
	hasMatching := false
	var candidate *ThreadSharedInfo
	for _, c := range children {
		if pidMatches(pid, c.Tid) {
			hasMatching = true
			candidate = c
		}
	}
	if candidate == nil {
		if hasMatching {
			return 0, 0, false, nil
		}
		return 0, 0, false, errs.New(errs.ECHILD, "wait4: no child process")
	}
	if !candidate.Lifecycle.IsZombie() {
		return 0, 0, false, nil
	}
	exitCode, _ := candidate.Lifecycle.Wait(context.Background())
	parent.RemoveChild(candidate.Tid)
	return candidate.Tid, exitCode, true, nil
}

func pidMatches(request int64, tid uint64) bool {
	return request == -1 || uint64(request) == tid
}

func writeStatus(ts *ThreadState, statusPtr uint64, code int32) {
	if statusPtr == 0 {
		return
	}
	encoded := (code & 0xff) << 8
	_ = mm.WriteProcVal(ts.ProcessVm, statusPtr, encoded)
}
