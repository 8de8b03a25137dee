package kernel

import (
	"context"

	"github.com/xingmin1/NexusOS-sub000/internal/errs"
	"github.com/xingmin1/NexusOS-sub000/internal/fdtable"
	"github.com/xingmin1/NexusOS-sub000/internal/mm"
	"github.com/xingmin1/NexusOS-sub000/internal/rt"
)

// CloneFlags mirrors the subset of Linux's clone(2) flags this kernel core
// recognizes.
type CloneFlags uint64

const (
	CloneVM       CloneFlags = 0x00000100
	CloneFS       CloneFlags = 0x00000200
	CloneFiles    CloneFlags = 0x00000400
	CloneSighand  CloneFlags = 0x00000800
	CloneParent   CloneFlags = 0x00008000
	CloneThread   CloneFlags = 0x00010000
	CloneSettls   CloneFlags = 0x00080000
	ParentSettid  CloneFlags = 0x00100000
	ChildCleartid CloneFlags = 0x00200000
	ChildSettid   CloneFlags = 0x01000000
)

func (f CloneFlags) has(bit CloneFlags) bool { return f&bit == bit }

func handleClone(ts *ThreadState, ctx rt.UserContext, args [6]uintptr) (SyscallResult, error) {
	flags := CloneFlags(args[0])
	childStack := uint64(args[1])
	tls := uint64(args[2])

	if flags.has(CloneSighand) && !flags.has(CloneVM) {
		return SyscallResult{}, errs.New(errs.EINVAL, "clone: CLONE_SIGHAND requires CLONE_VM")
	}
	if flags.has(CloneThread) && !(flags.has(CloneSighand) && flags.has(CloneVM)) {
		return SyscallResult{}, errs.New(errs.EINVAL, "clone: CLONE_THREAD requires CLONE_SIGHAND|CLONE_VM")
	}

	var newTid uint64
	var err error
	if flags.has(CloneThread) {
		newTid, err = cloneThread(ts, flags, childStack, tls)
	} else {
		newTid, err = cloneProcess(ts, flags, childStack, tls)
	}
	if err != nil {
		return SyscallResult{}, err
	}
	return continueWith(int64(newTid))
}

func cloneThread(parent *ThreadState, flags CloneFlags, childStack, tls uint64) (uint64, error) {
	childVm := parent.ProcessVm
	tgroup := parent.ThreadGroup
	childFdTable := childFdTable(parent, flags)
	vmSpace := parent.UserSpace.VmSpace()
	return spawnChild(parent, parent.SharedInfo.Parent(), childVm, vmSpace, tgroup, childFdTable, flags, childStack, tls, false)
}

func cloneProcess(parent *ThreadState, flags CloneFlags, childStack, tls uint64) (uint64, error) {
	var childVm *mm.ProcessVm
	var vmSpace rt.VmSpace
	if flags.has(CloneVM) {
		childVm = parent.ProcessVm
		vmSpace = parent.UserSpace.VmSpace()
	} else {
		vmSpace = parent.Scheduler.NewVmSpace()
		childVm = mm.ForkProcessVm(parent.ProcessVm, vmSpace)
	}

	childFdTable := childFdTable(parent, flags)

	parentProcess := parent.SharedInfo.Parent()
	if !flags.has(CloneParent) {
		parentProcess = parent.SharedInfo
	}

	// The new thread becomes its own process's group leader: tgid == its tid.
	return spawnChild(parent, parentProcess, childVm, vmSpace, nil, childFdTable, flags, childStack, tls, true)
}

func childFdTable(parent *ThreadState, flags CloneFlags) *fdtable.Table {
	if flags.has(CloneFiles) {
		return parent.FdTable
	}
	return parent.FdTable.Fork()
}

// spawnChild allocates the child's identity, wires it into a thread group
// (tgroup, or a freshly-created group led by the child itself when tgroup
// is nil), builds its user context, and starts its goroutine.
func spawnChild(
	parent *ThreadState,
	parentProcess *ThreadSharedInfo,
	childVm *mm.ProcessVm,
	vmSpace rt.VmSpace,
	tgroup *ThreadGroup,
	fdTable *fdtable.Table,
	flags CloneFlags,
	childStack, tls uint64,
	isChildProcess bool,
) (uint64, error) {
	childShared := NewThreadSharedInfo(parentProcess)
	if tgroup == nil {
		tgroup = NewThreadGroupLeader(childShared)
	} else {
		tgroup.Attach(childShared)
	}

	parentUserCtx := parent.UserSpace.UserMode().ContextMut()
	childCtx := parentUserCtx.Clone()
	childCtx.SetSyscallReturnValue(0)
	if childStack != 0 {
		childCtx.SetStackPointer(uintptr(childStack))
	}
	if flags.has(CloneSettls) {
		childCtx.SetTLSPointer(uintptr(tls))
	}
	childUserSpace := parent.Scheduler.NewUserSpace(vmSpace, childCtx)

	childTask := parent.Scheduler.NewTask()
	childTs := &ThreadState{
		Task:        childTask,
		UserSpace:   childUserSpace,
		ThreadGroup: tgroup,
		ProcessVm:   childVm,
		SharedInfo:  childShared,
		FdTable:     fdTable,
		Loader:      parent.Loader,
		Scheduler:   parent.Scheduler,
		Alloc:       parent.Alloc,
	}

	if isChildProcess && parentProcess != nil {
		parentProcess.AddChild(childShared)
	}

	childTask.Run(func(ctx context.Context) { runThread(ctx, childTs) })
	return childShared.Tid, nil
}
