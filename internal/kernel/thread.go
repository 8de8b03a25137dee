package kernel

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/xingmin1/NexusOS-sub000/internal/errs"
	"github.com/xingmin1/NexusOS-sub000/internal/fdtable"
	"github.com/xingmin1/NexusOS-sub000/internal/mm"
	"github.com/xingmin1/NexusOS-sub000/internal/rt"
)

var log = logrus.WithField("subsystem", "kernel")

// ImageLoader resolves a path to raw ELF bytes. The concrete filesystem is
// out of scope for this kernel core; execve and the initial spawn both
// depend on this narrow interface instead.
type ImageLoader interface {
	LoadImage(path string) ([]byte, error)
}

// ThreadSharedInfo is the part of a thread's identity visible to its
// relatives: parent, children, and its own lifecycle.
type ThreadSharedInfo struct {
	Tid       uint64
	Lifecycle *Lifecycle

	mu       sync.RWMutex
	parent   *ThreadSharedInfo
	children []*ThreadSharedInfo

	childEventMu sync.Mutex
	childEvent   chan struct{}
}

// NewThreadSharedInfo allocates identity for a new thread with the given
// parent (nil for the init thread).
func NewThreadSharedInfo(parent *ThreadSharedInfo) *ThreadSharedInfo {
	return &ThreadSharedInfo{
		Tid: AllocID(), Lifecycle: NewLifecycle(), parent: parent,
		childEvent: make(chan struct{}),
	}
}

// childEventChan returns the channel that closes the next time any direct
// child of s exits, letting wait4 block without polling.
func (s *ThreadSharedInfo) childEventChan() chan struct{} {
	s.childEventMu.Lock()
	defer s.childEventMu.Unlock()
	return s.childEvent
}

// notifyChildEvent wakes every wait4 call currently blocked on s's children.
func (s *ThreadSharedInfo) notifyChildEvent() {
	s.childEventMu.Lock()
	defer s.childEventMu.Unlock()
	close(s.childEvent)
	s.childEvent = make(chan struct{})
}

func (s *ThreadSharedInfo) Parent() *ThreadSharedInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.parent
}

func (s *ThreadSharedInfo) AddChild(child *ThreadSharedInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.children = append(s.children, child)
}

func (s *ThreadSharedInfo) Children() []*ThreadSharedInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ThreadSharedInfo, len(s.children))
	copy(out, s.children)
	return out
}

func (s *ThreadSharedInfo) RemoveChild(tid uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.children[:0]
	for _, c := range s.children {
		if c.Tid != tid {
			out = append(out, c)
		}
	}
	s.children = out
}

// ThreadState is everything a syscall handler needs: the owning task, its
// process-level state, and this thread's own identity.
type ThreadState struct {
	Task        rt.Task
	UserSpace   rt.UserSpace
	ThreadGroup *ThreadGroup
	ProcessVm   *mm.ProcessVm
	SharedInfo  *ThreadSharedInfo
	FdTable     *fdtable.Table

	Loader    ImageLoader
	Scheduler rt.Scheduler
	Alloc     rt.FrameAllocator
}

// ThreadBuilder spawns the initial ("init") thread of a fresh process.
type ThreadBuilder struct {
	path      string
	argv      []string
	envp      []string
	loader    ImageLoader
	scheduler rt.Scheduler
	alloc     rt.FrameAllocator
	events    []rt.Event
}

func NewThreadBuilder(loader ImageLoader, scheduler rt.Scheduler, alloc rt.FrameAllocator) *ThreadBuilder {
	return &ThreadBuilder{loader: loader, scheduler: scheduler, alloc: alloc}
}

func (b *ThreadBuilder) Path(path string) *ThreadBuilder   { b.path = path; return b }
func (b *ThreadBuilder) Argv(argv []string) *ThreadBuilder { b.argv = argv; return b }
func (b *ThreadBuilder) Envp(envp []string) *ThreadBuilder { b.envp = envp; return b }

// Events sets the scripted user-mode trace to drive this thread's
// SimUserContext with, standing in for a real CPU's trap stream.
func (b *ThreadBuilder) Events(events []rt.Event) *ThreadBuilder { b.events = events; return b }

// Spawn loads the ELF at path and starts the init thread running on its own
// goroutine, returning its identity and a handle to join it.
func (b *ThreadBuilder) Spawn() (*ThreadSharedInfo, rt.JoinHandle, error) {
	image, err := b.loader.LoadImage(b.path)
	if err != nil {
		return nil, nil, err
	}

	vmSpace := b.scheduler.NewVmSpace()
	pv := mm.AllocProcessVm(vmSpace, b.alloc)
	info, err := mm.LoadElfToVm(pv, b.alloc, image, b.argv, b.envp)
	if err != nil {
		return nil, nil, err
	}

	userCtx := rt.NewSimUserContext(uintptr(info.EntryPoint), uintptr(info.UserStackTop), b.events)
	userSpace := b.scheduler.NewUserSpace(vmSpace, userCtx)

	shared := NewThreadSharedInfo(nil)
	tgroup := NewThreadGroupLeader(shared)
	task := b.scheduler.NewTask()

	ts := &ThreadState{
		Task:        task,
		UserSpace:   userSpace,
		ThreadGroup: tgroup,
		ProcessVm:   pv,
		SharedInfo:  shared,
		FdTable:     fdtable.New(0),
		Loader:      b.loader,
		Scheduler:   b.scheduler,
		Alloc:       b.alloc,
	}

	handle := task.Run(func(ctx context.Context) { runThread(ctx, ts) })
	return shared, handle, nil
}

// runThread is the per-task loop: enter user mode, dispatch whatever caused
// the return, repeat until the thread exits.
func runThread(ctx context.Context, ts *ThreadState) {
	userMode := ts.UserSpace.UserMode()
	var code int32
	for {
		if ts.SharedInfo.Lifecycle.IsZombie() {
			// Another member's exit_group already marked this thread exited.
			code = ts.SharedInfo.Lifecycle.exitCode.Load()
			break
		}
		reason, err := userMode.Execute(ctx, func() bool { return false })
		if err != nil {
			// Context canceled (scheduler stopped); treat as an abnormal
			// exit. A dry scripted trace blocks in Execute until then.
			code = -1
			break
		}
		if reason != rt.ReturnUserException {
			continue
		}
		userCtx := userMode.ContextMut()
		trap := userCtx.TrapInformation()
		if trap.Code == rt.UserEnvCall {
			nr := userCtx.SyscallNumber()
			args := userCtx.SyscallArguments()
			res, err := Dispatch(ts, userCtx, nr, args)
			if err != nil {
				userCtx.SetSyscallReturnValue(errs.SyscallReturn(err))
				continue
			}
			if !res.Continue {
				code = res.ExitCode
				break
			}
			if !res.NoReturnValue {
				userCtx.SetSyscallReturnValue(res.RetVal)
			}
			continue
		}
		if err := ts.ProcessVm.HandlePageFault(pageFaultInfoFromTrap(trap)); err != nil {
			// Not reported to user space; the next execution re-faults.
			log.WithError(err).WithField("tid", ts.SharedInfo.Tid).Warn("unhandled page fault")
		}
	}
	finishThread(ts, code)
}

// pageFaultInfoFromTrap derives the required permission from the trap code,
// translating a CpuException trap into a PageFaultInfo.
func pageFaultInfoFromTrap(trap rt.TrapInfo) mm.PageFaultInfo {
	perm := mm.PermRead
	switch trap.Code {
	case rt.InstructionPageFault:
		perm = mm.PermExec
	case rt.StorePageFault:
		perm = mm.PermWrite
	}
	return mm.PageFaultInfo{Address: uint64(trap.Addr), RequiredPerms: perm}
}

// finishThread marks the thread a zombie and, if it was the thread group's
// last living member, releases the process's address space.
func finishThread(ts *ThreadState, code int32) {
	ts.SharedInfo.Lifecycle.Exit(code)
	log.WithField("tid", ts.SharedInfo.Tid).WithField("code", code).Info("thread exit")
	if parent := ts.SharedInfo.Parent(); parent != nil {
		parent.notifyChildEvent()
	}
	if ts.ThreadGroup.AllZombie() {
		ts.ProcessVm.RootVmar().Clear()
	}
}
