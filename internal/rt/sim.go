package rt

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// PageSize is the simulated Runtime's page size.
const PageSize = 4096

// Event is one scripted trap a SimUserContext's program raises when it is
// next executed. Real hardware would derive this from decoding instructions;
// since the CPU/platform layer is an external collaborator, tests and the
// harness drive SimUserContext with an explicit trace instead.
type Event struct {
	Trap      TrapInfo
	SyscallNr int64
	Args      [6]uintptr
}

// SimUserContext is a register file driven by a scripted trace of Events,
// standing in for a real CPU's trap mechanism.
type SimUserContext struct {
	mu sync.Mutex

	ip, sp, tls   uintptr
	syscallNr     int64
	syscallArgs   [6]uintptr
	syscallRet    int64
	trap          TrapInfo
	events        []Event
	nextEventIdx  int
}

// NewSimUserContext creates a context that will raise the given events, in
// order, on successive calls to Execute.
func NewSimUserContext(entry, stackTop uintptr, events []Event) *SimUserContext {
	return &SimUserContext{ip: entry, sp: stackTop, events: events}
}

func (c *SimUserContext) InstructionPointer() uintptr     { c.mu.Lock(); defer c.mu.Unlock(); return c.ip }
func (c *SimUserContext) SetInstructionPointer(v uintptr) { c.mu.Lock(); defer c.mu.Unlock(); c.ip = v }
func (c *SimUserContext) StackPointer() uintptr            { c.mu.Lock(); defer c.mu.Unlock(); return c.sp }
func (c *SimUserContext) SetStackPointer(v uintptr)        { c.mu.Lock(); defer c.mu.Unlock(); c.sp = v }
func (c *SimUserContext) TLSPointer() uintptr               { c.mu.Lock(); defer c.mu.Unlock(); return c.tls }
func (c *SimUserContext) SetTLSPointer(v uintptr)           { c.mu.Lock(); defer c.mu.Unlock(); c.tls = v }
func (c *SimUserContext) SyscallNumber() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syscallNr
}
func (c *SimUserContext) SyscallArguments() [6]uintptr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syscallArgs
}
func (c *SimUserContext) SetSyscallReturnValue(v int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syscallRet = v
}
func (c *SimUserContext) TrapInformation() TrapInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trap
}

// Clone returns an independent context sharing the same register snapshot
// but consuming no further scripted events (a cloned child has no separate
// trace of its own in this simulation; see DESIGN.md).
func (c *SimUserContext) Clone() UserContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &SimUserContext{ip: c.ip, sp: c.sp, tls: c.tls}
}

// PushEvents appends to the remaining scripted trace; used by a cloned
// child's owner to give it its own continuation.
func (c *SimUserContext) PushEvents(events ...Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
}

type simUserMode struct {
	ctx *SimUserContext
}

func (m *simUserMode) ContextMut() UserContext { return m.ctx }

func (m *simUserMode) Execute(ctx context.Context, pred func() bool) (ReturnReason, error) {
	if pred != nil && pred() {
		return ReturnPredicateTrue, nil
	}
	m.ctx.mu.Lock()
	if m.ctx.nextEventIdx >= len(m.ctx.events) {
		m.ctx.mu.Unlock()
		<-ctx.Done()
		return ReturnUserException, ctx.Err()
	}
	ev := m.ctx.events[m.ctx.nextEventIdx]
	m.ctx.nextEventIdx++
	m.ctx.trap = ev.Trap
	m.ctx.syscallNr = ev.SyscallNr
	m.ctx.syscallArgs = ev.Args
	m.ctx.mu.Unlock()
	return ReturnUserException, nil
}

// SimVmSpace is a no-op VmSpace: activation has no observable effect beyond
// being callable, since this Runtime simulation never touches real page
// tables.
type SimVmSpace struct{ id int }

func (*SimVmSpace) Activate() {}

// SimUserSpace pairs a SimVmSpace with a SimUserContext.
type SimUserSpace struct {
	vmSpace *SimVmSpace
	ctx     *SimUserContext
}

func NewSimUserSpace(vmSpace *SimVmSpace, ctx *SimUserContext) *SimUserSpace {
	return &SimUserSpace{vmSpace: vmSpace, ctx: ctx}
}

func (s *SimUserSpace) VmSpace() VmSpace { return s.vmSpace }
func (s *SimUserSpace) UserMode() UserMode {
	return &simUserMode{ctx: s.ctx}
}

// simJoinHandle resolves when the owning goroutine finishes.
type simJoinHandle struct {
	done chan struct{}
	err  error
}

func (h *simJoinHandle) Join(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// simTask runs a future on its own goroutine, one goroutine per task as
// gvisor itself schedules task goroutines rather than literal coroutines.
type simTask struct {
	sched *SimScheduler
}

func (t *simTask) Run(fn func(ctx context.Context)) JoinHandle {
	h := &simJoinHandle{done: make(chan struct{})}
	t.sched.wg.Add(1)
	go func() {
		defer t.sched.wg.Done()
		defer close(h.done)
		if err := t.sched.sem.Acquire(context.Background(), 1); err != nil {
			h.err = err
			return
		}
		defer t.sched.sem.Release(1)
		fn(t.sched.ctx)
	}()
	return h
}

// SimScheduler is a cooperative, timer-free scheduler bounding the number of
// "CPUs" (concurrently running task goroutines) via a weighted semaphore,
// bounding how many tasks run in parallel under a fixed CPU count.
type SimScheduler struct {
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSimScheduler creates a scheduler that runs at most numCPU tasks
// concurrently.
func NewSimScheduler(numCPU int64) *SimScheduler {
	if numCPU <= 0 {
		numCPU = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SimScheduler{sem: semaphore.NewWeighted(numCPU), ctx: ctx, cancel: cancel}
}

func (s *SimScheduler) NewTask() Task { return &simTask{sched: s} }

// NewVmSpace allocates a fresh SimVmSpace.
func (s *SimScheduler) NewVmSpace() VmSpace { return &SimVmSpace{} }

// NewUserSpace pairs vm and ctx into a SimUserSpace. Both must have been
// produced by this Runtime (NewVmSpace and a SimUserContext constructor or
// Clone), since no other VmSpace/UserContext implementation exists in this
// simulation.
func (s *SimScheduler) NewUserSpace(vm VmSpace, ctx UserContext) UserSpace {
	simVm, ok := vm.(*SimVmSpace)
	if !ok {
		panic("rt: NewUserSpace given a VmSpace not produced by this Runtime")
	}
	simCtx, ok := ctx.(*SimUserContext)
	if !ok {
		panic("rt: NewUserSpace given a UserContext not produced by this Runtime")
	}
	return NewSimUserSpace(simVm, simCtx)
}

// Stop cancels all outstanding tasks and waits for their goroutines to
// return, once the scheduler is stopped.
func (s *SimScheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Wait blocks until every task spawned so far has returned, without
// cancelling the scheduler's context.
func (s *SimScheduler) Wait() {
	s.wg.Wait()
}

type simFrameAllocator struct{}

// NewSimFrameAllocator returns the default FrameAllocator used by the
// simulated Runtime: PageSize-sized zeroed byte slices.
func NewSimFrameAllocator() FrameAllocator { return simFrameAllocator{} }

func (simFrameAllocator) Alloc() ([]byte, error) {
	return make([]byte, PageSize), nil
}

func (simFrameAllocator) Duplicate(src []byte) ([]byte, error) {
	if len(src) != PageSize {
		return nil, fmt.Errorf("rt: frame size %d != PageSize", len(src))
	}
	dst := make([]byte, PageSize)
	copy(dst, src)
	return dst, nil
}
