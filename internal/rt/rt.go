// Package rt defines the Runtime contract this kernel core is built on top
// of: user contexts, address spaces, and a cooperative task
// scheduler. The core never constructs these directly; it only consumes the
// interfaces here, the same way the sentry kernel package treats
// ostd/platform as an external collaborator.
package rt

import "context"

// TrapCode identifies why UserSpace.Execute returned control to the kernel.
type TrapCode int

const (
	// UserEnvCall is a voluntary syscall trap (ecall/syscall instruction).
	UserEnvCall TrapCode = iota
	InstructionPageFault
	LoadPageFault
	StorePageFault
	OtherException
)

// TrapInfo describes the reason a task returned from user mode.
type TrapInfo struct {
	Code TrapCode
	// Addr is the faulting address for *PageFault codes.
	Addr uintptr
}

// UserContext is the register file of a user-mode task. Implementations are
// provided by the Runtime; the kernel core only reads and writes through
// this interface.
type UserContext interface {
	InstructionPointer() uintptr
	SetInstructionPointer(uintptr)

	StackPointer() uintptr
	SetStackPointer(uintptr)

	TLSPointer() uintptr
	SetTLSPointer(uintptr)

	SyscallNumber() int64
	// SyscallArguments returns the six syscall argument registers.
	SyscallArguments() [6]uintptr
	SetSyscallReturnValue(int64)

	// TrapInformation describes the event that caused the most recent
	// return from Execute.
TrapInformation() TrapInfo

	// Clone returns an independent copy of this context, for use by clone(2).
	Clone() UserContext
}

// VmSpace is the hardware address space handle backing a ProcessVm's root
// Vmar. Activate makes it current on the calling (simulated) CPU.
type VmSpace interface {
	Activate()
}

// ReturnReason is why UserMode.Execute returned.
type ReturnReason int

const (
	ReturnUserException ReturnReason = iota
	ReturnPredicateTrue
)

// UserMode is the per-task handle used to enter and leave user-mode
// execution.
type UserMode interface {
	// Execute runs the task until a user exception/syscall occurs or pred
	// returns true, whichever happens first.
	Execute(ctx context.Context, pred func() bool) (ReturnReason, error)
	ContextMut() UserContext
}

// UserSpace pairs a VmSpace with a UserContext, producing UserMode handles.
type UserSpace interface {
	VmSpace() VmSpace
	UserMode() UserMode
}

// JoinHandle is returned by Task.Run; awaiting it blocks until the task's
// future completes.
type JoinHandle interface {
	Join(ctx context.Context) error
}

// Task is a schedulable unit of execution, backed by the Runtime's
// cooperative scheduler. In this Go rendition a Task's "future" is simply a
// function run on a dedicated goroutine, matching gvisor's one-goroutine-
// per-task model more closely than literal async/await would.
type Task interface {
	// Run schedules fn to execute, returning a handle that resolves when
	// fn returns.
	Run(fn func(ctx context.Context)) JoinHandle
}

// FrameAllocator produces zeroed page frames and duplicates existing ones,
// standing in for the Runtime's physical memory allocator.
type FrameAllocator interface {
	// Alloc returns a new zero-filled frame of PageSize bytes.
	Alloc() ([]byte, error)
	// Duplicate returns a new frame carrying a copy of src's contents.
	Duplicate(src []byte) ([]byte, error)
}

// Scheduler is the cooperative, timer-free task scheduler the Runtime
// exposes. NewTask creates a new Task; Stop halts the scheduler once the test
// harness's command sequence is exhausted. It also doubles as the Runtime's
// address-space/user-context factory, so that callers outside this package
// never need to name a concrete VmSpace or UserContext implementation.
type Scheduler interface {
	NewTask() Task
	Stop()

	// NewVmSpace allocates a fresh, empty hardware address space handle.
	NewVmSpace() VmSpace

	// NewUserSpace pairs a VmSpace with a UserContext produced by this same
	// Runtime. Implementations may panic if given a VmSpace or UserContext
	// they did not produce.
	NewUserSpace(vm VmSpace, ctx UserContext) UserSpace
}
