package kernel

import (
	"testing"

	"github.com/xingmin1/NexusOS-sub000/internal/fdtable"
	"github.com/xingmin1/NexusOS-sub000/internal/mm"
	"github.com/xingmin1/NexusOS-sub000/internal/rt"
)

// fakeLoader serves a fixed in-memory image regardless of path, for tests
// that don't exercise the filesystem-resolution concern.
type fakeLoader struct {
	image []byte
	err   error
}

func (l *fakeLoader) LoadImage(string) ([]byte, error) { return l.image, l.err }

// newTestThreadState builds a minimal, directly-constructed ThreadState —
// bypassing ThreadBuilder.Spawn's ELF load — for unit tests that exercise
// one syscall handler or one clone/exit path at a time.
func newTestThreadState(t *testing.T, sched rt.Scheduler, events []rt.Event) *ThreadState {
	t.Helper()
	alloc := rt.NewSimFrameAllocator()
	vmSpace := &rt.SimVmSpace{}
	pv := mm.AllocProcessVm(vmSpace, alloc)
	userCtx := rt.NewSimUserContext(0x1000, 0x2000, events)
	userSpace := rt.NewSimUserSpace(vmSpace, userCtx)
	shared := NewThreadSharedInfo(nil)
	tgroup := NewThreadGroupLeader(shared)

	return &ThreadState{
		Task:        sched.NewTask(),
		UserSpace:   userSpace,
		ThreadGroup: tgroup,
		ProcessVm:   pv,
		SharedInfo:  shared,
		FdTable:     fdtable.New(0),
		Loader:      &fakeLoader{},
		Scheduler:   sched,
		Alloc:       alloc,
	}
}
