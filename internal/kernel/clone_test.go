package kernel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xingmin1/NexusOS-sub000/internal/errs"
	"github.com/xingmin1/NexusOS-sub000/internal/rt"
)

func TestHandleCloneSighandRequiresVm(t *testing.T) {
	sched := rt.NewSimScheduler(2)
	defer sched.Stop()
	ts := newTestThreadState(t, sched, nil)

	_, err := handleClone(ts, nil, [6]uintptr{uintptr(CloneSighand), 0, 0})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.EINVAL))
}

func TestHandleCloneThreadRequiresSighandAndVm(t *testing.T) {
	sched := rt.NewSimScheduler(2)
	defer sched.Stop()
	ts := newTestThreadState(t, sched, nil)

	_, err := handleClone(ts, nil, [6]uintptr{uintptr(CloneThread | CloneVM), 0, 0})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.EINVAL))
}

func TestCloneProcessGetsFreshThreadGroup(t *testing.T) {
	sched := rt.NewSimScheduler(4)
	defer sched.Stop()
	ts := newTestThreadState(t, sched, nil)

	newTid, err := cloneProcess(ts, 0, 0, 0)
	require.NoError(t, err)
	require.NotEqual(t, ts.ThreadGroup.ID(), newTid)
	require.Contains(t, ts.SharedInfo.Children(), mustFindChild(t, ts, newTid))
}

func TestCloneProcessWithoutCloneVmForksAddressSpace(t *testing.T) {
	sched := rt.NewSimScheduler(4)
	defer sched.Stop()
	ts := newTestThreadState(t, sched, nil)

	_, err := cloneProcess(ts, 0, 0, 0)
	require.NoError(t, err)
}

func TestCloneThreadJoinsParentThreadGroup(t *testing.T) {
	sched := rt.NewSimScheduler(4)
	defer sched.Stop()
	ts := newTestThreadState(t, sched, nil)

	before := len(ts.ThreadGroup.Members())
	tgidBefore := ts.ThreadGroup.ID()
	newTid, err := cloneThread(ts, CloneThread|CloneSighand|CloneVM, 0, 0)
	require.NoError(t, err)
	require.NotZero(t, newTid)
	require.Len(t, ts.ThreadGroup.Members(), before+1)
	require.Equal(t, tgidBefore, ts.ThreadGroup.ID(), "tgid is unchanged by clone_thread")
}

func TestCloneProcessWithCloneParentAttachesToGrandparent(t *testing.T) {
	sched := rt.NewSimScheduler(4)
	defer sched.Stop()
	grandparent := NewThreadSharedInfo(nil)
	ts := newTestThreadState(t, sched, nil)
	ts.SharedInfo = NewThreadSharedInfo(grandparent)

	newTid, err := cloneProcess(ts, CloneParent, 0, 0)
	require.NoError(t, err)
	require.Contains(t, grandparent.Children(), mustFindChild(t, ts, newTid))
	require.Empty(t, ts.SharedInfo.Children(), "CLONE_PARENT attaches the child to the caller's parent, not the caller")
}

func TestChildFdTableIsIndependentWithoutCloneFiles(t *testing.T) {
	sched := rt.NewSimScheduler(2)
	defer sched.Stop()
	ts := newTestThreadState(t, sched, nil)

	tbl := childFdTable(ts, 0)
	require.NotSame(t, ts.FdTable, tbl)
}

func TestChildFdTableIsSharedWithCloneFiles(t *testing.T) {
	sched := rt.NewSimScheduler(2)
	defer sched.Stop()
	ts := newTestThreadState(t, sched, nil)

	tbl := childFdTable(ts, CloneFiles)
	require.Same(t, ts.FdTable, tbl)
}

// mustFindChild is a helper that locates a child by tid, for assertions that
// want to compare identity rather than just presence.
func mustFindChild(t *testing.T, ts *ThreadState, tid uint64) *ThreadSharedInfo {
	t.Helper()
	for _, c := range ts.SharedInfo.Children() {
		if c.Tid == tid {
			return c
		}
	}
	for _, c := range ts.SharedInfo.Parent().Children() {
		if c.Tid == tid {
			return c
		}
	}
	t.Fatalf("no child with tid %d found", tid)
	return nil
}
