package kernel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xingmin1/NexusOS-sub000/internal/rt"
)

func TestHandleGetpidReturnsThreadGroupID(t *testing.T) {
	sched := rt.NewSimScheduler(1)
	defer sched.Stop()
	ts := newTestThreadState(t, sched, nil)

	res, err := handleGetpid(ts, nil, [6]uintptr{})
	require.NoError(t, err)
	require.EqualValues(t, ts.ThreadGroup.ID(), res.RetVal)
}

func TestHandleGetppidReportsInitWhenNoParent(t *testing.T) {
	sched := rt.NewSimScheduler(1)
	defer sched.Stop()
	ts := newTestThreadState(t, sched, nil)

	res, err := handleGetppid(ts, nil, [6]uintptr{})
	require.NoError(t, err)
	require.EqualValues(t, 1, res.RetVal)
}

func TestHandleGetppidReportsRealParent(t *testing.T) {
	sched := rt.NewSimScheduler(1)
	defer sched.Stop()
	parent := NewThreadSharedInfo(nil)
	ts := newTestThreadState(t, sched, nil)
	ts.SharedInfo = NewThreadSharedInfo(parent)

	res, err := handleGetppid(ts, nil, [6]uintptr{})
	require.NoError(t, err)
	require.EqualValues(t, parent.Tid, res.RetVal)
}
