package kernel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xingmin1/NexusOS-sub000/internal/mm"
	"github.com/xingmin1/NexusOS-sub000/internal/rt"
)

func TestHandleBrkQueryReturnsCurrentBreak(t *testing.T) {
	sched := rt.NewSimScheduler(1)
	defer sched.Stop()
	ts := newTestThreadState(t, sched, nil)

	res, err := handleBrk(ts, nil, [6]uintptr{0})
	require.NoError(t, err)
	require.EqualValues(t, mm.DefaultHeapBase, res.RetVal)
}

func TestHandleBrkGrowsHeap(t *testing.T) {
	sched := rt.NewSimScheduler(1)
	defer sched.Stop()
	ts := newTestThreadState(t, sched, nil)

	target := mm.DefaultHeapBase + rt.PageSize
	res, err := handleBrk(ts, nil, [6]uintptr{uintptr(target)})
	require.NoError(t, err)
	require.EqualValues(t, target, res.RetVal)

	again, err := handleBrk(ts, nil, [6]uintptr{0})
	require.NoError(t, err)
	require.EqualValues(t, target, again.RetVal)
}

func TestHandleBrkRejectsBeyondLimit(t *testing.T) {
	sched := rt.NewSimScheduler(1)
	defer sched.Stop()
	ts := newTestThreadState(t, sched, nil)

	target := mm.DefaultHeapBase + mm.MaxHeapSize + rt.PageSize
	_, err := handleBrk(ts, nil, [6]uintptr{uintptr(target)})
	require.Error(t, err)
}
