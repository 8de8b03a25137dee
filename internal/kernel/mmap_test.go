package kernel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xingmin1/NexusOS-sub000/internal/errs"
	"github.com/xingmin1/NexusOS-sub000/internal/rt"
)

func TestVmPermsFromProtTranslatesEveryBit(t *testing.T) {
	p := vmPermsFromProt(protRead | protWrite | protExec)
	require.True(t, p.Has(1<<0))
	require.True(t, p.Has(1<<1))
	require.True(t, p.Has(1<<2))
}

func TestMmapFlagsFromLinuxTranslatesEveryBit(t *testing.T) {
	f := mmapFlagsFromLinux(mapShared | mapPrivate | mapFixed | mapAnonymous)
	require.NotZero(t, f&1)
	require.NotZero(t, f&2)
	require.NotZero(t, f&4)
	require.NotZero(t, f&8)
}

func TestHandleMmapAnonymousPicksAnAddress(t *testing.T) {
	sched := rt.NewSimScheduler(1)
	defer sched.Stop()
	ts := newTestThreadState(t, sched, nil)

	res, err := handleMmap(ts, nil, [6]uintptr{0, uintptr(rt.PageSize), protRead | protWrite, mapPrivate | mapAnonymous, 0, 0})
	require.NoError(t, err)
	require.NotZero(t, res.RetVal)
}

func TestHandleMmapFileBackedIsRejected(t *testing.T) {
	sched := rt.NewSimScheduler(1)
	defer sched.Stop()
	ts := newTestThreadState(t, sched, nil)

	_, err := handleMmap(ts, nil, [6]uintptr{0, uintptr(rt.PageSize), protRead, mapPrivate, 3, 0})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.ENOSYS))
}

func TestHandleMunmapThenFaultOnSameAddress(t *testing.T) {
	sched := rt.NewSimScheduler(1)
	defer sched.Stop()
	ts := newTestThreadState(t, sched, nil)

	mapRes, err := handleMmap(ts, nil, [6]uintptr{0, uintptr(rt.PageSize), protRead | protWrite, mapPrivate | mapAnonymous, 0, 0})
	require.NoError(t, err)

	_, err = handleMunmap(ts, nil, [6]uintptr{uintptr(mapRes.RetVal), uintptr(rt.PageSize)})
	require.NoError(t, err)

	_, _, err = ts.ProcessVm.RootVmar().Translate(uint64(mapRes.RetVal))
	require.Error(t, err)
}

func TestHandleMunmapRejectsUnalignedAddr(t *testing.T) {
	sched := rt.NewSimScheduler(1)
	defer sched.Stop()
	ts := newTestThreadState(t, sched, nil)

	_, err := handleMunmap(ts, nil, [6]uintptr{1, uintptr(rt.PageSize)})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.EINVAL))
}
