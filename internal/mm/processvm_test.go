package mm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xingmin1/NexusOS-sub000/internal/errs"
	"github.com/xingmin1/NexusOS-sub000/internal/rt"
)

func TestProcessVmReadWriteProcVal(t *testing.T) {
	alloc := rt.NewSimFrameAllocator()
	pv := AllocProcessVm(&rt.SimVmSpace{}, alloc)
	addr, err := pv.RootVmar().NewMap(PageSize, PermRead|PermWrite).At(0x30000).Build()
	require.NoError(t, err)

	require.NoError(t, WriteProcVal(pv, addr+8, uint64(0xdeadbeef)))
	got, err := ReadProcVal[uint64](pv, addr+8)
	require.NoError(t, err)
	require.EqualValues(t, 0xdeadbeef, got)
}

func TestProcessVmReadCString(t *testing.T) {
	alloc := rt.NewSimFrameAllocator()
	pv := AllocProcessVm(&rt.SimVmSpace{}, alloc)
	addr, err := pv.RootVmar().NewMap(PageSize, PermRead|PermWrite).At(0x31000).Build()
	require.NoError(t, err)

	vmo, off, err := pv.RootVmar().Translate(addr)
	require.NoError(t, err)
	require.NoError(t, vmo.WriteSlice(off, []byte("/glibc/basic/clone\x00")))

	s, err := pv.ReadCString(addr, 64)
	require.NoError(t, err)
	require.Equal(t, "/glibc/basic/clone", s)
}

func TestHeapBrkQueryAndGrow(t *testing.T) {
	alloc := rt.NewSimFrameAllocator()
	h := NewHeap(alloc)
	vr := newTestVmar()

	initial, err := h.Brk(nil, vr)
	require.NoError(t, err)
	require.Equal(t, DefaultHeapBase, initial)

	target := DefaultHeapBase + PageSize*3
	got, err := h.Brk(&target, vr)
	require.NoError(t, err)
	require.Equal(t, target, got)

	_, _, err = vr.Translate(DefaultHeapBase)
	require.NoError(t, err, "brk growth must map the extended range")
}

func TestHeapBrkRejectsBeyondLimit(t *testing.T) {
	alloc := rt.NewSimFrameAllocator()
	h := NewHeap(alloc)
	vr := newTestVmar()

	target := DefaultHeapBase + MaxHeapSize + PageSize
	_, err := h.Brk(&target, vr)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.ENOMEM))
}

func TestForkProcessVmSharesCOWPages(t *testing.T) {
	alloc := rt.NewSimFrameAllocator()
	parent := AllocProcessVm(&rt.SimVmSpace{}, alloc)
	addr, err := parent.RootVmar().NewMap(PageSize, PermRead|PermWrite).At(0x32000).Build()
	require.NoError(t, err)
	require.NoError(t, WriteProcVal(parent, addr, uint64(1)))

	child := ForkProcessVm(parent, &rt.SimVmSpace{})
	got, err := ReadProcVal[uint64](child, addr)
	require.NoError(t, err)
	require.EqualValues(t, 1, got, "forked ProcessVm must see the parent's pre-fork data")
}
