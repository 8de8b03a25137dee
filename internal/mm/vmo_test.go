package mm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xingmin1/NexusOS-sub000/internal/rt"
)

func TestVmoUncommittedPagesReadZero(t *testing.T) {
	v := NewVmo(PageSize*2, rt.NewSimFrameAllocator())
	buf := make([]byte, 16)
	for i := range buf {
		buf[i] = 0xff
	}
	require.NoError(t, v.ReadSlice(PageSize, buf))
	for _, b := range buf {
		require.Zero(t, b)
	}
}

func TestVmoWriteThenRead(t *testing.T) {
	v := NewVmo(PageSize, rt.NewSimFrameAllocator())
	want := []byte("hello, kernel")
	require.NoError(t, v.WriteSlice(10, want))
	got := make([]byte, len(want))
	require.NoError(t, v.ReadSlice(10, got))
	require.Equal(t, want, got)
}

func TestVmoReadWriteOutOfRange(t *testing.T) {
	v := NewVmo(PageSize, rt.NewSimFrameAllocator())
	require.Error(t, v.ReadSlice(PageSize-4, make([]byte, 8)))
	require.Error(t, v.WriteSlice(PageSize-4, make([]byte, 8)))
}

func TestVmoReadCString(t *testing.T) {
	v := NewVmo(PageSize, rt.NewSimFrameAllocator())
	require.NoError(t, v.WriteSlice(0, []byte("argv0\x00trailing")))
	s, err := v.ReadCString(0, 64)
	require.NoError(t, err)
	require.Equal(t, "argv0", s)
}

func TestVmoReadCStringTooLong(t *testing.T) {
	v := NewVmo(PageSize, rt.NewSimFrameAllocator())
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	require.NoError(t, v.WriteSlice(0, long))
	_, err := v.ReadCString(0, 64)
	require.Error(t, err)
}

func TestVmoForkSharesPagesUntilReplaced(t *testing.T) {
	parent := NewVmo(PageSize, rt.NewSimFrameAllocator())
	require.NoError(t, parent.WriteSlice(0, []byte("shared")))

	child := parent.Fork()
	require.False(t, parent.isPrivate(0), "fork must mark the parent's page non-private too")
	require.False(t, child.isPrivate(0))

	got := make([]byte, 6)
	require.NoError(t, child.ReadSlice(0, got))
	require.Equal(t, "shared", string(got))

	// Vmo.Replace is the primitive Vmar.HandlePageFault uses to realize
	// copy-on-write; it must isolate the child's page without touching the
	// parent's underlying frame.
	dup, err := rt.NewSimFrameAllocator().Duplicate(child.pages[0].frame)
	require.NoError(t, err)
	copy(dup, []byte("change"))
	child.Replace(dup, 0)
	require.True(t, child.isPrivate(0))

	parentBuf := make([]byte, 6)
	require.NoError(t, parent.ReadSlice(0, parentBuf))
	require.Equal(t, "shared", string(parentBuf))
}

func TestReadWriteVal(t *testing.T) {
	v := NewVmo(PageSize, rt.NewSimFrameAllocator())
	type point struct{ X, Y int64 }
	want := point{X: 42, Y: -7}
	require.NoError(t, WriteVal(v, 0, want))
	got, err := ReadVal[point](v, 0)
	require.NoError(t, err)
	require.Equal(t, want, got)
}
