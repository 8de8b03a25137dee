package mm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xingmin1/NexusOS-sub000/internal/rt"
)

func TestInitStackMapAndWriteLayout(t *testing.T) {
	vr := newTestVmar()
	alloc := rt.NewSimFrameAllocator()
	s := NewInitStack()

	aux := AuxVec{}
	aux.Set(AtEntry, 0x40000)
	aux.Set(AtPagesz, PageSize)

	top, err := s.MapAndWrite(vr, alloc, []string{"prog", "-v"}, []string{"HOME=/root"}, aux)
	require.NoError(t, err)
	require.Zero(t, top%16, "stack top must be 16-byte aligned")
	require.Equal(t, top, s.UserStackTop())

	vmo, off, err := vr.Translate(top)
	require.NoError(t, err)
	argc, err := ReadVal[uint64](vmo, off)
	require.NoError(t, err)
	require.EqualValues(t, 2, argc, "argc must be the number of argv entries")
}

func TestInitStackRejectsTooManyArgs(t *testing.T) {
	vr := newTestVmar()
	alloc := rt.NewSimFrameAllocator()
	s := NewInitStack()

	argv := make([]string, MaxArgvNumber+1)
	for i := range argv {
		argv[i] = "x"
	}
	_, err := s.MapAndWrite(vr, alloc, argv, nil, AuxVec{})
	require.Error(t, err)
}

func TestInitStackRejectsOversizedArg(t *testing.T) {
	vr := newTestVmar()
	alloc := rt.NewSimFrameAllocator()
	s := NewInitStack()

	long := make([]byte, MaxArgLen+1)
	_, err := s.MapAndWrite(vr, alloc, []string{string(long)}, nil, AuxVec{})
	require.Error(t, err)
}

func TestInitStackCloneIsIndependent(t *testing.T) {
	s := NewInitStack()
	clone := s.Clone()
	require.Equal(t, s.UserStackTop(), clone.UserStackTop())

	s.pos.Store(0)
	require.NotEqual(t, s.UserStackTop(), clone.UserStackTop(), "moving the source's pos must not move the clone's")
}
