package kernel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestThreadGroupIDIsLeaderTid(t *testing.T) {
	leader := NewThreadSharedInfo(nil)
	g := NewThreadGroupLeader(leader)
	require.Equal(t, leader.Tid, g.ID())
}

func TestThreadGroupAllZombie(t *testing.T) {
	leader := NewThreadSharedInfo(nil)
	g := NewThreadGroupLeader(leader)
	other := NewThreadSharedInfo(nil)
	g.Attach(other)

	require.False(t, g.AllZombie())
	leader.Lifecycle.Exit(0)
	require.False(t, g.AllZombie())
	other.Lifecycle.Exit(0)
	require.True(t, g.AllZombie())
}

func TestThreadGroupMembersIsASnapshot(t *testing.T) {
	leader := NewThreadSharedInfo(nil)
	g := NewThreadGroupLeader(leader)
	members := g.Members()
	g.Attach(NewThreadSharedInfo(nil))
	require.Len(t, members, 1, "a previously taken snapshot must not observe later attaches")
	require.Len(t, g.Members(), 2)
}
