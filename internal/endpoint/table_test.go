package endpoint

import (
	"errors"
	"testing"

	"github.com/danmuck/pipectl/internal/protocol/pipecontrol"
	"github.com/danmuck/pipectl/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notice struct {
	id     pipecontrol.InterfaceID
	reason *pipecontrol.DisconnectReason
}

type fakeNotifier struct {
	sent []notice
	err  error
}

func (f *fakeNotifier) NotifyPeerEndpointClosed(id pipecontrol.InterfaceID, reason *pipecontrol.DisconnectReason) error {
	f.sent = append(f.sent, notice{id: id, reason: reason})
	return f.err
}

func TestAllocateUsesNamespaceBitOnNonPrimarySide(t *testing.T) {
	testlog.Start(t)
	primary := NewTable(true, nil)
	a, err := primary.Allocate()
	require.NoError(t, err)
	b, err := primary.Allocate()
	require.NoError(t, err)
	assert.Equal(t, pipecontrol.InterfaceID(1), a)
	assert.Equal(t, pipecontrol.InterfaceID(2), b)
	assert.False(t, a.HasNamespaceBit())

	secondary := NewTable(false, nil)
	c, err := secondary.Allocate()
	require.NoError(t, err)
	assert.True(t, c.HasNamespaceBit())
	assert.Equal(t, pipecontrol.InterfaceIDNamespaceMask|1, c)
}

func TestAllocateSkipsTakenIDs(t *testing.T) {
	testlog.Start(t)
	tbl := NewTable(true, nil)
	require.NoError(t, tbl.Attach(1))
	id, err := tbl.Allocate()
	require.NoError(t, err)
	require.Equal(t, pipecontrol.InterfaceID(2), id)
}

func TestAttachValidation(t *testing.T) {
	testlog.Start(t)
	tbl := NewTable(true, nil)
	require.ErrorIs(t, tbl.Attach(pipecontrol.InvalidInterfaceID), ErrInvalidEndpointID)
	require.NoError(t, tbl.Attach(4))
	require.ErrorIs(t, tbl.Attach(4), ErrEndpointExists)
}

func TestLocalCloseNotifiesPeer(t *testing.T) {
	testlog.Start(t)
	n := &fakeNotifier{}
	tbl := NewTable(true, n)
	id, err := tbl.Allocate()
	require.NoError(t, err)

	reason := &pipecontrol.DisconnectReason{CustomReason: 2, Description: "done"}
	require.NoError(t, tbl.Close(id, reason))
	require.Equal(t, []notice{{id: id, reason: reason}}, n.sent)

	ep, ok := tbl.Get(id)
	require.True(t, ok)
	require.Equal(t, StateClosed, ep.State)
	require.False(t, ep.ClosedAt.IsZero())

	require.ErrorIs(t, tbl.Close(id, nil), ErrEndpointClosed)
	require.ErrorIs(t, tbl.Close(99, nil), ErrUnknownEndpoint)
	require.Len(t, n.sent, 1)
}

func TestPeerCloseThenLocalCloseDoesNotNotify(t *testing.T) {
	testlog.Start(t)
	n := &fakeNotifier{}
	tbl := NewTable(true, n)
	require.NoError(t, tbl.Attach(5))

	reason := &pipecontrol.DisconnectReason{CustomReason: 3, Description: "peer crashed"}
	tbl.OnPeerAssociatedEndpointClosed(5, reason)
	ep, ok := tbl.Get(5)
	require.True(t, ok)
	require.Equal(t, StatePeerClosed, ep.State)
	require.Equal(t, reason, ep.PeerReason)

	require.NoError(t, tbl.Close(5, nil))
	require.Empty(t, n.sent)
	_, ok = tbl.Get(5)
	require.False(t, ok)
}

func TestLocalCloseThenPeerCloseRemovesEndpoint(t *testing.T) {
	testlog.Start(t)
	tbl := NewTable(true, &fakeNotifier{})
	require.NoError(t, tbl.Attach(6))
	require.NoError(t, tbl.Close(6, nil))
	tbl.OnPeerAssociatedEndpointClosed(6, nil)
	_, ok := tbl.Get(6)
	require.False(t, ok)
	require.Zero(t, tbl.Len())
}

func TestPeerCloseOfUnknownEndpointIsRecorded(t *testing.T) {
	testlog.Start(t)
	tbl := NewTable(true, nil)
	tbl.OnPeerAssociatedEndpointClosed(pipecontrol.InterfaceIDNamespaceMask|2, nil)
	list := tbl.List()
	require.Len(t, list, 1)
	require.Equal(t, StatePeerClosed, list[0].State)
	require.ErrorIs(t, tbl.Attach(pipecontrol.InterfaceIDNamespaceMask|2), ErrEndpointExists)
}

func TestCloseReturnsNotifierError(t *testing.T) {
	testlog.Start(t)
	sendErr := errors.New("pipe gone")
	tbl := NewTable(true, &fakeNotifier{err: sendErr})
	require.NoError(t, tbl.Attach(1))
	require.ErrorIs(t, tbl.Close(1, nil), sendErr)
	ep, ok := tbl.Get(1)
	require.True(t, ok)
	require.Equal(t, StateClosed, ep.State)
}

func TestListIsSortedByID(t *testing.T) {
	testlog.Start(t)
	tbl := NewTable(true, nil)
	for _, id := range []pipecontrol.InterfaceID{9, 2, 7} {
		require.NoError(t, tbl.Attach(id))
	}
	var ids []pipecontrol.InterfaceID
	for _, ep := range tbl.List() {
		ids = append(ids, ep.ID)
	}
	require.Equal(t, []pipecontrol.InterfaceID{2, 7, 9}, ids)
}

func TestTableServesAsReceiverDelegate(t *testing.T) {
	testlog.Start(t)
	tbl := NewTable(false, nil)
	require.NoError(t, tbl.Attach(3))
	r := pipecontrol.NewReceiver(tbl)
	require.NoError(t, r.Accept(pipecontrol.ConstructPeerEndpointClosedMessage(3, nil)))
	ep, ok := tbl.Get(3)
	require.True(t, ok)
	require.Equal(t, StatePeerClosed, ep.State)
}

func TestPeerCloseOfReservedIDsIsDropped(t *testing.T) {
	testlog.Start(t)
	tbl := NewTable(true, nil)
	tbl.OnPeerAssociatedEndpointClosed(pipecontrol.InvalidInterfaceID, nil)
	tbl.OnPeerAssociatedEndpointClosed(pipecontrol.MasterInterfaceID, &pipecontrol.DisconnectReason{Description: "x"})
	require.Zero(t, tbl.Len())
}

func TestPeerCloseOfUnallocatedOwnIDIsDropped(t *testing.T) {
	testlog.Start(t)
	primary := NewTable(true, nil)
	primary.OnPeerAssociatedEndpointClosed(7, nil)
	require.Zero(t, primary.Len())

	secondary := NewTable(false, nil)
	secondary.OnPeerAssociatedEndpointClosed(pipecontrol.InterfaceIDNamespaceMask|7, nil)
	require.Zero(t, secondary.Len())
	secondary.OnPeerAssociatedEndpointClosed(7, nil)
	require.Equal(t, 1, secondary.Len())
}

func TestOwnsFollowsNamespace(t *testing.T) {
	testlog.Start(t)
	primary := NewTable(true, nil)
	secondary := NewTable(false, nil)
	assert.True(t, primary.Owns(3))
	assert.False(t, primary.Owns(pipecontrol.InterfaceIDNamespaceMask|3))
	assert.True(t, secondary.Owns(pipecontrol.InterfaceIDNamespaceMask|3))
	assert.False(t, secondary.Owns(3))
	for _, tbl := range []*Table{primary, secondary} {
		assert.False(t, tbl.Owns(pipecontrol.InvalidInterfaceID))
		assert.False(t, tbl.Owns(pipecontrol.MasterInterfaceID))
	}
}

func TestUnseenPeerClosesAreBounded(t *testing.T) {
	testlog.Start(t)
	tbl := NewTable(true, nil)
	for i := 1; i <= maxUnseenPeerClosed+100; i++ {
		tbl.OnPeerAssociatedEndpointClosed(pipecontrol.InterfaceIDNamespaceMask|pipecontrol.InterfaceID(i), nil)
	}
	require.Equal(t, maxUnseenPeerClosed, tbl.Len())

	// Retiring one unseen row frees a slot.
	first := pipecontrol.InterfaceIDNamespaceMask | 1
	require.NoError(t, tbl.Close(first, nil))
	late := pipecontrol.InterfaceIDNamespaceMask | pipecontrol.InterfaceID(maxUnseenPeerClosed+500)
	tbl.OnPeerAssociatedEndpointClosed(late, nil)
	_, ok := tbl.Get(late)
	require.True(t, ok)
	require.Equal(t, maxUnseenPeerClosed, tbl.Len())

	// Known endpoints are never subject to the cap.
	require.NoError(t, tbl.Attach(5))
	tbl.OnPeerAssociatedEndpointClosed(5, nil)
	ep, ok := tbl.Get(5)
	require.True(t, ok)
	require.Equal(t, StatePeerClosed, ep.State)
}

func TestOnRemovedFiresWhenBothSidesClosed(t *testing.T) {
	testlog.Start(t)
	tbl := NewTable(true, &fakeNotifier{})
	var removed []pipecontrol.InterfaceID
	tbl.OnRemoved(func(id pipecontrol.InterfaceID) { removed = append(removed, id) })

	require.NoError(t, tbl.Attach(1))
	require.NoError(t, tbl.Attach(2))
	require.NoError(t, tbl.Close(1, nil))
	require.Empty(t, removed)
	tbl.OnPeerAssociatedEndpointClosed(1, nil)
	tbl.OnPeerAssociatedEndpointClosed(2, nil)
	require.NoError(t, tbl.Close(2, nil))
	require.Equal(t, []pipecontrol.InterfaceID{1, 2}, removed)
}
