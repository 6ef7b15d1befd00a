package room

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/core/coretest"
	"github.com/dkeye/Conference/internal/core/mocks"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/reactive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testKey = domain.RoomKey("sfu/test")

type fixture struct {
	t         *testing.T
	loop      *reactive.Loop
	local     *reactive.Value[core.Stream]
	remotes   *reactive.Value[[]RemoteStream]
	joined    *reactive.Value[bool]
	signaling *mocks.MockSignaling
	peer      *mocks.MockPeer
	handle    *mocks.MockRoomHandle
	session   *Session

	events core.RoomEvents
	data   []domain.DataMessage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &fixture{
		t:         t,
		loop:      reactive.NewLoop(context.Background()),
		local:     reactive.NewValue[core.Stream](nil),
		remotes:   reactive.NewValueFunc[[]RemoteStream](nil, EqualRemotes),
		joined:    reactive.NewValue(false),
		signaling: mocks.NewMockSignaling(ctrl),
		peer:      mocks.NewMockPeer(ctrl),
		handle:    mocks.NewMockRoomHandle(ctrl),
	}
	f.peer.EXPECT().ID().Return(domain.PeerID("me")).AnyTimes()
	f.session = NewSession(f.loop, f.signaling, f.local, f.remotes, f.joined, func(m domain.DataMessage) {
		f.data = append(f.data, m)
	})
	f.loop.Start()
	t.Cleanup(f.loop.Close)
	return f
}

func (f *fixture) do(fn func()) {
	f.t.Helper()
	require.NoError(f.t, f.loop.Call(context.Background(), fn))
}

func (f *fixture) idle() {
	f.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(f.t, f.loop.Idle(ctx))
}

func (f *fixture) expectJoin(stream core.Stream) {
	f.signaling.EXPECT().CreatePeer(gomock.Any()).Return(f.peer, nil)
	f.peer.EXPECT().
		JoinRoom(gomock.Any(), testKey, core.JoinOptions{Mode: domain.RoomModeSFU, Stream: stream}).
		Return(f.handle, nil)
	f.handle.EXPECT().On(gomock.Any()).Do(func(ev core.RoomEvents) { f.events = ev })
}

// startJoin dispatches a join and returns the channel its result arrives on.
func (f *fixture) startJoin() <-chan error {
	errc := make(chan error, 1)
	f.do(func() {
		f.session.Join(testKey, domain.RoomModeSFU, func(err error) { errc <- err })
	})
	return errc
}

func (f *fixture) wait(errc <-chan error) error {
	f.t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(2 * time.Second):
		f.t.Fatal("join did not finish")
		return nil
	}
}

func (f *fixture) join() error {
	f.t.Helper()
	return f.wait(f.startJoin())
}

func (f *fixture) remoteSnapshot() []RemoteStream {
	f.t.Helper()
	var out []RemoteStream
	f.do(func() { out = f.remotes.Get() })
	return out
}

func (f *fixture) state() State {
	f.t.Helper()
	var s State
	f.do(func() { s = f.session.State() })
	return s
}

func remote(id string) *coretest.Stream {
	return coretest.NewStream(id, domain.DevicePair{Video: "rv", Audio: "ra"})
}

func TestJoinSendsCurrentStream(t *testing.T) {
	f := newFixture(t)
	s1 := remote("local-1")
	f.do(func() { f.local.Set(s1) })
	f.expectJoin(s1)

	require.NoError(t, f.join())

	assert.Equal(t, StateJoined, f.state())
	f.do(func() {
		assert.True(t, f.joined.Get())
		assert.Equal(t, testKey, f.session.Key())
	})
}

func TestPeerStreamAddedThenPeerLeaves(t *testing.T) {
	f := newFixture(t)
	f.expectJoin(nil)
	require.NoError(t, f.join())

	rs := remote("p1-stream")
	f.events.OnStream("p1", rs)
	f.idle()
	assert.Equal(t, []RemoteStream{{PeerID: "p1", Stream: rs}}, f.remoteSnapshot())

	f.events.OnPeerLeave("p1")
	f.idle()
	assert.Empty(t, f.remoteSnapshot())

	f.events.OnPeerLeave("p1")
	f.idle()
	assert.Empty(t, f.remoteSnapshot())
}

func TestPeerLeaveIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.expectJoin(nil)
	require.NoError(t, f.join())

	f.events.OnStream("p1", remote("s1"))
	f.events.OnStream("p2", remote("s2"))
	f.events.OnPeerLeave("p1")
	f.idle()
	after := f.remoteSnapshot()

	f.events.OnPeerLeave("p1")
	f.idle()
	assert.Equal(t, after, f.remoteSnapshot())
	require.Len(t, after, 1)
	assert.Equal(t, domain.PeerID("p2"), after[0].PeerID)
}

func TestStreamUpsertAndRemovalByIdentity(t *testing.T) {
	f := newFixture(t)
	f.expectJoin(nil)
	require.NoError(t, f.join())

	first, second := remote("s1"), remote("s2")
	f.events.OnStream("p2", remote("other"))
	f.events.OnStream("p1", first)
	f.events.OnStream("p1", second)
	f.idle()

	got := f.remoteSnapshot()
	require.Len(t, got, 2)
	assert.Equal(t, domain.PeerID("p1"), got[1].PeerID)
	assert.Same(t, second, got[1].Stream)

	// The overwritten stream no longer matches anything.
	f.events.OnStreamRemoved(first)
	f.idle()
	assert.Len(t, f.remoteSnapshot(), 2)

	f.events.OnStreamRemoved(second)
	f.idle()
	got = f.remoteSnapshot()
	require.Len(t, got, 1)
	assert.Equal(t, domain.PeerID("p2"), got[0].PeerID)
}

func TestDataIsForwarded(t *testing.T) {
	f := newFixture(t)
	f.expectJoin(nil)
	require.NoError(t, f.join())

	f.events.OnPeerJoin("p3")
	f.events.OnData(domain.DataMessage{Src: "p3", Data: []byte("hi")})
	f.idle()

	f.do(func() {
		assert.Equal(t, []domain.DataMessage{{Src: "p3", Data: []byte("hi")}}, f.data)
	})
}

func TestCreatePeerFailureStaysNotJoined(t *testing.T) {
	f := newFixture(t)
	f.signaling.EXPECT().CreatePeer(gomock.Any()).Return(nil, errors.New("dial refused"))

	err := f.join()
	require.ErrorIs(t, err, core.ErrSignaling)
	assert.Equal(t, StateNotJoined, f.state())
	f.do(func() { assert.False(t, f.joined.Get()) })

	// The user may retry.
	f.expectJoin(nil)
	require.NoError(t, f.join())
}

func TestJoinRoomFailureClosesPeer(t *testing.T) {
	f := newFixture(t)
	f.signaling.EXPECT().CreatePeer(gomock.Any()).Return(f.peer, nil)
	f.peer.EXPECT().JoinRoom(gomock.Any(), testKey, gomock.Any()).Return(nil, errors.New("room full"))
	f.peer.EXPECT().Close().Return(nil)

	require.ErrorIs(t, f.join(), core.ErrSignaling)
	assert.Equal(t, StateNotJoined, f.state())
}

func TestJoinTwiceFails(t *testing.T) {
	f := newFixture(t)
	f.expectJoin(nil)
	require.NoError(t, f.join())

	assert.ErrorIs(t, f.join(), core.ErrAlreadyJoined)
}

func TestLocalStreamReplacedOnlyWhileJoined(t *testing.T) {
	f := newFixture(t)

	// Not joined: no replacement may reach a handle.
	s1 := remote("local-1")
	f.do(func() { f.local.Set(s1) })
	f.idle()

	f.expectJoin(s1)
	require.NoError(t, f.join())

	s2 := remote("local-2")
	f.handle.EXPECT().ReplaceStream(s2).Return(nil)
	f.do(func() { f.local.Set(s2) })
	f.idle()
}

func TestStreamPublishedWhileJoiningIsPushed(t *testing.T) {
	f := newFixture(t)
	s1, s2 := remote("local-1"), remote("local-2")
	f.do(func() { f.local.Set(s1) })

	gate := make(chan struct{})
	f.signaling.EXPECT().CreatePeer(gomock.Any()).DoAndReturn(func(context.Context) (core.Peer, error) {
		<-gate
		return f.peer, nil
	})
	f.peer.EXPECT().
		JoinRoom(gomock.Any(), testKey, core.JoinOptions{Mode: domain.RoomModeSFU, Stream: s1}).
		Return(f.handle, nil)
	f.handle.EXPECT().On(gomock.Any())
	f.handle.EXPECT().ReplaceStream(s2).Return(nil)

	errc := f.startJoin()
	f.do(func() { f.local.Set(s2) })
	close(gate)
	require.NoError(t, f.wait(errc))
	f.idle()
}

func TestLeaveReleasesEverything(t *testing.T) {
	f := newFixture(t)
	f.expectJoin(nil)
	require.NoError(t, f.join())
	f.events.OnStream("p1", remote("s1"))
	f.idle()

	f.handle.EXPECT().Close().Return(nil)
	f.peer.EXPECT().Close().Return(nil)
	f.do(f.session.Leave)

	assert.Equal(t, StateLeft, f.state())
	assert.Empty(t, f.remoteSnapshot())
	f.do(func() {
		assert.False(t, f.joined.Get())
		assert.ErrorIs(t, f.session.Send([]byte("x")), core.ErrNotJoined)
	})

	// Late events from the released handle are ignored.
	f.events.OnStream("p2", remote("s2"))
	f.idle()
	assert.Empty(t, f.remoteSnapshot())

	assert.ErrorIs(t, f.join(), core.ErrSessionReleased)
}

func TestLeaveWhileJoiningDiscardsHandle(t *testing.T) {
	f := newFixture(t)
	gate := make(chan struct{})
	f.signaling.EXPECT().CreatePeer(gomock.Any()).DoAndReturn(func(context.Context) (core.Peer, error) {
		<-gate
		return f.peer, nil
	})
	f.peer.EXPECT().JoinRoom(gomock.Any(), testKey, gomock.Any()).Return(f.handle, nil)
	f.handle.EXPECT().Close().Return(nil)
	f.peer.EXPECT().Close().Return(nil)

	errc := f.startJoin()
	f.do(f.session.Leave)
	close(gate)

	assert.ErrorIs(t, f.wait(errc), core.ErrSessionReleased)
	f.do(func() { assert.False(t, f.joined.Get()) })
}

func TestSendWhileJoined(t *testing.T) {
	f := newFixture(t)
	f.expectJoin(nil)
	require.NoError(t, f.join())

	f.handle.EXPECT().Send([]byte("hello")).Return(nil)
	f.handle.EXPECT().Send([]byte("again")).Return(core.ErrBackpressure)
	f.do(func() {
		assert.NoError(t, f.session.Send([]byte("hello")))
		err := f.session.Send([]byte("again"))
		assert.ErrorIs(t, err, core.ErrSignaling)
		assert.ErrorIs(t, err, core.ErrBackpressure)
	})
}

func TestRemoteCloseEndsSession(t *testing.T) {
	f := newFixture(t)
	f.expectJoin(nil)
	require.NoError(t, f.join())
	f.events.OnStream("p1", remote("s1"))
	f.idle()

	// The handle is already gone; only the peer is released.
	f.peer.EXPECT().Close().Return(nil)
	f.events.OnClosed(core.ErrConnectionClosed)
	f.idle()

	assert.Equal(t, StateLeft, f.state())
	assert.Empty(t, f.remoteSnapshot())
	f.do(func() {
		assert.False(t, f.joined.Get())
		assert.ErrorIs(t, f.session.Send([]byte("x")), core.ErrNotJoined)
		f.session.Leave()
	})

	f.events.OnStream("p2", remote("s2"))
	f.idle()
	assert.Empty(t, f.remoteSnapshot())
}

func TestLoopCloseDuringJoinReleasesResult(t *testing.T) {
	f := newFixture(t)
	f.signaling.EXPECT().CreatePeer(gomock.Any()).DoAndReturn(func(ctx context.Context) (core.Peer, error) {
		<-ctx.Done()
		return f.peer, nil
	})
	f.peer.EXPECT().JoinRoom(gomock.Any(), testKey, gomock.Any()).Return(f.handle, nil)
	f.handle.EXPECT().Close().Return(nil)
	f.peer.EXPECT().Close().Return(nil)

	f.startJoin()
	f.loop.Close()
}
