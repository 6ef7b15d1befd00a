package sfuclient

import (
	"context"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Conference/internal/adapters/capture"
	"github.com/dkeye/Conference/internal/adapters/rtc"
	"github.com/dkeye/Conference/internal/adapters/signal"
	"github.com/dkeye/Conference/internal/app"
	"github.com/dkeye/Conference/internal/app/orch"
	"github.com/dkeye/Conference/internal/app/sfu"
	"github.com/dkeye/Conference/internal/conference"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/core/coretest"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) (string, *orch.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	o := orch.New(app.NewRegistry(), app.NewRoomManager(), app.SimplePolicy{}, sfu.NewRelayManager())
	ctl := signal.NewSignalWSController(o, signal.Options{
		ReadLimit:  1 << 20,
		PingPeriod: time.Minute,
		API:        rtc.LoopbackAPI(),
	})
	ctx, cancel := context.WithCancel(context.Background())

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		c.Set("client_token", c.Query("peer"))
		ctl.HandleSignal(ctx, c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", o
}

func connect(t *testing.T, url, name string) core.Peer {
	t.Helper()
	p, err := New(Options{URL: url, Name: name, API: rtc.LoopbackAPI()}).CreatePeer(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func join(t *testing.T, p core.Peer, room string, stream core.Stream) core.RoomHandle {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	h, err := p.JoinRoom(ctx, domain.RoomKey("sfu/"+room), core.JoinOptions{Stream: stream})
	require.NoError(t, err)
	return h
}

var (
	cam = domain.Device{ID: "video0", Label: "Camera", Kind: domain.DeviceKindVideo}
	mic = domain.Device{ID: "audio0", Label: "Microphone", Kind: domain.DeviceKindAudio}
)

func newDevices() *capture.Devices {
	return capture.New(capture.NewStaticDirectory(cam, mic), capture.WithFrameInterval(20*time.Millisecond, 20*time.Millisecond))
}

func acquire(t *testing.T, devices *capture.Devices, pair domain.DevicePair) core.Stream {
	t.Helper()
	s, err := devices.Acquire(context.Background(), pair)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type streamEvent struct {
	peer   domain.PeerID
	stream core.Stream
}

type events struct {
	joined  []domain.PeerID
	left    []domain.PeerID
	data    []domain.DataMessage
	streams []streamEvent
	removed []core.Stream
	closed  []error
	// order records removals and departures as they arrive.
	order []string
}

type recorder struct {
	mu  sync.Mutex
	got events
}

func (r *recorder) add(fn func(*events)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.got)
}

func (r *recorder) handlers() core.RoomEvents {
	return core.RoomEvents{
		OnPeerJoin: func(p domain.PeerID) {
			r.add(func(e *events) { e.joined = append(e.joined, p) })
		},
		OnPeerLeave: func(p domain.PeerID) {
			r.add(func(e *events) {
				e.left = append(e.left, p)
				e.order = append(e.order, "peer_left")
			})
		},
		OnData: func(m domain.DataMessage) {
			r.add(func(e *events) { e.data = append(e.data, m) })
		},
		OnStream: func(p domain.PeerID, s core.Stream) {
			r.add(func(e *events) { e.streams = append(e.streams, streamEvent{peer: p, stream: s}) })
		},
		OnStreamRemoved: func(s core.Stream) {
			r.add(func(e *events) {
				e.removed = append(e.removed, s)
				e.order = append(e.order, "stream_removed")
			})
		},
		OnClosed: func(err error) {
			r.add(func(e *events) { e.closed = append(e.closed, err) })
		},
	}
}

func (r *recorder) snapshot() events {
	r.mu.Lock()
	defer r.mu.Unlock()
	return events{
		joined:  slices.Clone(r.got.joined),
		left:    slices.Clone(r.got.left),
		data:    slices.Clone(r.got.data),
		streams: slices.Clone(r.got.streams),
		removed: slices.Clone(r.got.removed),
		closed:  slices.Clone(r.got.closed),
		order:   slices.Clone(r.got.order),
	}
}

func TestPeerEventsAndData(t *testing.T) {
	url, _ := newServer(t)
	alice := connect(t, url, "alice")
	bob := connect(t, url, "bob")

	var aliceEv recorder
	ha := join(t, alice, "daily", nil)
	ha.On(aliceEv.handlers())

	hb := join(t, bob, "daily", nil)
	require.Eventually(t, func() bool {
		return slices.Contains(aliceEv.snapshot().joined, bob.ID())
	}, 5*time.Second, 10*time.Millisecond)

	// alice was already present; the event is held until bob registers.
	var bobEv recorder
	hb.On(bobEv.handlers())
	assert.Contains(t, bobEv.snapshot().joined, alice.ID())

	require.NoError(t, hb.Send([]byte("hello")))
	require.Eventually(t, func() bool { return len(aliceEv.snapshot().data) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.DataMessage{Src: bob.ID(), Data: []byte("hello")}, aliceEv.snapshot().data[0])

	require.NoError(t, bob.Close())
	require.Eventually(t, func() bool {
		return slices.Contains(aliceEv.snapshot().left, bob.ID())
	}, 5*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, hb.Send([]byte("late")), core.ErrConnectionClosed)
	assert.Empty(t, bobEv.snapshot().closed)
}

func TestJoinErrors(t *testing.T) {
	url, _ := newServer(t)
	p := connect(t, url, "carol")

	_, err := p.JoinRoom(context.Background(), "sfu/"+domain.RoomKey(strings.Repeat("x", domain.MaxRoomNameLen+1)), core.JoinOptions{})
	assert.ErrorIs(t, err, ErrJoinRejected)

	_, err = p.JoinRoom(context.Background(), "bogus", core.JoinOptions{})
	assert.Error(t, err)

	h := join(t, p, "daily", nil)
	_, err = p.JoinRoom(context.Background(), "sfu/other", core.JoinOptions{})
	assert.ErrorIs(t, err, core.ErrAlreadyJoined)

	// A closed handle frees the peer for another room.
	require.NoError(t, h.Close())
	join(t, p, "other", nil)
}

func TestReplaceStream(t *testing.T) {
	url, _ := newServer(t)
	devices := newDevices()
	first := acquire(t, devices, domain.DevicePair{Video: cam.ID, Audio: mic.ID})

	p := connect(t, url, "dave")
	h := join(t, p, "daily", first)

	second := acquire(t, devices, domain.DevicePair{Video: cam.ID})
	require.NoError(t, h.ReplaceStream(second))
	require.NoError(t, h.ReplaceStream(nil))

	foreign := coretest.NewStream("foreign", domain.DevicePair{Video: "video0"})
	assert.ErrorIs(t, h.ReplaceStream(foreign), ErrUnsupportedTrack)

	require.NoError(t, h.Close())
	assert.ErrorIs(t, h.ReplaceStream(second), core.ErrConnectionClosed)
}

func TestRemoteStreamLifecycle(t *testing.T) {
	url, _ := newServer(t)
	alice := connect(t, url, "alice")
	bob := connect(t, url, "bob")

	var ev recorder
	hb := join(t, bob, "daily", nil)
	hb.On(ev.handlers())
	join(t, alice, "daily", acquire(t, newDevices(), domain.DevicePair{Video: cam.ID, Audio: mic.ID}))

	// One stream per publisher, announced again as each track arrives.
	require.Eventually(t, func() bool { return len(ev.snapshot().streams) >= 2 }, 15*time.Second, 20*time.Millisecond)
	got := ev.snapshot().streams
	stream := got[0].stream
	for _, e := range got {
		assert.Equal(t, alice.ID(), e.peer)
		assert.Same(t, stream, e.stream)
	}
	var kinds []domain.DeviceKind
	for _, tr := range stream.Tracks() {
		kinds = append(kinds, tr.Kind())
	}
	assert.ElementsMatch(t, []domain.DeviceKind{domain.DeviceKindVideo, domain.DeviceKindAudio}, kinds)

	require.NoError(t, alice.Close())
	require.Eventually(t, func() bool { return len(ev.snapshot().left) == 1 }, 5*time.Second, 10*time.Millisecond)
	snap := ev.snapshot()
	require.Len(t, snap.removed, 1)
	assert.Same(t, stream, snap.removed[0])
	assert.Equal(t, []domain.PeerID{alice.ID()}, snap.left)
	assert.Equal(t, []string{"stream_removed", "peer_left"}, snap.order)
	assert.Empty(t, snap.closed)
}

func TestEvictionClosesRoom(t *testing.T) {
	url, o := newServer(t)
	p := connect(t, url, "erin")

	var ev recorder
	h := join(t, p, "daily", nil)
	h.On(ev.handlers())

	require.True(t, o.EvictRoom("sfu/daily"))
	require.Eventually(t, func() bool { return len(ev.snapshot().closed) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, ev.snapshot().closed[0], ErrEvicted)
	assert.ErrorIs(t, h.Send([]byte("late")), core.ErrConnectionClosed)
	require.NoError(t, h.Close())

	// The signaling connection survives and can join again.
	again := join(t, p, "daily", nil)
	require.NoError(t, again.Close())
}

func TestConferenceRecoversFromEviction(t *testing.T) {
	url, o := newServer(t)
	conf := conference.New(context.Background(), newDevices(), New(Options{URL: url, Name: "frank", API: rtc.LoopbackAPI()}))
	t.Cleanup(conf.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	require.NoError(t, conf.OnLoad(ctx))
	require.NoError(t, conf.OnClickJoinRoom(ctx, "daily", domain.RoomModeSFU))
	st, err := conf.Snapshot(ctx)
	require.NoError(t, err)
	require.True(t, st.Joined)

	require.True(t, o.EvictRoom("sfu/daily"))
	require.Eventually(t, func() bool {
		st, err := conf.Snapshot(ctx)
		return err == nil && !st.Joined
	}, 5*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, conf.SendData(ctx, []byte("hi")), core.ErrNotJoined)

	require.NoError(t, conf.OnClickJoinRoom(ctx, "daily", domain.RoomModeSFU))
	st, err = conf.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, st.Joined)
	assert.Equal(t, domain.RoomKey("sfu/daily"), st.Room)
}
