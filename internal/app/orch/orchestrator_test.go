package orch

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dkeye/Conference/internal/app"
	"github.com/dkeye/Conference/internal/app/sfu"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/protocol"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSignal struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
}

func (s *fakeSignal) TrySend(f core.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return core.ErrBackpressure
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *fakeSignal) Close() {}

func (s *fakeSignal) setFull(v bool) {
	s.mu.Lock()
	s.full = v
	s.mu.Unlock()
}

func (s *fakeSignal) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.frames))
	for _, f := range s.frames {
		typ, _ := protocol.TypeOf(f)
		out = append(out, typ)
	}
	return out
}

// last decodes the most recent frame of typ into v.
func (s *fakeSignal) last(t *testing.T, typ string, v any) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.frames) - 1; i >= 0; i-- {
		if got, _ := protocol.TypeOf(s.frames[i]); got == typ {
			require.NoError(t, json.Unmarshal(s.frames[i], v))
			return
		}
	}
	t.Fatalf("no %q frame", typ)
}

type fakeMedia struct {
	mu             sync.Mutex
	tracks         []webrtc.TrackLocal
	renegotiations int
	closed         bool
	onClosed       func()
	onOffer        func(webrtc.SessionDescription)
}

func (m *fakeMedia) Start(context.Context) error { return nil }

func (m *fakeMedia) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	cb := m.onClosed
	m.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (m *fakeMedia) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *fakeMedia) AddICECandidate(webrtc.ICECandidateInit) error { return nil }

func (m *fakeMedia) ApplyOfferAndCreateAnswer(o webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: o.SDP}, nil
}

func (m *fakeMedia) ApplyAnswer(webrtc.SessionDescription) error { return nil }

func (m *fakeMedia) Renegotiate() error {
	m.mu.Lock()
	m.renegotiations++
	cb := m.onOffer
	m.mu.Unlock()
	if cb != nil {
		cb(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
	}
	return nil
}

func (m *fakeMedia) OnICECandidate(func(webrtc.ICECandidateInit)) {}

func (m *fakeMedia) OnOffer(fn func(webrtc.SessionDescription)) {
	m.mu.Lock()
	m.onOffer = fn
	m.mu.Unlock()
}

func (m *fakeMedia) OnTrack(func(context.Context, *webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (m *fakeMedia) AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracks = append(m.tracks, track)
	return nil, nil
}

func (m *fakeMedia) RemoveTrack(*webrtc.RTPSender) error { return nil }

func (m *fakeMedia) OnClosed(fn func()) {
	m.mu.Lock()
	m.onClosed = fn
	m.mu.Unlock()
}

func (m *fakeMedia) stats() (tracks, renegotiations int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracks), m.renegotiations
}

type fakeSource struct {
	id   string
	pkts chan *rtp.Packet
	once sync.Once
}

func (s *fakeSource) ID() string                { return s.id }
func (s *fakeSource) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeVideo }
func (s *fakeSource) Capability() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
}

func (s *fakeSource) ReadRTP() (*rtp.Packet, error) {
	if p, ok := <-s.pkts; ok {
		return p, nil
	}
	return nil, io.EOF
}

type fixture struct {
	t         *testing.T
	o         *Orchestrator
	signals   map[core.SessionID]*fakeSignal
	cancelled map[core.SessionID]*atomic.Bool
}

func newFixture(t *testing.T) *fixture {
	relays := sfu.NewRelayManager()
	t.Cleanup(relays.Wait)
	return &fixture{
		t:         t,
		o:         New(app.NewRegistry(), app.NewRoomManager(), app.SimplePolicy{}, relays),
		signals:   make(map[core.SessionID]*fakeSignal),
		cancelled: make(map[core.SessionID]*atomic.Bool),
	}
}

func (f *fixture) connect(sid core.SessionID) *fakeSignal {
	sig := &fakeSignal{}
	flag := &atomic.Bool{}
	user := f.o.Registry.GetOrCreateUser(sid)
	sess := core.NewMemberSession(domain.NewMember(user)).UpdateSignal(sig)
	f.o.Registry.BindSignal(sid, sess, func() { flag.Store(true) })
	f.signals[sid] = sig
	f.cancelled[sid] = flag
	return sig
}

func (f *fixture) join(sid core.SessionID, key domain.RoomKey) {
	f.t.Helper()
	_, err := f.o.Join(sid, key)
	require.NoError(f.t, err)
}

func (f *fixture) attachMedia(sid core.SessionID) *fakeMedia {
	sess, ok := f.o.Registry.GetSession(sid)
	require.True(f.t, ok)
	m := &fakeMedia{}
	f.o.BindMediaHandlers(m, sid)
	sess.UpdateMedia(m)
	return m
}

func (f *fixture) publish(sid core.SessionID, track string) {
	src := &fakeSource{id: track, pkts: make(chan *rtp.Packet)}
	f.t.Cleanup(func() { src.once.Do(func() { close(src.pkts) }) })
	f.o.OnTrack(f.t.Context(), sid, src)
}

func TestJoinAnnouncesMember(t *testing.T) {
	f := newFixture(t)
	a := f.connect("a")
	b := f.connect("b")

	f.join("a", "sfu/daily")
	f.join("b", "sfu/daily")

	assert.Equal(t, []string{protocol.TypeMemberJoined}, a.types())
	assert.Empty(t, b.types())
	var ev protocol.MemberEvent
	a.last(t, protocol.TypeMemberJoined, &ev)
	assert.Equal(t, domain.UserID("b"), ev.User.ID)

	room, ok := f.o.Rooms.Get("sfu/daily")
	require.True(t, ok)
	assert.Equal(t, 2, room.MemberCount())
}

func TestJoinErrors(t *testing.T) {
	f := newFixture(t)
	_, err := f.o.Join("ghost", "sfu/daily")
	assert.ErrorIs(t, err, ErrNoSession)

	f.connect("a")
	_, err = f.o.Join("a", "daily")
	assert.ErrorIs(t, err, domain.ErrRoomKeyInvalid)
}

func TestLeaveNotifiesAndDropsEmptyRoom(t *testing.T) {
	f := newFixture(t)
	f.connect("a")
	b := f.connect("b")
	f.join("a", "mesh/daily")
	f.join("b", "mesh/daily")

	key, ok := f.o.Leave("a")
	require.True(t, ok)
	assert.Equal(t, domain.RoomKey("mesh/daily"), key)
	var ev protocol.MemberEvent
	b.last(t, protocol.TypeMemberLeft, &ev)
	assert.Equal(t, domain.UserID("a"), ev.User.ID)

	_, ok = f.o.Rooms.Get("mesh/daily")
	assert.True(t, ok)
	f.o.Leave("b")
	_, ok = f.o.Rooms.Get("mesh/daily")
	assert.False(t, ok)

	_, ok = f.o.Leave("b")
	assert.False(t, ok)
}

func TestDataIsStampedWithSource(t *testing.T) {
	f := newFixture(t)
	a := f.connect("a")
	b := f.connect("b")
	assert.ErrorIs(t, f.o.OnData("a", []byte("early")), ErrNotInRoom)

	f.join("a", "sfu/daily")
	f.join("b", "sfu/daily")
	require.NoError(t, f.o.OnData("a", []byte("hi")))

	var msg protocol.Data
	b.last(t, protocol.TypeData, &msg)
	assert.Equal(t, domain.PeerID("a"), msg.Src)
	assert.Equal(t, []byte("hi"), msg.Data)
	assert.NotContains(t, a.types(), protocol.TypeData)
}

func TestSlowMemberLosesDataAndIsKickedOnControl(t *testing.T) {
	f := newFixture(t)
	f.connect("a")
	b := f.connect("b")
	f.connect("c")
	f.join("a", "sfu/daily")
	f.join("b", "sfu/daily")
	b.setFull(true)

	require.NoError(t, f.o.OnData("a", []byte("hi")))
	_, _, ok := f.o.Registry.RoomOf("b")
	assert.True(t, ok, "dropped data keeps the member")

	f.join("c", "sfu/daily")
	_, _, ok = f.o.Registry.RoomOf("b")
	assert.False(t, ok)
	assert.True(t, f.cancelled["b"].Load())
}

func TestTrackFanOutAndTeardown(t *testing.T) {
	f := newFixture(t)
	f.connect("a")
	b := f.connect("b")
	c := f.connect("c")
	f.join("a", "sfu/daily")
	f.join("b", "sfu/daily")
	ma := f.attachMedia("a")
	mb := f.attachMedia("b")

	f.publish("a", "video-a")
	tracks, reneg := mb.stats()
	assert.Equal(t, 1, tracks)
	assert.Equal(t, 1, reneg)
	assert.Contains(t, b.types(), protocol.TypeOffer)

	f.join("c", "sfu/daily")
	mc := f.attachMedia("c")
	f.o.OnMediaReady("c")
	tracks, reneg = mc.stats()
	assert.Equal(t, 1, tracks)
	assert.Equal(t, 1, reneg)
	assert.Equal(t, "a", mc.tracks[0].StreamID())

	ma.Close()
	assert.Empty(t, f.o.Relays.RelaysOf("a"))
	for _, sig := range []*fakeSignal{b, c} {
		var ev protocol.StreamRemoved
		sig.last(t, protocol.TypeStreamRemoved, &ev)
		assert.Equal(t, domain.PeerID("a"), ev.Peer)
	}
	_, reneg = mb.stats()
	assert.Equal(t, 2, reneg)
	sess, _ := f.o.Registry.GetSession("a")
	assert.Nil(t, sess.Media())
}

func TestStaleMediaCloseIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.connect("a")
	f.join("a", "sfu/daily")
	old := f.attachMedia("a")
	current := f.attachMedia("a")

	old.Close()
	assert.False(t, current.IsClosed())
	sess, _ := f.o.Registry.GetSession("a")
	assert.Same(t, current, sess.Media())
}

func TestMoveRebuildsSubscriptions(t *testing.T) {
	f := newFixture(t)
	f.connect("a")
	b := f.connect("b")
	c := f.connect("c")
	f.join("a", "sfu/one")
	f.join("b", "sfu/one")
	f.join("c", "sfu/two")
	f.attachMedia("a")
	mb := f.attachMedia("b")
	mc := f.attachMedia("c")
	f.publish("a", "video-a")

	room, err := f.o.Join("a", "sfu/two")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomKey("sfu/two"), room.Room().Key)

	assert.Contains(t, b.types(), protocol.TypeStreamRemoved)
	assert.Contains(t, b.types(), protocol.TypeMemberLeft)
	assert.Contains(t, c.types(), protocol.TypeMemberJoined)
	tracks, _ := mc.stats()
	assert.Equal(t, 1, tracks)
	_, reneg := mb.stats()
	assert.Equal(t, 2, reneg)
	_, ok := f.o.Rooms.Get("sfu/one")
	assert.True(t, ok)
}

func TestEvictRoom(t *testing.T) {
	f := newFixture(t)
	a := f.connect("a")
	b := f.connect("b")
	f.join("a", "sfu/daily")
	f.join("b", "sfu/daily")

	assert.True(t, f.o.EvictRoom("sfu/daily"))
	assert.Contains(t, a.types(), protocol.TypeLeft)
	assert.Contains(t, b.types(), protocol.TypeLeft)
	_, ok := f.o.Rooms.Get("sfu/daily")
	assert.False(t, ok)
	_, _, ok = f.o.Registry.RoomOf("a")
	assert.False(t, ok)
	assert.False(t, f.o.EvictRoom("sfu/daily"))
}
