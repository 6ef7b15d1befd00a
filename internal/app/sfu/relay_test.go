package sfu

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Conference/internal/adapters/rtc"
	"github.com/dkeye/Conference/internal/core"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	id   string
	kind webrtc.RTPCodecType
	pkts chan *rtp.Packet
	once sync.Once
}

func newSource(id string, kind webrtc.RTPCodecType) *fakeSource {
	return &fakeSource{id: id, kind: kind, pkts: make(chan *rtp.Packet)}
}

func (s *fakeSource) ID() string                { return s.id }
func (s *fakeSource) Kind() webrtc.RTPCodecType { return s.kind }

func (s *fakeSource) Capability() webrtc.RTPCodecCapability {
	if s.kind == webrtc.RTPCodecTypeAudio {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
}

func (s *fakeSource) ReadRTP() (*rtp.Packet, error) {
	p, ok := <-s.pkts
	if !ok {
		return nil, io.EOF
	}
	return p, nil
}

func (s *fakeSource) send(seq uint16) {
	s.pkts <- &rtp.Packet{Header: rtp.Header{SequenceNumber: seq}}
}

func (s *fakeSource) stop() { s.once.Do(func() { close(s.pkts) }) }

type fakeWriter struct {
	mu  sync.Mutex
	got []uint16
	err error
}

func (w *fakeWriter) WriteRTP(p *rtp.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.got = append(w.got, p.SequenceNumber)
	return nil
}

func (w *fakeWriter) received() []uint16 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]uint16(nil), w.got...)
}

func startRelay(t *testing.T, m *RelayManager, pub core.SessionID, src *fakeSource) *Relay {
	t.Helper()
	r := m.StartRelay(t.Context(), pub, src)
	t.Cleanup(src.stop)
	return r
}

// newManager waits for relay loops after every source has been stopped.
func newManager(t *testing.T) *RelayManager {
	m := NewRelayManager()
	t.Cleanup(m.Wait)
	return m
}

func TestRelayForwardsToSubscribers(t *testing.T) {
	m := newManager(t)
	src := newSource("video-a", webrtc.RTPCodecTypeVideo)
	r := startRelay(t, m, "a", src)

	live, muted := &fakeWriter{}, &fakeWriter{}
	require.NoError(t, m.AddSubscriber(r.Key, "b", NewOutTrack(live, nil)))
	mutedTrack := NewOutTrack(muted, nil)
	mutedTrack.MarkMuted()
	require.NoError(t, m.AddSubscriber(r.Key, "c", mutedTrack))

	src.send(1)
	src.send(2)
	require.Eventually(t, func() bool { return len(live.received()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint16{1, 2}, live.received())
	assert.Empty(t, muted.received())

	src.stop()
	m.Wait()
	assert.False(t, m.HasRelay(r.Key))
	ot, ok := r.OutTrack("b")
	require.True(t, ok)
	assert.Equal(t, TrackStateDelete, ot.GetState())
}

func TestWriteErrorDropsSubscriber(t *testing.T) {
	m := newManager(t)
	src := newSource("audio-a", webrtc.RTPCodecTypeAudio)
	r := startRelay(t, m, "a", src)

	broken := &fakeWriter{err: errors.New("gone")}
	require.NoError(t, m.AddSubscriber(r.Key, "b", NewOutTrack(broken, nil)))

	src.send(1)
	require.Eventually(t, func() bool { return r.SubscriberCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestAddSubscriberWithoutRelay(t *testing.T) {
	m := newManager(t)
	err := m.AddSubscriber(Key{Publisher: "a", Track: "x"}, "b", NewOutTrack(&fakeWriter{}, nil))
	assert.ErrorIs(t, err, ErrNoRelay)
}

func TestStartRelayReplacesSameTrack(t *testing.T) {
	m := newManager(t)
	first := startRelay(t, m, "a", newSource("video-a", webrtc.RTPCodecTypeVideo))
	ot := NewOutTrack(&fakeWriter{}, nil)
	require.NoError(t, m.AddSubscriber(first.Key, "b", ot))

	second := startRelay(t, m, "a", newSource("video-a", webrtc.RTPCodecTypeVideo))

	assert.Equal(t, TrackStateDelete, ot.GetState())
	assert.Equal(t, []*Relay{second}, m.RelaysOf("a"))
}

func TestStopRelaysGroupsSubscribers(t *testing.T) {
	m := newManager(t)
	video := startRelay(t, m, "a", newSource("video-a", webrtc.RTPCodecTypeVideo))
	audio := startRelay(t, m, "a", newSource("audio-a", webrtc.RTPCodecTypeAudio))
	other := startRelay(t, m, "z", newSource("video-z", webrtc.RTPCodecTypeVideo))

	require.Equal(t, []*Relay{audio, video}, m.RelaysOf("a"))

	require.NoError(t, m.AddSubscriber(video.Key, "b", NewOutTrack(&fakeWriter{}, nil)))
	require.NoError(t, m.AddSubscriber(audio.Key, "b", NewOutTrack(&fakeWriter{}, nil)))
	require.NoError(t, m.AddSubscriber(audio.Key, "c", NewOutTrack(&fakeWriter{}, nil)))
	require.NoError(t, m.AddSubscriber(other.Key, "b", NewOutTrack(&fakeWriter{}, nil)))

	subs := m.StopRelays("a")
	assert.Len(t, subs["b"], 2)
	assert.Len(t, subs["c"], 1)
	for _, ot := range subs["b"] {
		assert.Equal(t, TrackStateDelete, ot.GetState())
	}
	assert.Empty(t, m.RelaysOf("a"))
	assert.Equal(t, 1, other.SubscriberCount())
}

func TestDropSubscriber(t *testing.T) {
	m := newManager(t)
	a := startRelay(t, m, "a", newSource("video-a", webrtc.RTPCodecTypeVideo))
	z := startRelay(t, m, "z", newSource("video-z", webrtc.RTPCodecTypeVideo))
	require.NoError(t, m.AddSubscriber(a.Key, "b", NewOutTrack(&fakeWriter{}, nil)))
	require.NoError(t, m.AddSubscriber(z.Key, "b", NewOutTrack(&fakeWriter{}, nil)))

	assert.Len(t, m.DropSubscriber("a", "b"), 1)
	assert.Equal(t, 0, a.SubscriberCount())
	assert.Equal(t, 1, z.SubscriberCount())

	assert.Len(t, m.DropSubscriber("", "b"), 1)
	assert.Equal(t, 0, z.SubscriberCount())
}

func TestSubscribeUsesPublisherAsStreamID(t *testing.T) {
	m := newManager(t)
	r := startRelay(t, m, "a", newSource("video-a", webrtc.RTPCodecTypeVideo))

	conn, err := rtc.NewConnection(webrtc.Configuration{}, "b")
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	require.NoError(t, m.Subscribe(r, "b", conn))
	require.NoError(t, m.Subscribe(r, "b", conn))
	require.Equal(t, 1, r.SubscriberCount())

	ot, ok := r.OutTrack("b")
	require.True(t, ok)
	require.NotNil(t, ot.Sender)
	track := ot.Sender.Track()
	assert.Equal(t, "video-a", track.ID())
	assert.Equal(t, "a", track.StreamID())
}

func TestDetachSubscribersKeepsRelay(t *testing.T) {
	m := newManager(t)
	r := startRelay(t, m, "a", newSource("video-a", webrtc.RTPCodecTypeVideo))
	require.NoError(t, m.AddSubscriber(r.Key, "b", NewOutTrack(&fakeWriter{}, nil)))

	subs := m.DetachSubscribers("a")
	assert.Len(t, subs["b"], 1)
	assert.True(t, m.HasRelay(r.Key))
	assert.Equal(t, 0, r.SubscriberCount())
}
