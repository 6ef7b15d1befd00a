package sfuclient

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/pion/webrtc/v4"
)

// remoteTrack is a received track. Disabling it stops playback locally only.
type remoteTrack struct {
	id      string
	kind    domain.DeviceKind
	enabled atomic.Bool
	packets atomic.Int64
}

func newRemoteTrack(track *webrtc.TrackRemote) *remoteTrack {
	kind := domain.DeviceKindVideo
	if track.Kind() == webrtc.RTPCodecTypeAudio {
		kind = domain.DeviceKindAudio
	}
	t := &remoteTrack{id: track.ID(), kind: kind}
	t.enabled.Store(true)
	return t
}

func (t *remoteTrack) ID() string              { return t.id }
func (t *remoteTrack) Kind() domain.DeviceKind { return t.kind }
func (t *remoteTrack) Enabled() bool           { return t.enabled.Load() }
func (t *remoteTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

// remoteStream groups the tracks one peer publishes.
type remoteStream struct {
	peer domain.PeerID

	mu     sync.RWMutex
	tracks []core.Track
	closed bool
}

func (s *remoteStream) ID() string { return string(s.peer) }

func (s *remoteStream) Tracks() []core.Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.tracks)
}

func (s *remoteStream) add(t core.Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, t)
}

// Close only marks the stream; the server owns the receivers.
func (s *remoteStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
