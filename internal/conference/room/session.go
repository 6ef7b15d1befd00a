// Package room owns the joined-room handle and the remote streams it reports.
package room

import (
	"context"
	"fmt"
	"slices"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/reactive"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type State int

const (
	StateNotJoined State = iota
	StateJoining
	StateJoined
	StateLeft
)

func (s State) String() string {
	switch s {
	case StateNotJoined:
		return "not_joined"
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateLeft:
		return "left"
	default:
		return "unknown"
	}
}

// RemoteStream is the stream one peer sends into the room.
type RemoteStream struct {
	PeerID domain.PeerID
	Stream core.Stream
}

// EqualRemotes compares by peer and stream identity.
func EqualRemotes(a, b []RemoteStream) bool { return slices.Equal(a, b) }

// Session is loop-confined. It writes remotes and joined; the caller reads them.
type Session struct {
	loop      *reactive.Loop
	signaling core.Signaling
	local     reactive.Readable[core.Stream]
	remotes   *reactive.Value[[]RemoteStream]
	joined    *reactive.Value[bool]
	onData    func(domain.DataMessage)

	state  State
	key    domain.RoomKey
	peer   core.Peer
	handle core.RoomHandle

	// sent is the local stream last handed to the handle.
	sent         core.Stream
	disposeLocal func()
	logger       zerolog.Logger
}

// NewSession binds a session to the state slices it is allowed to write.
// onData may be nil.
func NewSession(
	loop *reactive.Loop,
	signaling core.Signaling,
	local reactive.Readable[core.Stream],
	remotes *reactive.Value[[]RemoteStream],
	joined *reactive.Value[bool],
	onData func(domain.DataMessage),
) *Session {
	return &Session{
		loop:      loop,
		signaling: signaling,
		local:     local,
		remotes:   remotes,
		joined:    joined,
		onData:    onData,
		logger:    log.With().Str("module", "conference.room").Logger(),
	}
}

func (s *Session) State() State        { return s.state }
func (s *Session) Key() domain.RoomKey { return s.key }

type joinResult struct {
	peer   core.Peer
	handle core.RoomHandle
}

// Join creates a peer and joins key with the current local stream.
// done receives nil once Joined, or the reason the session stayed NotJoined.
func (s *Session) Join(key domain.RoomKey, mode domain.RoomMode, done func(error)) {
	switch s.state {
	case StateJoining, StateJoined:
		finish(done, core.ErrAlreadyJoined)
		return
	case StateLeft:
		finish(done, core.ErrSessionReleased)
		return
	}

	s.state = StateJoining
	s.key = key
	s.logger = log.With().Str("module", "conference.room").Str("room", string(key)).Logger()
	stream := s.local.Get()
	s.logger.Info().Str("mode", string(mode)).Msg("joining room")

	reactive.AsyncRelease(s.loop, func(ctx context.Context) (joinResult, error) {
		peer, err := s.signaling.CreatePeer(ctx)
		if err != nil {
			return joinResult{}, err
		}
		h, err := peer.JoinRoom(ctx, key, core.JoinOptions{Mode: mode, Stream: stream})
		if err != nil {
			_ = peer.Close()
			return joinResult{}, err
		}
		return joinResult{peer: peer, handle: h}, nil
	}, func(res joinResult, err error) {
		if s.state != StateJoining {
			// Left while the join was in flight.
			if err == nil {
				_ = res.handle.Close()
				_ = res.peer.Close()
			}
			s.logger.Debug().Msg("join result discarded")
			finish(done, core.ErrSessionReleased)
			return
		}
		if err != nil {
			err = fmt.Errorf("%w: %w", core.ErrSignaling, err)
			s.state = StateNotJoined
			s.logger.Error().Err(err).Msg("join failed")
			finish(done, err)
			return
		}
		s.enter(res, stream)
		finish(done, nil)
	}, func(res joinResult) {
		// The loop closed before the result could be applied.
		_ = res.handle.Close()
		_ = res.peer.Close()
	})
}

func (s *Session) enter(res joinResult, sent core.Stream) {
	s.state = StateJoined
	s.peer = res.peer
	s.handle = res.handle
	s.sent = sent
	s.logger = s.logger.With().Str("peer", string(res.peer.ID())).Logger()

	h := res.handle
	h.On(core.RoomEvents{
		OnStream: func(peer domain.PeerID, stream core.Stream) {
			s.post(h, func() { s.upsert(peer, stream) })
		},
		OnStreamRemoved: func(stream core.Stream) {
			s.post(h, func() { s.removeStream(stream) })
		},
		OnPeerJoin: func(peer domain.PeerID) {
			s.post(h, func() { s.logger.Info().Str("remote", string(peer)).Msg("peer joined") })
		},
		OnPeerLeave: func(peer domain.PeerID) {
			s.post(h, func() { s.removePeer(peer) })
		},
		OnData: func(msg domain.DataMessage) {
			s.post(h, func() {
				s.logger.Debug().Str("src", string(msg.Src)).Int("bytes", len(msg.Data)).Msg("data received")
				if s.onData != nil {
					s.onData(msg)
				}
			})
		},
		OnClosed: func(err error) {
			s.post(h, func() { s.closed(err) })
		},
	})

	s.disposeLocal = reactive.React(s.loop, s.local.Get, s.replace, s.local)
	// A stream published while joining has not reached the room yet.
	if cur := s.local.Get(); cur != sent {
		s.replace(cur)
	}

	s.joined.Set(true)
	s.logger.Info().Msg("room joined")
}

// post runs fn on the loop if h is still the active handle by then.
func (s *Session) post(h core.RoomHandle, fn func()) {
	s.loop.Post(func() {
		if s.state != StateJoined || s.handle != h {
			return
		}
		fn()
	})
}

func (s *Session) replace(stream core.Stream) {
	if s.state != StateJoined || stream == nil || stream == s.sent {
		return
	}
	if err := s.handle.ReplaceStream(stream); err != nil {
		s.logger.Error().Err(err).Str("stream", stream.ID()).Msg("replace stream failed")
		return
	}
	s.sent = stream
	s.logger.Debug().Str("stream", stream.ID()).Msg("local stream replaced")
}

func (s *Session) upsert(peer domain.PeerID, stream core.Stream) {
	next := slices.Clone(s.remotes.Get())
	i := slices.IndexFunc(next, func(r RemoteStream) bool { return r.PeerID == peer })
	if i >= 0 {
		next[i].Stream = stream
	} else {
		next = append(next, RemoteStream{PeerID: peer, Stream: stream})
	}
	s.remotes.Set(next)
	s.logger.Info().Str("remote", string(peer)).Str("stream", stream.ID()).Msg("remote stream added")
}

func (s *Session) removeStream(stream core.Stream) {
	s.remove(func(r RemoteStream) bool { return r.Stream == stream })
}

// removePeer is a no-op for peers already gone.
func (s *Session) removePeer(peer domain.PeerID) {
	s.remove(func(r RemoteStream) bool { return r.PeerID == peer })
	s.logger.Info().Str("remote", string(peer)).Msg("peer left")
}

func (s *Session) remove(match func(RemoteStream) bool) {
	cur := s.remotes.Get()
	if !slices.ContainsFunc(cur, match) {
		return
	}
	s.remotes.Set(slices.DeleteFunc(slices.Clone(cur), match))
}

// Send broadcasts data to every peer in the room.
func (s *Session) Send(data []byte) error {
	if s.state != StateJoined {
		return core.ErrNotJoined
	}
	if err := s.handle.Send(data); err != nil {
		return fmt.Errorf("%w: %w", core.ErrSignaling, err)
	}
	return nil
}

// Leave releases the handle and clears the remote streams. It is terminal.
func (s *Session) Leave() {
	if s.state == StateLeft {
		return
	}
	prev := s.state
	if s.handle != nil {
		if err := s.handle.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close room handle")
		}
	}
	s.teardown()
	if prev != StateNotJoined {
		s.logger.Info().Msg("room left")
	}
}

// closed ends a session whose handle is already gone. Like Leave it is
// terminal; a rejoin builds a new session.
func (s *Session) closed(err error) {
	s.logger.Warn().Err(err).Msg("room closed by remote")
	s.teardown()
}

func (s *Session) teardown() {
	s.state = StateLeft
	if s.disposeLocal != nil {
		s.disposeLocal()
		s.disposeLocal = nil
	}
	s.handle = nil
	if s.peer != nil {
		if err := s.peer.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close peer")
		}
		s.peer = nil
	}
	s.sent = nil
	s.remotes.Set(nil)
	s.joined.Set(false)
}

func finish(done func(error), err error) {
	if done != nil {
		done(err)
	}
}
