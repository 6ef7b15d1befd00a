package sfuclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dkeye/Conference/internal/adapters/rtc"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// room implements core.RoomHandle for one joined room.
type room struct {
	peer   *peer
	key    domain.RoomKey
	state  protocol.RoomState
	logger zerolog.Logger

	mu      sync.Mutex
	conn    *rtc.Connection
	senders map[domain.DeviceKind]*webrtc.RTPSender
	streams map[domain.PeerID]*remoteStream
	closed  bool

	// dispatch serializes event delivery; events before On are held in pending.
	dispatch   sync.Mutex
	handlers   core.RoomEvents
	registered bool
	pending    []func(core.RoomEvents)
}

func newRoom(p *peer, st protocol.RoomState) *room {
	r := &room{
		peer:    p,
		key:     st.Room,
		state:   st,
		logger:  p.logger.With().Str("room", string(st.Room)).Logger(),
		senders: make(map[domain.DeviceKind]*webrtc.RTPSender),
		streams: make(map[domain.PeerID]*remoteStream),
	}
	for _, m := range st.Members {
		if m.ID != p.id {
			id := m.ID
			r.emit(func(ev core.RoomEvents) {
				if ev.OnPeerJoin != nil {
					ev.OnPeerJoin(id)
				}
			})
		}
	}
	return r
}

// connect opens the media connection with one send-only transceiver per
// kind and sends the first offer.
func (r *room) connect(ctx context.Context, stream core.Stream) error {
	conn, err := rtc.NewConnectionWithAPI(r.peer.opts.API, r.peer.opts.ICE, string(r.peer.id))
	if err != nil {
		return err
	}
	conn.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		_ = r.peer.sendJSON(protocol.Candidate{
			Type:          protocol.TypeCandidate,
			Candidate:     ci.Candidate,
			SDPMid:        ci.SDPMid,
			SDPMLineIndex: ci.SDPMLineIndex,
		})
	})
	conn.OnOffer(func(offer webrtc.SessionDescription) {
		if err := r.peer.sendJSON(protocol.SessionDescription{Type: protocol.TypeOffer, SDP: offer.SDP}); err != nil {
			r.logger.Error().Err(err).Msg("send offer")
		}
	})
	conn.OnTrack(r.onTrack)
	if err := conn.Start(ctx); err != nil {
		conn.Close()
		return err
	}

	locals, err := localTracks(stream)
	if err != nil {
		conn.Close()
		return err
	}
	senders := make(map[domain.DeviceKind]*webrtc.RTPSender, 2)
	for _, k := range []struct {
		kind  domain.DeviceKind
		codec webrtc.RTPCodecType
	}{{domain.DeviceKindVideo, webrtc.RTPCodecTypeVideo}, {domain.DeviceKindAudio, webrtc.RTPCodecTypeAudio}} {
		sender, err := conn.AddSender(k.codec, locals[k.kind])
		if err != nil {
			conn.Close()
			return fmt.Errorf("add %s sender: %w", k.kind, err)
		}
		senders[k.kind] = sender
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		conn.Close()
		return core.ErrSessionReleased
	}
	r.conn = conn
	r.senders = senders
	r.mu.Unlock()

	return conn.Renegotiate()
}

// localTracks maps a stream's tracks by kind. A nil stream sends nothing.
func localTracks(stream core.Stream) (map[domain.DeviceKind]webrtc.TrackLocal, error) {
	out := make(map[domain.DeviceKind]webrtc.TrackLocal, 2)
	if stream == nil {
		return out, nil
	}
	for _, t := range stream.Tracks() {
		lt, ok := t.(LocalTrack)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedTrack, t.ID())
		}
		out[t.Kind()] = lt.TrackLocal()
	}
	return out, nil
}

func (r *room) On(events core.RoomEvents) {
	r.dispatch.Lock()
	defer r.dispatch.Unlock()
	r.handlers = events
	r.registered = true
	pending := r.pending
	r.pending = nil
	for _, fn := range pending {
		fn(events)
	}
}

func (r *room) emit(fn func(core.RoomEvents)) {
	r.dispatch.Lock()
	defer r.dispatch.Unlock()
	if !r.registered {
		r.pending = append(r.pending, fn)
		return
	}
	fn(r.handlers)
}

// ReplaceStream swaps the sent tracks in place; no renegotiation is needed.
func (r *room) ReplaceStream(stream core.Stream) error {
	locals, err := localTracks(stream)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.conn == nil {
		return core.ErrConnectionClosed
	}
	for kind, sender := range r.senders {
		if err := sender.ReplaceTrack(locals[kind]); err != nil {
			return fmt.Errorf("replace %s: %w", kind, err)
		}
	}
	r.logger.Info().Msg("local stream replaced")
	return nil
}

func (r *room) Send(data []byte) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return core.ErrConnectionClosed
	}
	return r.peer.sendJSON(protocol.Data{Type: protocol.TypeData, Data: data})
}

// Close leaves the room and tears down the media connection.
func (r *room) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	conn := r.conn
	r.mu.Unlock()

	_ = r.peer.sendJSON(protocol.Envelope{Type: protocol.TypeLeave})
	if conn != nil {
		conn.Close()
	}
	r.peer.release(r)
	r.logger.Info().Msg("left room")
	return nil
}

// dropped runs when the signaling connection is gone or the server evicted
// us. Observers get the remote streams removed and then OnClosed.
func (r *room) dropped(cause error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	streams := r.streams
	r.streams = make(map[domain.PeerID]*remoteStream)
	conn := r.conn
	r.mu.Unlock()

	for _, s := range streams {
		r.emitRemoved(s)
	}
	if conn != nil {
		conn.Close()
	}
	r.peer.release(r)
	r.logger.Warn().Err(cause).Msg("room closed")
	r.emit(func(h core.RoomEvents) {
		if h.OnClosed != nil {
			h.OnClosed(cause)
		}
	})
}

func (r *room) handle(typ string, data []byte) {
	switch typ {
	case protocol.TypeMemberJoined:
		var ev protocol.MemberEvent
		if err := json.Unmarshal(data, &ev); err != nil || ev.User.ID == r.peer.id {
			return
		}
		r.emit(func(h core.RoomEvents) {
			if h.OnPeerJoin != nil {
				h.OnPeerJoin(ev.User.ID)
			}
		})
	case protocol.TypeMemberLeft:
		var ev protocol.MemberEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		r.removeStream(ev.User.ID)
		r.emit(func(h core.RoomEvents) {
			if h.OnPeerLeave != nil {
				h.OnPeerLeave(ev.User.ID)
			}
		})
	case protocol.TypeStreamRemoved:
		var ev protocol.StreamRemoved
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		r.removeStream(ev.Peer)
	case protocol.TypeData:
		var msg protocol.Data
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		r.emit(func(h core.RoomEvents) {
			if h.OnData != nil {
				h.OnData(domain.DataMessage{Src: msg.Src, Data: msg.Data})
			}
		})
	case protocol.TypeOffer:
		var sd protocol.SessionDescription
		if err := json.Unmarshal(data, &sd); err != nil {
			return
		}
		r.answer(sd.SDP)
	case protocol.TypeAnswer:
		var sd protocol.SessionDescription
		if err := json.Unmarshal(data, &sd); err != nil {
			return
		}
		if conn := r.connection(); conn != nil {
			if err := conn.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sd.SDP}); err != nil {
				r.logger.Error().Err(err).Msg("apply answer")
			}
		}
	case protocol.TypeCandidate:
		var c protocol.Candidate
		if err := json.Unmarshal(data, &c); err != nil {
			return
		}
		if conn := r.connection(); conn != nil {
			if err := conn.AddICECandidate(webrtc.ICECandidateInit{Candidate: c.Candidate, SDPMid: c.SDPMid, SDPMLineIndex: c.SDPMLineIndex}); err != nil {
				r.logger.Warn().Err(err).Msg("add candidate")
			}
		}
	case protocol.TypeLeft:
		r.dropped(ErrEvicted)
	default:
		r.logger.Debug().Str("type", typ).Msg("ignored")
	}
}

func (r *room) connection() *rtc.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

// answer applies a server offer, sent when subscriptions change.
func (r *room) answer(sdp string) {
	conn := r.connection()
	if conn == nil {
		return
	}
	answer, err := conn.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp})
	if err != nil {
		r.logger.Error().Err(err).Msg("apply server offer")
		return
	}
	if err := r.peer.sendJSON(protocol.SessionDescription{Type: protocol.TypeAnswer, SDP: answer.SDP}); err != nil {
		r.logger.Error().Err(err).Msg("send answer")
	}
}

// onTrack files a received track under its publisher, which the server puts
// in the track's stream id.
func (r *room) onTrack(ctx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	peerID := domain.PeerID(track.StreamID())
	t := newRemoteTrack(track)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	s, ok := r.streams[peerID]
	if !ok {
		s = &remoteStream{peer: peerID}
		r.streams[peerID] = s
	}
	s.add(t)
	r.mu.Unlock()

	r.logger.Info().Str("remote_peer", string(peerID)).Str("kind", t.kind.String()).Msg("remote track")
	r.emit(func(h core.RoomEvents) {
		if h.OnStream != nil {
			h.OnStream(peerID, s)
		}
	})

	go func() {
		for {
			if ctx.Err() != nil {
				return
			}
			if _, _, err := track.ReadRTP(); err != nil {
				return
			}
			t.packets.Add(1)
		}
	}()
}

func (r *room) removeStream(peerID domain.PeerID) {
	r.mu.Lock()
	s, ok := r.streams[peerID]
	delete(r.streams, peerID)
	r.mu.Unlock()
	if ok {
		r.emitRemoved(s)
	}
}

func (r *room) emitRemoved(s *remoteStream) {
	_ = s.Close()
	r.emit(func(h core.RoomEvents) {
		if h.OnStreamRemoved != nil {
			h.OnStreamRemoved(s)
		}
	})
}
