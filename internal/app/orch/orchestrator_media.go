package orch

import (
	"context"

	"github.com/dkeye/Conference/internal/app/sfu"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// BindMediaHandlers routes the connection's tracks, renegotiation offers and
// close event of sid through the orchestrator.
func (o *Orchestrator) BindMediaHandlers(mc core.MediaConnection, sid core.SessionID) {
	mc.OnTrack(func(trackCtx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		o.OnTrack(trackCtx, sid, sfu.FromRemote(track))
	})
	mc.OnOffer(func(offer webrtc.SessionDescription) {
		o.send(sid, protocol.SessionDescription{Type: protocol.TypeOffer, SDP: offer.SDP})
	})
	mc.OnClosed(func() { o.OnMediaDisconnect(sid, mc) })
}

// OnMediaDisconnect cleans up after mc closed. A connection that was already
// replaced on the session is ignored.
func (o *Orchestrator) OnMediaDisconnect(sid core.SessionID, mc core.MediaConnection) {
	if sess, ok := o.Registry.GetSession(sid); ok {
		if cur := sess.Media(); cur != nil && cur != mc {
			return
		}
	}
	o.cleanupMedia(sid)
}

func (o *Orchestrator) cleanupMedia(sid core.SessionID) {
	if o.Relays != nil {
		o.unpublish(sid, o.Relays.StopRelays(sid))
		o.Relays.DropSubscriber("", sid)
	}

	if sess, ok := o.Registry.GetSession(sid); ok {
		if mc := sess.Media(); mc != nil {
			sess.UpdateMedia(nil)
			mc.Close()
		}
	}
}

// unpublish removes pub's tracks from each subscriber's connection, offers
// the change and tells the subscriber the stream is gone.
func (o *Orchestrator) unpublish(pub core.SessionID, subs map[core.SessionID][]*sfu.OutTrack) {
	peer := o.PeerOf(pub)
	for dst, ots := range subs {
		sess, ok := o.Registry.GetSession(dst)
		if !ok {
			continue
		}
		if mc := sess.Media(); mc != nil && !mc.IsClosed() {
			removeSenders(mc, ots)
			o.renegotiate(dst, mc)
		}
		o.send(dst, protocol.StreamRemoved{Type: protocol.TypeStreamRemoved, Peer: peer})
	}
}

func removeSenders(mc core.MediaConnection, ots []*sfu.OutTrack) {
	for _, ot := range ots {
		if ot.Sender == nil {
			continue
		}
		if err := mc.RemoveTrack(ot.Sender); err != nil {
			log.Warn().Err(err).Str("module", "orch").Msg("remove track")
		}
	}
}

func (o *Orchestrator) renegotiate(sid core.SessionID, mc core.MediaConnection) {
	if err := mc.Renegotiate(); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("renegotiate")
	}
}

// OnTrack is called when a new remote media track appears for a given session.
func (o *Orchestrator) OnTrack(ctx context.Context, sid core.SessionID, src sfu.Source) {
	if o.Relays == nil {
		return
	}
	if sess, ok := o.Registry.GetSession(sid); !ok || sess.Media() == nil {
		return
	}
	key, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		log.Info().
			Str("module", "orch").
			Str("sid", string(sid)).
			Msg("OnTrack: no room for sid")
		return
	}
	relay := o.Relays.StartRelay(ctx, sid, src)

	// Subscribe all existing members in the room to this track.
	for _, snap := range o.Registry.MembersOfRoom(key) {
		if snap.SID == sid {
			continue
		}
		mc := snap.Session.Media()
		if mc == nil {
			continue
		}
		if err := o.Relays.Subscribe(relay, snap.SID, mc); err != nil {
			log.Error().Err(err).Str("module", "orch").Str("sid", string(snap.SID)).Msg("subscribe")
			continue
		}
		o.renegotiate(snap.SID, mc)
	}
}

// publishAll subscribes the current room mates of sid to every track sid publishes.
func (o *Orchestrator) publishAll(sid core.SessionID) {
	if o.Relays == nil {
		return
	}
	relays := o.Relays.RelaysOf(sid)
	if len(relays) == 0 {
		return
	}
	for _, mate := range o.Registry.RoomMates(sid) {
		mc := mate.Session.Media()
		if mc == nil {
			continue
		}
		for _, relay := range relays {
			if err := o.Relays.Subscribe(relay, mate.SID, mc); err != nil {
				log.Error().Err(err).Str("module", "orch").Str("sid", string(mate.SID)).Msg("subscribe")
			}
		}
		o.renegotiate(mate.SID, mc)
	}
}

// OnMediaReady is called when MediaConnection is attached to the session (offer/answer done).
// It subscribes this member to every relay of its room mates.
func (o *Orchestrator) OnMediaReady(sid core.SessionID) {
	if o.Relays == nil {
		return
	}
	if _, _, ok := o.Registry.RoomOf(sid); !ok {
		return
	}
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return
	}
	mc := sess.Media()
	if mc == nil {
		return
	}

	subscribed := 0
	for _, mate := range o.Registry.RoomMates(sid) {
		for _, relay := range o.Relays.RelaysOf(mate.SID) {
			if err := o.Relays.Subscribe(relay, sid, mc); err != nil {
				log.Error().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("subscribe")
				continue
			}
			subscribed++
		}
	}
	if subscribed > 0 {
		o.renegotiate(sid, mc)
	}
}
