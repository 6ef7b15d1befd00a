package signal

import (
	"context"

	"github.com/dkeye/Conference/internal/adapters/rtc"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) sendCandidate(c core.SignalConnection, ci webrtc.ICECandidateInit) {
	ctl.sendJSON(c, protocol.Candidate{
		Type:          protocol.TypeCandidate,
		Candidate:     ci.Candidate,
		SDPMid:        ci.SDPMid,
		SDPMLineIndex: ci.SDPMLineIndex,
	})
}

// handleOffer answers a client offer. The first offer creates the member's
// media connection; later ones renegotiate it.
func (ctl *SignalWSController) handleOffer(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	var p protocol.SessionDescription
	if err := decode(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad offer payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	sess, ok := ctl.Orch.Registry.GetSession(sid)
	if !ok {
		return
	}
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP}

	if mc := sess.Media(); mc != nil && !mc.IsClosed() {
		answer, err := mc.ApplyOfferAndCreateAnswer(offer)
		if err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("webrtc apply offer")
			ctl.sendError(conn, "bad_offer")
			return
		}
		ctl.sendJSON(conn, protocol.SessionDescription{Type: protocol.TypeAnswer, SDP: answer.SDP})
		return
	}

	wc, err := rtc.NewConnectionWithAPI(ctl.opts.API, ctl.opts.ICE, string(sid))
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc new pc")
		return
	}

	wc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		ctl.sendCandidate(conn, ci)
	})

	ctl.Orch.BindMediaHandlers(wc, sid)

	if err = wc.Start(ctx); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc start")
		wc.Close()
		return
	}

	answer, err := wc.ApplyOfferAndCreateAnswer(offer)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc apply offer")
		ctl.sendError(conn, "bad_offer")
		wc.Close()
		return
	}

	sess.UpdateMedia(wc)
	ctl.sendJSON(conn, protocol.SessionDescription{Type: protocol.TypeAnswer, SDP: answer.SDP})
	ctl.Orch.OnMediaReady(sid)
}

// handleAnswer completes a server-initiated renegotiation.
func (ctl *SignalWSController) handleAnswer(
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	var p protocol.SessionDescription
	if err := decode(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad answer payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	mc := ctl.media(sid)
	if mc == nil {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("answer: no media connection")
		return
	}
	if err := mc.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("apply answer")
	}
}

func (ctl *SignalWSController) handleCandidate(
	sid core.SessionID,
	_ *WsSignalConn,
	data []byte,
) {
	var p protocol.Candidate
	if err := decode(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad candidate payload")
		return
	}

	mc := ctl.media(sid)
	if mc == nil {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("candidate: no media connection")
		return
	}
	cand := webrtc.ICECandidateInit{
		Candidate:     p.Candidate,
		SDPMid:        p.SDPMid,
		SDPMLineIndex: p.SDPMLineIndex,
	}
	if err := mc.AddICECandidate(cand); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("add ice candidate")
	}
}

func (ctl *SignalWSController) media(sid core.SessionID) core.MediaConnection {
	sess, ok := ctl.Orch.Registry.GetSession(sid)
	if !ok {
		return nil
	}
	return sess.Media()
}
