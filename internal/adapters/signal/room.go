package signal

import (
	"encoding/json"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/protocol"
	"github.com/rs/zerolog/log"
)

func decode(data []byte, v any) error { return json.Unmarshal(data, v) }

func members(in []core.MemberDTO) []protocol.Member {
	out := make([]protocol.Member, 0, len(in))
	for _, m := range in {
		out = append(out, protocol.Member{ID: m.ID, Username: m.Username})
	}
	return out
}

func (ctl *SignalWSController) handleJoin(
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	var p protocol.Join
	if err := decode(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(conn, "bad_payload")
		return
	}

	user := ctl.Orch.Registry.GetOrCreateUser(sid)
	if ctl.opts.JoinLimiter != nil && !ctl.opts.JoinLimiter.Allow(user.ID) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("join rate limited")
		ctl.sendError(conn, "rate_limited")
		return
	}

	mode, err := domain.ParseRoomMode(string(p.Mode))
	if err != nil {
		ctl.sendError(conn, err.Error())
		return
	}
	key, err := domain.NewRoomKey(mode, p.Room)
	if err != nil {
		ctl.sendError(conn, err.Error())
		return
	}

	if p.Name != "" {
		if _, err := ctl.Orch.Registry.UpdateUsername(sid, p.Name); err != nil {
			ctl.sendError(conn, "invalid_name")
			return
		}
		log.Info().Str("module", "signal").Str("sid", string(sid)).Str("name", p.Name).Msg("rename on join")
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(key)).Msg("join")
	room, err := ctl.Orch.Join(sid, key)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("join failed")
		ctl.sendError(conn, err.Error())
		return
	}

	meta := room.Room()
	snapshot := room.MembersSnapshot()
	ctl.sendJSON(conn, protocol.RoomState{
		Type:     protocol.TypeRoomState,
		Room:     meta.Key,
		Mode:     meta.Mode,
		RoomName: meta.Name,
		Members:  members(snapshot),
		Count:    len(snapshot),
	})
}

// handleLeave leaves the current room; the connection stays open.
func (ctl *SignalWSController) handleLeave(
	sid core.SessionID,
	conn *WsSignalConn,
) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave")
	ctl.Orch.Leave(sid)
	ctl.sendJSON(conn, protocol.Envelope{Type: protocol.TypeLeft})
}
