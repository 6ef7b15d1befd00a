package signal

import (
	"github.com/dkeye/Conference/internal/app"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleRename(
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	var p protocol.Rename
	if err := decode(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad rename payload")
		ctl.sendError(conn, "bad_payload")
		return
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("name", p.Name).Msg("rename")
	user, err := ctl.Orch.Registry.UpdateUsername(sid, p.Name)
	if err != nil {
		ctl.sendError(conn, "invalid_name")
		return
	}
	ctl.handleWhoAmI(sid, conn)

	frame, err := protocol.Encode(protocol.MemberEvent{
		Type: protocol.TypeMemberUpdated,
		User: protocol.Member{ID: user.ID, Username: user.Username},
	})
	if err != nil {
		return
	}
	ctl.Orch.OnFrame(sid, frame, app.FrameControl)
}

func (ctl *SignalWSController) handleWhoAmI(
	sid core.SessionID,
	conn *WsSignalConn,
) {
	user := ctl.Orch.Registry.GetOrCreateUser(sid)
	resp := protocol.WhoAmI{
		Type:     protocol.TypeWhoAmI,
		ID:       user.ID,
		Username: user.Username,
	}
	if key, _, ok := ctl.Orch.Registry.RoomOf(sid); ok {
		resp.Room = key
	}
	ctl.sendJSON(conn, resp)
}
