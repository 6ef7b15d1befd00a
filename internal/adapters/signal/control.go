package signal

import (
	"errors"

	"github.com/dkeye/Conference/internal/app/orch"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.sendJSON(conn, protocol.Envelope{Type: protocol.TypePong})
}

// handleData relays an opaque payload to the rest of the room.
func (ctl *SignalWSController) handleData(sid core.SessionID, conn *WsSignalConn, data []byte) {
	var p protocol.Data
	if err := decode(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad data payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	if err := ctl.Orch.OnData(sid, p.Data); err != nil {
		if errors.Is(err, orch.ErrNotInRoom) {
			ctl.sendError(conn, "not_in_room")
			return
		}
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("data relay")
	}
}
