package orch

import (
	"errors"

	"github.com/dkeye/Conference/internal/app"
	"github.com/dkeye/Conference/internal/app/sfu"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoSession = errors.New("no session")
	ErrNotInRoom = errors.New("not in room")
)

type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy
	Relays   *sfu.RelayManager
}

func New(reg *app.Registry, rooms core.RoomManager, policy app.Policy, relays *sfu.RelayManager) *Orchestrator {
	return &Orchestrator{Registry: reg, Rooms: rooms, Policy: policy, Relays: relays}
}

// OnFrame relays a frame from sid to the rest of its room.
func (o *Orchestrator) OnFrame(sid core.SessionID, data core.Frame, kind app.FrameKind) {
	key, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return
	}
	o.Publish(key, sid, data, kind)
}

// OnData stamps payload with the sender's peer id and relays it to the room.
func (o *Orchestrator) OnData(sid core.SessionID, payload []byte) error {
	if _, _, ok := o.Registry.RoomOf(sid); !ok {
		return ErrNotInRoom
	}
	frame, err := protocol.Encode(protocol.Data{Type: protocol.TypeData, Src: o.PeerOf(sid), Data: payload})
	if err != nil {
		return err
	}
	o.OnFrame(sid, frame, app.FrameData)
	return nil
}

// Publish broadcasts data to the room of key, skipping from. Members that
// cannot keep up are handled by the policy.
func (o *Orchestrator) Publish(key domain.RoomKey, from core.SessionID, data core.Frame, kind app.FrameKind) {
	room, ok := o.Rooms.Get(key)
	if !ok {
		return
	}
	res := room.Broadcast(from, data)
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(room, slow, kind) {
		case app.KickMember:
			for _, snap := range o.Registry.MembersOfRoom(key) {
				if snap.Session == slow {
					log.Warn().Str("module", "orch").Str("sid", string(snap.SID)).Str("room", string(key)).Msg("kicking slow member")
					o.Leave(snap.SID)
					o.Registry.Cancel(snap.SID)
				}
			}
		case app.DropFrame:
			log.Debug().Str("module", "orch").Str("room", string(key)).Msg("frame dropped for slow member")
		case app.NoAction:
		}
	}
}

// PeerOf returns the peer id other members know sid by.
func (o *Orchestrator) PeerOf(sid core.SessionID) domain.PeerID {
	if u, ok := o.Registry.User(sid); ok {
		return u.ID
	}
	return domain.PeerID(sid)
}

// send delivers v to sid only.
func (o *Orchestrator) send(sid core.SessionID, v any) {
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return
	}
	sc := sess.Signal()
	if sc == nil {
		return
	}
	frame, err := protocol.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode")
		return
	}
	if err := sc.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("send")
	}
}

func (o *Orchestrator) memberEvent(typ string, sid core.SessionID) core.Frame {
	u, _ := o.Registry.User(sid)
	frame, err := protocol.Encode(protocol.MemberEvent{
		Type: typ,
		User: protocol.Member{ID: u.ID, Username: u.Username},
	})
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode member event")
		return nil
	}
	return frame
}
