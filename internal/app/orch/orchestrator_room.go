package orch

import (
	"github.com/dkeye/Conference/internal/app"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Join puts sid into the room of key, creating the room on demand. A member
// already in another room is moved.
func (o *Orchestrator) Join(sid core.SessionID, key domain.RoomKey) (core.RoomService, error) {
	if from, _, ok := o.Registry.RoomOf(sid); ok {
		if from != key {
			return o.Move(sid, key)
		}
		if room, ok := o.Rooms.Get(key); ok {
			return room, nil
		}
	}
	session, ok := o.Registry.GetSession(sid)
	if !ok {
		return nil, ErrNoSession
	}
	room, err := o.Rooms.GetOrCreate(key)
	if err != nil {
		return nil, err
	}
	room.AddMember(sid, session)
	o.Registry.UpdateRoom(sid, key)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(key)).Msg("added to room")

	if frame := o.memberEvent(protocol.TypeMemberJoined, sid); frame != nil {
		o.Publish(key, sid, frame, app.FrameControl)
	}
	return room, nil
}

// Move transfers sid with its media to another room. Subscriptions across the
// old room are torn down and rebuilt against the new one.
func (o *Orchestrator) Move(sid core.SessionID, to domain.RoomKey) (core.RoomService, error) {
	fromKey, session, ok := o.Registry.RoomOf(sid)
	if !ok {
		return nil, ErrNotInRoom
	}
	toRoom, err := o.Rooms.GetOrCreate(to)
	if err != nil {
		return nil, err
	}
	if to == fromKey {
		return toRoom, nil
	}

	if o.Relays != nil {
		o.unpublish(sid, o.Relays.DetachSubscribers(sid))
		if mc := session.Media(); mc != nil {
			removeSenders(mc, o.Relays.DropSubscriber("", sid))
		}
	}

	o.leaveRoom(sid, fromKey)
	if frame := o.memberEvent(protocol.TypeMemberLeft, sid); frame != nil {
		o.Publish(fromKey, sid, frame, app.FrameControl)
	}
	toRoom.AddMember(sid, session)
	o.Registry.UpdateRoom(sid, to)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("from_room", string(fromKey)).Str("room", string(to)).Msg("moved")

	if frame := o.memberEvent(protocol.TypeMemberJoined, sid); frame != nil {
		o.Publish(to, sid, frame, app.FrameControl)
	}
	o.publishAll(sid)
	o.OnMediaReady(sid)
	return toRoom, nil
}

// Leave takes sid out of its room, tears down its media and tells the rest of
// the room. It returns the room sid was in.
func (o *Orchestrator) Leave(sid core.SessionID) (domain.RoomKey, bool) {
	key, _, ok := o.Registry.RoomOf(sid)
	o.KickBySID(sid)
	if ok {
		if frame := o.memberEvent(protocol.TypeMemberLeft, sid); frame != nil {
			o.Publish(key, sid, frame, app.FrameControl)
		}
	}
	return key, ok
}

func (o *Orchestrator) KickBySID(sid core.SessionID) {
	o.cleanupMedia(sid)
	o.cleanupMembership(sid)
}

func (o *Orchestrator) cleanupMembership(sid core.SessionID) {
	key, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return
	}
	o.leaveRoom(sid, key)
}

// leaveRoom drops an empty room once its last member is gone.
func (o *Orchestrator) leaveRoom(sid core.SessionID, key domain.RoomKey) {
	o.Registry.RemoveRoom(sid)
	room, ok := o.Rooms.Get(key)
	if !ok {
		return
	}
	room.RemoveMember(sid)
	if room.MemberCount() == 0 {
		o.Rooms.StopRoom(key)
	}
}

// EvictRoom removes every member of key and stops the room. Evicted members
// keep their signaling connection and receive a "left" message.
func (o *Orchestrator) EvictRoom(key domain.RoomKey) bool {
	if _, ok := o.Rooms.Get(key); !ok {
		return false
	}
	for _, snap := range o.Registry.MembersOfRoom(key) {
		o.KickBySID(snap.SID)
		o.send(snap.SID, protocol.Envelope{Type: protocol.TypeLeft})
	}
	o.Rooms.StopRoom(key)
	log.Info().Str("module", "orch").Str("room", string(key)).Msg("room evicted")
	return true
}

// Shutdown evicts every room and waits for the relays to drain.
func (o *Orchestrator) Shutdown() {
	for _, info := range o.Rooms.List() {
		o.EvictRoom(info.Key)
	}
	if o.Relays != nil {
		o.Relays.Wait()
	}
}
