package app

import "github.com/dkeye/Conference/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// FrameKind tells a policy what was being delivered when a member fell behind.
type FrameKind int

const (
	// FrameControl carries membership and negotiation messages a client cannot miss.
	FrameControl FrameKind = iota
	// FrameData carries opaque in-room data.
	FrameData
)

type Policy interface {
	OnBackPressure(room core.RoomService, member core.MemberSession, kind FrameKind) BackpressureAction
}

// SimplePolicy drops data a slow member cannot keep up with and kicks
// members that miss control messages.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(_ core.RoomService, _ core.MemberSession, kind FrameKind) BackpressureAction {
	if kind == FrameData {
		return DropFrame
	}
	return KickMember
}
