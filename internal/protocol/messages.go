// Package protocol holds the JSON messages exchanged over the signaling websocket.
package protocol

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/Conference/internal/domain"
)

const (
	TypeJoin          = "join"
	TypeLeave         = "leave"
	TypePing          = "ping"
	TypePong          = "pong"
	TypeRename        = "rename"
	TypeWhoAmI        = "whoami"
	TypeOffer         = "offer"
	TypeAnswer        = "answer"
	TypeCandidate     = "candidate"
	TypeData          = "data"
	TypeRoomState     = "room_state"
	TypeMemberJoined  = "member_joined"
	TypeMemberLeft    = "member_left"
	TypeMemberUpdated = "member_updated"
	TypeStreamRemoved = "stream_removed"
	TypeLeft          = "left"
	TypeError         = "error"
)

var ErrNoType = errors.New("message has no type")

// Envelope is decoded first to dispatch on Type.
type Envelope struct {
	Type string `json:"type"`
}

type Join struct {
	Type string          `json:"type"`
	Room domain.RoomName `json:"room"`
	Mode domain.RoomMode `json:"mode,omitempty"`
	Name string          `json:"name,omitempty"`
}

type Rename struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// SessionDescription carries both offers and answers.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type Candidate struct {
	Type          string  `json:"type"`
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// Data is an opaque payload relayed to the rest of the room. Src is filled
// in by the server.
type Data struct {
	Type string        `json:"type"`
	Src  domain.PeerID `json:"src,omitempty"`
	Data []byte        `json:"data"`
}

type Member struct {
	ID       domain.UserID `json:"id"`
	Username string        `json:"username"`
}

type RoomState struct {
	Type     string          `json:"type"`
	Room     domain.RoomKey  `json:"room"`
	Mode     domain.RoomMode `json:"mode"`
	RoomName domain.RoomName `json:"room_name"`
	Members  []Member        `json:"members"`
	Count    int             `json:"count"`
}

// MemberEvent is member_joined, member_left or member_updated.
type MemberEvent struct {
	Type string `json:"type"`
	User Member `json:"user"`
}

type StreamRemoved struct {
	Type string        `json:"type"`
	Peer domain.PeerID `json:"peer"`
}

type WhoAmI struct {
	Type     string         `json:"type"`
	ID       domain.UserID  `json:"id"`
	Username string         `json:"username"`
	Room     domain.RoomKey `json:"room,omitempty"`
}

type Error struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewError(msg string) Error { return Error{Type: TypeError, Error: msg} }

// TypeOf returns the discriminator of a raw message.
func TypeOf(data []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", err
	}
	if env.Type == "" {
		return "", ErrNoType
	}
	return env.Type, nil
}

func Encode(v any) ([]byte, error) { return json.Marshal(v) }
