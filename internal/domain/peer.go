package domain

// PeerID identifies one participant connection inside a room.
type PeerID string

// DataMessage is an opaque in-room payload; the core never interprets Data.
type DataMessage struct {
	Src  PeerID `json:"src"`
	Data []byte `json:"data"`
}
