package core

//go:generate mockgen -source=peer_iface.go -destination=mocks/peer_mock.go -package=mocks

import (
	"context"

	"github.com/dkeye/Conference/internal/domain"
)

// RoomEvents are the peer-lifecycle observers of a joined room.
// Nil fields are ignored. Handlers may be invoked on any goroutine.
type RoomEvents struct {
	OnStream        func(peer domain.PeerID, stream Stream)
	OnStreamRemoved func(stream Stream)
	OnPeerJoin      func(peer domain.PeerID)
	OnPeerLeave     func(peer domain.PeerID)
	OnData          func(msg domain.DataMessage)
	// OnClosed reports that the room ended without Close being called:
	// the server removed the peer or the connection was lost.
	OnClosed func(err error)
}

type JoinOptions struct {
	Mode domain.RoomMode
	// Stream is sent to the room once joined; may be nil.
	Stream Stream
}

// Signaling creates peers on the room transport.
type Signaling interface {
	CreatePeer(ctx context.Context) (Peer, error)
}

// Peer is one signaling identity.
type Peer interface {
	ID() domain.PeerID
	JoinRoom(ctx context.Context, key domain.RoomKey, opts JoinOptions) (RoomHandle, error)
	Close() error
}

// RoomHandle owns the connection of one joined room.
type RoomHandle interface {
	// On registers the observers. Events that arrive earlier are held back until then.
	On(events RoomEvents)
	ReplaceStream(stream Stream) error
	Send(data []byte) error
	Close() error
}
