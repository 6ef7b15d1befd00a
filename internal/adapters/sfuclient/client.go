// Package sfuclient implements the room transport against the conference
// signaling server: one websocket per peer, one pion connection per joined room.
package sfuclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrJoinRejected     = errors.New("join rejected")
	ErrUnsupportedTrack = errors.New("track cannot be sent")
	ErrEvicted          = errors.New("removed from room by server")
)

// LocalTrack is a capture track that can be attached to a pion sender.
type LocalTrack interface {
	core.Track
	TrackLocal() webrtc.TrackLocal
}

type Options struct {
	// URL is the signaling websocket, e.g. ws://host:8080/api/ws/signal.
	URL string
	ICE webrtc.Configuration
	// API builds peer connections; nil uses pion's defaults.
	API *webrtc.API
	// Name is sent as the username on join; empty keeps the server default.
	Name   string
	Dialer *websocket.Dialer
}

// Client implements core.Signaling.
type Client struct {
	opts Options
}

func New(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Client{opts: opts}
}

// CreatePeer dials the signaling server under a fresh peer id.
func (c *Client) CreatePeer(ctx context.Context) (core.Peer, error) {
	id := domain.PeerID(uuid.NewString())
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("signal url: %w", err)
	}
	q := u.Query()
	q.Set("peer", string(id))
	u.RawQuery = q.Encode()

	ws, _, err := c.opts.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}
	log.Info().Str("module", "adapters.sfuclient").Str("peer", string(id)).Msg("signaling connected")
	return newPeer(id, ws, c.opts), nil
}
