package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// MediaConnection is the SFU side of one member's peer connection.
type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources.
	Close()
	IsClosed() bool
	AddICECandidate(webrtc.ICECandidateInit) error
	ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	// Renegotiate sends a fresh offer through the OnOffer callback.
	Renegotiate() error
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnOffer(func(webrtc.SessionDescription))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	RemoveTrack(sender *webrtc.RTPSender) error
	// OnClosed sets a callback for cleanup media session.
	OnClosed(func())
}
