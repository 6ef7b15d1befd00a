package sfu

import (
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// Source is one published track.
type Source interface {
	ID() string
	Kind() webrtc.RTPCodecType
	Capability() webrtc.RTPCodecCapability
	ReadRTP() (*rtp.Packet, error)
}

type remoteSource struct {
	track *webrtc.TrackRemote
}

// FromRemote adapts a pion remote track.
func FromRemote(track *webrtc.TrackRemote) Source {
	return remoteSource{track: track}
}

func (s remoteSource) ID() string                { return s.track.ID() }
func (s remoteSource) Kind() webrtc.RTPCodecType { return s.track.Kind() }

func (s remoteSource) Capability() webrtc.RTPCodecCapability {
	return s.track.Codec().RTPCodecCapability
}

func (s remoteSource) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := s.track.ReadRTP()
	return pkt, err
}
