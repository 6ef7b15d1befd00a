package rtc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrNoOfferHandler = errors.New("no offer handler")

// Connection wraps a pion PeerConnection with offer serialization and
// candidate buffering. It serves both the SFU side and the room client.
type Connection struct {
	pc     *webrtc.PeerConnection
	logger zerolog.Logger
	cancel context.CancelFunc

	onICE    func(webrtc.ICECandidateInit)
	onTrack  func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onClosed func()
	onOffer  func(webrtc.SessionDescription)

	mu          sync.Mutex
	negotiating bool
	pending     bool
	candidates  []webrtc.ICECandidateInit

	closed    atomic.Bool
	closeOnce sync.Once
}

// Configuration builds a pion configuration from ICE server urls.
func Configuration(urls []string) webrtc.Configuration {
	if len(urls) == 0 {
		return webrtc.Configuration{}
	}
	return webrtc.Configuration{ICEServers: []webrtc.ICEServer{{URLs: urls}}}
}

func DefaultConfiguration() webrtc.Configuration {
	return Configuration([]string{"stun:stun.l.google.com:19302"})
}

// LoopbackAPI gathers UDP4 host candidates including loopback, so peers on
// one host connect without a routable interface.
func LoopbackAPI() *webrtc.API {
	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(true)
	se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	return webrtc.NewAPI(webrtc.WithSettingEngine(se))
}

// NewConnection creates the peer connection. id only labels log lines.
func NewConnection(cfg webrtc.Configuration, id string) (*Connection, error) {
	return NewConnectionWithAPI(nil, cfg, id)
}

// NewConnectionWithAPI is NewConnection on api; nil means pion's defaults.
func NewConnectionWithAPI(api *webrtc.API, cfg webrtc.Configuration, id string) (*Connection, error) {
	if api == nil {
		api = webrtc.NewAPI()
	}
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &Connection{
		pc:     pc,
		logger: log.With().Str("module", "adapters.rtc").Str("peer", id).Logger(),
	}, nil
}

// Start installs the pion callbacks. Track contexts end with ctx or when ICE fails.
func (c *Connection) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICEConnectionStateFailed || s == webrtc.ICEConnectionStateClosed {
			cancel()
		}
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			go c.Close()
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && c.onICE != nil {
			c.onICE(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("remote track")
		if c.onTrack != nil {
			c.onTrack(ctx, track, receiver)
		}
	})
	return nil
}

func (c *Connection) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	c.flushCandidates()
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	<-gatherComplete

	return c.pc.LocalDescription(), nil
}

// Renegotiate creates a new offer and hands it to the offer handler.
// While an offer is unanswered further requests collapse into one follow-up.
func (c *Connection) Renegotiate() error {
	if c.onOffer == nil {
		return ErrNoOfferHandler
	}
	c.mu.Lock()
	if c.negotiating {
		c.pending = true
		c.mu.Unlock()
		return nil
	}
	c.negotiating = true
	c.mu.Unlock()

	offer, err := c.CreateAndSetOffer()
	if err != nil {
		c.mu.Lock()
		c.negotiating = false
		c.mu.Unlock()
		return err
	}
	c.onOffer(*offer)
	return nil
}

func (c *Connection) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	<-gatherComplete
	return c.pc.LocalDescription(), nil
}

// ApplyAnswer completes the outstanding offer and sends a queued one, if any.
func (c *Connection) ApplyAnswer(answer webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return err
	}
	c.flushCandidates()

	c.mu.Lock()
	c.negotiating = false
	again := c.pending
	c.pending = false
	c.mu.Unlock()

	if again {
		return c.Renegotiate()
	}
	return nil
}

// AddICECandidate buffers candidates that arrive before the remote description.
func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	if c.pc.RemoteDescription() == nil {
		c.candidates = append(c.candidates, ci)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.pc.AddICECandidate(ci)
}

func (c *Connection) flushCandidates() {
	c.mu.Lock()
	pending := c.candidates
	c.candidates = nil
	c.mu.Unlock()
	for _, ci := range pending {
		if err := c.pc.AddICECandidate(ci); err != nil {
			c.logger.Warn().Err(err).Msg("buffered candidate rejected")
		}
	}
}

// Close may be called again from the OnClosed callback.
func (c *Connection) Close() {
	first := false
	c.closeOnce.Do(func() {
		first = true
		c.closed.Store(true)
		if c.cancel != nil {
			c.cancel()
		}
		if err := c.pc.Close(); err != nil {
			c.logger.Error().Err(err).Msg("close error")
		} else {
			c.logger.Info().Msg("closed")
		}
	})
	if first && c.onClosed != nil {
		c.onClosed()
	}
}

func (c *Connection) IsClosed() bool { return c.closed.Load() }

func (c *Connection) SignalingState() webrtc.SignalingState { return c.pc.SignalingState() }

func (c *Connection) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) { c.onICE = fn }

// OnTrack sets the application callback for remote tracks.
func (c *Connection) OnTrack(fn func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	c.onTrack = fn
}

// OnClosed is called once, whichever side closed the connection.
func (c *Connection) OnClosed(fn func()) { c.onClosed = fn }

// OnOffer receives offers produced by Renegotiate.
func (c *Connection) OnOffer(fn func(webrtc.SessionDescription)) { c.onOffer = fn }

// AddLocalTrack attaches track on its own send-only transceiver so it never
// shares an m-line the remote side sends on.
func (c *Connection) AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	return c.AddSender(track.Kind(), track)
}

// AddSender adds a send-only transceiver for kind. track may be nil and set
// later with ReplaceTrack.
func (c *Connection) AddSender(kind webrtc.RTPCodecType, track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	init := webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendonly}
	var (
		tr  *webrtc.RTPTransceiver
		err error
	)
	if track != nil {
		tr, err = c.pc.AddTransceiverFromTrack(track, init)
	} else {
		tr, err = c.pc.AddTransceiverFromKind(kind, init)
	}
	if err != nil {
		return nil, err
	}
	sender := tr.Sender()
	go drainRTCP(sender)
	return sender, nil
}

func (c *Connection) RemoveTrack(sender *webrtc.RTPSender) error {
	return c.pc.RemoveTrack(sender)
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
