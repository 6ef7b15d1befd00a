package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

const mtu = 1200

var (
	videoCodec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	audioCodec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}

	// opusSilence is a single Opus frame of silence.
	opusSilence = []byte{0xf8, 0xff, 0xfe}
)

// Track is a synthetic capture track backed by a pion static RTP track.
type Track struct {
	id      string
	kind    domain.DeviceKind
	device  domain.DeviceID
	local   *webrtc.TrackLocalStaticRTP
	enabled atomic.Bool
	packets atomic.Int64
}

func newTrack(dev domain.Device, streamID string) (*Track, error) {
	codec := videoCodec
	if dev.Kind == domain.DeviceKindAudio {
		codec = audioCodec
	}
	id := uuid.NewString()
	local, err := webrtc.NewTrackLocalStaticRTP(codec, id, streamID)
	if err != nil {
		return nil, err
	}
	t := &Track{id: id, kind: dev.Kind, device: dev.ID, local: local}
	t.enabled.Store(true)
	return t, nil
}

func (t *Track) ID() string                    { return t.id }
func (t *Track) Kind() domain.DeviceKind       { return t.kind }
func (t *Track) Device() domain.DeviceID       { return t.device }
func (t *Track) Enabled() bool                 { return t.enabled.Load() }
func (t *Track) SetEnabled(enabled bool)       { t.enabled.Store(enabled) }
func (t *Track) TrackLocal() webrtc.TrackLocal { return t.local }

// Packets counts RTP packets written so far.
func (t *Track) Packets() int64 { return t.packets.Load() }

func (t *Track) packetizer() (rtp.Packetizer, []byte, uint32) {
	if t.kind == domain.DeviceKindAudio {
		p := rtp.NewPacketizer(mtu, 111, 0, &codecs.OpusPayloader{}, rtp.NewRandomSequencer(), audioCodec.ClockRate)
		return p, opusSilence, 960
	}
	p := rtp.NewPacketizer(mtu, 96, 0, &codecs.VP8Payloader{}, rtp.NewRandomSequencer(), videoCodec.ClockRate)
	return p, syntheticFrame(), videoCodec.ClockRate / 30
}

// syntheticFrame is an opaque VP8-sized payload; receivers only relay it.
func syntheticFrame() []byte {
	frame := make([]byte, 2400)
	for i := range frame {
		frame[i] = byte(i)
	}
	return frame
}

// Stream groups the tracks of one acquisition and owns their generators.
type Stream struct {
	id     string
	tracks []core.Track
	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup
	once   sync.Once
}

func newStream(id string, tracks []*Track) *Stream {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Stream{id: id, ctx: ctx, cancel: cancel}
	for _, t := range tracks {
		s.tracks = append(s.tracks, t)
	}
	return s
}

func (s *Stream) ID() string           { return s.id }
func (s *Stream) Tracks() []core.Track { return s.tracks }

// Close stops the generators and waits for them.
func (s *Stream) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
		log.Info().Str("module", "adapters.capture").Str("stream", s.id).Msg("stream closed")
	})
	return nil
}

// run feeds t every interval. A disabled track writes nothing.
func (s *Stream) run(t *Track, interval time.Duration) {
	s.wg.Go(func() {
		packetizer, payload, samples := t.packetizer()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
			}
			if !t.Enabled() {
				continue
			}
			for _, pkt := range packetizer.Packetize(payload, samples) {
				if err := t.local.WriteRTP(pkt); err != nil {
					log.Debug().Err(err).Str("module", "adapters.capture").Str("track", t.id).Msg("write rtp")
					continue
				}
				t.packets.Add(1)
			}
		}
	})
}
