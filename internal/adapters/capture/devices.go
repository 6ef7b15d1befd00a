// Package capture implements the local capture API with synthetic pion tracks
// for the devices a Directory reports.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrDeviceNotFound = errors.New("device not found")

const (
	defaultVideoInterval = time.Second / 30
	defaultAudioInterval = 20 * time.Millisecond
)

type Option func(*Devices)

// WithFrameInterval overrides how often video and audio packets are produced.
func WithFrameInterval(video, audio time.Duration) Option {
	return func(d *Devices) {
		d.videoInterval = video
		d.audioInterval = audio
	}
}

// Devices implements core.CaptureDevices.
type Devices struct {
	dir           Directory
	videoInterval time.Duration
	audioInterval time.Duration
}

func New(dir Directory, opts ...Option) *Devices {
	d := &Devices{dir: dir, videoInterval: defaultVideoInterval, audioInterval: defaultAudioInterval}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Devices) EnumerateDevices(ctx context.Context) ([]domain.Device, error) {
	return d.dir.List(ctx)
}

func (d *Devices) OnDeviceChange(cb func()) func() {
	return d.dir.Watch(cb)
}

// Acquire opens one track per selected device. Every id in pair must be
// present in the directory with the matching kind.
func (d *Devices) Acquire(ctx context.Context, pair domain.DevicePair) (core.Stream, error) {
	devices, err := d.dir.List(ctx)
	if err != nil {
		return nil, err
	}
	streamID := uuid.NewString()
	var tracks []*Track
	for _, sel := range []struct {
		id   domain.DeviceID
		kind domain.DeviceKind
	}{{pair.Video, domain.DeviceKindVideo}, {pair.Audio, domain.DeviceKindAudio}} {
		if sel.id == "" {
			continue
		}
		dev, ok := domain.FindDevice(devices, sel.id)
		if !ok || dev.Kind != sel.kind {
			return nil, fmt.Errorf("%w: %s %s", ErrDeviceNotFound, sel.kind, sel.id)
		}
		t, err := newTrack(dev, streamID)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := newStream(streamID, tracks)
	for _, t := range tracks {
		interval := d.videoInterval
		if t.kind == domain.DeviceKindAudio {
			interval = d.audioInterval
		}
		s.run(t, interval)
	}
	log.Info().
		Str("module", "adapters.capture").
		Str("stream", streamID).
		Str("video", string(pair.Video)).
		Str("audio", string(pair.Audio)).
		Msg("stream acquired")
	return s, nil
}
