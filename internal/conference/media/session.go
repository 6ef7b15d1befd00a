// Package media owns the local capture stream.
package media

import (
	"context"
	"fmt"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/reactive"
	"github.com/rs/zerolog/log"
)

type State int

const (
	StateIdle State = iota
	StateAcquiring
	StateActive
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring"
	case StateActive:
		return "active"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Session is loop-confined and the only writer of the local stream.
type Session struct {
	loop    *reactive.Loop
	capture core.CaptureDevices

	stream *reactive.Value[core.Stream]
	state  State

	// gen tags every acquisition; a result is published only if its tag is
	// still the latest one.
	gen uint64

	videoMuted bool
	audioMuted bool
	// mute, when set, is read at publication instead of the flags above.
	mute map[domain.DeviceKind]reactive.Readable[bool]

	onError func(error)
}

type Option func(*Session)

// WithMuteState makes publication read the mute flags from their owner, so a
// stream resolved in the same turn as a toggle already carries it.
func WithMuteState(video, audio reactive.Readable[bool]) Option {
	return func(s *Session) {
		s.mute = map[domain.DeviceKind]reactive.Readable[bool]{
			domain.DeviceKindVideo: video,
			domain.DeviceKindAudio: audio,
		}
	}
}

// WithErrorHandler receives acquisition failures, wrapped in core.ErrMediaAcquisition.
func WithErrorHandler(fn func(error)) Option {
	return func(s *Session) { s.onError = fn }
}

func NewSession(loop *reactive.Loop, capture core.CaptureDevices, opts ...Option) *Session {
	s := &Session{
		loop:    loop,
		capture: capture,
		stream:  reactive.NewValue[core.Stream](nil),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Stream is the currently published local stream, nil before the first
// successful acquisition.
func (s *Session) Stream() reactive.Readable[core.Stream] { return s.stream }

func (s *Session) State() State { return s.state }

// Acquire requests a stream for pair, superseding any acquisition in flight.
func (s *Session) Acquire(pair domain.DevicePair) {
	if s.state == StateReleased {
		return
	}
	s.gen++
	if pair.IsZero() {
		// Nothing selected: drop whatever is in flight and wait for a selection.
		s.settle()
		return
	}
	gen := s.gen
	s.state = StateAcquiring

	logger := log.With().
		Str("module", "conference.media").
		Str("video", string(pair.Video)).
		Str("audio", string(pair.Audio)).
		Uint64("gen", gen).
		Logger()
	logger.Debug().Msg("acquiring stream")

	reactive.Async(s.loop, func(ctx context.Context) (core.Stream, error) {
		return s.capture.Acquire(ctx, pair)
	}, func(stream core.Stream, err error) {
		if gen != s.gen {
			if stream != nil {
				_ = stream.Close()
			}
			logger.Debug().Msg("stale acquisition discarded")
			return
		}
		if err != nil {
			err = fmt.Errorf("%w: %w", core.ErrMediaAcquisition, err)
			logger.Error().Err(err).Msg("acquisition failed, keeping previous stream")
			s.settle()
			if s.onError != nil {
				s.onError(err)
			}
			return
		}
		s.publish(stream)
		logger.Info().Str("stream", stream.ID()).Msg("stream published")
	})
}

// publish applies the mute flags before anyone can observe the stream.
func (s *Session) publish(stream core.Stream) {
	core.SetTrackEnabled(stream, domain.DeviceKindVideo, !s.muted(domain.DeviceKindVideo))
	core.SetTrackEnabled(stream, domain.DeviceKindAudio, !s.muted(domain.DeviceKindAudio))

	prev := s.stream.Get()
	s.stream.Set(stream)
	s.state = StateActive
	if prev != nil && prev != stream {
		if err := prev.Close(); err != nil {
			log.Warn().Str("module", "conference.media").Err(err).Str("stream", prev.ID()).Msg("close previous stream")
		}
	}
}

func (s *Session) muted(kind domain.DeviceKind) bool {
	if v, ok := s.mute[kind]; ok {
		return v.Get()
	}
	if kind == domain.DeviceKindVideo {
		return s.videoMuted
	}
	return s.audioMuted
}

func (s *Session) settle() {
	if s.stream.Get() != nil {
		s.state = StateActive
	} else {
		s.state = StateIdle
	}
}

// SetMuted toggles the tracks of kind on the current stream. The flag is
// remembered for streams acquired later.
func (s *Session) SetMuted(kind domain.DeviceKind, muted bool) {
	switch kind {
	case domain.DeviceKindVideo:
		s.videoMuted = muted
	case domain.DeviceKindAudio:
		s.audioMuted = muted
	default:
		return
	}
	core.SetTrackEnabled(s.stream.Get(), kind, !muted)
}

// Release closes the current stream and discards in-flight acquisitions.
// The session cannot be used afterwards.
func (s *Session) Release() {
	if s.state == StateReleased {
		return
	}
	s.gen++
	s.state = StateReleased
	if prev := s.stream.Get(); prev != nil {
		s.stream.Set(nil)
		_ = prev.Close()
	}
	log.Debug().Str("module", "conference.media").Msg("session released")
}
