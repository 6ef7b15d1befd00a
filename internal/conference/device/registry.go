// Package device tracks available capture devices and the user's selection.
package device

import (
	"fmt"
	"slices"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/reactive"
	"github.com/rs/zerolog/log"
)

// Registry is loop-confined: every method must run on its loop.
// It is the only writer of the device lists and of the DeviceSelection.
type Registry struct {
	loop    *reactive.Loop
	capture core.CaptureDevices

	video *reactive.Value[[]domain.Device]
	audio *reactive.Value[[]domain.Device]

	videoID    *reactive.Value[domain.DeviceID]
	audioID    *reactive.Value[domain.DeviceID]
	videoMuted *reactive.Value[bool]
	audioMuted *reactive.Value[bool]

	// refreshGen is bumped per dispatched refresh; only the latest may apply.
	refreshGen uint64
}

func NewRegistry(loop *reactive.Loop, capture core.CaptureDevices) *Registry {
	return &Registry{
		loop:       loop,
		capture:    capture,
		video:      reactive.NewValueFunc[[]domain.Device](nil, equalDevices),
		audio:      reactive.NewValueFunc[[]domain.Device](nil, equalDevices),
		videoID:    reactive.NewValue[domain.DeviceID](""),
		audioID:    reactive.NewValue[domain.DeviceID](""),
		videoMuted: reactive.NewValue(false),
		audioMuted: reactive.NewValue(false),
	}
}

func (r *Registry) VideoDevices() reactive.Readable[[]domain.Device]  { return r.video }
func (r *Registry) AudioDevices() reactive.Readable[[]domain.Device]  { return r.audio }
func (r *Registry) VideoDeviceID() reactive.Readable[domain.DeviceID] { return r.videoID }
func (r *Registry) AudioDeviceID() reactive.Readable[domain.DeviceID] { return r.audioID }
func (r *Registry) VideoMuted() reactive.Readable[bool]               { return r.videoMuted }
func (r *Registry) AudioMuted() reactive.Readable[bool]               { return r.audioMuted }

// Refresh queries the capture API and replaces both lists in one loop turn.
// On failure the previous lists are kept. done may be nil.
func (r *Registry) Refresh(done func(error)) {
	r.refreshGen++
	gen := r.refreshGen

	reactive.Async(r.loop, r.capture.EnumerateDevices, func(devices []domain.Device, err error) {
		if gen != r.refreshGen {
			log.Debug().Str("module", "conference.device").Uint64("gen", gen).Msg("stale refresh discarded")
			finish(done, nil)
			return
		}
		if err != nil {
			err = fmt.Errorf("%w: %w", core.ErrDeviceQuery, err)
			log.Error().Str("module", "conference.device").Err(err).Msg("refresh failed, keeping previous devices")
			finish(done, err)
			return
		}
		r.apply(devices)
		finish(done, nil)
	})
}

func (r *Registry) apply(devices []domain.Device) {
	var video, audio []domain.Device
	for _, d := range devices {
		switch d.Kind {
		case domain.DeviceKindVideo:
			video = append(video, d)
		case domain.DeviceKindAudio:
			audio = append(audio, d)
		}
	}
	r.video.Set(video)
	r.audio.Set(audio)

	reconcile(r.videoID, video)
	reconcile(r.audioID, audio)

	log.Info().
		Str("module", "conference.device").
		Int("video", len(video)).
		Int("audio", len(audio)).
		Str("video_id", string(r.videoID.Get())).
		Str("audio_id", string(r.audioID.Get())).
		Msg("devices refreshed")
}

// reconcile falls back to the first device when the selection is unset or
// gone. An empty list leaves the selection alone.
func reconcile(selected *reactive.Value[domain.DeviceID], devices []domain.Device) {
	if len(devices) == 0 {
		return
	}
	id := selected.Get()
	if id != "" {
		if _, ok := domain.FindDevice(devices, id); ok {
			return
		}
		log.Warn().Str("module", "conference.device").Str("device", string(id)).Msg("selected device disappeared")
	}
	selected.Set(devices[0].ID)
}

// Select changes the selected device of kind. Existence is not checked.
func (r *Registry) Select(kind domain.DeviceKind, id domain.DeviceID) error {
	if id == "" {
		return domain.ErrDeviceIDEmpty
	}
	switch kind {
	case domain.DeviceKindVideo:
		r.videoID.Set(id)
	case domain.DeviceKindAudio:
		r.audioID.Set(id)
	default:
		return domain.ErrDeviceKindUnknown
	}
	return nil
}

func (r *Registry) SetMuted(kind domain.DeviceKind, muted bool) error {
	switch kind {
	case domain.DeviceKindVideo:
		r.videoMuted.Set(muted)
	case domain.DeviceKindAudio:
		r.audioMuted.Set(muted)
	default:
		return domain.ErrDeviceKindUnknown
	}
	return nil
}

// ToggleMuted flips the mute flag of kind and returns the new value.
func (r *Registry) ToggleMuted(kind domain.DeviceKind) (bool, error) {
	var muted bool
	switch kind {
	case domain.DeviceKindVideo:
		muted = !r.videoMuted.Get()
	case domain.DeviceKindAudio:
		muted = !r.audioMuted.Get()
	default:
		return false, domain.ErrDeviceKindUnknown
	}
	return muted, r.SetMuted(kind, muted)
}

func (r *Registry) CurrentSelection() domain.DeviceSelection {
	return domain.DeviceSelection{
		VideoDeviceID: r.videoID.Get(),
		AudioDeviceID: r.audioID.Get(),
		VideoMuted:    r.videoMuted.Get(),
		AudioMuted:    r.audioMuted.Get(),
	}
}

func finish(done func(error), err error) {
	if done != nil {
		done(err)
	}
}

func equalDevices(a, b []domain.Device) bool { return slices.Equal(a, b) }
