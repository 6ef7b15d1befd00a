package core

import (
	"context"

	"github.com/dkeye/Conference/internal/domain"
)

// Track is one audio or video track of a Stream.
// Disabling a track mutes it without releasing the device.
type Track interface {
	ID() string
	Kind() domain.DeviceKind
	Enabled() bool
	SetEnabled(enabled bool)
}

// Stream is a set of tracks captured or received together.
type Stream interface {
	ID() string
	Tracks() []Track
	// Close releases the underlying devices or receivers.
	Close() error
}

// CaptureDevices is the low-level media-capture API.
type CaptureDevices interface {
	// EnumerateDevices returns every device currently present, in a stable order.
	EnumerateDevices(ctx context.Context) ([]domain.Device, error)
	// Acquire opens a stream for the pair; an empty id skips that kind.
	Acquire(ctx context.Context, pair domain.DevicePair) (Stream, error)
	// OnDeviceChange registers a callback fired when the device set changes.
	// Callbacks may run on any goroutine.
	OnDeviceChange(callback func()) (cancel func())
}

// SetTrackEnabled toggles all tracks of the given kind in place.
// A nil stream is a no-op.
func SetTrackEnabled(s Stream, kind domain.DeviceKind, enabled bool) {
	if s == nil {
		return
	}
	for _, t := range s.Tracks() {
		if t.Kind() == kind {
			t.SetEnabled(enabled)
		}
	}
}
