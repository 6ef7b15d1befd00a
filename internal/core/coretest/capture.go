// Package coretest provides in-memory capture devices for tests.
package coretest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
)

// Track is an in-memory core.Track. New tracks start enabled.
type Track struct {
	id      string
	kind    domain.DeviceKind
	enabled atomic.Bool
}

func NewTrack(id string, kind domain.DeviceKind) *Track {
	t := &Track{id: id, kind: kind}
	t.enabled.Store(true)
	return t
}

func (t *Track) ID() string              { return t.id }
func (t *Track) Kind() domain.DeviceKind { return t.kind }
func (t *Track) Enabled() bool           { return t.enabled.Load() }
func (t *Track) SetEnabled(e bool)       { t.enabled.Store(e) }

// Stream is an in-memory core.Stream remembering the pair it was opened for.
type Stream struct {
	id     string
	Pair   domain.DevicePair
	tracks []core.Track
	closed atomic.Bool
}

func NewStream(id string, pair domain.DevicePair) *Stream {
	s := &Stream{id: id, Pair: pair}
	if pair.Video != "" {
		s.tracks = append(s.tracks, NewTrack(id+"/video", domain.DeviceKindVideo))
	}
	if pair.Audio != "" {
		s.tracks = append(s.tracks, NewTrack(id+"/audio", domain.DeviceKindAudio))
	}
	return s
}

func (s *Stream) ID() string           { return s.id }
func (s *Stream) Tracks() []core.Track { return s.tracks }
func (s *Stream) Closed() bool         { return s.closed.Load() }

func (s *Stream) Close() error {
	s.closed.Store(true)
	return nil
}

// Enabled reports whether every track of kind is enabled.
func (s *Stream) Enabled(kind domain.DeviceKind) bool {
	for _, t := range s.tracks {
		if t.Kind() == kind && !t.Enabled() {
			return false
		}
	}
	return true
}

// Acquisition is one Acquire call held back until released.
type Acquisition struct {
	Pair    domain.DevicePair
	release chan error
}

// Capture is a controllable core.CaptureDevices.
type Capture struct {
	mu        sync.Mutex
	devices   []domain.Device
	enumErr   error
	acqErr    error
	hold      bool
	pending   []*Acquisition
	acquired  []domain.DevicePair
	listeners map[int]func()
	nextID    int
	streams   []*Stream
}

func NewCapture(devices ...domain.Device) *Capture {
	return &Capture{devices: devices, listeners: make(map[int]func())}
}

// Hold makes Acquire block until the acquisition is released.
func (c *Capture) Hold(hold bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hold = hold
}

func (c *Capture) SetEnumerateError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enumErr = err
}

func (c *Capture) SetAcquireError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acqErr = err
}

// SetDevices replaces the device set and fires the change callbacks.
func (c *Capture) SetDevices(devices ...domain.Device) {
	c.mu.Lock()
	c.devices = devices
	cbs := make([]func(), 0, len(c.listeners))
	for _, cb := range c.listeners {
		cbs = append(cbs, cb)
	}
	c.mu.Unlock()

	for _, cb := range cbs {
		cb()
	}
}

func (c *Capture) EnumerateDevices(ctx context.Context) ([]domain.Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enumErr != nil {
		return nil, c.enumErr
	}
	return append([]domain.Device(nil), c.devices...), nil
}

func (c *Capture) Acquire(ctx context.Context, pair domain.DevicePair) (core.Stream, error) {
	c.mu.Lock()
	c.acquired = append(c.acquired, pair)
	var a *Acquisition
	if c.hold {
		a = &Acquisition{Pair: pair, release: make(chan error, 1)}
		c.pending = append(c.pending, a)
	}
	err := c.acqErr
	c.mu.Unlock()

	if a != nil {
		select {
		case err = <-a.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := NewStream(fmt.Sprintf("stream-%d", len(c.streams)+1), pair)
	c.streams = append(c.streams, s)
	return s, nil
}

func (c *Capture) OnDeviceChange(cb func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = cb
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// Pending returns the held acquisitions in call order.
func (c *Capture) Pending() []*Acquisition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Acquisition(nil), c.pending...)
}

// Acquired returns every pair Acquire was called with.
func (c *Capture) Acquired() []domain.DevicePair {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.DevicePair(nil), c.acquired...)
}

// Streams returns every stream handed out, in creation order.
func (c *Capture) Streams() []*Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Stream(nil), c.streams...)
}

func (c *Capture) Listeners() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners)
}

// Release lets a held acquisition finish with err (nil means success).
func (a *Acquisition) Release(err error) {
	a.release <- err
}

func Video(id string) domain.Device {
	return domain.Device{ID: domain.DeviceID(id), Label: "camera " + id, Kind: domain.DeviceKindVideo}
}

func Audio(id string) domain.Device {
	return domain.Device{ID: domain.DeviceID(id), Label: "microphone " + id, Kind: domain.DeviceKindAudio}
}
