// Package conference wires the device registry, the local media session and the
// room session together and exposes them to a UI or headless driver.
package conference

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/dkeye/Conference/internal/conference/device"
	"github.com/dkeye/Conference/internal/conference/media"
	"github.com/dkeye/Conference/internal/conference/room"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/reactive"
	"github.com/rs/zerolog/log"
)

// State is a copy of everything a renderer needs.
type State struct {
	VideoDevices []domain.Device
	AudioDevices []domain.Device
	Selection    domain.DeviceSelection
	LocalStream  core.Stream
	Remotes      []room.RemoteStream
	Joined       bool
	Room         domain.RoomKey
}

type options struct {
	onData  func(domain.DataMessage)
	onError func(error)
}

type Option func(*options)

// WithDataHandler receives in-room data messages on the conference goroutine.
func WithDataHandler(fn func(domain.DataMessage)) Option {
	return func(o *options) { o.onData = fn }
}

// WithErrorHandler receives failures that have no caller to return to:
// acquisitions and refreshes triggered by device changes.
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) { o.onError = fn }
}

// Conference is safe for concurrent use. All state lives on one loop goroutine.
type Conference struct {
	loop      *reactive.Loop
	capture   core.CaptureDevices
	signaling core.Signaling
	opts      options

	registry *device.Registry
	media    *media.Session
	remotes  *reactive.Value[[]room.RemoteStream]
	joined   *reactive.Value[bool]
	room     *room.Session

	bindings  []func()
	closeOnce sync.Once
}

func New(ctx context.Context, capture core.CaptureDevices, signaling core.Signaling, opts ...Option) *Conference {
	c := &Conference{
		loop:      reactive.NewLoop(ctx),
		capture:   capture,
		signaling: signaling,
		remotes:   reactive.NewValueFunc[[]room.RemoteStream](nil, room.EqualRemotes),
		joined:    reactive.NewValue(false),
	}
	for _, o := range opts {
		o(&c.opts)
	}
	c.registry = device.NewRegistry(c.loop, capture)
	c.media = media.NewSession(c.loop, capture,
		media.WithErrorHandler(c.reportError),
		media.WithMuteState(c.registry.VideoMuted(), c.registry.AudioMuted()),
	)

	c.bind()
	c.loop.Start()
	return c
}

// bind runs before the loop starts, so it may touch loop state directly.
func (c *Conference) bind() {
	r := c.registry
	c.bindings = append(c.bindings,
		reactive.React(c.loop, func() domain.DevicePair {
			return domain.DevicePair{Video: r.VideoDeviceID().Get(), Audio: r.AudioDeviceID().Get()}
		}, c.media.Acquire, r.VideoDeviceID(), r.AudioDeviceID()),

		reactive.React(c.loop, r.VideoMuted().Get, func(muted bool) {
			c.media.SetMuted(domain.DeviceKindVideo, muted)
		}, r.VideoMuted()),

		reactive.React(c.loop, r.AudioMuted().Get, func(muted bool) {
			c.media.SetMuted(domain.DeviceKindAudio, muted)
		}, r.AudioMuted()),

		c.capture.OnDeviceChange(func() {
			c.loop.Post(func() {
				log.Debug().Str("module", "conference").Msg("device change notified")
				r.Refresh(func(err error) {
					if err != nil {
						c.reportError(err)
					}
				})
			})
		}),
	)
}

func (c *Conference) reportError(err error) {
	if c.opts.onError != nil {
		c.opts.onError(err)
	}
}

// OnLoad enumerates the devices and seeds the selection, which in turn
// acquires the first local stream. It returns once the device lists are in.
func (c *Conference) OnLoad(ctx context.Context) error {
	return c.await(ctx, func(done func(error)) { c.registry.Refresh(done) })
}

func (c *Conference) OnChangeVideoDevice(ctx context.Context, id domain.DeviceID) error {
	return c.selectDevice(ctx, domain.DeviceKindVideo, id)
}

func (c *Conference) OnChangeAudioDevice(ctx context.Context, id domain.DeviceID) error {
	return c.selectDevice(ctx, domain.DeviceKindAudio, id)
}

func (c *Conference) selectDevice(ctx context.Context, kind domain.DeviceKind, id domain.DeviceID) error {
	var err error
	if callErr := c.loop.Call(ctx, func() { err = c.registry.Select(kind, id) }); callErr != nil {
		return callErr
	}
	return err
}

// OnClickVideoMute toggles the video mute flag and returns the new value.
func (c *Conference) OnClickVideoMute(ctx context.Context) (bool, error) {
	return c.toggle(ctx, domain.DeviceKindVideo)
}

// OnClickAudioMute toggles the audio mute flag and returns the new value.
func (c *Conference) OnClickAudioMute(ctx context.Context) (bool, error) {
	return c.toggle(ctx, domain.DeviceKindAudio)
}

func (c *Conference) toggle(ctx context.Context, kind domain.DeviceKind) (bool, error) {
	var (
		muted bool
		err   error
	)
	if callErr := c.loop.Call(ctx, func() { muted, err = c.registry.ToggleMuted(kind) }); callErr != nil {
		return false, callErr
	}
	return muted, err
}

// OnClickJoinRoom joins "<mode>/<name>" with the current local stream.
// A session that has been left is replaced by a fresh one.
func (c *Conference) OnClickJoinRoom(ctx context.Context, name domain.RoomName, mode domain.RoomMode) error {
	mode, err := domain.ParseRoomMode(string(mode))
	if err != nil {
		return err
	}
	key, err := domain.NewRoomKey(mode, name)
	if err != nil {
		return err
	}
	return c.await(ctx, func(done func(error)) {
		if c.room == nil || c.room.State() == room.StateLeft {
			c.room = room.NewSession(c.loop, c.signaling, c.media.Stream(), c.remotes, c.joined, c.onData)
		}
		c.room.Join(key, mode, done)
	})
}

func (c *Conference) onData(msg domain.DataMessage) {
	if c.opts.onData != nil {
		c.opts.onData(msg)
	}
}

func (c *Conference) OnClickLeaveRoom(ctx context.Context) error {
	var err error
	callErr := c.loop.Call(ctx, func() {
		if c.room == nil || c.room.State() == room.StateLeft {
			err = core.ErrNotJoined
			return
		}
		c.room.Leave()
	})
	return errors.Join(callErr, err)
}

// SendData broadcasts data to the joined room.
func (c *Conference) SendData(ctx context.Context, data []byte) error {
	var err error
	callErr := c.loop.Call(ctx, func() {
		if c.room == nil {
			err = core.ErrNotJoined
			return
		}
		err = c.room.Send(data)
	})
	return errors.Join(callErr, err)
}

func (c *Conference) Snapshot(ctx context.Context) (State, error) {
	var s State
	err := c.loop.Call(ctx, func() { s = c.snapshot() })
	return s, err
}

func (c *Conference) snapshot() State {
	r := c.registry
	s := State{
		VideoDevices: slices.Clone(r.VideoDevices().Get()),
		AudioDevices: slices.Clone(r.AudioDevices().Get()),
		Selection:    r.CurrentSelection(),
		LocalStream:  c.media.Stream().Get(),
		Remotes:      slices.Clone(c.remotes.Get()),
		Joined:       c.joined.Get(),
	}
	if c.room != nil && s.Joined {
		s.Room = c.room.Key()
	}
	return s
}

// Watch calls fn with the current state, then once per loop turn in which any
// of it changed. fn runs on the conference goroutine and must not block.
func (c *Conference) Watch(ctx context.Context, fn func(State)) (cancel func(), err error) {
	var dispose func()
	err = c.loop.Call(ctx, func() {
		r := c.registry
		dispose = reactive.Watch(c.loop, func() { fn(c.snapshot()) },
			r.VideoDevices(), r.AudioDevices(),
			r.VideoDeviceID(), r.AudioDeviceID(),
			r.VideoMuted(), r.AudioMuted(),
			c.media.Stream(), c.remotes, c.joined,
		)
		fn(c.snapshot())
	})
	if err != nil {
		return func() {}, err
	}
	var once sync.Once
	return func() { once.Do(func() { c.loop.Post(dispose) }) }, nil
}

// Idle waits until no work is queued or in flight. Meant for tests and
// headless drivers.
func (c *Conference) Idle(ctx context.Context) error { return c.loop.Idle(ctx) }

// Close leaves the room, releases the local stream and stops the loop.
func (c *Conference) Close() {
	c.closeOnce.Do(func() {
		_ = c.loop.Call(context.Background(), func() {
			for _, dispose := range c.bindings {
				dispose()
			}
			if c.room != nil {
				c.room.Leave()
			}
			c.media.Release()
		})
		c.loop.Close()
		log.Info().Str("module", "conference").Msg("conference closed")
	})
}

// await runs start on the loop and waits for the completion it reports.
func (c *Conference) await(ctx context.Context, start func(done func(error))) error {
	errc := make(chan error, 1)
	if err := c.loop.Call(ctx, func() {
		start(func(err error) { errc <- err })
	}); err != nil {
		return err
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.loop.Context().Done():
		return reactive.ErrLoopClosed
	}
}
