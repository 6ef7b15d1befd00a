package capture

import (
	"context"
	"slices"
	"sync"

	"github.com/dkeye/Conference/internal/domain"
	"github.com/rs/zerolog/log"
)

// Directory lists capture devices and reports changes to the set.
type Directory interface {
	List(ctx context.Context) ([]domain.Device, error)
	// Watch registers cb for device-set changes. Callbacks run on their own goroutine.
	Watch(cb func()) (cancel func())
	Close() error
}

// listeners fans change notifications out asynchronously.
type listeners struct {
	mu     sync.Mutex
	nextID int
	cbs    map[int]func()
}

func (l *listeners) add(cb func()) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cbs == nil {
		l.cbs = make(map[int]func())
	}
	l.nextID++
	id := l.nextID
	l.cbs[id] = cb
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.cbs, id)
	}
}

func (l *listeners) notify() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, cb := range l.cbs {
		go cb()
	}
}

// StaticDirectory serves a fixed device list that can be changed at runtime.
type StaticDirectory struct {
	mu      sync.RWMutex
	devices []domain.Device
	watch   listeners
}

func NewStaticDirectory(devices ...domain.Device) *StaticDirectory {
	return &StaticDirectory{devices: slices.Clone(devices)}
}

func (d *StaticDirectory) List(context.Context) ([]domain.Device, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.devices), nil
}

func (d *StaticDirectory) Watch(cb func()) func() { return d.watch.add(cb) }

func (d *StaticDirectory) Close() error { return nil }

// Plug adds or replaces a device.
func (d *StaticDirectory) Plug(dev domain.Device) {
	d.mu.Lock()
	i := slices.IndexFunc(d.devices, func(x domain.Device) bool { return x.ID == dev.ID })
	if i >= 0 {
		d.devices[i] = dev
	} else {
		d.devices = append(d.devices, dev)
	}
	d.mu.Unlock()
	log.Info().Str("module", "adapters.capture").Str("device", string(dev.ID)).Msg("device plugged")
	d.watch.notify()
}

func (d *StaticDirectory) Unplug(id domain.DeviceID) {
	d.mu.Lock()
	before := len(d.devices)
	d.devices = slices.DeleteFunc(d.devices, func(x domain.Device) bool { return x.ID == id })
	removed := len(d.devices) != before
	d.mu.Unlock()
	if removed {
		log.Info().Str("module", "adapters.capture").Str("device", string(id)).Msg("device unplugged")
		d.watch.notify()
	}
}
