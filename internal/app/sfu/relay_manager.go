package sfu

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dkeye/Conference/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

var ErrNoRelay = errors.New("no relay")

type RelayManager struct {
	mu     sync.RWMutex
	relays map[Key]*Relay
	loops  conc.WaitGroup
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[Key]*Relay),
	}
}

// StartRelay creates a Relay for one track of publisher pub and starts its
// loop. A relay already running for the same track is replaced.
func (m *RelayManager) StartRelay(ctx context.Context, pub core.SessionID, src Source) *Relay {
	key := Key{Publisher: pub, Track: src.ID()}
	logger := log.With().
		Str("module", "sfu.relay").
		Str("sid", string(pub)).
		Str("track", key.Track).
		Str("kind", src.Kind().String()).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(key, src, cancel)

	m.mu.Lock()
	if old, ok := m.relays[key]; ok {
		logger.Info().Msg("replacing existing relay for track")
		old.markAllDelete()
		old.cancel()
	}
	m.relays[key] = relay
	m.mu.Unlock()

	logger.Info().Msg("starting relay loop")
	m.loops.Go(func() {
		relay.loop(relayCtx, &logger)
		cancel()
		m.forget(relay)
	})
	return relay
}

func (m *RelayManager) forget(relay *Relay) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.relays[relay.Key] == relay {
		delete(m.relays, relay.Key)
	}
}

// Subscribe adds a local copy of relay's track to dst's connection. The caller
// renegotiates dst afterwards. Subscriber tracks carry the publisher id as
// their stream id so the client can group them per peer.
func (m *RelayManager) Subscribe(relay *Relay, dst core.SessionID, mc core.MediaConnection) error {
	if ot, ok := relay.OutTrack(dst); ok && ot.GetState() != TrackStateDelete {
		return nil
	}
	local, err := webrtc.NewTrackLocalStaticRTP(relay.Src.Capability(), relay.Key.Track, string(relay.Key.Publisher))
	if err != nil {
		return fmt.Errorf("new local track: %w", err)
	}
	sender, err := mc.AddLocalTrack(local)
	if err != nil {
		return fmt.Errorf("add local track: %w", err)
	}
	m.AddSubscriber(relay.Key, dst, NewOutTrack(local, sender))
	log.Info().
		Str("module", "sfu.relay").
		Str("sid", string(relay.Key.Publisher)).
		Str("track", relay.Key.Track).
		Str("dst_sid", string(dst)).
		Msg("subscribed")
	return nil
}

// AddSubscriber attaches an OutTrack to the relay of key for dst.
func (m *RelayManager) AddSubscriber(key Key, dst core.SessionID, ot *OutTrack) error {
	m.mu.RLock()
	relay, ok := m.relays[key]
	m.mu.RUnlock()
	if !ok {
		return ErrNoRelay
	}
	relay.AddOutTrack(dst, ot)
	return nil
}

// RelaysOf returns the running relays of publisher pub ordered by track id.
func (m *RelayManager) RelaysOf(pub core.SessionID) []*Relay {
	m.mu.RLock()
	var out []*Relay
	for key, r := range m.relays {
		if key.Publisher == pub {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Relay) int { return cmp.Compare(a.Key.Track, b.Key.Track) })
	return out
}

// DropSubscriber detaches dst from every relay of publisher pub and returns
// the detached OutTracks. An empty pub detaches dst everywhere.
func (m *RelayManager) DropSubscriber(pub, dst core.SessionID) []*OutTrack {
	m.mu.RLock()
	relays := make([]*Relay, 0, len(m.relays))
	for key, r := range m.relays {
		if pub == "" || key.Publisher == pub {
			relays = append(relays, r)
		}
	}
	m.mu.RUnlock()

	var dropped []*OutTrack
	for _, r := range relays {
		if ot, ok := r.removeOutTrack(dst); ok {
			dropped = append(dropped, ot)
		}
	}
	return dropped
}

// DetachSubscribers removes every subscriber from the relays of publisher
// pub. The relays keep running.
func (m *RelayManager) DetachSubscribers(pub core.SessionID) map[core.SessionID][]*OutTrack {
	subs := make(map[core.SessionID][]*OutTrack)
	for _, r := range m.RelaysOf(pub) {
		for dst, ot := range r.takeAll() {
			subs[dst] = append(subs[dst], ot)
		}
	}
	return subs
}

// StopRelays stops every relay of publisher pub and returns the detached
// OutTracks grouped by subscriber.
func (m *RelayManager) StopRelays(pub core.SessionID) map[core.SessionID][]*OutTrack {
	m.mu.Lock()
	var stopped []*Relay
	for key, r := range m.relays {
		if key.Publisher == pub {
			stopped = append(stopped, r)
			delete(m.relays, key)
		}
	}
	m.mu.Unlock()

	subs := make(map[core.SessionID][]*OutTrack)
	for _, r := range stopped {
		r.cancel()
		for dst, ot := range r.takeAll() {
			subs[dst] = append(subs[dst], ot)
		}
	}
	if len(stopped) > 0 {
		log.Info().Str("module", "sfu.relay").Str("sid", string(pub)).Int("relays", len(stopped)).Msg("relays stopped")
	}
	return subs
}

// HasRelay reports whether a relay exists for key.
func (m *RelayManager) HasRelay(key Key) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.relays[key]
	return ok
}

// Wait blocks until every relay loop has returned. Loops end when their
// source stops delivering packets.
func (m *RelayManager) Wait() {
	m.loops.Wait()
}
