package sfu

import (
	"context"
	"maps"
	"sync"

	"github.com/dkeye/Conference/internal/core"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// Key identifies a relay: one track of one publisher.
type Key struct {
	Publisher core.SessionID
	Track     string
}

type Relay struct {
	Key Key
	Src Source

	mu        sync.RWMutex
	outTracks map[core.SessionID]*OutTrack

	cancel context.CancelFunc
}

func NewRelay(key Key, src Source, cancel context.CancelFunc) *Relay {
	return &Relay{
		Key:       key,
		Src:       src,
		outTracks: make(map[core.SessionID]*OutTrack),
		cancel:    cancel,
	}
}

// loop reads RTP packets from the source track and forwards them to all OutTracks.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, marking all out tracks for delete")
			r.markAllDelete()
			return
		default:
		}
		pkt, err := r.Src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("relay source ended")
			r.markAllDelete()
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.outTracks)
	r.mu.RUnlock()

	var dirty []core.SessionID
	for dstSID, ot := range snapshot {
		switch ot.GetState() {
		case TrackStateDelete:
			dirty = append(dirty, dstSID)
		case TrackStateMuted:
		case TrackStateOk:
			if err := ot.Track.WriteRTP(pkt); err != nil {
				logger.Error().
					Err(err).
					Str("dst_sid", string(dstSID)).
					Msg("relay write RTP error, marking outtrack as delete")
				ot.MarkDelete()
				dirty = append(dirty, dstSID)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sid := range dirty {
		if ot, ok := r.outTracks[sid]; ok && ot.GetState() == TrackStateDelete {
			delete(r.outTracks, sid)
		}
	}
}

func (r *Relay) markAllDelete() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ot := range r.outTracks {
		ot.MarkDelete()
	}
}

func (r *Relay) AddOutTrack(dst core.SessionID, ot *OutTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.outTracks[dst]; ok {
		old.MarkDelete()
	}
	r.outTracks[dst] = ot
}

// OutTrack returns the subscription of dst, if any.
func (r *Relay) OutTrack(dst core.SessionID) (*OutTrack, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ot, ok := r.outTracks[dst]
	return ot, ok
}

func (r *Relay) removeOutTrack(dst core.SessionID) (*OutTrack, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ot, ok := r.outTracks[dst]
	if ok {
		ot.MarkDelete()
		delete(r.outTracks, dst)
	}
	return ot, ok
}

// takeAll detaches every subscriber.
func (r *Relay) takeAll() map[core.SessionID]*OutTrack {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.outTracks
	r.outTracks = make(map[core.SessionID]*OutTrack)
	for _, ot := range out {
		ot.MarkDelete()
	}
	return out
}

func (r *Relay) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.outTracks)
}
