package app

import (
	"cmp"
	"slices"
	"sync"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/rs/zerolog/log"
)

type RoomManagerImpl struct {
	mu    sync.RWMutex
	rooms map[domain.RoomKey]core.RoomService
}

func NewRoomManager() *RoomManagerImpl {
	return &RoomManagerImpl{rooms: make(map[domain.RoomKey]core.RoomService)}
}

func (f *RoomManagerImpl) GetOrCreate(key domain.RoomKey) (core.RoomService, error) {
	if room, ok := f.Get(key); ok {
		return room, nil
	}
	meta, err := domain.NewRoom(key)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok := f.rooms[key]; ok {
		return room, nil
	}
	room := core.NewRoomService(meta)
	f.rooms[key] = room
	log.Info().Str("module", "app.rooms").Str("room", string(key)).Msg("room created")
	return room, nil
}

func (f *RoomManagerImpl) Get(key domain.RoomKey) (core.RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[key]
	return room, ok
}

// List is ordered by room key.
func (f *RoomManagerImpl) List() []core.RoomInfo {
	f.mu.RLock()
	out := make([]core.RoomInfo, 0, len(f.rooms))
	for key, r := range f.rooms {
		meta := r.Room()
		out = append(out, core.RoomInfo{Key: key, Mode: meta.Mode, Name: meta.Name, MemberCount: r.MemberCount()})
	}
	f.mu.RUnlock()
	slices.SortFunc(out, func(a, b core.RoomInfo) int { return cmp.Compare(a.Key, b.Key) })
	return out
}

func (f *RoomManagerImpl) StopRoom(key domain.RoomKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rooms[key]; !ok {
		return
	}
	delete(f.rooms, key)
	log.Info().Str("module", "app.rooms").Str("room", string(key)).Msg("room stopped")
}
