package app

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/rs/zerolog/log"
)

const defaultUsername = "guest"

type sessionEntry struct {
	Room    domain.RoomKey
	Session core.MemberSession
	Cancel  context.CancelFunc
}

// Registry tracks users, their live sessions and the room each session is in.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
	users    map[core.SessionID]*domain.User
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
		users:    make(map[core.SessionID]*domain.User),
	}
}

// GetOrCreateUser returns the user bound to sid. A new user takes sid as
// its id when it fits, a fresh uuid otherwise.
func (r *Registry) GetOrCreateUser(sid core.SessionID) *domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[sid]; ok {
		return u
	}
	u, _ := domain.NewUser(domain.UserID(sid), defaultUsername)
	r.users[sid] = u
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("user", string(u.ID)).Msg("created new user")
	return u
}

// UpdateUsername validates and stores name. The returned user is a copy.
func (r *Registry) UpdateUsername(sid core.SessionID, name string) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[sid]
	if !ok {
		u, _ = domain.NewUser(domain.UserID(sid), defaultUsername)
		r.users[sid] = u
	}
	if err := u.SetUsername(name); err != nil {
		return *u, err
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("username", name).Msg("updated username")
	return *u, nil
}

// User returns a copy of the user bound to sid.
func (r *Registry) User(sid core.SessionID) (domain.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[sid]
	if !ok {
		return domain.User{}, false
	}
	return *u, true
}

// BindSignal registers a fresh connection for sid. A previous connection of
// the same sid is cancelled.
func (r *Registry) BindSignal(sid core.SessionID, sess core.MemberSession, cancel context.CancelFunc) {
	r.mu.Lock()
	old, ok := r.sessions[sid]
	r.sessions[sid] = &sessionEntry{Session: sess, Cancel: cancel}
	r.mu.Unlock()
	if ok && old.Cancel != nil {
		old.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound signal")
}

func (r *Registry) GetSession(sid core.SessionID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Session, true
	}
	return nil, false
}

// Unbind forgets sid only if sess is still the session bound to it.
func (r *Registry) Unbind(sid core.SessionID, sess core.MemberSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok || e.Session != sess {
		return false
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
	return true
}

func (r *Registry) RoomOf(sid core.SessionID) (domain.RoomKey, core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[sid]
	if !ok || entry.Room == "" {
		return "", nil, false
	}
	return entry.Room, entry.Session, true
}

func (r *Registry) UpdateRoom(sid core.SessionID, key domain.RoomKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sid]
	if !ok {
		return false
	}
	entry.Room = key
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(key)).Msg("updated room")
	return true
}

func (r *Registry) RemoveRoom(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.sessions[sid]; ok {
		entry.Room = ""
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("removed room association")
}

// RoomMate is a registry snapshot of one session in a room.
type RoomMate struct {
	SID     core.SessionID
	Session core.MemberSession
}

// MembersOfRoom is ordered by session id.
func (r *Registry) MembersOfRoom(key domain.RoomKey) []RoomMate {
	r.mu.RLock()
	out := make([]RoomMate, 0, len(r.sessions))
	for sid, e := range r.sessions {
		if e.Room == key {
			out = append(out, RoomMate{SID: sid, Session: e.Session})
		}
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b RoomMate) int { return cmp.Compare(a.SID, b.SID) })
	return out
}

// RoomMates returns the other sessions in the room of sid.
func (r *Registry) RoomMates(sid core.SessionID) []RoomMate {
	key, _, ok := r.RoomOf(sid)
	if !ok {
		return nil
	}
	mates := r.MembersOfRoom(key)
	return slices.DeleteFunc(mates, func(m RoomMate) bool { return m.SID == sid })
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}
