/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package relay

import (
	"sort"
	"sync"
)

// Registry maps room ids to the sessions currently connected to them.
// Rooms are created on first join and deleted as soon as they empty.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[*Session]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[*Session]struct{}),
	}
}

// Join adds s to its room, creating the room if needed.
func (r *Registry) Join(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[s.room]
	if !ok {
		members = make(map[*Session]struct{})
		r.rooms[s.room] = members
	}
	members[s] = struct{}{}
}

// Leave removes s from its room. Removing a session that is not
// registered is a no-op.
func (r *Registry) Leave(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[s.room]
	if !ok {
		return false
	}
	if _, ok := members[s]; !ok {
		return false
	}

	delete(members, s)
	if len(members) == 0 {
		delete(r.rooms, s.room)
	}

	return true
}

// Peers returns a snapshot of every session in room except the given one.
func (r *Registry) Peers(room string, except *Session) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	peers := make([]*Session, 0, len(members))
	for s := range members {
		if s == except {
			continue
		}
		peers = append(peers, s)
	}

	return peers
}

// Size returns the number of sessions in room.
func (r *Registry) Size(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms[room])
}

// Rooms returns the ids of all non-empty rooms, sorted.
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

// Sessions returns a snapshot of every registered session.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []*Session
	for _, members := range r.rooms {
		for s := range members {
			all = append(all, s)
		}
	}

	return all
}

// Counts returns the number of rooms and sessions.
func (r *Registry) Counts() (rooms, sessions int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, members := range r.rooms {
		sessions += len(members)
	}

	return len(r.rooms), sessions
}
