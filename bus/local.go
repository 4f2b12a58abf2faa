/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package bus

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// LocalHub connects local transports that share one execution context.
// Events reach other transports of the same room in this process
// directly; when the hub has a storage directory they are also written
// to a per-room slot there, which other processes on the machine watch.
type LocalHub struct {
	dir    string
	origin string
	logf   func(format string, args ...any)

	mu    sync.Mutex
	rooms map[string]*localRoom
}

type localRoom struct {
	members map[*localTransport]struct{}
	slot    *slot
}

// NewLocalHub returns a hub using dir for cross-process delivery. An
// empty dir limits delivery to this process.
func NewLocalHub(dir string, logf func(format string, args ...any)) *LocalHub {
	if logf == nil {
		logf = func(string, ...any) {}
	}

	return &LocalHub{
		dir:    dir,
		origin: uuid.NewString(),
		logf:   logf,
		rooms:  make(map[string]*localRoom),
	}
}

var defaultHub = sync.OnceValue(func() *LocalHub {
	return NewLocalHub(DefaultStorageDir(), nil)
})

// DefaultLocalHub returns the process-wide hub.
func DefaultLocalHub() *LocalHub {
	return defaultHub()
}

// DefaultStorageDir is the slot directory used by DefaultLocalHub.
func DefaultStorageDir() string {
	return filepath.Join(os.TempDir(), "partyrelay")
}

// Origin identifies this hub in slot records.
func (h *LocalHub) Origin() string {
	return h.origin
}

func (h *LocalHub) join(room string) *localTransport {
	t := &localTransport{
		hub:  h,
		room: room,
		subs: newSubscribers(),
		seen: newSeenSet(dedupWindow),
	}

	h.mu.Lock()
	r, ok := h.rooms[room]
	if !ok {
		r = &localRoom{
			members: make(map[*localTransport]struct{}),
		}

		if h.dir != "" {
			s, err := openSlot(h.dir, room, func(rec slotRecord) {
				h.fromSlot(room, rec)
			}, h.logf)
			if err != nil {
				h.logf("BUS: Storage path for %q unavailable: %v", room, err)
			} else {
				r.slot = s
			}
		}

		h.rooms[room] = r
	}
	r.members[t] = struct{}{}
	h.mu.Unlock()

	t.subs.setStatus(StateLocal)

	return t
}

func (h *LocalHub) leave(t *localTransport) {
	h.mu.Lock()
	r, ok := h.rooms[t.room]
	if !ok {
		h.mu.Unlock()
		return
	}

	delete(r.members, t)

	var s *slot
	if len(r.members) == 0 {
		delete(h.rooms, t.room)
		s = r.slot
	}
	h.mu.Unlock()

	// The watcher may be delivering, which takes h.mu. It may also be the
	// caller: a handler closing its own transport.
	if s != nil {
		s.close()
	}
}

func (h *LocalHub) peers(room string, except *localTransport) ([]*localTransport, *slot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[room]
	if !ok {
		return nil, nil
	}

	peers := make([]*localTransport, 0, len(r.members))
	for t := range r.members {
		if t == except {
			continue
		}
		peers = append(peers, t)
	}

	return peers, r.slot
}

func (h *LocalHub) publish(from *localTransport, rec slotRecord) {
	peers, s := h.peers(from.room, from)

	for _, p := range peers {
		p.deliver(rec)
	}

	if s != nil {
		if err := s.write(rec); err != nil {
			h.logf("BUS: Writing slot for %q failed: %v", from.room, err)
		}
	}
}

func (h *LocalHub) fromSlot(room string, rec slotRecord) {
	// Never re-process what this context wrote itself.
	if rec.Origin == h.origin || rec.Room != room {
		return
	}

	peers, _ := h.peers(room, nil)
	for _, p := range peers {
		p.deliver(rec)
	}
}

type localTransport struct {
	hub  *LocalHub
	room string
	subs *subscribers
	seen *seenSet

	closed    atomic.Bool
	closeOnce sync.Once
}

func (t *localTransport) Room() string {
	return t.room
}

func (t *localTransport) Subscribe(h Handler) func() {
	return t.subs.add(h)
}

func (t *localTransport) Publish(event any) {
	if t.closed.Load() {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		t.hub.logf("BUS: Dropped unencodable event for %q: %v", t.room, err)
		return
	}

	t.hub.publish(t, slotRecord{
		ID:      uuid.NewString(),
		Origin:  t.hub.origin,
		Room:    t.room,
		Payload: payload,
		At:      time.Now().UnixMilli(),
	})
}

func (t *localTransport) deliver(rec slotRecord) {
	if t.closed.Load() {
		return
	}
	if !t.seen.first(rec.ID, time.Now()) {
		return
	}

	t.subs.dispatch(append(json.RawMessage(nil), rec.Payload...))
}

func (t *localTransport) Close() {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.hub.leave(t)
		t.subs.clear()
	})
}
