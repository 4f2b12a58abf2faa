/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package bus is the client side of the party relay: a publish/subscribe
// transport scoped to one lobby.
//
// New picks a strategy from the relay address. A ws:// or wss:// address
// selects the relay transport, which keeps one websocket to the relay and
// reconnects with exponential backoff. Anything else selects the local
// transport, which only reaches participants on the same machine.
//
// Both strategies deliver raw JSON payloads to subscribers, plus
// synthesized Status events describing the connection.
package bus

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// RoomPrefix is prepended to lobby codes to form relay room names.
const RoomPrefix = "partybox-"

var ErrInvalidRelayURL = errors.New("invalid relay url")

// Handler receives one payload. Payloads are only valid for the
// duration of the call.
type Handler func(payload json.RawMessage)

// Transport is a best-effort publish/subscribe channel for one room.
type Transport interface {
	// Room returns the derived room name.
	Room() string

	// Publish sends event to every other participant in the room. It never
	// fails: events that cannot be sent right now are dropped.
	Publish(event any)

	// Subscribe registers h and returns a func that removes it. The
	// transport's latest Status is delivered to h before Subscribe returns.
	Subscribe(h Handler) (unsubscribe func())

	// Close releases the transport. It is safe to call more than once.
	Close()
}

type Config struct {
	// RelayURL selects the relay strategy when it starts with ws:// or wss://.
	RelayURL string

	// Lobby is the application-level lobby code.
	Lobby string

	// Hub is used by the local strategy. DefaultLocalHub is used when nil.
	Hub *LocalHub

	// InitialBackoff and MaxBackoff bound the relay reconnect delay.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	Logf func(format string, args ...any)
}

// RoomName derives the relay room for a lobby code.
func RoomName(lobby string) string {
	return RoomPrefix + lobby
}

// IsRelayURL reports whether addr names a relay.
func IsRelayURL(addr string) bool {
	addr = strings.ToLower(strings.TrimSpace(addr))

	return strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://")
}

// New returns the transport strategy that fits cfg.
func New(cfg Config) (Transport, error) {
	room := RoomName(cfg.Lobby)

	if IsRelayURL(cfg.RelayURL) {
		t, err := newRelayTransport(room, cfg)
		if err != nil {
			return nil, err
		}

		return t, nil
	}

	hub := cfg.Hub
	if hub == nil {
		hub = DefaultLocalHub()
	}

	return hub.join(room), nil
}

type subscribers struct {
	mu       sync.Mutex
	next     uint64
	handlers map[uint64]Handler
	status   json.RawMessage
}

func newSubscribers() *subscribers {
	return &subscribers{
		handlers: make(map[uint64]Handler),
	}
}

func (s *subscribers) add(h Handler) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.handlers[id] = h
	status := s.status
	s.mu.Unlock()

	if status != nil {
		h(status)
	}

	var once sync.Once

	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.handlers, id)
			s.mu.Unlock()
		})
	}
}

// dispatch calls every handler in subscription order, without holding the lock.
func (s *subscribers) dispatch(payload json.RawMessage) {
	s.mu.Lock()
	ids := make([]uint64, 0, len(s.handlers))
	for id := range s.handlers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, s.handlers[id])
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(payload)
	}
}

func (s *subscribers) setStatus(state string) {
	status, err := json.Marshal(Status{State: state})
	if err != nil {
		return
	}

	s.mu.Lock()
	s.status = status
	s.mu.Unlock()

	s.dispatch(status)
}

func (s *subscribers) clear() {
	s.mu.Lock()
	clear(s.handlers)
	s.mu.Unlock()
}
