/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package relay implements a roomed websocket fan-out server.
//
// Every connection names a room with the "room" query parameter. Frames
// received from one session are forwarded verbatim to every other session
// in the same room. Nothing is persisted, queued for absent peers, or
// retried.
package relay

import (
	"net"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

const (
	DefaultRoom           = "default"
	DefaultMaxMessageSize = 64 * 1024
	DefaultSendQueue      = 32
)

// Options configures a Server. Zero values fall back to the defaults.
type Options struct {
	// DefaultRoom is used when a client does not name a room.
	DefaultRoom string

	// MaxMessageSize caps inbound frames, in bytes.
	MaxMessageSize int64

	// SendQueue is the number of frames buffered per session before
	// further frames to it are skipped.
	SendQueue int

	// MaxFrameRate caps inbound frames per session per second; 0 disables it.
	MaxFrameRate int

	// CheckOrigin is passed to the websocket upgrader. All origins are
	// accepted when nil.
	CheckOrigin func(r *http.Request) bool

	// RemoteAddr names the client in logs. The request's X-Real-IP or
	// RemoteAddr is used when nil.
	RemoteAddr func(r *http.Request) string

	Logf func(format string, args ...any)
}

// Stats is a point-in-time view of relay activity.
type Stats struct {
	Rooms    int    `json:"rooms"`
	Sessions int    `json:"sessions"`
	Accepted uint64 `json:"accepted"`
	Relayed  uint64 `json:"relayed"`
	Dropped  uint64 `json:"dropped"`
}

type counters struct {
	accepted atomic.Uint64
	relayed  atomic.Uint64
	dropped  atomic.Uint64
}

// Server accepts websocket connections and fans frames out within rooms.
// Each Server owns its own Registry.
type Server struct {
	opts     Options
	registry *Registry
	upgrader websocket.Upgrader
	stats    counters
}

func NewServer(opts Options) *Server {
	if opts.DefaultRoom == "" {
		opts.DefaultRoom = DefaultRoom
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = DefaultSendQueue
	}

	if opts.RemoteAddr == nil {
		opts.RemoteAddr = remoteAddr
	}

	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool {
			return true
		}
	}

	return &Server{
		opts:     opts,
		registry: NewRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

func (srv *Server) Registry() *Registry {
	return srv.registry
}

func (srv *Server) logf(format string, args ...any) {
	if srv.opts.Logf != nil {
		srv.opts.Logf(format, args...)
	}
}

// RoomFromRequest returns the room named by the request's query string,
// or the server's default room.
func (srv *Server) RoomFromRequest(r *http.Request) string {
	room := r.URL.Query().Get("room")
	if strings.TrimSpace(room) == "" {
		return srv.opts.DefaultRoom
	}

	return room
}

// ServeHTTP upgrades the request and runs the session until it disconnects.
func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	room := srv.RoomFromRequest(r)

	conn, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.logf("RELAY: Upgrade failed for %s: %v", srv.opts.RemoteAddr(r), err)
		return
	}

	s := newSession(room, srv.opts.RemoteAddr(r), conn, srv.opts.SendQueue)

	srv.registry.Join(s)
	srv.stats.accepted.Add(1)

	srv.logf("RELAY: Session %s from %s joined %q", s.id, s.remote, room)

	go s.writePump()
	s.readPump(srv)
}

// broadcast forwards frame to every other open session in the sender's
// room. Peers that are not ready are skipped.
func (srv *Server) broadcast(from *Session, frame []byte) {
	for _, peer := range srv.registry.Peers(from.room, from) {
		if peer.forward(frame) {
			srv.stats.relayed.Add(1)
		} else {
			srv.stats.dropped.Add(1)
		}
	}
}

func (srv *Server) drop(s *Session) {
	s.markClosing()

	if srv.registry.Leave(s) {
		srv.logf("RELAY: Session %s left %q", s.id, s.room)
	}

	s.close()
}

// CloseAll disconnects every session.
func (srv *Server) CloseAll() int {
	sessions := srv.registry.Sessions()
	for _, s := range sessions {
		s.markClosing()
		srv.registry.Leave(s)
		s.close()
	}

	return len(sessions)
}

func (srv *Server) Stats() Stats {
	rooms, sessions := srv.registry.Counts()

	return Stats{
		Rooms:    rooms,
		Sessions: sessions,
		Accepted: srv.stats.accepted.Load(),
		Relayed:  srv.stats.relayed.Load(),
		Dropped:  srv.stats.dropped.Load(),
	}
}

func remoteAddr(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); net.ParseIP(ip) != nil {
		return ip
	}

	return r.RemoteAddr
}
