/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// State is the liveness of a Session.
type State int

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Session is one websocket connection pinned to a single room.
type Session struct {
	id     string
	room   string
	remote string
	conn   *websocket.Conn

	mu    sync.Mutex
	state State
	send  chan []byte
}

func newSession(room, remote string, conn *websocket.Conn, queue int) *Session {
	return &Session{
		id:     uuid.NewString(),
		room:   room,
		remote: remote,
		conn:   conn,
		send:   make(chan []byte, queue),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Room() string { return s.room }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// forward queues frame for delivery. It reports false without waiting
// when the session is not open or its queue is full.
func (s *Session) forward(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen {
		return false
	}

	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

func (s *Session) markClosing() {
	s.mu.Lock()
	if s.state == StateOpen {
		s.state = StateClosing
	}
	s.mu.Unlock()
}

// close stops the write pump. Safe to call more than once.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	close(s.send)
}

func (s *Session) readPump(srv *Server) {
	defer func() {
		srv.drop(s)
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(srv.opts.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	limit := newRateWindow(srv.opts.MaxFrameRate)

	for {
		mt, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				srv.logf("RELAY: Session %s in %q closed: %v", s.id, s.room, err)
			}
			return
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		if mt != websocket.TextMessage || !json.Valid(frame) {
			srv.stats.dropped.Add(1)
			srv.logf("RELAY: Dropped malformed frame (type %d, %d bytes) from %s in %q", mt, len(frame), s.remote, s.room)
			continue
		}

		if !limit.allow(time.Now()) {
			srv.stats.dropped.Add(1)
			continue
		}

		srv.broadcast(s, frame)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}

			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.markClosing()
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.markClosing()
				return
			}
		}
	}
}

// rateWindow counts frames per one-second window. A zero max disables it.
type rateWindow struct {
	max   int
	start time.Time
	count int
}

func newRateWindow(max int) *rateWindow {
	return &rateWindow{max: max}
}

func (w *rateWindow) allow(now time.Time) bool {
	if w.max <= 0 {
		return true
	}

	if now.Sub(w.start) >= time.Second {
		w.start = now
		w.count = 0
	}
	w.count++

	return w.count <= w.max
}
