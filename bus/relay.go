/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/Seednode/partyrelay/relay"
)

const (
	writeWait = 10 * time.Second

	// The relay pings well inside this window.
	pongWait = 60 * time.Second
)

// ConnState is a step of the relay transport's reconnect state machine.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Open
	Backoff
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Backoff:
		return "backoff"
	default:
		return "disconnected"
	}
}

type relayTransport struct {
	room string
	url  string
	logf func(format string, args ...any)

	subs    *subscribers
	dialer  websocket.Dialer
	backoff *backoff.ExponentialBackOff

	// Cancelling ctx disables reconnection.
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	state ConnState
	conn  *websocket.Conn

	writeMu sync.Mutex
}

func newRelayTransport(room string, cfg Config) (*relayTransport, error) {
	raw := strings.TrimSpace(cfg.RelayURL)

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidRelayURL, raw, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w %q: missing host", ErrInvalidRelayURL, raw)
	}

	q := u.Query()
	q.Set("room", room)
	u.RawQuery = q.Encode()

	logf := cfg.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}

	ctx, cancel := context.WithCancel(context.Background())

	t := &relayTransport{
		room:    room,
		url:     u.String(),
		logf:    logf,
		subs:    newSubscribers(),
		dialer:  *websocket.DefaultDialer,
		backoff: newBackoff(cfg.InitialBackoff, cfg.MaxBackoff),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go t.run()

	return t, nil
}

func (t *relayTransport) Room() string {
	return t.room
}

func (t *relayTransport) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

func (t *relayTransport) setState(s ConnState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *relayTransport) Subscribe(h Handler) func() {
	return t.subs.add(h)
}

func (t *relayTransport) Publish(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		t.logf("BUS: Dropped unencodable event for %q: %v", t.room, err)
		return
	}

	frame, err := json.Marshal(relay.Envelope{Room: t.room, Payload: payload})
	if err != nil {
		return
	}

	t.mu.Lock()
	conn := t.conn
	open := t.state == Open
	t.mu.Unlock()

	if !open || conn == nil {
		return
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.logf("BUS: Write to %q failed: %v", t.room, err)
	}
}

// Close disables reconnection, closes the connection and waits for the
// reconnect loop to exit. It must not be called from one of this
// transport's own handlers.
func (t *relayTransport) Close() {
	t.closeOnce.Do(func() {
		t.cancel()

		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()

		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			_ = conn.Close()
		}

		t.subs.clear()
	})

	<-t.done
}

// run drives Connecting -> Open -> Backoff -> Connecting until ctx is done.
func (t *relayTransport) run() {
	defer close(t.done)
	defer t.setState(Disconnected)

	for {
		t.setState(Connecting)

		conn, _, err := t.dialer.DialContext(t.ctx, t.url, nil)
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}

			t.logf("BUS: Connecting to %s failed: %v", t.url, err)
			t.subs.setStatus(StateError)
		} else {
			if !t.attach(conn) {
				return
			}

			err = t.readLoop(conn)
			t.detach(conn)

			if t.ctx.Err() != nil {
				return
			}

			t.logf("BUS: Connection to %q dropped: %v", t.room, err)
			t.subs.setStatus(StateClosed)
		}

		d := t.backoff.NextBackOff()
		t.logf("BUS: Retrying %q in %s", t.room, d)

		if !t.wait(d) {
			return
		}
	}
}

func (t *relayTransport) attach(conn *websocket.Conn) bool {
	t.mu.Lock()
	if t.ctx.Err() != nil {
		t.mu.Unlock()
		_ = conn.Close()
		return false
	}
	t.conn = conn
	t.state = Open
	t.mu.Unlock()

	t.backoff.Reset()
	t.logf("BUS: Connected to %q", t.room)
	t.subs.setStatus(StateOpen)

	return true
}

func (t *relayTransport) detach(conn *websocket.Conn) {
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.state = Disconnected
	t.mu.Unlock()

	_ = conn.Close()
}

func (t *relayTransport) wait(d time.Duration) bool {
	t.setState(Backoff)

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-t.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (t *relayTransport) readLoop(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil
		}

		return err
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var env relay.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			continue
		}
		if env.Room != "" && env.Room != t.room {
			continue
		}
		if len(env.Payload) == 0 {
			continue
		}

		t.subs.dispatch(env.Payload)
	}
}
