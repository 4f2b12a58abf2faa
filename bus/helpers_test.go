/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package bus

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Seednode/partyrelay/relay"
)

const helloJSON = `{"type":"HELLO","from":"x1","name":"Rex"}`

// recorder splits a transport's deliveries into status states and
// application payloads.
type recorder struct {
	events   chan json.RawMessage
	statuses chan string
}

func record(t *testing.T, tr Transport) *recorder {
	t.Helper()

	r := &recorder{
		events:   make(chan json.RawMessage, 64),
		statuses: make(chan string, 64),
	}

	unsubscribe := tr.Subscribe(func(payload json.RawMessage) {
		if ev, err := DecodeEvent(payload); err == nil {
			if s, ok := ev.(Status); ok {
				select {
				case r.statuses <- s.State:
				default:
				}
				return
			}
		}
		r.events <- append(json.RawMessage(nil), payload...)
	})
	t.Cleanup(unsubscribe)

	return r
}

func (r *recorder) waitStatus(t *testing.T, want string) {
	t.Helper()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case got := <-r.statuses:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("status %q never arrived", want)
		}
	}
}

func (r *recorder) next(t *testing.T) json.RawMessage {
	t.Helper()

	select {
	case p := <-r.events:
		return p
	case <-time.After(3 * time.Second):
		t.Fatal("no event delivered")
		return nil
	}
}

func (r *recorder) none(t *testing.T, d time.Duration) {
	t.Helper()

	select {
	case p := <-r.events:
		t.Fatalf("unexpected event %s", p)
	case <-time.After(d):
	}
}

func startRelay(t *testing.T) (*relay.Server, string) {
	t.Helper()

	srv := relay.NewServer(relay.Options{})
	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)
	t.Cleanup(func() { srv.CloseAll() })

	return srv, "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws"
}

func newTransport(t *testing.T, cfg Config) Transport {
	t.Helper()

	tr, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(tr.Close)

	return tr
}

func waitForRoom(t *testing.T, srv *relay.Server, room string, n int) {
	t.Helper()

	require.Eventually(t, func() bool {
		return srv.Registry().Size(room) == n
	}, 3*time.Second, 10*time.Millisecond, "room %q never reached %d sessions", room, n)
}

// logLines collects a transport's log output.
type logLines struct {
	mu    sync.Mutex
	lines []string
}

func (l *logLines) logf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (l *logLines) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.lines...)
}

// freeAddr returns a loopback address nothing is listening on.
func freeAddr(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	return addr
}

// serveRelayOn starts a relay on addr, which must be free.
func serveRelayOn(t *testing.T, addr string) *relay.Server {
	t.Helper()

	srv := relay.NewServer(relay.Options{})
	hs := httptest.NewUnstartedServer(srv)

	l, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	_ = hs.Listener.Close()
	hs.Listener = l
	hs.Start()

	t.Cleanup(hs.Close)
	t.Cleanup(func() { srv.CloseAll() })

	return srv
}
