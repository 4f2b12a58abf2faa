/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package bus

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalDeliversWithinRoom(t *testing.T) {
	hub := NewLocalHub("", nil)

	a := newTransport(t, Config{Lobby: "ABCDE", Hub: hub})
	b := newTransport(t, Config{Lobby: "ABCDE", Hub: hub})
	c := newTransport(t, Config{Lobby: "ZZZZZ", Hub: hub})

	ra, rb, rc := record(t, a), record(t, b), record(t, c)
	ra.waitStatus(t, StateLocal)
	rb.waitStatus(t, StateLocal)
	rc.waitStatus(t, StateLocal)

	a.Publish(json.RawMessage(helloJSON))

	assert.JSONEq(t, helloJSON, string(rb.next(t)))
	ra.none(t, 50*time.Millisecond)
	rc.none(t, 0)
	rb.none(t, 0)
}

func TestLocalTransportRoom(t *testing.T) {
	tr := newTransport(t, Config{Lobby: "ABCDE", Hub: NewLocalHub("", nil)})

	assert.Equal(t, "partybox-ABCDE", tr.Room())
}

func TestLocalCrossContextDelivery(t *testing.T) {
	dir := t.TempDir()

	hubA := NewLocalHub(dir, nil)
	hubB := NewLocalHub(dir, nil)
	require.NotEqual(t, hubA.Origin(), hubB.Origin())

	a := newTransport(t, Config{Lobby: "ABCDE", Hub: hubA})
	b := newTransport(t, Config{Lobby: "ABCDE", Hub: hubB})
	other := newTransport(t, Config{Lobby: "ZZZZZ", Hub: hubB})

	ra, rb, ro := record(t, a), record(t, b), record(t, other)

	a.Publish(Hello{From: "x1", Name: "Rex"})

	assert.JSONEq(t, helloJSON, string(rb.next(t)))
	rb.none(t, 300*time.Millisecond)
	ra.none(t, 0)
	ro.none(t, 0)

	records, err := filepath.Glob(filepath.Join(dir, slotPrefix("partybox-ABCDE")+"*"+slotSuffix))
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestLocalBurstAcrossContexts(t *testing.T) {
	dir := t.TempDir()

	a := newTransport(t, Config{Lobby: "ABCDE", Hub: NewLocalHub(dir, nil)})
	b := newTransport(t, Config{Lobby: "ABCDE", Hub: NewLocalHub(dir, nil)})
	rb := record(t, b)

	const burst = 10
	for i := range burst {
		a.Publish(map[string]any{"type": "TICK", "n": i})
	}

	got := make(map[int]bool)
	for range burst {
		var tick struct {
			N int `json:"n"`
		}
		require.NoError(t, json.Unmarshal(rb.next(t), &tick))
		got[tick.N] = true
	}

	assert.Len(t, got, burst)
	rb.none(t, 200*time.Millisecond)
}

func TestLocalCloseFromCrossContextHandler(t *testing.T) {
	dir := t.TempDir()

	hubB := NewLocalHub(dir, nil)

	a := newTransport(t, Config{Lobby: "ABCDE", Hub: NewLocalHub(dir, nil)})
	b := newTransport(t, Config{Lobby: "ABCDE", Hub: hubB})

	hubB.mu.Lock()
	s := hubB.rooms["partybox-ABCDE"].slot
	hubB.mu.Unlock()
	require.NotNil(t, s)

	closed := make(chan struct{})
	b.Subscribe(func(p json.RawMessage) {
		if ev, err := DecodeEvent(p); err == nil && ev.EventType() == "LEAVE" {
			b.Close()
			close(closed)
		}
	})

	a.Publish(map[string]string{"type": "LEAVE"})

	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("Close from a delivery never returned")
	}

	select {
	case <-s.done:
	case <-time.After(3 * time.Second):
		t.Fatal("slot watcher still running after its room closed")
	}

	hubB.mu.Lock()
	defer hubB.mu.Unlock()
	assert.Empty(t, hubB.rooms)
}

func TestSlotSweepsExpiredRecords(t *testing.T) {
	dir := t.TempDir()

	s, err := openSlot(dir, "partybox-ABCDE", func(slotRecord) {}, func(string, ...any) {})
	require.NoError(t, err)
	t.Cleanup(s.close)

	other, err := openSlot(dir, "partybox-ZZZZZ", func(slotRecord) {}, func(string, ...any) {})
	require.NoError(t, err)
	t.Cleanup(other.close)

	require.NoError(t, s.write(slotRecord{ID: "old", Room: "partybox-ABCDE"}))
	require.NoError(t, other.write(slotRecord{ID: "foreign", Room: "partybox-ZZZZZ"}))

	stale := time.Now().Add(-2 * dedupWindow)
	require.NoError(t, os.Chtimes(s.recordPath("old"), stale, stale))
	require.NoError(t, os.Chtimes(other.recordPath("foreign"), stale, stale))

	require.NoError(t, s.write(slotRecord{ID: "new", Room: "partybox-ABCDE"}))

	_, err = os.Stat(s.recordPath("old"))
	assert.True(t, os.IsNotExist(err), "expired record kept")

	_, err = os.Stat(s.recordPath("new"))
	assert.NoError(t, err)

	_, err = os.Stat(other.recordPath("foreign"))
	assert.NoError(t, err, "records of other rooms belong to their own writers")
}

func TestLocalCloseIsIdempotent(t *testing.T) {
	hub := NewLocalHub(t.TempDir(), nil)

	a, err := New(Config{Lobby: "ABCDE", Hub: hub})
	require.NoError(t, err)
	b := newTransport(t, Config{Lobby: "ABCDE", Hub: hub})
	rb := record(t, b)

	assert.NotPanics(t, func() {
		a.Close()
		a.Close()
	})

	a.Publish(json.RawMessage(helloJSON))
	rb.none(t, 100*time.Millisecond)

	b.Publish(json.RawMessage(helloJSON))
	rb.none(t, 0)
}

func TestLocalRoomReleasedWhenEmpty(t *testing.T) {
	hub := NewLocalHub(t.TempDir(), nil)

	a, err := New(Config{Lobby: "ABCDE", Hub: hub})
	require.NoError(t, err)

	hub.mu.Lock()
	_, ok := hub.rooms["partybox-ABCDE"]
	hub.mu.Unlock()
	require.True(t, ok)

	a.Close()

	hub.mu.Lock()
	defer hub.mu.Unlock()
	assert.Empty(t, hub.rooms)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewLocalHub("", nil)

	a := newTransport(t, Config{Lobby: "ABCDE", Hub: hub})
	b := newTransport(t, Config{Lobby: "ABCDE", Hub: hub})

	var got []string
	unsubscribe := b.Subscribe(func(p json.RawMessage) {
		got = append(got, string(p))
	})

	a.Publish(map[string]string{"type": "ONE"})
	unsubscribe()
	unsubscribe()
	a.Publish(map[string]string{"type": "TWO"})

	require.Len(t, got, 2)
	assert.JSONEq(t, `{"type":"__STATUS__","state":"local"}`, got[0])
	assert.JSONEq(t, `{"type":"ONE"}`, got[1])
}

func TestSubscribersRunInOrder(t *testing.T) {
	hub := NewLocalHub("", nil)

	a := newTransport(t, Config{Lobby: "ABCDE", Hub: hub})
	b := newTransport(t, Config{Lobby: "ABCDE", Hub: hub})

	var order []int
	for i := range 3 {
		t.Cleanup(b.Subscribe(func(p json.RawMessage) {
			if ev, err := DecodeEvent(p); err == nil && ev.EventType() == TypeHello {
				order = append(order, i)
			}
		}))
	}

	a.Publish(json.RawMessage(helloJSON))

	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestSeenSetWindow(t *testing.T) {
	s := newSeenSet(5 * time.Second)
	now := time.Now()

	assert.True(t, s.first("a", now))
	assert.False(t, s.first("a", now.Add(time.Second)))
	assert.True(t, s.first("b", now.Add(2*time.Second)))

	assert.True(t, s.first("a", now.Add(6*time.Second)))
	assert.False(t, s.first("b", now.Add(6*time.Second)))
	assert.Len(t, s.ids, 2)
}

func TestNewSelectsStrategy(t *testing.T) {
	hub := NewLocalHub("", nil)

	for _, addr := range []string{"", "local", "http://relay.example.com", "  "} {
		tr, err := New(Config{RelayURL: addr, Lobby: "ABCDE", Hub: hub})
		require.NoError(t, err, addr)
		assert.IsType(t, &localTransport{}, tr, addr)
		tr.Close()
	}

	for _, addr := range []string{"ws://relay.example.com/ws", "WSS://relay.example.com"} {
		tr, err := New(Config{RelayURL: addr, Lobby: "ABCDE"})
		require.NoError(t, err, addr)
		assert.IsType(t, &relayTransport{}, tr, addr)
		tr.Close()
	}

	tr, err := New(Config{RelayURL: "ws://", Lobby: "ABCDE"})
	assert.Nil(t, tr)
	assert.True(t, errors.Is(err, ErrInvalidRelayURL))
}

func TestRoomName(t *testing.T) {
	assert.Equal(t, "partybox-ABCDE", RoomName("ABCDE"))
	assert.Equal(t, "partybox-", RoomName(""))
}

func TestIsRelayURL(t *testing.T) {
	assert.True(t, IsRelayURL("ws://localhost:8080/ws"))
	assert.True(t, IsRelayURL(" wss://relay.example.com "))
	assert.False(t, IsRelayURL("https://relay.example.com"))
	assert.False(t, IsRelayURL(""))
}
