/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package bus

import (
	"sync"
	"time"
)

// dedupWindow is how long an event id is remembered by a local transport.
const dedupWindow = 5 * time.Second

// seenSet remembers recently delivered event ids.
type seenSet struct {
	mu     sync.Mutex
	window time.Duration
	ids    map[string]time.Time
	order  []string
}

func newSeenSet(window time.Duration) *seenSet {
	return &seenSet{
		window: window,
		ids:    make(map[string]time.Time),
	}
}

// first records id and reports whether it was not seen within the window.
func (s *seenSet) first(id string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expire(now)

	if _, ok := s.ids[id]; ok {
		return false
	}

	s.ids[id] = now
	s.order = append(s.order, id)

	return true
}

func (s *seenSet) expire(now time.Time) {
	cutoff := now.Add(-s.window)

	n := 0
	for _, id := range s.order {
		if s.ids[id].After(cutoff) {
			break
		}
		delete(s.ids, id)
		n++
	}
	s.order = s.order[n:]
}
