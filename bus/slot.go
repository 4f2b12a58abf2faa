/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package bus

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/vmihailenco/msgpack/v5"
)

const slotSuffix = ".slot"

// slotRecord is one event written to a room's storage slot.
type slotRecord struct {
	ID      string `msgpack:"id"`
	Origin  string `msgpack:"origin"`
	Room    string `msgpack:"room"`
	Payload []byte `msgpack:"payload"`
	At      int64  `msgpack:"at"`
}

// slot is the shared directory through which processes on one machine
// exchange a room's events. Every event is its own file, renamed into
// place so watchers only ever see complete records. Records older than
// dedupWindow are swept by writers.
type slot struct {
	dir    string
	prefix string
	logf   func(format string, args ...any)

	watcher *fsnotify.Watcher
	closed  atomic.Bool
	done    chan struct{}
}

func slotPrefix(room string) string {
	return hex.EncodeToString([]byte(room)) + "."
}

func openSlot(dir, room string, deliver func(slotRecord), logf func(string, ...any)) (*slot, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create slot directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch slot directory: %w", err)
	}

	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch slot directory: %w", err)
	}

	s := &slot{
		dir:     dir,
		prefix:  slotPrefix(room),
		logf:    logf,
		watcher: watcher,
		done:    make(chan struct{}),
	}

	go s.watch(deliver)

	return s, nil
}

func (s *slot) owns(name string) bool {
	return strings.HasPrefix(name, s.prefix) && strings.HasSuffix(name, slotSuffix)
}

func (s *slot) recordPath(id string) string {
	return filepath.Join(s.dir, s.prefix+id+slotSuffix)
}

func (s *slot) watch(deliver func(slotRecord)) {
	defer close(s.done)

	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) || !s.owns(filepath.Base(ev.Name)) {
				continue
			}

			rec, err := s.read(ev.Name)
			if err != nil {
				continue
			}

			if s.closed.Load() {
				return
			}

			deliver(rec)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logf("BUS: Watching %s failed: %v", s.dir, err)
		}
	}
}

func (s *slot) read(path string) (slotRecord, error) {
	var rec slotRecord

	data, err := os.ReadFile(path)
	if err != nil {
		return rec, err
	}

	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("decode slot: %w", err)
	}

	return rec, nil
}

func (s *slot) write(rec slotRecord) error {
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode slot: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".slot-*")
	if err != nil {
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	if err := os.Rename(tmp.Name(), s.recordPath(rec.ID)); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	s.sweep(time.Now())

	return nil
}

// sweep removes this room's records that every watcher has had
// dedupWindow to read.
func (s *slot) sweep(now time.Time) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}

	cutoff := now.Add(-dedupWindow)

	for _, e := range entries {
		if e.IsDir() || !s.owns(e.Name()) {
			continue
		}

		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		_ = os.Remove(filepath.Join(s.dir, e.Name()))
	}
}

// close stops the watcher without waiting for the watch loop, so it is
// safe to call from a delivery. Records read after it is called are
// discarded.
func (s *slot) close() {
	s.closed.Store(true)
	_ = s.watcher.Close()
}
