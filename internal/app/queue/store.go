// Package queue provides the persistent play queue store.
//
// The queue is a user-curated ordered list of tracks, durable across
// restarts. Every mutation persists the full list and publishes a
// KindQueueChanged broadcast so all mounted surfaces re-read. A second
// process writing the same file is picked up through an fsnotify watch,
// which keeps multiple player instances in sync.
package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	zlog "github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/soundloft/tapedeck/internal/app/broadcast"
	"github.com/soundloft/tapedeck/internal/domain/track"
)

// storedItem is the durable JSON representation of one queue entry.
// Unknown fields in the file are ignored, missing fields stay zero, so the
// layout remains backward-readable.
type storedItem struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	ProjectTitle string    `json:"projectTitle"`
	AudioURL     string    `json:"audioUrl"`
	CoverURL     string    `json:"coverUrl,omitempty"`
	AddedAt      time.Time `json:"addedAt"`
}

// Store is the sole owner of the durable queue representation. All reads
// and writes of the underlying file go through it.
type Store struct {
	mu    sync.Mutex
	path  string
	hub   *broadcast.Hub
	items []track.QueueItem

	// degraded is set after a failed write; the queue then lives only in
	// memory until a later write succeeds.
	degraded bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewStore creates a store backed by the file at path, reads the durable
// state once, and starts watching for external writes. Storage trouble is
// never fatal: a missing or corrupt file yields an empty queue.
func NewStore(path string, hub *broadcast.Hub) *Store {
	s := &Store{
		path: path,
		hub:  hub,
		done: make(chan struct{}),
	}
	s.items = s.readFile()
	s.startWatcher()
	return s
}

// Load returns the current ordered queue contents.
func (s *Store) Load() []track.QueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

// Add appends an item to the queue, stamps AddedAt, persists, and
// broadcasts. Returns false without mutating or broadcasting if an item
// with the same track ID is already queued.
func (s *Store) Add(t track.Track) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lo.ContainsBy(s.items, func(it track.QueueItem) bool { return it.Track.ID == t.ID }) {
		return false
	}

	s.items = append(s.items, track.QueueItem{Track: t, AddedAt: time.Now()})
	s.persistLocked()
	s.broadcastLocked()
	return true
}

// Remove removes the item with the given track ID, if present.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := lo.Reject(s.items, func(it track.QueueItem, _ int) bool { return it.Track.ID == id })
	if len(kept) == len(s.items) {
		return
	}
	s.items = kept
	s.persistLocked()
	s.broadcastLocked()
}

// Clear removes all items from the queue.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) == 0 {
		return
	}
	s.items = nil
	s.persistLocked()
	s.broadcastLocked()
}

// IndexOf returns the queue position of the given track ID, or -1.
func (s *Store) IndexOf(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, i, ok := lo.FindIndexOf(s.items, func(it track.QueueItem) bool { return it.Track.ID == id })
	if !ok {
		return -1
	}
	return i
}

// Len returns the number of queued items.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Close stops the file watcher.
func (s *Store) Close() {
	close(s.done)
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
}

func (s *Store) copyLocked() []track.QueueItem {
	out := make([]track.QueueItem, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Store) broadcastLocked() {
	s.hub.Publish(broadcast.Message{
		Kind:  broadcast.KindQueueChanged,
		Queue: s.copyLocked(),
	})
}

// readFile reads and decodes the durable file. Any failure is swallowed
// with a diagnostic: the queue degrades to empty rather than erroring.
func (s *Store) readFile() []track.QueueItem {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			zlog.Warn().Msgf("queue: cannot read %s, starting empty: %v", s.path, err)
		}
		return nil
	}

	var stored []storedItem
	if err := json.Unmarshal(data, &stored); err != nil {
		zlog.Warn().Msgf("queue: corrupt state in %s ignored: %v", s.path, err)
		return nil
	}

	return lo.Map(stored, func(it storedItem, _ int) track.QueueItem {
		return track.QueueItem{
			Track: track.Track{
				ID:           it.ID,
				Title:        it.Title,
				ProjectTitle: it.ProjectTitle,
				AudioURL:     it.AudioURL,
				CoverURL:     it.CoverURL,
			},
			AddedAt: it.AddedAt,
		}
	})
}

// persistLocked writes the queue atomically (temp file + rename). On
// failure the store keeps serving from memory and logs the diagnostic.
func (s *Store) persistLocked() {
	stored := lo.Map(s.items, func(it track.QueueItem, _ int) storedItem {
		return storedItem{
			ID:           it.Track.ID,
			Title:        it.Track.Title,
			ProjectTitle: it.Track.ProjectTitle,
			AudioURL:     it.Track.AudioURL,
			CoverURL:     it.Track.CoverURL,
			AddedAt:      it.AddedAt,
		}
	})

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		zlog.Warn().Msgf("queue: cannot encode state: %v", err)
		s.degraded = true
		return
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".queue-*")
	if err != nil {
		s.markDegradedLocked(err)
		return
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		s.markDegradedLocked(err)
		return
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		s.markDegradedLocked(err)
		return
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		s.markDegradedLocked(err)
		return
	}
	s.degraded = false
}

func (s *Store) markDegradedLocked(err error) {
	if !s.degraded {
		zlog.Warn().Msgf("queue: storage unavailable, queue is ephemeral until the next successful write: %v", err)
	}
	s.degraded = true
}

// startWatcher watches the durable file for writes by other instances.
// Watch failures are non-fatal: cross-instance sync simply stays off.
func (s *Store) startWatcher() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		zlog.Warn().Msgf("queue: file watch unavailable: %v", err)
		return
	}
	// Watch the directory: the atomic rename replaces the file inode.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		zlog.Warn().Msgf("queue: cannot watch %s: %v", filepath.Dir(s.path), err)
		_ = w.Close()
		return
	}
	s.watcher = w

	go func() {
		for {
			select {
			case <-s.done:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name != s.path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				s.reloadFromDisk()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				zlog.Warn().Msgf("queue: watch error: %v", err)
			}
		}
	}()
}

// reloadFromDisk re-reads the file and broadcasts if the contents differ
// from memory. Our own writes round-trip to identical contents and are
// therefore silent here.
func (s *Store) reloadFromDisk() {
	s.mu.Lock()
	defer s.mu.Unlock()

	loaded := s.readFile()
	if sameOrder(loaded, s.items) {
		return
	}
	s.items = loaded
	s.broadcastLocked()
}

// sameOrder compares two queues by track ID sequence.
func sameOrder(a, b []track.QueueItem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Track.ID != b[i].Track.ID {
			return false
		}
	}
	return true
}
