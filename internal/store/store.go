// Package store holds decoded images keyed by content identity.
//
// The store is append-only: entries keep the position they were inserted at
// for the lifetime of the process, and nothing is ever evicted. Readers
// (existence checks, sampling) share a read lock; inserts and claim
// bookkeeping take the write lock.
package store

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
)

// ErrNotEnough is returned by Sample when the store holds fewer entries than requested.
var ErrNotEnough = errors.New("not enough images in store")

// Entry is one stored image.
type Entry struct {
	ID    string
	Pos   int
	Image image.Image
}

// Insertion describes the result of an insert attempt.
type Insertion struct {
	Inserted bool // false when the identity was already stored or claimed
	Pos      int  // position of the new entry, -1 when not inserted
	Size     int  // store size after the attempt
}

// Stats is a point-in-time view of the store.
type Stats struct {
	Size     int
	InFlight int // identities claimed by InsertFunc and still decoding
}

// Store is an ordered, deduplicating map from identity to decoded image.
type Store struct {
	mu      sync.RWMutex
	index   map[string]int
	entries []Entry
	claims  map[string]struct{}

	// changed is closed and replaced on every insert to wake WaitForSize callers.
	changed chan struct{}
}

// New creates an empty store.
func New() *Store {
	return &Store{
		index:   make(map[string]int),
		claims:  make(map[string]struct{}),
		changed: make(chan struct{}),
	}
}

// Exists reports whether id is stored. A false result is only valid at the
// moment of the call; use InsertFunc to avoid racing another worker.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[id]
	return ok
}

// Len returns the number of stored images.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// At returns the entry at position pos.
func (s *Store) At(pos int) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if pos < 0 || pos >= len(s.entries) {
		return Entry{}, false
	}
	return s.entries[pos], true
}

// Stats returns the current size and number of in-flight claims.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Size: len(s.entries), InFlight: len(s.claims)}
}

// Insert adds img under id if id is not already stored. Inserting an existing
// identity is a no-op and never replaces the stored image.
func (s *Store) Insert(id string, img image.Image) Insertion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(id, img)
}

// InsertFunc is an atomic insert-if-absent. The first caller for id claims it,
// runs decode without holding the lock and commits the result. Callers that
// find id stored or claimed return immediately with Inserted false, so each
// identity is decoded at most once at a time. A decode error releases the
// claim and is returned. A panicking decode also releases the claim before the
// panic propagates.
func (s *Store) InsertFunc(id string, decode func() (image.Image, error)) (Insertion, error) {
	s.mu.Lock()
	if _, ok := s.index[id]; ok {
		size := len(s.entries)
		s.mu.Unlock()
		return Insertion{Pos: -1, Size: size}, nil
	}
	if _, ok := s.claims[id]; ok {
		size := len(s.entries)
		s.mu.Unlock()
		return Insertion{Pos: -1, Size: size}, nil
	}
	s.claims[id] = struct{}{}
	s.mu.Unlock()

	committed := false
	defer func() {
		// decode panicked; drop the claim so a later fetch can retry
		if !committed {
			s.mu.Lock()
			delete(s.claims, id)
			s.mu.Unlock()
		}
	}()

	img, err := decode()

	s.mu.Lock()
	defer s.mu.Unlock()
	committed = true
	delete(s.claims, id)
	if err != nil {
		return Insertion{Pos: -1, Size: len(s.entries)}, fmt.Errorf("decode %s: %w", shortID(id), err)
	}
	return s.insertLocked(id, img), nil
}

func (s *Store) insertLocked(id string, img image.Image) Insertion {
	if _, ok := s.index[id]; ok {
		return Insertion{Pos: -1, Size: len(s.entries)}
	}
	pos := len(s.entries)
	s.entries = append(s.entries, Entry{ID: id, Pos: pos, Image: img})
	s.index[id] = pos

	close(s.changed)
	s.changed = make(chan struct{})

	return Insertion{Inserted: true, Pos: pos, Size: len(s.entries)}
}

// WaitForSize blocks until the store holds at least n images or ctx is done.
func (s *Store) WaitForSize(ctx context.Context, n int) error {
	for {
		s.mu.RLock()
		size := len(s.entries)
		changed := s.changed
		s.mu.RUnlock()

		if size >= n {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
