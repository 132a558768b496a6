// Package blob holds in-memory image blobs behind opaque handles, the server
// side counterpart of browser object URLs.
package blob

import (
	"errors"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
)

var ErrNotFound = errors.New("blob not found")

type Blob struct {
	ID        string
	MediaType string
	Data      []byte
	CreatedAt time.Time
}

type Store struct {
	mu    sync.RWMutex
	blobs map[string]*Blob
	now   func() time.Time
}

func NewStore() *Store {
	return &Store{blobs: map[string]*Blob{}, now: time.Now}
}

// Put stores data and returns its handle.
func (s *Store) Put(mediaType string, data []byte) string {
	id := ksuid.New().String()
	s.mu.Lock()
	s.blobs[id] = &Blob{ID: id, MediaType: mediaType, Data: data, CreatedAt: s.now()}
	s.mu.Unlock()
	return id
}

func (s *Store) Get(id string) (*Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

// Revoke releases a handle. Revoking an unknown handle is a no-op.
func (s *Store) Revoke(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	delete(s.blobs, id)
	s.mu.Unlock()
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// Sweep drops blobs older than maxAge that are not in keep and returns how
// many were removed.
func (s *Store) Sweep(maxAge time.Duration, keep map[string]bool) int {
	cutoff := s.now().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, b := range s.blobs {
		if keep[id] || b.CreatedAt.After(cutoff) {
			continue
		}
		delete(s.blobs, id)
		n++
	}
	return n
}
