// Package history keeps the most recently proxied URLs per client.
package history

import (
	"context"
	"sync"
	"time"
)

const (
	// Capacity is the number of entries kept per client.
	Capacity = 20
	// StorageKey prefixes the key a client's list is stored under.
	StorageKey = "proxyHistory"
)

type Entry struct {
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
}

// List is ordered most recent first and holds each URL at most once.
type List []Entry

// Add returns a new list with url at the front. An existing entry for the
// same URL is dropped and the result is trimmed to Capacity.
func (l List) Add(url string, at time.Time) List {
	out := make(List, 0, min(len(l)+1, Capacity))
	out = append(out, Entry{URL: url, Timestamp: at})
	for _, e := range l {
		if len(out) == Capacity {
			break
		}
		if e.URL == url {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Store persists one List per client id.
type Store interface {
	Load(ctx context.Context, client string) (List, error)
	Record(ctx context.Context, client, url string) (List, error)
	Clear(ctx context.Context, client string) error
	Close() error
}

func key(client string) string {
	return StorageKey + ":" + client
}

// MemoryStore keeps history in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	lists map[string]List
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{lists: make(map[string]List), now: time.Now}
}

func (s *MemoryStore) Load(_ context.Context, client string) (List, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(List(nil), s.lists[key(client)]...), nil
}

func (s *MemoryStore) Record(_ context.Context, client, url string) (List, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.lists[key(client)].Add(url, s.now())
	s.lists[key(client)] = l
	return append(List(nil), l...), nil
}

func (s *MemoryStore) Clear(_ context.Context, client string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lists, key(client))
	return nil
}

func (s *MemoryStore) Close() error { return nil }
