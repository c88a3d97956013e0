package storage

import (
	"context"
	"sync"
	"time"
)

type memStore struct {
	ids *ids

	mu    sync.Mutex
	state map[string][]byte
	posts []PostRecord
	dedup map[string]int64
}

func newMemory() *memStore {
	return &memStore{ids: newIDs(), state: map[string][]byte{}, dedup: map[string]int64{}}
}

func (s *memStore) PutState(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[key] = append([]byte(nil), value...)
	return nil
}

func (s *memStore) GetState(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.state[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *memStore) AppendPost(_ context.Context, r PostRecord) (PostRecord, error) {
	s.ids.fill(&r)
	s.mu.Lock()
	s.posts = append(s.posts, r)
	s.mu.Unlock()
	return r, nil
}

func (s *memStore) ListPosts(_ context.Context, limit int) ([]PostRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newestFirst(s.posts, limit), nil
}

func (s *memStore) PutDedup(_ context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	s.mu.Lock()
	s.dedup[key] = until.UnixMilli()
	s.mu.Unlock()
	return nil
}

func (s *memStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *memStore) Close() error { return nil }

// newestFirst returns the last limit records of an oldest-first slice in reverse.
func newestFirst(posts []PostRecord, limit int) []PostRecord {
	n := len(posts)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]PostRecord, 0, n)
	for i := len(posts) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, posts[i])
	}
	return out
}
