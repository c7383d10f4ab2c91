package memory

import (
	"context"
	"sync"
)

// LocalStore is an in-memory implementation of app.LocalStore.
// It survives nothing beyond the process; use the redis store when records must outlive a restart.
type LocalStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewLocalStore() *LocalStore {
	return &LocalStore{data: make(map[string][]byte)}
}

func (s *LocalStore) Write(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *LocalStore) Read(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}
