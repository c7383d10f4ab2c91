package memory

import (
	"context"
	"sync"

	"school-session-agent/internal/domain"
)

// BackendStore keeps attempts and attendance batches for the reference backend in process memory.
type BackendStore struct {
	mu       sync.RWMutex
	attempts map[string][]domain.Attempt // by activity
	batches  map[string]struct{}         // seen batch ids
	records  map[string][]domain.AttendanceRecord
}

func NewBackendStore() *BackendStore {
	return &BackendStore{
		attempts: make(map[string][]domain.Attempt),
		batches:  make(map[string]struct{}),
		records:  make(map[string][]domain.AttendanceRecord),
	}
}

func (s *BackendStore) SaveAttempt(_ context.Context, attempt domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[attempt.ActivityID] = append(s.attempts[attempt.ActivityID], attempt)
	return nil
}

// SaveBatch stores the records of batch once. It reports false when the batch id was already stored.
func (s *BackendStore) SaveBatch(_ context.Context, sessionID string, batch domain.AttendanceBatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[batch.ID]; ok {
		return false, nil
	}
	s.batches[batch.ID] = struct{}{}
	s.records[sessionID] = append(s.records[sessionID], batch.Records...)
	return true, nil
}

func (s *BackendStore) SessionRecords(_ context.Context, sessionID string) ([]domain.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.AttendanceRecord(nil), s.records[sessionID]...), nil
}

func (s *BackendStore) Attempts(_ context.Context, activityID string) ([]domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Attempt(nil), s.attempts[activityID]...), nil
}
