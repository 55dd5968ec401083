package historystore

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/telegem/telegem/pkg/conversation"
)

// MemoryStore is an in-process Store. It mirrors the merge semantics of the
// sqlite and redis stores so tests exercise the same contract the session
// store sees in production.
type MemoryStore struct {
	mu      sync.Mutex
	records map[conversation.UserID]Record
}

var _ Store = &MemoryStore{}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[conversation.UserID]Record{}}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Read(_ context.Context, user conversation.UserID) (Record, bool, error) {
	if s == nil {
		return Record{}, false, errors.New("memory history store: nil store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[user]
	if !ok {
		return Record{}, false, nil
	}
	rec.History = append([]Entry(nil), rec.History...)
	return rec, true, nil
}

func (s *MemoryStore) MergeWrite(_ context.Context, user conversation.UserID, rec Record) error {
	if s == nil {
		return errors.New("memory history store: nil store")
	}
	if rec.LastUpdate.IsZero() {
		rec.LastUpdate = time.Now()
	}
	rec.History = append([]Entry(nil), rec.History...)

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.records[user]
	if ok && existing.LastUpdate.After(rec.LastUpdate) {
		rec.LastUpdate = existing.LastUpdate
	}
	s.records[user] = rec
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, user conversation.UserID) error {
	if s == nil {
		return errors.New("memory history store: nil store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, user)
	return nil
}
