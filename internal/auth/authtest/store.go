// Package authtest provides an in-memory auth.CredentialStore for tests.
package authtest

import (
	"context"
	"sync"
	"time"

	"todo-auth/internal/auth"
)

// MemoryStore keeps records keyed by id. Records are copied on the way in
// and out so callers never share time pointers with the store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]auth.CredentialRecord

	// Err, when set, is returned by every method.
	Err error
	// Saves counts successful Save calls.
	Saves int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]auth.CredentialRecord)}
}

func (s *MemoryStore) FindByNormalizedEmail(_ context.Context, email string) (auth.CredentialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return auth.CredentialRecord{}, s.Err
	}
	for _, record := range s.records {
		if record.Email == email {
			return clone(record), nil
		}
	}
	return auth.CredentialRecord{}, auth.ErrRecordNotFound
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (auth.CredentialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return auth.CredentialRecord{}, s.Err
	}
	record, ok := s.records[id]
	if !ok {
		return auth.CredentialRecord{}, auth.ErrRecordNotFound
	}
	return clone(record), nil
}

func (s *MemoryStore) Save(_ context.Context, record auth.CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.records[record.ID]; !ok {
		return auth.ErrRecordNotFound
	}
	s.records[record.ID] = clone(record)
	s.Saves++
	return nil
}

func (s *MemoryStore) Create(_ context.Context, record auth.CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return s.Err
	}
	for _, existing := range s.records {
		if existing.Email == record.Email {
			return auth.ErrEmailTaken
		}
	}
	s.records[record.ID] = clone(record)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.records[id]; !ok {
		return auth.ErrRecordNotFound
	}
	delete(s.records, id)
	return nil
}

// Put stores record as is, bypassing the uniqueness check.
func (s *MemoryStore) Put(record auth.CredentialRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = clone(record)
}

// Get returns a copy of the stored record.
func (s *MemoryStore) Get(id string) (auth.CredentialRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	return clone(record), ok
}

func clone(record auth.CredentialRecord) auth.CredentialRecord {
	record.LockedUntil = copyTime(record.LockedUntil)
	record.LastFailedLogin = copyTime(record.LastFailedLogin)
	return record
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	value := *t
	return &value
}
