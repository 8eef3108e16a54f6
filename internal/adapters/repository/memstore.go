package repository

import (
	"context"
	"slices"
	"sync"

	"github.com/okian/psyche/internal/domain/model"
)

// MemoryStore keeps everything in maps. State is cloned on the way in and out so
// callers never share memory with the store. Event records are treated as
// immutable and copied shallowly.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*model.ProfileState
	events   map[string][]model.EventRecord
	closed   bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]*model.ProfileState),
		events:   make(map[string][]model.EventRecord),
	}
}

// Backend returns BackendMemory.
func (s *MemoryStore) Backend() string { return BackendMemory }

// Close drops all data.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.profiles = nil
	s.events = nil
	return nil
}

func (s *MemoryStore) check(userID string) error {
	if s.closed {
		return ErrClosed
	}
	return ValidateUserID(userID)
}

// Load returns a clone of the stored profile or (nil, nil).
func (s *MemoryStore) Load(_ context.Context, userID string) (*model.ProfileState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(userID); err != nil {
		return nil, err
	}
	return s.profiles[userID].Clone(), nil
}

// Save stores a clone of state.
func (s *MemoryStore) Save(_ context.Context, userID string, state *model.ProfileState) error {
	if state == nil {
		return ErrNilState
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(userID); err != nil {
		return err
	}
	s.profiles[userID] = state.Clone()
	return nil
}

// Exists reports whether a profile is stored.
func (s *MemoryStore) Exists(_ context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(userID); err != nil {
		return false, err
	}
	_, ok := s.profiles[userID]
	return ok, nil
}

// Delete removes a profile.
func (s *MemoryStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(userID); err != nil {
		return err
	}
	delete(s.profiles, userID)
	return nil
}

// Append adds rec to the user's log.
func (s *MemoryStore) Append(_ context.Context, rec model.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(rec.UserID); err != nil {
		return err
	}
	rec.Rejection = slices.Clone(rec.Rejection)
	s.events[rec.UserID] = append(s.events[rec.UserID], rec)
	return nil
}

// List returns a copy of the user's log.
func (s *MemoryStore) List(_ context.Context, userID string) ([]model.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(userID); err != nil {
		return nil, err
	}
	out := slices.Clone(s.events[userID])
	if out == nil {
		out = []model.EventRecord{}
	}
	return out, nil
}

// Count returns the length of the user's log.
func (s *MemoryStore) Count(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(userID); err != nil {
		return 0, err
	}
	return len(s.events[userID]), nil
}

// Purge drops the user's log.
func (s *MemoryStore) Purge(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(userID); err != nil {
		return err
	}
	delete(s.events, userID)
	return nil
}
