// Package repository persists profile state and the per-user audit log.
//
// Every backend implements the same two contracts. Load of a missing profile
// returns (nil, nil). A profile that cannot be decoded is logged, counted and
// treated as missing so ingestion can start over from a fresh profile.
package repository

import (
	"context"
	"fmt"

	"github.com/okian/psyche/internal/domain/model"
)

// Backend names.
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

// ProfileStore stores one ProfileState per user.
type ProfileStore interface {
	Load(ctx context.Context, userID string) (*model.ProfileState, error)
	Save(ctx context.Context, userID string, state *model.ProfileState) error
	Exists(ctx context.Context, userID string) (bool, error)
	Delete(ctx context.Context, userID string) error
}

// EventStore is an append-only audit log per user.
type EventStore interface {
	Append(ctx context.Context, rec model.EventRecord) error
	List(ctx context.Context, userID string) ([]model.EventRecord, error)
	Count(ctx context.Context, userID string) (int, error)
	// Purge drops the whole log of a user.
	Purge(ctx context.Context, userID string) error
}

// Store is a backend implementing both contracts.
type Store interface {
	ProfileStore
	EventStore
	Backend() string
	Close() error
}

const maxUserIDLen = 128

// ValidateUserID accepts ids made of letters, digits, '.', '_' and '-', which
// keeps them safe as file names. "." and ".." are refused.
func ValidateUserID(id string) error {
	if id == "" || len(id) > maxUserIDLen || id == "." || id == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidUserID, id)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidUserID, id)
		}
	}
	return nil
}
