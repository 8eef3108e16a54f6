package repository

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/okian/psyche/internal/domain/model"
	"github.com/okian/psyche/pkg/logger"
)

const appendRetries = 8

// BadgerStore keeps profiles and audit logs in an embedded Badger database.
//
// Key layout:
//
//	profile/<user>             JSON ProfileState
//	seq/<user>                 big-endian uint64, last record sequence
//	events/<user>/<%020d seq>  JSON EventRecord
//
// The zero-padded sequence keeps iteration in append order.
type BadgerStore struct {
	db   *badger.DB
	opts options
}

var _ Store = (*BadgerStore)(nil)

// badgerLogger routes Badger's printf-style logging to our logger.
type badgerLogger struct {
	log logger.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(context.Background(), fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(context.Background(), fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.log.Debug(context.Background(), fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(context.Background(), fmt.Sprintf(format, args...))
}

// NewBadgerStore opens (or creates) a Badger database under dir. With
// WithBadgerInMemory the directory is ignored.
func NewBadgerStore(dir string, opts ...Option) (*BadgerStore, error) {
	o := applyOptions(opts)

	var bopts badger.Options
	if o.badgerInMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if dir == "" {
			return nil, fmt.Errorf("%w: empty badger directory", ErrStorage)
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("%w: create %s: %w", ErrStorage, dir, err)
		}
		bopts = badger.DefaultOptions(dir)
	}
	bopts = bopts.
		WithSyncWrites(o.badgerSync && !o.badgerInMemory).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{log: o.log.Named("badger")})

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger: %w", ErrStorage, err)
	}
	return &BadgerStore{db: db, opts: o}, nil
}

// Backend returns BackendBadger.
func (s *BadgerStore) Backend() string { return BackendBadger }

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func profileKey(userID string) []byte { return []byte("profile/" + userID) }
func seqKey(userID string) []byte     { return []byte("seq/" + userID) }
func eventPrefix(userID string) []byte {
	return []byte("events/" + userID + "/")
}

func eventKey(userID string, seq uint64) []byte {
	return fmt.Appendf(eventPrefix(userID), "%020d", seq)
}

func (s *BadgerStore) guard(userID string) error {
	if s.db.IsClosed() {
		return ErrClosed
	}
	return ValidateUserID(userID)
}

// Load reads a profile. Missing and corrupt values yield (nil, nil).
func (s *BadgerStore) Load(ctx context.Context, userID string) (state *model.ProfileState, err error) {
	if err := s.guard(userID); err != nil {
		return nil, err
	}
	defer func(start time.Time) { observe(BackendBadger, "load", start, err) }(time.Now())

	var data []byte
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(profileKey(userID))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("load", userID, err)
	}
	return decodeProfile(ctx, s.opts.log, BackendBadger, userID, data), nil
}

// Save replaces the profile in a single transaction.
func (s *BadgerStore) Save(_ context.Context, userID string, state *model.ProfileState) (err error) {
	if err := s.guard(userID); err != nil {
		return err
	}
	defer func(start time.Time) { observe(BackendBadger, "save", start, err) }(time.Now())

	data, err := encodeProfile(state, false)
	if err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(profileKey(userID), data)
	}); err != nil {
		return storageErr("save", userID, err)
	}
	return nil
}

// Exists reports whether a profile key is present.
func (s *BadgerStore) Exists(_ context.Context, userID string) (bool, error) {
	if err := s.guard(userID); err != nil {
		return false, err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(profileKey(userID))
		return err
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	default:
		return false, storageErr("exists", userID, err)
	}
}

// Delete removes the profile key.
func (s *BadgerStore) Delete(_ context.Context, userID string) (err error) {
	if err := s.guard(userID); err != nil {
		return err
	}
	defer func(start time.Time) { observe(BackendBadger, "delete", start, err) }(time.Now())

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(profileKey(userID))
	}); err != nil {
		return storageErr("delete", userID, err)
	}
	return nil
}

// Append assigns the next sequence number and writes the record in the same
// transaction. Conflicting concurrent appends are retried.
func (s *BadgerStore) Append(ctx context.Context, rec model.EventRecord) (err error) {
	if err := s.guard(rec.UserID); err != nil {
		return err
	}
	defer func(start time.Time) { observe(BackendBadger, "append", start, err) }(time.Now())

	line, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	for range appendRetries {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			var seq uint64
			item, err := txn.Get(seqKey(rec.UserID))
			switch {
			case err == nil:
				if err := item.Value(func(v []byte) error {
					if len(v) == 8 {
						seq = binary.BigEndian.Uint64(v)
					}
					return nil
				}); err != nil {
					return err
				}
			case !errors.Is(err, badger.ErrKeyNotFound):
				return err
			}
			seq++
			if err := txn.Set(eventKey(rec.UserID, seq), line); err != nil {
				return err
			}
			return txn.Set(seqKey(rec.UserID), binary.BigEndian.AppendUint64(nil, seq))
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return storageErr("append", rec.UserID, err)
	}
	return nil
}

// List returns the records in append order, skipping undecodable values.
func (s *BadgerStore) List(ctx context.Context, userID string) (recs []model.EventRecord, err error) {
	if err := s.guard(userID); err != nil {
		return nil, err
	}
	defer func(start time.Time) { observe(BackendBadger, "list", start, err) }(time.Now())

	recs = []model.EventRecord{}
	err = s.db.View(func(txn *badger.Txn) error {
		prefix := eventPrefix(userID)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 64})
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			if err := it.Item().Value(func(v []byte) error {
				rec, derr := decodeRecord(v)
				if derr != nil {
					s.opts.log.Warn(ctx, "skipping corrupt audit record",
						logger.String("user_id", userID), logger.String("key", string(it.Item().Key())), logger.Error(derr))
					return nil
				}
				recs = append(recs, rec)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("list", userID, err)
	}
	return recs, nil
}

// Count counts record keys without reading values.
func (s *BadgerStore) Count(_ context.Context, userID string) (int, error) {
	if err := s.guard(userID); err != nil {
		return 0, err
	}
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := eventPrefix(userID)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, storageErr("count", userID, err)
	}
	return n, nil
}

// Purge drops every record of the user together with the sequence counter.
func (s *BadgerStore) Purge(_ context.Context, userID string) error {
	if err := s.guard(userID); err != nil {
		return err
	}
	if err := s.db.DropPrefix(eventPrefix(userID)); err != nil {
		return storageErr("purge", userID, err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(seqKey(userID))
	}); err != nil {
		return storageErr("purge", userID, err)
	}
	return nil
}
