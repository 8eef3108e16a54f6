package repository

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/okian/psyche/internal/domain/model"
	"github.com/okian/psyche/pkg/logger"
)

const (
	profilesDir = "profiles"
	eventsDir   = "events"

	maxEventLine = 4 << 20
)

// FileStore keeps one pretty-printed JSON document per profile and one JSON
// Lines audit log per user under a data directory:
//
//	<dir>/profiles/<user>.json
//	<dir>/events/<user>.jsonl
//
// Profile writes go to a temp file in the same directory, are fsynced and then
// renamed over the live file, so a reader only ever sees a complete document.
type FileStore struct {
	dir    string
	opts   options
	closed atomic.Bool
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates the directory layout under dir.
func NewFileStore(dir string, opts ...Option) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty data directory", ErrStorage)
	}
	for _, sub := range []string{profilesDir, eventsDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o750); err != nil {
			return nil, fmt.Errorf("%w: create %s: %w", ErrStorage, sub, err)
		}
	}
	return &FileStore{dir: dir, opts: applyOptions(opts)}, nil
}

// Backend returns BackendFile.
func (s *FileStore) Backend() string { return BackendFile }

// Close marks the store closed.
func (s *FileStore) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *FileStore) profilePath(userID string) string {
	return filepath.Join(s.dir, profilesDir, userID+".json")
}

func (s *FileStore) eventsPath(userID string) string {
	return filepath.Join(s.dir, eventsDir, userID+".jsonl")
}

func (s *FileStore) guard(userID string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return ValidateUserID(userID)
}

// Load reads a profile. Missing and corrupt files yield (nil, nil).
func (s *FileStore) Load(ctx context.Context, userID string) (state *model.ProfileState, err error) {
	if err := s.guard(userID); err != nil {
		return nil, err
	}
	defer func(start time.Time) { observe(BackendFile, "load", start, err) }(time.Now())

	unlock, err := s.opts.locker.Lock(ctx, "profile:"+userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	data, err := os.ReadFile(s.profilePath(userID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("load", userID, err)
	}
	return decodeProfile(ctx, s.opts.log, BackendFile, userID, data), nil
}

// Save atomically replaces the profile file.
func (s *FileStore) Save(ctx context.Context, userID string, state *model.ProfileState) (err error) {
	if err := s.guard(userID); err != nil {
		return err
	}
	defer func(start time.Time) { observe(BackendFile, "save", start, err) }(time.Now())

	data, err := encodeProfile(state, true)
	if err != nil {
		return err
	}

	unlock, err := s.opts.locker.Lock(ctx, "profile:"+userID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.writeAtomic(s.profilePath(userID), data); err != nil {
		return storageErr("save", userID, err)
	}
	return nil
}

func (s *FileStore) writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = s.opts.rename(tmpName, path); err != nil {
		return err
	}
	syncDir(dir)
	return nil
}

// syncDir makes the rename durable where the platform supports it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// Exists reports whether a profile file is present.
func (s *FileStore) Exists(_ context.Context, userID string) (bool, error) {
	if err := s.guard(userID); err != nil {
		return false, err
	}
	_, err := os.Stat(s.profilePath(userID))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, storageErr("exists", userID, err)
	}
}

// Delete removes the profile file. Deleting a missing profile is not an error.
func (s *FileStore) Delete(ctx context.Context, userID string) (err error) {
	if err := s.guard(userID); err != nil {
		return err
	}
	defer func(start time.Time) { observe(BackendFile, "delete", start, err) }(time.Now())

	unlock, err := s.opts.locker.Lock(ctx, "profile:"+userID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(s.profilePath(userID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storageErr("delete", userID, err)
	}
	return nil
}

// Append writes one JSON line to the user's audit log.
func (s *FileStore) Append(ctx context.Context, rec model.EventRecord) (err error) {
	if err := s.guard(rec.UserID); err != nil {
		return err
	}
	defer func(start time.Time) { observe(BackendFile, "append", start, err) }(time.Now())

	line, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	unlock, err := s.opts.locker.Lock(ctx, "events:"+rec.UserID)
	if err != nil {
		return err
	}
	defer unlock()

	f, err := os.OpenFile(s.eventsPath(rec.UserID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return storageErr("append", rec.UserID, err)
	}
	if _, err = f.Write(line); err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return storageErr("append", rec.UserID, err)
	}
	return nil
}

// List returns the audit log in append order. Unparseable lines are skipped.
func (s *FileStore) List(ctx context.Context, userID string) (recs []model.EventRecord, err error) {
	if err := s.guard(userID); err != nil {
		return nil, err
	}
	defer func(start time.Time) { observe(BackendFile, "list", start, err) }(time.Now())

	recs = []model.EventRecord{}
	err = s.scanEvents(ctx, userID, func(line []byte) {
		rec, derr := decodeRecord(line)
		if derr != nil {
			s.opts.log.Warn(ctx, "skipping corrupt audit line", logger.String("user_id", userID), logger.Error(derr))
			return
		}
		recs = append(recs, rec)
	})
	return recs, err
}

// Count returns the number of lines in the audit log.
func (s *FileStore) Count(ctx context.Context, userID string) (int, error) {
	if err := s.guard(userID); err != nil {
		return 0, err
	}
	n := 0
	err := s.scanEvents(ctx, userID, func([]byte) { n++ })
	return n, err
}

func (s *FileStore) scanEvents(ctx context.Context, userID string, fn func([]byte)) error {
	unlock, err := s.opts.locker.Lock(ctx, "events:"+userID)
	if err != nil {
		return err
	}
	defer unlock()

	f, err := os.Open(s.eventsPath(userID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return storageErr("list", userID, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxEventLine)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		fn(line)
	}
	if err := sc.Err(); err != nil {
		return storageErr("list", userID, err)
	}
	return nil
}

// Purge removes the audit log.
func (s *FileStore) Purge(ctx context.Context, userID string) error {
	if err := s.guard(userID); err != nil {
		return err
	}
	unlock, err := s.opts.locker.Lock(ctx, "events:"+userID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(s.eventsPath(userID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storageErr("purge", userID, err)
	}
	return nil
}
