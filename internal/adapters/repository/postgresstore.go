package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/lib/pq"

	"github.com/okian/psyche/internal/domain/model"
	"github.com/okian/psyche/pkg/logger"
)

// PostgresStore keeps profiles as jsonb rows and the audit log as an
// append-only table ordered by a bigserial id.
type PostgresStore struct {
	db       *sql.DB
	opts     options
	profiles string
	events   string
	owned    bool
	closed   atomic.Bool
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects with lib/pq, pings and ensures the schema exists.
// The returned store closes the pool on Close.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open postgres: %w", ErrStorage, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping postgres: %w", ErrStorage, err)
	}
	s := NewPostgresStore(db, opts...)
	s.owned = true
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an existing pool. The caller keeps ownership of db.
func NewPostgresStore(db *sql.DB, opts ...Option) *PostgresStore {
	o := applyOptions(opts)
	return &PostgresStore{
		db:       db,
		opts:     o,
		profiles: pq.QuoteIdentifier(o.tablePrefix + "profiles"),
		events:   pq.QuoteIdentifier(o.tablePrefix + "profile_events"),
	}
}

// EnsureSchema creates the tables and index when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	idx := pq.QuoteIdentifier(s.opts.tablePrefix + "profile_events_user_idx")
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + s.profiles + ` (
			user_id    TEXT PRIMARY KEY,
			state      JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS ` + s.events + ` (
			id          BIGSERIAL PRIMARY KEY,
			record_id   TEXT NOT NULL,
			user_id     TEXT NOT NULL,
			event_id    TEXT NOT NULL,
			module_id   TEXT NOT NULL,
			accepted    BOOLEAN NOT NULL,
			rejection   TEXT[],
			record      JSONB NOT NULL,
			received_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ` + idx + ` ON ` + s.events + ` (user_id, id)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("%w: ensure schema: %w", ErrStorage, err)
		}
	}
	return nil
}

// Backend returns BackendPostgres.
func (s *PostgresStore) Backend() string { return BackendPostgres }

// Close closes the pool when the store opened it.
func (s *PostgresStore) Close() error {
	if s.closed.Swap(true) || !s.owned {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) guard(userID string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return ValidateUserID(userID)
}

// Load reads a profile. Missing and corrupt rows yield (nil, nil).
func (s *PostgresStore) Load(ctx context.Context, userID string) (state *model.ProfileState, err error) {
	if err := s.guard(userID); err != nil {
		return nil, err
	}
	defer func(start time.Time) { observe(BackendPostgres, "load", start, err) }(time.Now())

	var data []byte
	err = s.db.QueryRowContext(ctx, `SELECT state FROM `+s.profiles+` WHERE user_id = $1`, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("load", userID, err)
	}
	return decodeProfile(ctx, s.opts.log, BackendPostgres, userID, data), nil
}

// Save upserts the profile row.
func (s *PostgresStore) Save(ctx context.Context, userID string, state *model.ProfileState) (err error) {
	if err := s.guard(userID); err != nil {
		return err
	}
	defer func(start time.Time) { observe(BackendPostgres, "save", start, err) }(time.Now())

	data, err := encodeProfile(state, false)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO ` + s.profiles + ` (user_id, state, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, userID, string(data)); err != nil {
		return storageErr("save", userID, err)
	}
	return nil
}

// Exists reports whether a profile row is present.
func (s *PostgresStore) Exists(ctx context.Context, userID string) (bool, error) {
	if err := s.guard(userID); err != nil {
		return false, err
	}
	var ok bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM `+s.profiles+` WHERE user_id = $1)`, userID).Scan(&ok)
	if err != nil {
		return false, storageErr("exists", userID, err)
	}
	return ok, nil
}

// Delete removes the profile row.
func (s *PostgresStore) Delete(ctx context.Context, userID string) (err error) {
	if err := s.guard(userID); err != nil {
		return err
	}
	defer func(start time.Time) { observe(BackendPostgres, "delete", start, err) }(time.Now())

	if _, err := s.db.ExecContext(ctx, `DELETE FROM `+s.profiles+` WHERE user_id = $1`, userID); err != nil {
		return storageErr("delete", userID, err)
	}
	return nil
}

// Append inserts one audit row.
func (s *PostgresStore) Append(ctx context.Context, rec model.EventRecord) (err error) {
	if err := s.guard(rec.UserID); err != nil {
		return err
	}
	defer func(start time.Time) { observe(BackendPostgres, "append", start, err) }(time.Now())

	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO ` + s.events + ` (record_id, user_id, event_id, module_id, accepted, rejection, record, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.RecordID, rec.UserID, rec.EventID, rec.ModuleID, rec.Accepted,
		pq.Array(rec.Rejection), string(data), rec.ReceivedAt.UTC())
	if err != nil {
		return storageErr("append", rec.UserID, err)
	}
	return nil
}

// List returns the audit rows in insertion order, skipping undecodable ones.
func (s *PostgresStore) List(ctx context.Context, userID string) (recs []model.EventRecord, err error) {
	if err := s.guard(userID); err != nil {
		return nil, err
	}
	defer func(start time.Time) { observe(BackendPostgres, "list", start, err) }(time.Now())

	rows, err := s.db.QueryContext(ctx, `SELECT id, record FROM `+s.events+` WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, storageErr("list", userID, err)
	}
	defer rows.Close()

	recs = []model.EventRecord{}
	for rows.Next() {
		var (
			id   int64
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, storageErr("list", userID, err)
		}
		rec, derr := decodeRecord(data)
		if derr != nil {
			s.opts.log.Warn(ctx, "skipping corrupt audit row",
				logger.String("user_id", userID), logger.Any("row_id", id), logger.Error(derr))
			continue
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list", userID, err)
	}
	return recs, nil
}

// Count returns the number of audit rows.
func (s *PostgresStore) Count(ctx context.Context, userID string) (int, error) {
	if err := s.guard(userID); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM `+s.events+` WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, storageErr("count", userID, err)
	}
	return n, nil
}

// Purge deletes every audit row of the user.
func (s *PostgresStore) Purge(ctx context.Context, userID string) error {
	if err := s.guard(userID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM `+s.events+` WHERE user_id = $1`, userID); err != nil {
		return storageErr("purge", userID, err)
	}
	return nil
}
