//go:build integration

package repository_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/okian/psyche/internal/adapters/repository"
)

type PostgresStoreSuite struct {
	suite.Suite
	container *tcpostgres.PostgresContainer
	dsn       string
	store     *repository.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	ctx := context.Background()
	c, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("psyche"),
		tcpostgres.WithUsername("psyche"),
		tcpostgres.WithPassword("psyche"),
		tcpostgres.BasicWaitStrategies(),
	)
	s.Require().NoError(err)
	s.container = c

	s.dsn, err = c.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)

	s.store, err = repository.OpenPostgres(ctx, s.dsn, repository.WithTablePrefix("it_"))
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TearDownSuite() {
	if s.store != nil {
		_ = s.store.Close()
	}
	if err := testcontainers.TerminateContainer(s.container); err != nil {
		s.T().Logf("terminate container: %v", err)
	}
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	for _, u := range []string{"u-1", "u-2"} {
		s.Require().NoError(s.store.Delete(ctx, u))
		s.Require().NoError(s.store.Purge(ctx, u))
	}
}

func (s *PostgresStoreSuite) TestProfileRoundTrip() {
	ctx := context.Background()

	got, err := s.store.Load(ctx, "u-1")
	s.Require().NoError(err)
	s.Nil(got)

	want := sampleState("u-1")
	s.Require().NoError(s.store.Save(ctx, "u-1", want))

	got, err = s.store.Load(ctx, "u-1")
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.InDelta(want.Traits["trait.empathy"].ShiftZ, got.Traits["trait.empathy"].ShiftZ, 1e-12)
	s.JSONEq(string(want.Fields["field.nickname"].Value), string(got.Fields["field.nickname"].Value))
	s.True(want.Meta.LastUpdatedAt.Equal(got.Meta.LastUpdatedAt))

	want.Meta.EventCount = 7
	s.Require().NoError(s.store.Save(ctx, "u-1", want))
	got, err = s.store.Load(ctx, "u-1")
	s.Require().NoError(err)
	s.Equal(7, got.Meta.EventCount)

	ok, err := s.store.Exists(ctx, "u-1")
	s.Require().NoError(err)
	s.True(ok)

	s.Require().NoError(s.store.Delete(ctx, "u-1"))
	ok, err = s.store.Exists(ctx, "u-1")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *PostgresStoreSuite) TestAuditLog() {
	ctx := context.Background()
	s.Require().NoError(s.store.Append(ctx, sampleRecord("u-1", "evt-1", true)))
	s.Require().NoError(s.store.Append(ctx, sampleRecord("u-1", "evt-2", false)))
	s.Require().NoError(s.store.Append(ctx, sampleRecord("u-2", "evt-1", true)))

	recs, err := s.store.List(ctx, "u-1")
	s.Require().NoError(err)
	s.Require().Len(recs, 2)
	s.Equal("evt-1", recs[0].EventID)
	s.False(recs[1].Accepted)
	s.Equal([]string{"module quiz.test.v1: runOnce"}, recs[1].Rejection)

	n, err := s.store.Count(ctx, "u-2")
	s.Require().NoError(err)
	s.Equal(1, n)

	s.Require().NoError(s.store.Purge(ctx, "u-1"))
	n, err = s.store.Count(ctx, "u-1")
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *PostgresStoreSuite) TestCorruptRowIsTreatedAsAbsent() {
	ctx := context.Background()
	db, err := sql.Open("postgres", s.dsn)
	s.Require().NoError(err)
	defer db.Close()

	profiles := `"it_profiles"`
	_, err = db.ExecContext(ctx, `INSERT INTO `+profiles+` (user_id, state) VALUES ($1, $2)`, "u-2", `{"traits": [1, 2]}`)
	s.Require().NoError(err)

	got, err := s.store.Load(ctx, "u-2")
	s.Require().NoError(err)
	s.Nil(got)
}

func (s *PostgresStoreSuite) TestSharedPoolIsNotClosed() {
	ctx := context.Background()
	db, err := sql.Open("postgres", s.dsn)
	s.Require().NoError(err)
	defer db.Close()

	shared := repository.NewPostgresStore(db, repository.WithTablePrefix("it_"))
	s.Require().NoError(shared.Close())
	s.Require().NoError(db.PingContext(ctx))
}
