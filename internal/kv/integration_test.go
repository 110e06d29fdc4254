//go:build integration

package kv_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"beacon/internal/kv"
	"beacon/pkg/requestcontext"
	"beacon/pkg/testutil/containers"
)

// backendSuite runs the same behaviour checks against every durable backend.
type backendSuite struct {
	suite.Suite
	store kv.Store
	reset func(ctx context.Context) error
}

func (s *backendSuite) SetupTest() {
	s.Require().NoError(s.reset(context.Background()))
}

func (s *backendSuite) TestRoundTrip() {
	ctx := context.Background()

	_, err := s.store.Get(ctx, "profile:p1:visitor_id")
	s.ErrorIs(err, kv.ErrNotFound)

	s.Require().NoError(s.store.Set(ctx, "profile:p1:visitor_id", "v_1_abc"))
	s.Require().NoError(s.store.Set(ctx, "profile:p1:visitor_id", "v_2_def"))

	got, err := s.store.Get(ctx, "profile:p1:visitor_id")
	s.Require().NoError(err)
	s.Equal("v_2_def", got)

	s.Require().NoError(s.store.Delete(ctx, "profile:p1:visitor_id"))
	_, err = s.store.Get(ctx, "profile:p1:visitor_id")
	s.ErrorIs(err, kv.ErrNotFound)
}

func (s *backendSuite) TestConcurrentUpdatesAreNotLost() {
	ctx := context.Background()
	const writers = 6
	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.NoError(kv.Update(ctx, s.store, "profile:p1:analytics_events", func(current string, _ bool) (string, error) {
				return current + "e", nil
			}))
		}()
	}
	wg.Wait()

	got, err := s.store.Get(ctx, "profile:p1:analytics_events")
	s.Require().NoError(err)
	s.Equal(strings.Repeat("e", writers), got)
}

type RedisBackendSuite struct{ backendSuite }

func TestRedisBackendSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	redis := containers.GetManager().GetRedis(t)
	s := new(RedisBackendSuite)
	s.store = kv.NewRedis(redis.Client)
	s.reset = redis.FlushAll
	suite.Run(t, s)
}

func (s *RedisBackendSuite) TestTTLApplied() {
	ctx := context.Background()
	redis := containers.GetManager().GetRedis(s.T())
	store := kv.NewRedis(redis.Client, kv.WithTTL(time.Minute))

	s.Require().NoError(store.Set(ctx, "session:s1:session_id", "s_1"))
	ttl, err := redis.Client.TTL(ctx, "beacon:kv:session:s1:session_id").Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0))
	s.LessOrEqual(ttl, time.Minute)
}

type PostgresBackendSuite struct{ backendSuite }

func TestPostgresBackendSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pg := containers.GetManager().GetPostgres(t)
	store := kv.NewPostgres(pg.DB)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s := new(PostgresBackendSuite)
	s.store = store
	s.reset = func(ctx context.Context) error { return pg.Truncate(ctx, "kv_entries") }
	suite.Run(t, s)
}

func (s *PostgresBackendSuite) TestExpiredRowsAreInvisibleAndPurged() {
	pg := containers.GetManager().GetPostgres(s.T())
	store := kv.NewPostgres(pg.DB, kv.WithTTL(time.Minute))
	start := time.Now().UTC()

	s.Require().NoError(store.Set(requestcontext.WithTime(context.Background(), start), "session:s1:session_id", "s_1"))

	later := requestcontext.WithTime(context.Background(), start.Add(2*time.Minute))
	_, err := store.Get(later, "session:s1:session_id")
	s.ErrorIs(err, kv.ErrNotFound)

	purged, err := store.PurgeExpired(later)
	s.Require().NoError(err)
	s.Equal(int64(1), purged)
}
