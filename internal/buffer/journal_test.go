package buffer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"beacon/internal/kv"
	"beacon/internal/platform/logger"
)

type record struct {
	Name string `json:"name"`
	N    int    `json:"n"`
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (string, error) { return "", errors.New("down") }
func (brokenStore) Set(context.Context, string, string) error   { return errors.New("down") }
func (brokenStore) Delete(context.Context, string) error        { return errors.New("down") }

type JournalSuite struct {
	suite.Suite
	ctx   context.Context
	store *kv.MemoryStore
}

func TestJournalSuite(t *testing.T) {
	suite.Run(t, new(JournalSuite))
}

func (s *JournalSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = kv.NewMemoryStore()
}

func (s *JournalSuite) stored(key string) []record {
	raw, err := s.store.Get(s.ctx, key)
	s.Require().NoError(err)
	var out []record
	s.Require().NoError(json.Unmarshal([]byte(raw), &out))
	return out
}

func (s *JournalSuite) TestAppendMirrorsToStore() {
	j := OpenJournal[record](s.ctx, s.store, "analytics_events", 2, logger.Discard())

	s.False(j.Append(s.ctx, record{Name: "a", N: 1}))
	s.False(j.Append(s.ctx, record{Name: "b", N: 2}))
	s.True(j.Append(s.ctx, record{Name: "c", N: 3}))

	want := []record{{Name: "b", N: 2}, {Name: "c", N: 3}}
	s.Equal(want, j.Items())
	s.Equal(want, s.stored("analytics_events"))
}

func (s *JournalSuite) TestReopenRestoresHistory() {
	first := OpenJournal[record](s.ctx, s.store, "analytics_pageviews", 3, logger.Discard())
	first.Append(s.ctx, record{Name: "home"})
	first.Append(s.ctx, record{Name: "pricing"})

	second := OpenJournal[record](s.ctx, s.store, "analytics_pageviews", 3, logger.Discard())
	s.Equal([]record{{Name: "home"}, {Name: "pricing"}}, second.Items())

	second.Append(s.ctx, record{Name: "contact"})
	second.Append(s.ctx, record{Name: "about"})
	s.Equal([]string{"pricing", "contact", "about"}, names(second.Items()))
}

func (s *JournalSuite) TestOversizedMirrorKeepsNewest() {
	data, err := json.Marshal([]record{{N: 1}, {N: 2}, {N: 3}, {N: 4}})
	s.Require().NoError(err)
	s.Require().NoError(s.store.Set(s.ctx, "k", string(data)))

	j := OpenJournal[record](s.ctx, s.store, "k", 2, logger.Discard())
	s.Equal([]record{{N: 3}, {N: 4}}, j.Items())
}

func (s *JournalSuite) TestCorruptMirrorStartsEmpty() {
	s.Require().NoError(s.store.Set(s.ctx, "k", "{not json"))
	j := OpenJournal[record](s.ctx, s.store, "k", 2, logger.Discard())
	s.Equal(0, j.Len())

	j.Append(s.ctx, record{N: 1})
	s.Equal([]record{{N: 1}}, s.stored("k"))
}

func (s *JournalSuite) TestStorageFailureKeepsInMemoryHistory() {
	j := OpenJournal[record](s.ctx, brokenStore{}, "k", 2, logger.Discard())
	j.Append(s.ctx, record{N: 1})
	j.Append(s.ctx, record{N: 2})
	s.Equal([]record{{N: 1}, {N: 2}}, j.Items())
	j.Clear(s.ctx)
	s.Equal(0, j.Len())
}

func (s *JournalSuite) TestClear() {
	j := OpenJournal[record](s.ctx, s.store, "k", 2, logger.Discard())
	j.Append(s.ctx, record{N: 1})
	j.Clear(s.ctx)

	s.Equal(0, j.Len())
	_, err := s.store.Get(s.ctx, "k")
	s.ErrorIs(err, kv.ErrNotFound)
}

func names(items []record) []string {
	out := make([]string, len(items))
	for i, r := range items {
		out[i] = r.Name
	}
	return out
}

func (s *JournalSuite) TestInterleavedJournalsKeepEveryEntry() {
	first := OpenJournal[record](s.ctx, s.store, "analytics_events", 3, logger.Discard())
	second := OpenJournal[record](s.ctx, s.store, "analytics_events", 3, logger.Discard())

	s.False(first.Append(s.ctx, record{Name: "signup"}))
	s.False(second.Append(s.ctx, record{Name: "purchase"}))

	s.Equal([]string{"signup", "purchase"}, names(s.stored("analytics_events")))
	s.Equal([]string{"signup", "purchase"}, names(second.Items()))

	s.Run("eviction counts the entries written by the other journal", func() {
		s.False(first.Append(s.ctx, record{Name: "share"}))
		s.True(second.Append(s.ctx, record{Name: "logout"}))
		s.Equal([]string{"purchase", "share", "logout"}, names(s.stored("analytics_events")))
	})
}

func (s *JournalSuite) TestConcurrentAppendsAreNotLost() {
	const writers = 20
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j := OpenJournal[record](s.ctx, s.store, "analytics_pageviews", writers, logger.Discard())
			j.Append(s.ctx, record{N: i})
		}()
	}
	wg.Wait()

	s.Len(s.stored("analytics_pageviews"), writers)
}
