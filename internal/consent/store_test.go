package consent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"beacon/internal/kv"
	"beacon/internal/platform/logger"
	"beacon/pkg/testutil"
)

type StoreSuite struct {
	suite.Suite
	ctx   context.Context
	now   time.Time
	kv    *kv.MemoryStore
	store *Store
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.now = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	s.ctx = testutil.FixedTime(s.now)
	s.kv = kv.NewMemoryStore()
	s.store = NewStore(s.kv, logger.Discard())
}

func (s *StoreSuite) TestGet() {
	s.Run("absent before any decision", func() {
		rec, err := s.store.Get(s.ctx)
		s.Nil(rec)
		s.ErrorIs(err, ErrAbsent)
		s.ErrorIs(err, kv.ErrNotFound)
	})

	s.Run("legacy flag is honoured when the record is missing", func() {
		s.Require().NoError(s.kv.Set(s.ctx, KeyLegacy, "true"))
		rec, err := s.store.Get(s.ctx)
		s.Require().NoError(err)
		s.True(rec.Necessary)
		s.True(rec.Analytics)
		s.False(rec.Marketing)
		s.Require().NoError(s.kv.Delete(s.ctx, KeyLegacy))
	})

	s.Run("garbage legacy flag reads as absent", func() {
		s.Require().NoError(s.kv.Set(s.ctx, KeyLegacy, "maybe"))
		_, err := s.store.Get(s.ctx)
		s.ErrorIs(err, ErrAbsent)
		s.Require().NoError(s.kv.Delete(s.ctx, KeyLegacy))
	})

	s.Run("corrupt record falls back to legacy flag", func() {
		s.Require().NoError(s.kv.Set(s.ctx, KeyRecord, "{"))
		s.Require().NoError(s.kv.Set(s.ctx, KeyLegacy, "false"))
		rec, err := s.store.Get(s.ctx)
		s.Require().NoError(err)
		s.False(rec.Analytics)
	})
}

func (s *StoreSuite) TestSetOverwritesFullRecord() {
	_, err := s.store.Set(s.ctx, Preferences{Analytics: true, Marketing: true})
	s.Require().NoError(err)

	later := testutil.FixedTime(s.now.Add(time.Hour))
	rec, err := s.store.Set(later, Preferences{Analytics: false, Marketing: true})
	s.Require().NoError(err)
	s.True(rec.Necessary)
	s.False(rec.Analytics)
	s.True(rec.Marketing)

	raw, err := s.kv.Get(s.ctx, KeyRecord)
	s.Require().NoError(err)
	var stored map[string]any
	s.Require().NoError(json.Unmarshal([]byte(raw), &stored))
	s.Equal(true, stored["necessary"])
	s.Equal(false, stored["analytics"])
	s.Equal(true, stored["marketing"])
	s.Equal("2026-03-14T10:26:53Z", stored["timestamp"])

	legacy, err := s.kv.Get(s.ctx, KeyLegacy)
	s.Require().NoError(err)
	s.Equal("false", legacy)

	got, err := s.store.Get(s.ctx)
	s.Require().NoError(err)
	s.Equal(*rec, *got)
}

func (s *StoreSuite) TestStoredNecessaryFalseIsCorrected() {
	s.Require().NoError(s.kv.Set(s.ctx, KeyRecord,
		`{"necessary":false,"analytics":true,"marketing":false,"timestamp":"2026-01-01T00:00:00Z"}`))
	rec, err := s.store.Get(s.ctx)
	s.Require().NoError(err)
	s.True(rec.Necessary)
}

func (s *StoreSuite) TestReset() {
	_, err := s.store.Set(s.ctx, AcceptAll())
	s.Require().NoError(err)

	s.Require().NoError(s.store.Reset(s.ctx))

	_, err = s.store.Get(s.ctx)
	s.ErrorIs(err, ErrAbsent)
	_, err = s.kv.Get(s.ctx, KeyLegacy)
	s.ErrorIs(err, kv.ErrNotFound)
}

func (s *StoreSuite) TestRecordGranted() {
	rec := NewRecord(Preferences{Analytics: true}, s.now)
	s.True(rec.Granted(CategoryNecessary))
	s.True(rec.Granted(CategoryAnalytics))
	s.False(rec.Granted(CategoryMarketing))
	s.False(rec.Granted(Category("unknown")))
	s.Equal(Preferences{Analytics: true}, rec.Preferences())
}
