package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type StoreSuite struct {
	suite.Suite
	store *Store
}

func (s *StoreSuite) SetupTest() {
	s.store = New(WithSweepInterval(10 * time.Millisecond))
}

func (s *StoreSuite) TearDownTest() {
	s.store.Close()
}

func (s *StoreSuite) TestSetThenTryGet() {
	s.store.Set("corr-1", []byte(`{"status":1}`), time.Minute)

	value, found := s.store.TryGet("corr-1")
	s.True(found)
	s.Equal([]byte(`{"status":1}`), value)
}

func (s *StoreSuite) TestTryGetMissing() {
	_, found := s.store.TryGet("never-written")
	s.False(found)
}

func (s *StoreSuite) TestExpiredEntryIsAbsent() {
	s.store.Set("corr-2", []byte("payload"), 20*time.Millisecond)

	_, found := s.store.TryGet("corr-2")
	s.True(found)

	time.Sleep(40 * time.Millisecond)

	_, found = s.store.TryGet("corr-2")
	s.False(found, "expired value must never be returned")
}

func (s *StoreSuite) TestSetNoExpirySurvives() {
	s.store.SetNoExpiry("presentationRequest", []byte("template"))

	time.Sleep(30 * time.Millisecond)

	value, found := s.store.TryGet("presentationRequest")
	s.True(found)
	s.Equal([]byte("template"), value)
}

func (s *StoreSuite) TestOverwriteLastWriterWins() {
	s.store.Set("corr-3", []byte("retrieved"), time.Minute)
	s.store.Set("corr-3", []byte("verified"), time.Minute)

	value, found := s.store.TryGet("corr-3")
	s.True(found)
	s.Equal([]byte("verified"), value)
	s.Equal(1, s.store.Len())
}

func (s *StoreSuite) TestRemoveIsIdempotent() {
	s.store.Set("corr-4", []byte("x"), time.Minute)

	s.store.Remove("corr-4")
	_, found := s.store.TryGet("corr-4")
	s.False(found)

	// removing again must not panic or error
	s.store.Remove("corr-4")
	_, found = s.store.TryGet("corr-4")
	s.False(found)
}

func (s *StoreSuite) TestSweeperEvictsExpired() {
	s.store.Set("short-lived", []byte("x"), 5*time.Millisecond)

	assert.Eventually(s.T(), func() bool {
		return s.store.Len() == 0
	}, time.Second, 10*time.Millisecond)
}

func (s *StoreSuite) TestConcurrentAccess() {
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("corr-%d", n%10)
			s.store.Set(key, []byte("v"), time.Minute)
			s.store.TryGet(key)
			s.store.Remove(key)
		}(i)
	}
	wg.Wait()
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}
