package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"quiz-agent/internal/domain"
)

// ReviewStore keeps review snapshots in process memory with a TTL.
type ReviewStore struct {
	ttl   time.Duration
	clock func() time.Time
	rnd   *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedReview
}

type cachedReview struct {
	snapshot  domain.ReviewSnapshot
	expiresAt time.Time
}

func NewReviewStore(ttl time.Duration) *ReviewStore {
	return &ReviewStore{
		ttl:   ttl,
		clock: time.Now,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
		cache: make(map[string]cachedReview),
	}
}

// NewReviewStoreWithClock allows deterministic expiry in tests.
func NewReviewStoreWithClock(ttl time.Duration, clock func() time.Time) *ReviewStore {
	s := NewReviewStore(ttl)
	s.clock = clock
	return s
}

func (s *ReviewStore) SaveReview(_ context.Context, snapshot domain.ReviewSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := cachedReview{snapshot: snapshot}
	if ttl := s.ttlWithJitter(); ttl > 0 {
		entry.expiresAt = s.clock().Add(ttl)
	}
	s.cache[snapshot.AttemptID] = entry
	return nil
}

func (s *ReviewStore) LoadReview(_ context.Context, attemptID string) (domain.ReviewSnapshot, error) {
	now := s.clock()
	s.mu.RLock()
	entry, ok := s.cache[attemptID]
	s.mu.RUnlock()
	if !ok {
		return domain.ReviewSnapshot{}, domain.ErrMissingClientData
	}
	if !entry.expiresAt.IsZero() && !entry.expiresAt.After(now) {
		s.mu.Lock()
		delete(s.cache, attemptID)
		s.mu.Unlock()
		return domain.ReviewSnapshot{}, domain.ErrMissingClientData
	}
	return entry.snapshot, nil
}

// ttlWithJitter adds up to 10% to spread expirations; caller holds mu.
func (s *ReviewStore) ttlWithJitter() time.Duration {
	if s.ttl <= 0 {
		return 0
	}
	jitterMax := int64(s.ttl) / 10
	return s.ttl + time.Duration(s.rnd.Int63n(jitterMax+1))
}
