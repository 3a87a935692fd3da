package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quiz-agent/internal/domain"
)

// ReviewBacking is a durable review store (e.g., Postgres) sitting behind the cache.
type ReviewBacking interface {
	SaveReview(ctx context.Context, snapshot domain.ReviewSnapshot) error
	LoadReview(ctx context.Context, attemptID string) (domain.ReviewSnapshot, error)
}

// ReviewStore caches review snapshots in Redis as JSON and falls back to an optional
// backing store on cache miss.
// Snapshots are stored as: SET quiz:review:{attemptID} {json} EX ttl
type ReviewStore struct {
	client  *redis.Client
	backing ReviewBacking
	ttl     time.Duration
	sf      singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

// NewReviewStore builds the cache; backing may be nil for a Redis-only deployment.
func NewReviewStore(client *redis.Client, backing ReviewBacking, ttl time.Duration) *ReviewStore {
	return &ReviewStore{
		client:  client,
		backing: backing,
		ttl:     ttl,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *ReviewStore) SaveReview(ctx context.Context, snapshot domain.ReviewSnapshot) error {
	if s.backing != nil {
		if err := s.backing.SaveReview(ctx, snapshot); err != nil {
			return err
		}
	}
	return s.cache(ctx, snapshot)
}

func (s *ReviewStore) LoadReview(ctx context.Context, attemptID string) (domain.ReviewSnapshot, error) {
	if snapshot, ok := s.cached(ctx, attemptID); ok {
		return snapshot, nil
	}
	if s.backing == nil {
		return domain.ReviewSnapshot{}, domain.ErrMissingClientData
	}

	result, err, _ := s.sf.Do(attemptID, func() (interface{}, error) {
		if snapshot, ok := s.cached(ctx, attemptID); ok {
			return snapshot, nil
		}
		snapshot, err := s.backing.LoadReview(ctx, attemptID)
		if err != nil {
			return domain.ReviewSnapshot{}, err
		}
		_ = s.cache(ctx, snapshot)
		return snapshot, nil
	})
	if err != nil {
		return domain.ReviewSnapshot{}, err
	}
	return result.(domain.ReviewSnapshot), nil
}

func (s *ReviewStore) cached(ctx context.Context, attemptID string) (domain.ReviewSnapshot, bool) {
	raw, err := s.client.Get(ctx, s.key(attemptID)).Bytes()
	if err != nil {
		return domain.ReviewSnapshot{}, false
	}
	var snapshot domain.ReviewSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return domain.ReviewSnapshot{}, false
	}
	return snapshot, true
}

func (s *ReviewStore) cache(ctx context.Context, snapshot domain.ReviewSnapshot) error {
	if snapshot.AttemptID == "" {
		return errors.New("review snapshot without attempt id")
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal review: %w", err)
	}
	return s.client.Set(ctx, s.key(snapshot.AttemptID), data, s.ttlWithJitter()).Err()
}

func (s *ReviewStore) key(attemptID string) string {
	return "quiz:review:" + attemptID
}

func (s *ReviewStore) ttlWithJitter() time.Duration {
	if s.ttl <= 0 {
		return 0
	}
	jitterMax := int64(s.ttl) / 10
	s.rndMu.Lock()
	defer s.rndMu.Unlock()
	return s.ttl + time.Duration(s.rnd.Int63n(jitterMax+1))
}
