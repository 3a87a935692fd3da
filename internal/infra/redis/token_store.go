package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenStore keeps the learner's bearer token in Redis so a restarted agent
// resumes the signed-in session.
type TokenStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewTokenStore scopes the token under quiz:auth:{profile}.
func NewTokenStore(client *redis.Client, profile string, ttl time.Duration) *TokenStore {
	if profile == "" {
		profile = "default"
	}
	return &TokenStore{
		client: client,
		key:    "quiz:auth:" + profile,
		ttl:    ttl,
	}
}

func (s *TokenStore) Load(ctx context.Context) (string, error) {
	token, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return token, err
}

func (s *TokenStore) Save(ctx context.Context, token string) error {
	if token == "" {
		return s.Clear(ctx)
	}
	return s.client.Set(ctx, s.key, token, s.ttl).Err()
}

func (s *TokenStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}
