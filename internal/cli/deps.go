package cli

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"quiz-agent/internal/api"
	"quiz-agent/internal/app"
	"quiz-agent/internal/auth"
	"quiz-agent/internal/config"
	"quiz-agent/internal/infra/memory"
	pgstore "quiz-agent/internal/infra/postgres"
	redisstore "quiz-agent/internal/infra/redis"
)

// deps is everything a command needs, built from config.
type deps struct {
	cfg     config.Config
	log     zerolog.Logger
	session *auth.Session
	client  *api.Client
	reviews app.ReviewRepository

	redis *redis.Client
	pool  *pgxpool.Pool
}

func (d *deps) Close() {
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.pool != nil {
		d.pool.Close()
	}
}

// buildDeps picks Redis and Postgres backed stores when configured and falls back to memory.
func buildDeps(ctx context.Context, cfg config.Config, log zerolog.Logger) (*deps, error) {
	d := &deps{cfg: cfg, log: log}

	if cfg.Redis.Addr != "" {
		d.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.pool = pool
	}

	var tokens auth.TokenStore = memory.NewTokenStore()
	if d.redis != nil {
		tokens = redisstore.NewTokenStore(d.redis, cfg.Auth.Profile, config.TTLDuration(cfg.Auth.TTL, 0))
	}
	d.session = auth.NewSession(tokens, log)
	if cfg.Auth.Token != "" {
		if err := d.session.Set(ctx, cfg.Auth.Token); err != nil {
			d.Close()
			return nil, err
		}
	} else if err := d.session.Restore(ctx); err != nil {
		log.Warn().Err(err).Msg("could not restore saved token")
	}

	client, err := api.New(api.Options{
		BaseURL: cfg.API.BaseURL,
		Timeout: config.TTLDuration(cfg.API.Timeout, 15*time.Second),
	}, d.session, log)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.client = client

	reviewTTL := config.TTLDuration(cfg.Review.TTL, 24*time.Hour)
	switch {
	case d.redis != nil && d.pool != nil:
		d.reviews = redisstore.NewReviewStore(d.redis, pgstore.NewReviewStore(d.pool), config.TTLDuration(cfg.Redis.TTL, 10*time.Minute))
	case d.pool != nil:
		d.reviews = pgstore.NewReviewStore(d.pool)
	case d.redis != nil:
		d.reviews = redisstore.NewReviewStore(d.redis, nil, reviewTTL)
	default:
		d.reviews = memory.NewReviewStore(reviewTTL)
	}
	return d, nil
}
