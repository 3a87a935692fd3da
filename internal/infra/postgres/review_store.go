package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-agent/internal/domain"
)

// ReviewStore persists review snapshots as JSONB in attempt_reviews.
type ReviewStore struct {
	pool *pgxpool.Pool
}

func NewReviewStore(pool *pgxpool.Pool) *ReviewStore {
	return &ReviewStore{pool: pool}
}

// SaveReview writes the snapshot once; an attempt id already present is left untouched.
func (s *ReviewStore) SaveReview(ctx context.Context, snapshot domain.ReviewSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal review: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO attempt_reviews (attempt_id, lesson_id, outcome, data, submitted_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5)
		 ON CONFLICT (attempt_id) DO NOTHING`,
		snapshot.AttemptID, snapshot.LessonID, string(snapshot.Outcome), string(data), snapshot.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("save review: %w", err)
	}
	return nil
}

func (s *ReviewStore) LoadReview(ctx context.Context, attemptID string) (domain.ReviewSnapshot, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM attempt_reviews WHERE attempt_id=$1`, attemptID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ReviewSnapshot{}, domain.ErrMissingClientData
	}
	if err != nil {
		return domain.ReviewSnapshot{}, fmt.Errorf("load review: %w", err)
	}
	var snapshot domain.ReviewSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return domain.ReviewSnapshot{}, fmt.Errorf("unmarshal review: %w", err)
	}
	return snapshot, nil
}
