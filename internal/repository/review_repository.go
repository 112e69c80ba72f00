package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/marketplace-backend/internal/models"
)

var ErrReviewNotFound = errors.New("review not found")

type ReviewRepository struct {
	db *sqlx.DB
}

func NewReviewRepository(db *sqlx.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// Create создаёт отзыв.
func (r *ReviewRepository) Create(ctx context.Context, review *models.Review) error {
	query := `
		INSERT INTO reviews (project_id, reviewer_id, reviewed_id, rating, comment)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	if err := r.db.QueryRowxContext(ctx, query,
		review.ProjectID, review.ReviewerID, review.ReviewedID, review.Rating, review.Comment,
	).Scan(&review.ID, &review.CreatedAt); err != nil {
		return fmt.Errorf("review repository: create %w", err)
	}
	return nil
}

// GetByProjectAndReviewer проверяет, оставлял ли пользователь отзыв по проекту.
func (r *ReviewRepository) GetByProjectAndReviewer(ctx context.Context, projectID, reviewerID uuid.UUID) (*models.Review, error) {
	var review models.Review
	err := r.db.GetContext(ctx, &review, `
		SELECT id, project_id, reviewer_id, reviewed_id, rating, comment, created_at
		FROM reviews WHERE project_id = $1 AND reviewer_id = $2
	`, projectID, reviewerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("review repository: get by project and reviewer %w", err)
	}
	return &review, nil
}

// ListByReviewedID возвращает отзывы о пользователе.
func (r *ReviewRepository) ListByReviewedID(ctx context.Context, reviewedID uuid.UUID, limit, offset int) ([]models.Review, error) {
	var reviews []models.Review
	err := r.db.SelectContext(ctx, &reviews, `
		SELECT id, project_id, reviewer_id, reviewed_id, rating, comment, created_at
		FROM reviews WHERE reviewed_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, reviewedID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("review repository: list by reviewed %w", err)
	}
	return reviews, nil
}

// GetAverageRating возвращает средний рейтинг пользователя и число отзывов.
func (r *ReviewRepository) GetAverageRating(ctx context.Context, userID uuid.UUID) (float64, int, error) {
	var result struct {
		Avg   float64 `db:"avg"`
		Count int     `db:"count"`
	}
	err := r.db.GetContext(ctx, &result, `
		SELECT COALESCE(AVG(rating), 0) AS avg, COUNT(*) AS count FROM reviews WHERE reviewed_id = $1
	`, userID)
	if err != nil {
		return 0, 0, fmt.Errorf("review repository: get average rating %w", err)
	}
	return result.Avg, result.Count, nil
}
