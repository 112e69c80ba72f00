package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ignatzorin/marketplace-backend/internal/models"
	"github.com/ignatzorin/marketplace-backend/internal/pkg/apperror"
	"github.com/ignatzorin/marketplace-backend/internal/repository"
)

// ReviewStore описывает зависимости ReviewService от слоя хранилища.
type ReviewStore interface {
	Create(ctx context.Context, review *models.Review) error
	GetByProjectAndReviewer(ctx context.Context, projectID, reviewerID uuid.UUID) (*models.Review, error)
	ListByReviewedID(ctx context.Context, reviewedID uuid.UUID, limit, offset int) ([]models.Review, error)
	GetAverageRating(ctx context.Context, userID uuid.UUID) (float64, int, error)
}

// ReviewService реализует отзывы сторон сделки друг о друге.
type ReviewService struct {
	reviews  ReviewStore
	projects ProposalProjectStore
}

// CreateReviewInput содержит данные нового отзыва.
type CreateReviewInput struct {
	ProjectID uuid.UUID
	Rating    int
	Comment   *string
}

// UserRating — агрегированный рейтинг пользователя.
type UserRating struct {
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

// NewReviewService создаёт сервис отзывов.
func NewReviewService(reviews ReviewStore, projects ProposalProjectStore) *ReviewService {
	return &ReviewService{reviews: reviews, projects: projects}
}

// Create оставляет отзыв по завершённому проекту. Отзыв оставляет одна сторона
// сделки о другой, по одному отзыву на проект от каждой стороны.
func (s *ReviewService) Create(ctx context.Context, in CreateReviewInput, reviewerID uuid.UUID) (*models.Review, error) {
	if in.Rating < 1 || in.Rating > 5 {
		return nil, apperror.New(apperror.ErrCodeInvalidArgument, "оценка должна быть от 1 до 5")
	}

	project, err := s.projects.GetByID(ctx, in.ProjectID)
	if err != nil {
		if errors.Is(err, repository.ErrProjectNotFound) {
			return nil, apperror.ErrProjectNotFound
		}
		return nil, storeError(err, "не удалось загрузить проект")
	}
	if project.Status != models.ProjectStatusCompleted {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "отзыв можно оставить только по завершённому проекту")
	}
	if project.SelectedFreelancerID == nil {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "у проекта нет исполнителя")
	}

	// Рецензентом может быть только одна из сторон сделки, отзыв — о второй.
	var reviewedID uuid.UUID
	switch reviewerID {
	case project.ClientID:
		reviewedID = *project.SelectedFreelancerID
	case *project.SelectedFreelancerID:
		reviewedID = project.ClientID
	default:
		return nil, apperror.ErrForbidden
	}

	existing, err := s.reviews.GetByProjectAndReviewer(ctx, in.ProjectID, reviewerID)
	if err != nil {
		return nil, storeError(err, "не удалось проверить отзыв")
	}
	if existing != nil {
		return nil, apperror.New(apperror.ErrCodeConflict, "отзыв по этому проекту уже оставлен")
	}

	review := &models.Review{
		ProjectID:  in.ProjectID,
		ReviewerID: reviewerID,
		ReviewedID: reviewedID,
		Rating:     in.Rating,
		Comment:    in.Comment,
	}
	if err := s.reviews.Create(ctx, review); err != nil {
		return nil, storeError(err, "не удалось сохранить отзыв")
	}
	return review, nil
}

// ListByUser возвращает отзывы о пользователе.
func (s *ReviewService) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Review, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	reviews, err := s.reviews.ListByReviewedID(ctx, userID, limit, offset)
	if err != nil {
		return nil, storeError(err, "не удалось загрузить отзывы")
	}
	return reviews, nil
}

// GetRating возвращает средний рейтинг пользователя.
func (s *ReviewService) GetRating(ctx context.Context, userID uuid.UUID) (*UserRating, error) {
	avg, count, err := s.reviews.GetAverageRating(ctx, userID)
	if err != nil {
		return nil, storeError(err, "не удалось посчитать рейтинг")
	}
	return &UserRating{Average: avg, Count: count}, nil
}
