package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/marketplace-backend/internal/models"
	"github.com/ignatzorin/marketplace-backend/internal/pkg/apperror"
	"github.com/ignatzorin/marketplace-backend/internal/repository"
	"github.com/ignatzorin/marketplace-backend/internal/validation"
)

// ProjectStore описывает зависимости ProjectService от слоя хранилища.
type ProjectStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error)
	Create(ctx context.Context, project *models.Project) error
	List(ctx context.Context, filter repository.ProjectFilter) ([]models.Project, error)
	Update(ctx context.Context, project *models.Project) error
	UpdateStatus(ctx context.Context, id uuid.UUID, fromStatus, toStatus string) (*models.Project, error)
	Delete(ctx context.Context, id uuid.UUID, clientID uuid.UUID) error
	AddAttachment(ctx context.Context, att *models.ProjectAttachment) error
	ListAttachments(ctx context.Context, projectID uuid.UUID) ([]models.ProjectAttachment, error)
}

// ProjectService реализует размещение и сопровождение проектов клиентом.
type ProjectService struct {
	projects ProjectStore
}

// CreateProjectInput содержит данные нового проекта.
type CreateProjectInput struct {
	Title        string
	Description  string
	TotalBudget  float64
	Currency     string
	MaxProposals int
	DeadlineAt   *time.Time
}

// UpdateProjectInput содержит изменяемые поля проекта.
type UpdateProjectInput struct {
	Title       *string
	Description *string
	TotalBudget *float64
	DeadlineAt  *time.Time
}

// NewProjectService создаёт сервис проектов.
func NewProjectService(projects ProjectStore) *ProjectService {
	return &ProjectService{projects: projects}
}

// Create размещает новый проект в статусе open.
func (s *ProjectService) Create(ctx context.Context, in CreateProjectInput, clientID uuid.UUID) (*models.Project, error) {
	if err := validation.ValidateProjectTitle(in.Title); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInvalidArgument, err.Error())
	}
	if err := validation.ValidateProjectDescription(in.Description); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInvalidArgument, err.Error())
	}
	if err := validation.ValidateAmount("бюджет", in.TotalBudget); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInvalidArgument, err.Error())
	}

	currency := in.Currency
	if currency == "" {
		currency = "USD"
	}
	maxProposals := in.MaxProposals
	if maxProposals <= 0 {
		maxProposals = 50
	}

	project := &models.Project{
		ClientID:     clientID,
		Title:        in.Title,
		Description:  in.Description,
		TotalBudget:  in.TotalBudget,
		Currency:     currency,
		Status:       models.ProjectStatusOpen,
		MaxProposals: maxProposals,
		DeadlineAt:   in.DeadlineAt,
	}

	if err := s.projects.Create(ctx, project); err != nil {
		return nil, storeError(err, "не удалось создать проект")
	}
	return project, nil
}

// GetByID возвращает проект.
func (s *ProjectService) GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	project, err := s.projects.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrProjectNotFound) {
			return nil, apperror.ErrProjectNotFound
		}
		return nil, storeError(err, "не удалось загрузить проект")
	}
	return project, nil
}

// List возвращает проекты по фильтру.
func (s *ProjectService) List(ctx context.Context, filter repository.ProjectFilter) ([]models.Project, error) {
	if filter.Status != "" {
		if _, ok := models.ValidProjectStatuses[filter.Status]; !ok {
			return nil, apperror.New(apperror.ErrCodeInvalidArgument, "недопустимый статус проекта")
		}
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	projects, err := s.projects.List(ctx, filter)
	if err != nil {
		return nil, storeError(err, "не удалось загрузить проекты")
	}
	return projects, nil
}

// Update меняет описание проекта. Доступно владельцу, пока проект открыт.
func (s *ProjectService) Update(ctx context.Context, id uuid.UUID, in UpdateProjectInput, actingClientID uuid.UUID) (*models.Project, error) {
	project, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !project.IsOwnedBy(actingClientID) {
		return nil, apperror.ErrForbidden
	}
	if project.Status != models.ProjectStatusOpen {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "изменять можно только открытый проект")
	}

	if in.Title != nil {
		if err := validation.ValidateProjectTitle(*in.Title); err != nil {
			return nil, apperror.Wrap(err, apperror.ErrCodeInvalidArgument, err.Error())
		}
		project.Title = *in.Title
	}
	if in.Description != nil {
		if err := validation.ValidateProjectDescription(*in.Description); err != nil {
			return nil, apperror.Wrap(err, apperror.ErrCodeInvalidArgument, err.Error())
		}
		project.Description = *in.Description
	}
	if in.TotalBudget != nil {
		if err := validation.ValidateAmount("бюджет", *in.TotalBudget); err != nil {
			return nil, apperror.Wrap(err, apperror.ErrCodeInvalidArgument, err.Error())
		}
		project.TotalBudget = *in.TotalBudget
	}
	if in.DeadlineAt != nil {
		project.DeadlineAt = in.DeadlineAt
	}

	if err := s.projects.Update(ctx, project); err != nil {
		return nil, storeError(err, "не удалось обновить проект")
	}
	return project, nil
}

// Cancel отменяет открытый проект.
func (s *ProjectService) Cancel(ctx context.Context, id, actingClientID uuid.UUID) (*models.Project, error) {
	project, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !project.IsOwnedBy(actingClientID) {
		return nil, apperror.ErrForbidden
	}

	cancelled, err := s.projects.UpdateStatus(ctx, id, models.ProjectStatusOpen, models.ProjectStatusCancelled)
	if err != nil {
		if errors.Is(err, repository.ErrProjectNotOpen) {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "отменить можно только открытый проект")
		}
		return nil, storeError(err, "не удалось отменить проект")
	}
	return cancelled, nil
}

// Complete завершает проект, находящийся в работе.
func (s *ProjectService) Complete(ctx context.Context, id, actingClientID uuid.UUID) (*models.Project, error) {
	project, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !project.IsOwnedBy(actingClientID) {
		return nil, apperror.ErrForbidden
	}

	completed, err := s.projects.UpdateStatus(ctx, id, models.ProjectStatusInProgress, models.ProjectStatusCompleted)
	if err != nil {
		if errors.Is(err, repository.ErrProjectNotOpen) {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "завершить можно только проект в работе")
		}
		return nil, storeError(err, "не удалось завершить проект")
	}
	return completed, nil
}

// Delete удаляет проект. Разрешено только владельцу и только пока проект открыт.
func (s *ProjectService) Delete(ctx context.Context, id, actingClientID uuid.UUID) error {
	project, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !project.IsOwnedBy(actingClientID) {
		return apperror.ErrForbidden
	}

	if err := s.projects.Delete(ctx, id, actingClientID); err != nil {
		if errors.Is(err, repository.ErrProjectNotOpen) {
			return apperror.New(apperror.ErrCodeInvalidState, "удалить можно только открытый проект")
		}
		if errors.Is(err, repository.ErrProjectNotFound) {
			return apperror.ErrProjectNotFound
		}
		return storeError(err, "не удалось удалить проект")
	}
	return nil
}

// AddAttachment прикрепляет файл к проекту владельца.
func (s *ProjectService) AddAttachment(ctx context.Context, projectID, actingClientID uuid.UUID, filePath, fileType string, fileSize int64) (*models.ProjectAttachment, error) {
	project, err := s.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !project.IsOwnedBy(actingClientID) {
		return nil, apperror.ErrForbidden
	}

	att := &models.ProjectAttachment{
		ProjectID: projectID,
		FilePath:  filePath,
		FileType:  fileType,
		FileSize:  fileSize,
	}
	if err := s.projects.AddAttachment(ctx, att); err != nil {
		return nil, storeError(err, "не удалось сохранить вложение")
	}
	return att, nil
}

// ListAttachments возвращает вложения проекта.
func (s *ProjectService) ListAttachments(ctx context.Context, projectID uuid.UUID) ([]models.ProjectAttachment, error) {
	if _, err := s.GetByID(ctx, projectID); err != nil {
		return nil, err
	}

	attachments, err := s.projects.ListAttachments(ctx, projectID)
	if err != nil {
		return nil, storeError(err, "не удалось загрузить вложения")
	}
	return attachments, nil
}
