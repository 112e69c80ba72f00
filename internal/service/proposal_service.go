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

// ProposalStore описывает зависимости ProposalService от слоя хранилища.
type ProposalStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Proposal, error)
	Create(ctx context.Context, proposal *models.Proposal) error
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.Proposal, error)
	ListByFreelancer(ctx context.Context, freelancerID uuid.UUID) ([]models.Proposal, error)
	GetAcceptedByProject(ctx context.Context, projectID uuid.UUID) (*models.Proposal, error)
	Accept(ctx context.Context, proposalID uuid.UUID) (*models.Proposal, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, fromStatus, toStatus string) (*models.Proposal, error)
}

// ProposalProjectStore — доступ к проектам, нужный движку предложений.
type ProposalProjectStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error)
}

// ProposalService реализует жизненный цикл предложений: подача, принятие,
// отклонение и отзыв. Принятие выполняется одной атомарной группой записей.
type ProposalService struct {
	proposals ProposalStore
	projects  ProposalProjectStore
	now       func() time.Time
}

// SubmitProposalInput содержит данные нового предложения.
type SubmitProposalInput struct {
	ProjectID    uuid.UUID
	FreelancerID uuid.UUID
	CoverLetter  string
	BidAmount    float64
	TimelineDays int
}

// NewProposalService создаёт сервис предложений.
func NewProposalService(proposals ProposalStore, projects ProposalProjectStore, now func() time.Time) *ProposalService {
	if now == nil {
		now = time.Now
	}
	return &ProposalService{
		proposals: proposals,
		projects:  projects,
		now:       now,
	}
}

// Submit подаёт новое предложение на открытый проект.
func (s *ProposalService) Submit(ctx context.Context, in SubmitProposalInput) (*models.Proposal, error) {
	if err := validation.ValidateProposalCoverLetter(in.CoverLetter); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInvalidArgument, err.Error())
	}
	if err := validation.ValidateAmount("ставка", in.BidAmount); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInvalidArgument, err.Error())
	}
	if in.TimelineDays <= 0 {
		return nil, apperror.New(apperror.ErrCodeInvalidArgument, "срок выполнения должен быть положительным")
	}

	proposal := &models.Proposal{
		ProjectID:    in.ProjectID,
		FreelancerID: in.FreelancerID,
		CoverLetter:  in.CoverLetter,
		BidAmount:    in.BidAmount,
		TimelineDays: in.TimelineDays,
		Status:       models.ProposalStatusPending,
	}

	if err := s.proposals.Create(ctx, proposal); err != nil {
		switch {
		case errors.Is(err, repository.ErrProjectNotFound):
			return nil, apperror.ErrProjectNotFound
		case errors.Is(err, repository.ErrProjectNotOpen):
			return nil, apperror.New(apperror.ErrCodeInvalidState, "проект не принимает предложения")
		case errors.Is(err, repository.ErrDuplicateProposal):
			return nil, apperror.New(apperror.ErrCodeConflict, "активное предложение на этот проект уже существует")
		case errors.Is(err, repository.ErrProposalLimitReached):
			return nil, apperror.New(apperror.ErrCodeConflict, "достигнут лимит предложений по проекту")
		default:
			return nil, storeError(err, "не удалось сохранить предложение")
		}
	}

	return proposal, nil
}

// Accept принимает предложение от имени владельца проекта. Цель переходит в
// accepted, остальные ожидающие предложения проекта отклоняются, проект
// переходит в in_progress — всё одной транзакцией. Повторный вызов по уже
// принятому предложению завершается ошибкой INVALID_STATE без побочных эффектов.
func (s *ProposalService) Accept(ctx context.Context, proposalID, actingClientID uuid.UUID) (*models.Proposal, error) {
	proposal, err := s.getProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	if err := s.checkProjectOwner(ctx, proposal.ProjectID, actingClientID); err != nil {
		return nil, err
	}

	accepted, err := s.proposals.Accept(ctx, proposalID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrProposalNotFound):
			return nil, apperror.ErrProposalNotFound
		case errors.Is(err, repository.ErrProposalNotPending):
			return nil, apperror.New(apperror.ErrCodeInvalidState, "предложение уже рассмотрено")
		case errors.Is(err, repository.ErrProjectNotOpen):
			return nil, apperror.New(apperror.ErrCodeInvalidState, "проект уже не открыт")
		default:
			return nil, storeError(err, "не удалось принять предложение")
		}
	}

	return accepted, nil
}

// Reject отклоняет ожидающее предложение. Проект не меняется.
func (s *ProposalService) Reject(ctx context.Context, proposalID, actingClientID uuid.UUID) (*models.Proposal, error) {
	proposal, err := s.getProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	if err := s.checkProjectOwner(ctx, proposal.ProjectID, actingClientID); err != nil {
		return nil, err
	}

	rejected, err := s.proposals.UpdateStatus(ctx, proposalID, models.ProposalStatusPending, models.ProposalStatusRejected)
	if err != nil {
		if errors.Is(err, repository.ErrProposalNotPending) {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "предложение уже рассмотрено")
		}
		return nil, storeError(err, "не удалось отклонить предложение")
	}
	return rejected, nil
}

// Withdraw отзывает собственное ожидающее предложение. Принятое предложение
// отозвать нельзя, после отзыва допускается повторная подача.
func (s *ProposalService) Withdraw(ctx context.Context, proposalID, actingFreelancerID uuid.UUID) (*models.Proposal, error) {
	proposal, err := s.getProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	if !proposal.IsOwnedBy(actingFreelancerID) {
		return nil, apperror.ErrForbidden
	}

	withdrawn, err := s.proposals.UpdateStatus(ctx, proposalID, models.ProposalStatusPending, models.ProposalStatusWithdrawn)
	if err != nil {
		if errors.Is(err, repository.ErrProposalNotPending) {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "отозвать можно только ожидающее предложение")
		}
		return nil, storeError(err, "не удалось отозвать предложение")
	}
	return withdrawn, nil
}

// GetByID возвращает предложение. Видят его владелец проекта и автор.
func (s *ProposalService) GetByID(ctx context.Context, proposalID, actingUserID uuid.UUID) (*models.Proposal, error) {
	proposal, err := s.getProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	if !proposal.IsOwnedBy(actingUserID) {
		project, err := s.projects.GetByID(ctx, proposal.ProjectID)
		if err != nil {
			return nil, storeError(err, "не удалось загрузить проект")
		}
		if !project.IsOwnedBy(actingUserID) {
			return nil, apperror.ErrForbidden
		}
	}

	return proposal, nil
}

// ListByProject возвращает предложения проекта. Полный список доступен только
// владельцу проекта.
func (s *ProposalService) ListByProject(ctx context.Context, projectID, actingUserID uuid.UUID) ([]models.Proposal, error) {
	if err := s.checkProjectOwner(ctx, projectID, actingUserID); err != nil {
		return nil, err
	}

	proposals, err := s.proposals.ListByProject(ctx, projectID)
	if err != nil {
		return nil, storeError(err, "не удалось загрузить предложения")
	}
	return proposals, nil
}

// ListOwn возвращает предложения фрилансера.
func (s *ProposalService) ListOwn(ctx context.Context, freelancerID uuid.UUID) ([]models.Proposal, error) {
	proposals, err := s.proposals.ListByFreelancer(ctx, freelancerID)
	if err != nil {
		return nil, storeError(err, "не удалось загрузить предложения")
	}
	return proposals, nil
}

// getProposal загружает предложение и переводит ошибки хранилища в доменные.
func (s *ProposalService) getProposal(ctx context.Context, id uuid.UUID) (*models.Proposal, error) {
	proposal, err := s.proposals.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrProposalNotFound) {
			return nil, apperror.ErrProposalNotFound
		}
		return nil, storeError(err, "не удалось загрузить предложение")
	}
	return proposal, nil
}

// checkProjectOwner проверяет, что проект существует и принадлежит пользователю.
func (s *ProposalService) checkProjectOwner(ctx context.Context, projectID, userID uuid.UUID) error {
	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrProjectNotFound) {
			return apperror.ErrProjectNotFound
		}
		return storeError(err, "не удалось загрузить проект")
	}
	if !project.IsOwnedBy(userID) {
		return apperror.ErrForbidden
	}
	return nil
}

// storeError переводит необработанную ошибку хранилища в UNAVAILABLE:
// сбой базы или истёкший дедлайн ретраябелен с точки зрения вызывающего.
func storeError(err error, message string) error {
	return apperror.Wrap(err, apperror.ErrCodeUnavailable, message)
}
