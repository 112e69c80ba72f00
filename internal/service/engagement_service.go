package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ignatzorin/marketplace-backend/internal/goroutine"
	"github.com/ignatzorin/marketplace-backend/internal/logger"
	"github.com/ignatzorin/marketplace-backend/internal/models"
	"github.com/ignatzorin/marketplace-backend/internal/pkg/apperror"
	"github.com/ignatzorin/marketplace-backend/internal/repository"
)

// EventPublisher — приёмник доменных событий (WebSocket-хаб, очередь и т.п.).
// Публикация выполняется по принципу fire-and-forget: сбой получателя никогда
// не откатывает уже зафиксированный переход.
type EventPublisher interface {
	Publish(event string, payload interface{})
}

// Имена публикуемых событий.
const (
	EventProposalAccepted = "proposal.accepted"
	EventPaymentCreated   = "payment.created"
	EventPaymentReleased  = "payment.released"
	EventPaymentDisputed  = "payment.disputed"
)

// EngagementPaymentStore — чтение платежей для сводки по сделке.
type EngagementPaymentStore interface {
	GetByProject(ctx context.Context, projectID uuid.UUID) (*models.Payment, error)
}

// EngagementService связывает два движка: после принятия предложения он —
// единственное место, где платёж может быть создан автоматически. Сами движки
// друг о друге не знают и тестируются независимо.
type EngagementService struct {
	proposals *ProposalService
	payments  *PaymentService
	projects  ProposalProjectStore
	store     EngagementPaymentStore
	publisher EventPublisher

	// autoCreatePayment включает автоматическое создание платежа в размере
	// ставки принятого предложения.
	autoCreatePayment bool
	paymentMethod     string
}

// EngagementState — сводка по сделке: проект, принятое предложение и платёж.
type EngagementState struct {
	Project          *models.Project  `json:"project"`
	AcceptedProposal *models.Proposal `json:"accepted_proposal,omitempty"`
	Payment          *models.Payment  `json:"payment,omitempty"`
}

// NewEngagementService создаёт координатор сделок.
func NewEngagementService(
	proposals *ProposalService,
	payments *PaymentService,
	projects ProposalProjectStore,
	store EngagementPaymentStore,
	publisher EventPublisher,
	autoCreatePayment bool,
) *EngagementService {
	return &EngagementService{
		proposals:         proposals,
		payments:          payments,
		projects:          projects,
		store:             store,
		publisher:         publisher,
		autoCreatePayment: autoCreatePayment,
		paymentMethod:     "escrow",
	}
}

// AcceptProposal принимает предложение и, если включено, создаёт платёж на
// сумму ставки. Сбой создания платежа не откатывает принятие: предложение уже
// зафиксировано, платёж клиент может создать вручную.
func (s *EngagementService) AcceptProposal(ctx context.Context, proposalID, actingClientID uuid.UUID) (*models.Proposal, error) {
	proposal, err := s.proposals.Accept(ctx, proposalID, actingClientID)
	if err != nil {
		return nil, err
	}

	s.publish(EventProposalAccepted, proposal)

	if s.autoCreatePayment {
		payment, err := s.payments.Create(ctx, CreatePaymentInput{
			ProjectID:    proposal.ProjectID,
			FreelancerID: proposal.FreelancerID,
			Amount:       proposal.BidAmount,
			Method:       s.paymentMethod,
		}, actingClientID)
		if err != nil {
			logger.WithComponent("engagement").
				WithField("proposal_id", proposalID).
				Warnf("платёж по принятому предложению не создан: %v", err)
		} else {
			s.publish(EventPaymentCreated, payment)
		}
	}

	return proposal, nil
}

// ReleasePayment освобождает средства и публикует событие.
func (s *EngagementService) ReleasePayment(ctx context.Context, paymentID, actingClientID uuid.UUID, notes string) (*models.Payment, error) {
	payment, err := s.payments.Release(ctx, paymentID, actingClientID, notes)
	if err != nil {
		return nil, err
	}
	s.publish(EventPaymentReleased, payment)
	return payment, nil
}

// DisputePayment открывает спор и публикует событие.
func (s *EngagementService) DisputePayment(ctx context.Context, paymentID, actingUserID uuid.UUID, reason, description string) (*models.Payment, error) {
	payment, err := s.payments.Dispute(ctx, paymentID, actingUserID, reason, description)
	if err != nil {
		return nil, err
	}
	s.publish(EventPaymentDisputed, payment)
	return payment, nil
}

// GetState возвращает сводку по сделке без побочных эффектов. Доступна сторонам
// сделки: клиенту всегда, фрилансеру — если он выбран исполнителем или подаёт
// запрос по собственному платежу.
func (s *EngagementService) GetState(ctx context.Context, projectID, actingUserID uuid.UUID) (*EngagementState, error) {
	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrProjectNotFound) {
			return nil, apperror.ErrProjectNotFound
		}
		return nil, storeError(err, "не удалось загрузить проект")
	}

	if !project.IsOwnedBy(actingUserID) {
		if project.SelectedFreelancerID == nil || *project.SelectedFreelancerID != actingUserID {
			return nil, apperror.ErrForbidden
		}
	}

	state := &EngagementState{Project: project}

	accepted, err := s.proposals.proposals.GetAcceptedByProject(ctx, projectID)
	if err == nil {
		state.AcceptedProposal = accepted
	} else if !errors.Is(err, repository.ErrProposalNotFound) {
		return nil, storeError(err, "не удалось загрузить предложение")
	}

	payment, err := s.store.GetByProject(ctx, projectID)
	if err == nil {
		state.Payment = payment
	} else if !errors.Is(err, repository.ErrPaymentNotFound) {
		return nil, storeError(err, "не удалось загрузить платёж")
	}

	return state, nil
}

// publish отправляет событие в фоне. Отсутствие получателя и его сбои
// игнорируются.
func (s *EngagementService) publish(event string, payload interface{}) {
	if s.publisher == nil {
		return
	}
	goroutine.SafeGo(func() {
		s.publisher.Publish(event, payload)
	})
}
