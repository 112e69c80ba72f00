package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/marketplace-backend/internal/models"
	"github.com/ignatzorin/marketplace-backend/internal/repository"
)

// Фейковые хранилища повторяют контракт репозиториев, включая коды ошибок и
// атомарность групповых переходов, но держат данные в памяти.

type fakeProjectStore struct {
	mu       sync.Mutex
	projects map[uuid.UUID]*models.Project
}

func newFakeProjectStore() *fakeProjectStore {
	return &fakeProjectStore{projects: make(map[uuid.UUID]*models.Project)}
}

func (s *fakeProjectStore) add(project *models.Project) *models.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	if project.ID == uuid.Nil {
		project.ID = uuid.New()
	}
	s.projects[project.ID] = project
	return project
}

func (s *fakeProjectStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	project, ok := s.projects[id]
	if !ok {
		return nil, repository.ErrProjectNotFound
	}
	clone := *project
	return &clone, nil
}

type fakeUserStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]*models.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[uuid.UUID]*models.User)}
}

func (s *fakeUserStore) add(user *models.User) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	s.users[user.ID] = user
	return user
}

func (s *fakeUserStore) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

type fakeProposalStore struct {
	mu        sync.Mutex
	proposals map[uuid.UUID]*models.Proposal
	projects  *fakeProjectStore

	// failWith имитирует недоступное хранилище: все методы возвращают эту ошибку.
	failWith error
}

func newFakeProposalStore(projects *fakeProjectStore) *fakeProposalStore {
	return &fakeProposalStore{
		proposals: make(map[uuid.UUID]*models.Proposal),
		projects:  projects,
	}
}

func (s *fakeProposalStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	proposal, ok := s.proposals[id]
	if !ok {
		return nil, repository.ErrProposalNotFound
	}
	clone := *proposal
	return &clone, nil
}

func (s *fakeProposalStore) Create(ctx context.Context, proposal *models.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}

	s.projects.mu.Lock()
	project, ok := s.projects.projects[proposal.ProjectID]
	s.projects.mu.Unlock()
	if !ok {
		return repository.ErrProjectNotFound
	}
	if project.Status != models.ProjectStatusOpen {
		return repository.ErrProjectNotOpen
	}

	active := 0
	for _, p := range s.proposals {
		if p.ProjectID != proposal.ProjectID {
			continue
		}
		if p.Status != models.ProposalStatusWithdrawn {
			active++
			if p.FreelancerID == proposal.FreelancerID {
				return repository.ErrDuplicateProposal
			}
		}
	}
	if active >= project.MaxProposals {
		return repository.ErrProposalLimitReached
	}

	proposal.ID = uuid.New()
	proposal.CreatedAt = time.Now()
	proposal.UpdatedAt = proposal.CreatedAt
	clone := *proposal
	s.proposals[proposal.ID] = &clone
	return nil
}

func (s *fakeProposalStore) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.Proposal
	for _, p := range s.proposals {
		if p.ProjectID == projectID {
			result = append(result, *p)
		}
	}
	return result, nil
}

func (s *fakeProposalStore) ListByFreelancer(ctx context.Context, freelancerID uuid.UUID) ([]models.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.Proposal
	for _, p := range s.proposals {
		if p.FreelancerID == freelancerID {
			result = append(result, *p)
		}
	}
	return result, nil
}

func (s *fakeProposalStore) GetAcceptedByProject(ctx context.Context, projectID uuid.UUID) (*models.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.proposals {
		if p.ProjectID == projectID && p.Status == models.ProposalStatusAccepted {
			clone := *p
			return &clone, nil
		}
	}
	return nil, repository.ErrProposalNotFound
}

func (s *fakeProposalStore) Accept(ctx context.Context, proposalID uuid.UUID) (*models.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.proposals[proposalID]
	if !ok {
		return nil, repository.ErrProposalNotFound
	}

	s.projects.mu.Lock()
	defer s.projects.mu.Unlock()
	project, ok := s.projects.projects[target.ProjectID]
	if !ok {
		return nil, repository.ErrProjectNotFound
	}

	if target.Status != models.ProposalStatusPending {
		return nil, repository.ErrProposalNotPending
	}
	if project.Status != models.ProjectStatusOpen {
		return nil, repository.ErrProjectNotOpen
	}

	target.Status = models.ProposalStatusAccepted
	target.UpdatedAt = time.Now()
	for _, p := range s.proposals {
		if p.ProjectID == target.ProjectID && p.ID != target.ID && p.Status == models.ProposalStatusPending {
			p.Status = models.ProposalStatusRejected
		}
	}
	project.Status = models.ProjectStatusInProgress
	freelancerID := target.FreelancerID
	project.SelectedFreelancerID = &freelancerID

	clone := *target
	return &clone, nil
}

func (s *fakeProposalStore) UpdateStatus(ctx context.Context, id uuid.UUID, fromStatus, toStatus string) (*models.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	proposal, ok := s.proposals[id]
	if !ok || proposal.Status != fromStatus {
		return nil, repository.ErrProposalNotPending
	}
	proposal.Status = toStatus
	proposal.UpdatedAt = time.Now()
	clone := *proposal
	return &clone, nil
}

type fakePaymentStore struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*models.Payment
}

func newFakePaymentStore() *fakePaymentStore {
	return &fakePaymentStore{payments: make(map[uuid.UUID]*models.Payment)}
}

func clonePayment(p *models.Payment) *models.Payment {
	clone := *p
	if p.Milestone != nil {
		m := *p.Milestone
		clone.Milestone = &m
	}
	if p.Dispute != nil {
		d := *p.Dispute
		clone.Dispute = &d
	}
	clone.History = append([]models.PaymentHistoryEntry(nil), p.History...)
	return &clone
}

func (s *fakePaymentStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payment, ok := s.payments[id]
	if !ok {
		return nil, repository.ErrPaymentNotFound
	}
	return clonePayment(payment), nil
}

func (s *fakePaymentStore) GetByProject(ctx context.Context, projectID uuid.UUID) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.ProjectID == projectID {
			return clonePayment(p), nil
		}
	}
	return nil, repository.ErrPaymentNotFound
}

func (s *fakePaymentStore) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.Payment
	for _, p := range s.payments {
		if p.ClientID == userID || p.FreelancerID == userID {
			result = append(result, *clonePayment(p))
		}
	}
	return result, nil
}

func (s *fakePaymentStore) Create(ctx context.Context, payment *models.Payment, entry *models.PaymentHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment.ID = uuid.New()
	payment.CreatedAt = time.Now()
	payment.UpdatedAt = payment.CreatedAt
	entry.PaymentID = payment.ID
	entry.ID = uuid.New()
	payment.History = append(payment.History, *entry)
	if payment.Milestone != nil {
		payment.Milestone.ID = uuid.New()
		payment.Milestone.PaymentID = payment.ID
	}

	s.payments[payment.ID] = clonePayment(payment)
	return nil
}

// transition повторяет контракт репозитория: переход и запись журнала
// применяются вместе либо не применяются вовсе.
func (s *fakePaymentStore) transition(id uuid.UUID, fromStatus string, entry *models.PaymentHistoryEntry, apply func(p *models.Payment) error) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.payments[id]
	if !ok {
		return nil, repository.ErrPaymentNotFound
	}
	if payment.Status != fromStatus {
		return nil, repository.ErrPaymentWrongStatus
	}

	staged := clonePayment(payment)
	if err := apply(staged); err != nil {
		return nil, err
	}

	entry.PaymentID = id
	entry.ID = uuid.New()
	staged.History = append(staged.History, *entry)
	staged.UpdatedAt = time.Now()

	s.payments[id] = staged
	return clonePayment(staged), nil
}

func (s *fakePaymentStore) Process(ctx context.Context, id uuid.UUID, externalRef string, releaseDate time.Time, entry *models.PaymentHistoryEntry) (*models.Payment, error) {
	return s.transition(id, models.PaymentStatusPending, entry, func(p *models.Payment) error {
		for _, other := range s.payments {
			if other.ID != p.ID && other.ProjectID == p.ProjectID &&
				other.FreelancerID == p.FreelancerID && other.Status == models.PaymentStatusEscrowed {
				return repository.ErrDuplicateEscrow
			}
		}
		p.Status = models.PaymentStatusEscrowed
		p.ExternalRef = &externalRef
		p.EscrowReleaseDate = &releaseDate
		return nil
	})
}

func (s *fakePaymentStore) Release(ctx context.Context, id uuid.UUID, entry *models.PaymentHistoryEntry) (*models.Payment, error) {
	return s.transition(id, models.PaymentStatusEscrowed, entry, func(p *models.Payment) error {
		p.Status = models.PaymentStatusReleased
		return nil
	})
}

func (s *fakePaymentStore) Cancel(ctx context.Context, id uuid.UUID, entry *models.PaymentHistoryEntry) (*models.Payment, error) {
	return s.transition(id, models.PaymentStatusPending, entry, func(p *models.Payment) error {
		p.Status = models.PaymentStatusCancelled
		return nil
	})
}

func (s *fakePaymentStore) Refund(ctx context.Context, id uuid.UUID, dispute *models.PaymentDispute, entry *models.PaymentHistoryEntry) (*models.Payment, error) {
	return s.transition(id, models.PaymentStatusEscrowed, entry, func(p *models.Payment) error {
		p.Status = models.PaymentStatusRefunded
		dispute.ID = uuid.New()
		dispute.PaymentID = id
		dispute.CreatedAt = time.Now()
		p.Dispute = dispute
		return nil
	})
}

func (s *fakePaymentStore) OpenDispute(ctx context.Context, id uuid.UUID, dispute *models.PaymentDispute, entry *models.PaymentHistoryEntry) (*models.Payment, error) {
	return s.transition(id, models.PaymentStatusEscrowed, entry, func(p *models.Payment) error {
		p.Status = models.PaymentStatusDisputed
		dispute.ID = uuid.New()
		dispute.PaymentID = id
		dispute.CreatedAt = time.Now()
		p.Dispute = dispute
		return nil
	})
}

func (s *fakePaymentStore) ResolveDispute(ctx context.Context, id uuid.UUID, toStatus, resolution string, resolvedAt time.Time, entry *models.PaymentHistoryEntry) (*models.Payment, error) {
	return s.transition(id, models.PaymentStatusDisputed, entry, func(p *models.Payment) error {
		p.Status = toStatus
		if p.Dispute != nil {
			p.Dispute.Status = models.DisputeStatusResolved
			p.Dispute.Resolution = &resolution
			p.Dispute.ResolvedAt = &resolvedAt
		}
		return nil
	})
}

func (s *fakePaymentStore) UpdateMilestone(ctx context.Context, paymentID uuid.UUID, status string, notes *string, entry *models.PaymentHistoryEntry) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.payments[paymentID]
	if !ok {
		return nil, repository.ErrPaymentNotFound
	}
	if payment.Milestone == nil {
		return nil, repository.ErrNoMilestone
	}

	payment.Milestone.Status = status
	if notes != nil {
		payment.Milestone.Notes = notes
	}
	entry.PaymentID = paymentID
	entry.ID = uuid.New()
	payment.History = append(payment.History, *entry)
	return clonePayment(payment), nil
}
