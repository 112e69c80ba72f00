package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ignatzorin/marketplace-backend/internal/models"
)

// Ошибки уровня репозитория.
var (
	ErrProposalNotFound     = errors.New("proposal not found")
	ErrProposalNotPending   = errors.New("proposal is not pending")
	ErrDuplicateProposal    = errors.New("active proposal already exists for this freelancer and project")
	ErrProposalLimitReached = errors.New("proposal limit reached for project")
)

// ProposalRepository отвечает за работу с предложениями.
type ProposalRepository struct {
	db *sqlx.DB
}

// NewProposalRepository создаёт новый экземпляр.
func NewProposalRepository(db *sqlx.DB) *ProposalRepository {
	return &ProposalRepository{db: db}
}

const proposalColumns = `
	id, project_id, freelancer_id, cover_letter, bid_amount, timeline_days, status, created_at, updated_at
`

// GetByID возвращает предложение по идентификатору.
func (r *ProposalRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Proposal, error) {
	var proposal models.Proposal
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE id = $1`
	if err := r.db.GetContext(ctx, &proposal, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProposalNotFound
		}
		return nil, fmt.Errorf("proposal repository: get by id %w", err)
	}
	return &proposal, nil
}

// Create сохраняет новое предложение. Проект блокируется на время проверки
// статуса и лимита, чтобы конкурирующие отклики не превысили max_proposals.
func (r *ProposalRepository) Create(ctx context.Context, proposal *models.Proposal) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("proposal repository: begin tx %w", err)
	}
	defer tx.Rollback()

	var project struct {
		Status       string `db:"status"`
		MaxProposals int    `db:"max_proposals"`
	}
	err = tx.GetContext(ctx, &project, `
		SELECT status, max_proposals FROM projects WHERE id = $1 FOR UPDATE
	`, proposal.ProjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrProjectNotFound
		}
		return fmt.Errorf("proposal repository: lock project %w", err)
	}

	if project.Status != models.ProjectStatusOpen {
		return ErrProjectNotOpen
	}

	// Отозванные предложения не занимают слот.
	var count int
	err = tx.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM proposals WHERE project_id = $1 AND status <> 'withdrawn'
	`, proposal.ProjectID)
	if err != nil {
		return fmt.Errorf("proposal repository: count proposals %w", err)
	}
	if count >= project.MaxProposals {
		return ErrProposalLimitReached
	}

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO proposals (project_id, freelancer_id, cover_letter, bid_amount, timeline_days, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`,
		proposal.ProjectID,
		proposal.FreelancerID,
		proposal.CoverLetter,
		proposal.BidAmount,
		proposal.TimelineDays,
		proposal.Status,
	).Scan(&proposal.ID, &proposal.CreatedAt, &proposal.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateProposal
		}
		return fmt.Errorf("proposal repository: insert %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("proposal repository: commit %w", err)
	}
	return nil
}

// ListByProject возвращает предложения проекта.
func (r *ProposalRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.Proposal, error) {
	var proposals []models.Proposal
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE project_id = $1 ORDER BY created_at`
	if err := r.db.SelectContext(ctx, &proposals, query, projectID); err != nil {
		return nil, fmt.Errorf("proposal repository: list by project %w", err)
	}
	return proposals, nil
}

// ListByFreelancer возвращает предложения фрилансера.
func (r *ProposalRepository) ListByFreelancer(ctx context.Context, freelancerID uuid.UUID) ([]models.Proposal, error) {
	var proposals []models.Proposal
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE freelancer_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &proposals, query, freelancerID); err != nil {
		return nil, fmt.Errorf("proposal repository: list by freelancer %w", err)
	}
	return proposals, nil
}

// GetAcceptedByProject возвращает принятое предложение проекта, если оно есть.
func (r *ProposalRepository) GetAcceptedByProject(ctx context.Context, projectID uuid.UUID) (*models.Proposal, error) {
	var proposal models.Proposal
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE project_id = $1 AND status = 'accepted'`
	if err := r.db.GetContext(ctx, &proposal, query, projectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProposalNotFound
		}
		return nil, fmt.Errorf("proposal repository: get accepted %w", err)
	}
	return &proposal, nil
}

// Accept принимает предложение одной транзакцией: цель переходит в accepted,
// остальные ожидающие предложения проекта — в rejected, проект — в in_progress
// с зафиксированным исполнителем. Частичное применение невозможно: либо
// фиксируются все четыре записи, либо ни одной.
func (r *ProposalRepository) Accept(ctx context.Context, proposalID uuid.UUID) (*models.Proposal, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("proposal repository: begin tx %w", err)
	}
	defer tx.Rollback()

	// Порядок блокировок такой же, как в Create: сначала проект, затем строки
	// предложений. Конкурирующие принятия сериализуются на блокировке проекта
	// ещё до обращения к предложениям, второй вызов дождётся коммита первого
	// и увидит предложение уже не в статусе pending. Обратный порядок давал бы
	// взаимную блокировку: каждый держит свою строку предложения и ждёт проект,
	// а отклонение остальных предложений упирается в чужую строку.
	var projectID uuid.UUID
	err = tx.GetContext(ctx, &projectID, `
		SELECT project_id FROM proposals WHERE id = $1
	`, proposalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProposalNotFound
		}
		return nil, fmt.Errorf("proposal repository: get proposal project %w", err)
	}

	var projectStatus string
	err = tx.GetContext(ctx, &projectStatus, `
		SELECT status FROM projects WHERE id = $1 FOR UPDATE
	`, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("proposal repository: lock project %w", err)
	}

	var proposal models.Proposal
	err = tx.GetContext(ctx, &proposal, `
		SELECT `+proposalColumns+` FROM proposals WHERE id = $1 FOR UPDATE
	`, proposalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProposalNotFound
		}
		return nil, fmt.Errorf("proposal repository: lock proposal %w", err)
	}

	if proposal.Status != models.ProposalStatusPending {
		return nil, ErrProposalNotPending
	}
	if projectStatus != models.ProjectStatusOpen {
		return nil, ErrProjectNotOpen
	}

	err = tx.GetContext(ctx, &proposal, `
		UPDATE proposals SET status = 'accepted', updated_at = NOW()
		WHERE id = $1
		RETURNING `+proposalColumns, proposalID)
	if err != nil {
		return nil, fmt.Errorf("proposal repository: accept proposal %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE proposals SET status = 'rejected', updated_at = NOW()
		WHERE project_id = $1 AND id <> $2 AND status = 'pending'
	`, proposal.ProjectID, proposalID)
	if err != nil {
		return nil, fmt.Errorf("proposal repository: reject siblings %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE projects SET status = 'in_progress', selected_freelancer_id = $1, updated_at = NOW()
		WHERE id = $2
	`, proposal.FreelancerID, proposal.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("proposal repository: update project %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("proposal repository: commit %w", err)
	}
	return &proposal, nil
}

// UpdateStatus переводит предложение из ожидаемого статуса в новый.
// Возвращает ErrProposalNotPending, если предложение уже покинуло исходный статус.
func (r *ProposalRepository) UpdateStatus(ctx context.Context, id uuid.UUID, fromStatus, toStatus string) (*models.Proposal, error) {
	var proposal models.Proposal
	query := `
		UPDATE proposals SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
		RETURNING ` + proposalColumns
	if err := r.db.GetContext(ctx, &proposal, query, toStatus, id, fromStatus); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProposalNotPending
		}
		return nil, fmt.Errorf("proposal repository: update status %w", err)
	}
	return &proposal, nil
}

// isUniqueViolation проверяет нарушение уникального индекса Postgres.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
