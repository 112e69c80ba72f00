package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/marketplace-backend/internal/models"
)

// Ошибки уровня репозитория.
var (
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrPaymentWrongStatus = errors.New("payment is not in the expected status")
	ErrDuplicateEscrow    = errors.New("escrowed payment already exists for this engagement")
	ErrNoMilestone        = errors.New("payment has no milestone")
)

// PaymentRepository отвечает за платежи, их журнал и вложенные записи.
// Каждый переход статуса и его запись в журнале фиксируются одной транзакцией:
// перехода без записи (и записи без перехода) в базе быть не может.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository создаёт новый экземпляр.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `
	id, project_id, client_id, freelancer_id, amount, currency, method, status,
	platform_fee, processing_fee, freelancer_amount,
	auto_release, auto_release_days, requires_approval,
	external_ref, escrow_release_date, created_at, updated_at
`

// Create сохраняет платёж, опциональный этап работы и первую запись журнала.
func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment, entry *models.PaymentHistoryEntry) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("payment repository: begin tx %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO payments (project_id, client_id, freelancer_id, amount, currency, method, status,
		                      platform_fee, processing_fee, freelancer_amount,
		                      auto_release, auto_release_days, requires_approval)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at
	`,
		payment.ProjectID,
		payment.ClientID,
		payment.FreelancerID,
		payment.Amount,
		payment.Currency,
		payment.Method,
		payment.Status,
		payment.PlatformFee,
		payment.ProcessingFee,
		payment.FreelancerAmount,
		payment.AutoRelease,
		payment.AutoReleaseDays,
		payment.RequiresApproval,
	).Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("payment repository: insert %w", err)
	}

	if payment.Milestone != nil {
		m := payment.Milestone
		m.PaymentID = payment.ID
		err = tx.QueryRowxContext(ctx, `
			INSERT INTO payment_milestones (payment_id, title, description, status, due_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, updated_at
		`, m.PaymentID, m.Title, m.Description, m.Status, m.DueAt).Scan(&m.ID, &m.UpdatedAt)
		if err != nil {
			return fmt.Errorf("payment repository: insert milestone %w", err)
		}
	}

	entry.PaymentID = payment.ID
	if err := appendHistory(ctx, tx, entry); err != nil {
		return err
	}
	payment.History = append(payment.History, *entry)

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("payment repository: commit %w", err)
	}
	return nil
}

// GetByID возвращает платёж со всеми вложенными записями.
func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.GetContext(ctx, &payment, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("payment repository: get by id %w", err)
	}

	if err := r.loadRelated(ctx, r.db, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetByProject возвращает платёж по проекту, если он есть.
func (r *PaymentRepository) GetByProject(ctx context.Context, projectID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE project_id = $1 ORDER BY created_at DESC LIMIT 1`
	if err := r.db.GetContext(ctx, &payment, query, projectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("payment repository: get by project %w", err)
	}
	if err := r.loadRelated(ctx, r.db, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// ListByUser возвращает платежи, где пользователь выступает любой из сторон.
func (r *PaymentRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Payment, error) {
	var payments []models.Payment
	query := `
		SELECT ` + paymentColumns + ` FROM payments
		WHERE client_id = $1 OR freelancer_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`
	if err := r.db.SelectContext(ctx, &payments, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("payment repository: list by user %w", err)
	}
	return payments, nil
}

// Process переводит платёж pending -> escrowed и фиксирует дату авто-освобождения.
// Частичный уникальный индекс по (project_id, freelancer_id) для escrowed
// не даёт заморозить два платежа по одной и той же сделке.
func (r *PaymentRepository) Process(ctx context.Context, id uuid.UUID, externalRef string, releaseDate time.Time, entry *models.PaymentHistoryEntry) (*models.Payment, error) {
	return r.transition(ctx, id, models.PaymentStatusPending, entry, func(tx *sqlx.Tx, payment *models.Payment) error {
		err := tx.GetContext(ctx, payment, `
			UPDATE payments
			SET status = 'escrowed', external_ref = $1, escrow_release_date = $2, updated_at = NOW()
			WHERE id = $3
			RETURNING `+paymentColumns, externalRef, releaseDate, id)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateEscrow
			}
			return fmt.Errorf("payment repository: process %w", err)
		}
		return nil
	})
}

// Release переводит платёж escrowed -> released.
func (r *PaymentRepository) Release(ctx context.Context, id uuid.UUID, entry *models.PaymentHistoryEntry) (*models.Payment, error) {
	return r.transition(ctx, id, models.PaymentStatusEscrowed, entry, func(tx *sqlx.Tx, payment *models.Payment) error {
		return r.setStatus(ctx, tx, payment, id, models.PaymentStatusReleased)
	})
}

// Cancel переводит платёж pending -> cancelled.
func (r *PaymentRepository) Cancel(ctx context.Context, id uuid.UUID, entry *models.PaymentHistoryEntry) (*models.Payment, error) {
	return r.transition(ctx, id, models.PaymentStatusPending, entry, func(tx *sqlx.Tx, payment *models.Payment) error {
		return r.setStatus(ctx, tx, payment, id, models.PaymentStatusCancelled)
	})
}

// Refund переводит платёж escrowed -> refunded и заводит запись о причине возврата.
func (r *PaymentRepository) Refund(ctx context.Context, id uuid.UUID, dispute *models.PaymentDispute, entry *models.PaymentHistoryEntry) (*models.Payment, error) {
	return r.transition(ctx, id, models.PaymentStatusEscrowed, entry, func(tx *sqlx.Tx, payment *models.Payment) error {
		if err := r.setStatus(ctx, tx, payment, id, models.PaymentStatusRefunded); err != nil {
			return err
		}
		return insertDispute(ctx, tx, id, dispute)
	})
}

// OpenDispute переводит платёж escrowed -> disputed и открывает спор.
func (r *PaymentRepository) OpenDispute(ctx context.Context, id uuid.UUID, dispute *models.PaymentDispute, entry *models.PaymentHistoryEntry) (*models.Payment, error) {
	return r.transition(ctx, id, models.PaymentStatusEscrowed, entry, func(tx *sqlx.Tx, payment *models.Payment) error {
		if err := r.setStatus(ctx, tx, payment, id, models.PaymentStatusDisputed); err != nil {
			return err
		}
		return insertDispute(ctx, tx, id, dispute)
	})
}

// ResolveDispute закрывает спор и переводит платёж disputed -> released или refunded.
func (r *PaymentRepository) ResolveDispute(ctx context.Context, id uuid.UUID, toStatus, resolution string, resolvedAt time.Time, entry *models.PaymentHistoryEntry) (*models.Payment, error) {
	return r.transition(ctx, id, models.PaymentStatusDisputed, entry, func(tx *sqlx.Tx, payment *models.Payment) error {
		if err := r.setStatus(ctx, tx, payment, id, toStatus); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE payment_disputes
			SET status = 'resolved', resolution = $1, resolved_at = $2
			WHERE payment_id = $3 AND status IN ('open', 'under_review')
		`, resolution, resolvedAt, id)
		if err != nil {
			return fmt.Errorf("payment repository: resolve dispute %w", err)
		}
		return nil
	})
}

// UpdateMilestone меняет статус этапа работы и записывает действие в журнал.
func (r *PaymentRepository) UpdateMilestone(ctx context.Context, paymentID uuid.UUID, status string, notes *string, entry *models.PaymentHistoryEntry) (*models.Payment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("payment repository: begin tx %w", err)
	}
	defer tx.Rollback()

	var payment models.Payment
	err = tx.GetContext(ctx, &payment, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("payment repository: lock payment %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE payment_milestones SET status = $1, notes = COALESCE($2, notes), updated_at = NOW()
		WHERE payment_id = $3
	`, status, notes, paymentID)
	if err != nil {
		return nil, fmt.Errorf("payment repository: update milestone %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("payment repository: milestone rows affected %w", err)
	}
	if affected == 0 {
		return nil, ErrNoMilestone
	}

	entry.PaymentID = paymentID
	if err := appendHistory(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := r.loadRelated(ctx, tx, &payment); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("payment repository: commit %w", err)
	}
	return &payment, nil
}

// transition выполняет общий сценарий перехода: блокировка строки платежа,
// проверка исходного статуса, изменение и запись в журнал — одной транзакцией.
func (r *PaymentRepository) transition(ctx context.Context, id uuid.UUID, fromStatus string, entry *models.PaymentHistoryEntry, apply func(tx *sqlx.Tx, payment *models.Payment) error) (*models.Payment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("payment repository: begin tx %w", err)
	}
	defer tx.Rollback()

	var payment models.Payment
	err = tx.GetContext(ctx, &payment, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("payment repository: lock payment %w", err)
	}

	if payment.Status != fromStatus {
		return nil, ErrPaymentWrongStatus
	}

	if err := apply(tx, &payment); err != nil {
		return nil, err
	}

	entry.PaymentID = id
	if err := appendHistory(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := r.loadRelated(ctx, tx, &payment); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("payment repository: commit %w", err)
	}
	return &payment, nil
}

// setStatus записывает новый статус платежа внутри транзакции перехода.
func (r *PaymentRepository) setStatus(ctx context.Context, tx *sqlx.Tx, payment *models.Payment, id uuid.UUID, status string) error {
	err := tx.GetContext(ctx, payment, `
		UPDATE payments SET status = $1, updated_at = NOW()
		WHERE id = $2
		RETURNING `+paymentColumns, status, id)
	if err != nil {
		return fmt.Errorf("payment repository: set status %w", err)
	}
	return nil
}

// appendHistory добавляет запись журнала. Записи не изменяются и не удаляются.
func appendHistory(ctx context.Context, tx *sqlx.Tx, entry *models.PaymentHistoryEntry) error {
	err := tx.QueryRowxContext(ctx, `
		INSERT INTO payment_history (payment_id, action, description, performed_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, entry.PaymentID, entry.Action, entry.Description, entry.PerformedBy, entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("payment repository: append history %w", err)
	}
	return nil
}

// insertDispute создаёт запись спора внутри транзакции перехода.
func insertDispute(ctx context.Context, tx *sqlx.Tx, paymentID uuid.UUID, dispute *models.PaymentDispute) error {
	dispute.PaymentID = paymentID
	err := tx.QueryRowxContext(ctx, `
		INSERT INTO payment_disputes (payment_id, initiator_id, reason, description, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, dispute.PaymentID, dispute.InitiatorID, dispute.Reason, dispute.Description, dispute.Status).
		Scan(&dispute.ID, &dispute.CreatedAt)
	if err != nil {
		return fmt.Errorf("payment repository: insert dispute %w", err)
	}
	return nil
}

// loadRelated загружает этап, спор и журнал платежа. Внутри перехода читает
// через его транзакцию: после коммита ошибка чтения выглядела бы как сбой уже
// зафиксированного перехода.
func (r *PaymentRepository) loadRelated(ctx context.Context, q sqlx.QueryerContext, payment *models.Payment) error {
	var milestone models.PaymentMilestone
	err := sqlx.GetContext(ctx, q, &milestone, `
		SELECT id, payment_id, title, description, status, due_at, notes, updated_at
		FROM payment_milestones WHERE payment_id = $1
	`, payment.ID)
	if err == nil {
		payment.Milestone = &milestone
	} else if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("payment repository: load milestone %w", err)
	}

	var dispute models.PaymentDispute
	err = sqlx.GetContext(ctx, q, &dispute, `
		SELECT id, payment_id, initiator_id, reason, description, status, resolution, created_at, resolved_at
		FROM payment_disputes WHERE payment_id = $1
		ORDER BY created_at DESC LIMIT 1
	`, payment.ID)
	if err == nil {
		payment.Dispute = &dispute
	} else if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("payment repository: load dispute %w", err)
	}

	// Журнал возвращается строго в порядке добавления.
	var history []models.PaymentHistoryEntry
	err = sqlx.SelectContext(ctx, q, &history, `
		SELECT id, payment_id, action, description, performed_by, created_at
		FROM payment_history WHERE payment_id = $1 ORDER BY created_at, id
	`, payment.ID)
	if err != nil {
		return fmt.Errorf("payment repository: load history %w", err)
	}
	payment.History = history

	return nil
}
