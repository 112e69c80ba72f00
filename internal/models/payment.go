package models

import (
	"time"

	"github.com/google/uuid"
)

// Payment представляет платёж с удержанием средств (escrow) по проекту.
type Payment struct {
	ID           uuid.UUID `db:"id" json:"id"`
	ProjectID    uuid.UUID `db:"project_id" json:"project_id"`
	ClientID     uuid.UUID `db:"client_id" json:"client_id"`
	FreelancerID uuid.UUID `db:"freelancer_id" json:"freelancer_id"`
	Amount       float64   `db:"amount" json:"amount"`
	Currency     string    `db:"currency" json:"currency"`
	Method       string    `db:"method" json:"method"`
	Status       string    `db:"status" json:"status"`

	// Комиссии. FreelancerAmount всегда равен Amount - PlatformFee - ProcessingFee.
	PlatformFee      float64 `db:"platform_fee" json:"platform_fee"`
	ProcessingFee    float64 `db:"processing_fee" json:"processing_fee"`
	FreelancerAmount float64 `db:"freelancer_amount" json:"freelancer_amount"`

	// Условия автоматического освобождения средств.
	AutoRelease      bool `db:"auto_release" json:"auto_release"`
	AutoReleaseDays  int  `db:"auto_release_days" json:"auto_release_days"`
	RequiresApproval bool `db:"requires_approval" json:"requires_approval"`

	ExternalRef       *string    `db:"external_ref" json:"external_ref,omitempty"`
	EscrowReleaseDate *time.Time `db:"escrow_release_date" json:"escrow_release_date,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`

	Milestone *PaymentMilestone     `json:"milestone,omitempty"`
	Dispute   *PaymentDispute       `json:"dispute,omitempty"`
	History   []PaymentHistoryEntry `json:"history,omitempty"`
}

// IsParticipant проверяет, является ли пользователь стороной платежа.
func (p *Payment) IsParticipant(userID uuid.UUID) bool {
	return p.ClientID == userID || p.FreelancerID == userID
}

// PaymentMilestone описывает этап работы внутри платежа.
type PaymentMilestone struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PaymentID   uuid.UUID  `db:"payment_id" json:"payment_id"`
	Title       string     `db:"title" json:"title"`
	Description string     `db:"description" json:"description"`
	Status      string     `db:"status" json:"status"`
	DueAt       *time.Time `db:"due_at" json:"due_at,omitempty"`
	Notes       *string    `db:"notes" json:"notes,omitempty"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// PaymentDispute описывает спор по платежу.
type PaymentDispute struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PaymentID   uuid.UUID  `db:"payment_id" json:"payment_id"`
	InitiatorID uuid.UUID  `db:"initiator_id" json:"initiator_id"`
	Reason      string     `db:"reason" json:"reason"`
	Description string     `db:"description" json:"description"`
	Status      string     `db:"status" json:"status"`
	Resolution  *string    `db:"resolution" json:"resolution,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	ResolvedAt  *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}

// PaymentHistoryEntry — запись журнала действий по платежу.
// Журнал только дополняется, записи никогда не изменяются и не удаляются.
type PaymentHistoryEntry struct {
	ID          uuid.UUID `db:"id" json:"id"`
	PaymentID   uuid.UUID `db:"payment_id" json:"payment_id"`
	Action      string    `db:"action" json:"action"`
	Description string    `db:"description" json:"description"`
	PerformedBy uuid.UUID `db:"performed_by" json:"performed_by"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
