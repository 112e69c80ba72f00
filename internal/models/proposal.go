package models

import (
	"time"

	"github.com/google/uuid"
)

// Proposal представляет отклик фрилансера на проект.
type Proposal struct {
	ID           uuid.UUID `db:"id" json:"id"`
	ProjectID    uuid.UUID `db:"project_id" json:"project_id"`
	FreelancerID uuid.UUID `db:"freelancer_id" json:"freelancer_id"`
	CoverLetter  string    `db:"cover_letter" json:"cover_letter"`
	BidAmount    float64   `db:"bid_amount" json:"bid_amount"`
	TimelineDays int       `db:"timeline_days" json:"timeline_days"`
	Status       string    `db:"status" json:"status"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// IsOwnedBy проверяет, принадлежит ли предложение фрилансеру.
func (p *Proposal) IsOwnedBy(userID uuid.UUID) bool {
	return p.FreelancerID == userID
}

// IsActive сообщает, занимает ли предложение слот фрилансера на проекте.
// Отозванные предложения слот освобождают, отклонённые — нет.
func (p *Proposal) IsActive() bool {
	return p.Status != ProposalStatusWithdrawn
}
