package models

import (
	"time"

	"github.com/google/uuid"
)

// Project описывает размещённый клиентом проект.
type Project struct {
	ID                   uuid.UUID  `db:"id" json:"id"`
	ClientID             uuid.UUID  `db:"client_id" json:"client_id"`
	Title                string     `db:"title" json:"title"`
	Description          string     `db:"description" json:"description"`
	TotalBudget          float64    `db:"total_budget" json:"total_budget"`
	Currency             string     `db:"currency" json:"currency"`
	Status               string     `db:"status" json:"status"`
	MaxProposals         int        `db:"max_proposals" json:"max_proposals"`
	SelectedFreelancerID *uuid.UUID `db:"selected_freelancer_id" json:"selected_freelancer_id,omitempty"`
	DeadlineAt           *time.Time `db:"deadline_at" json:"deadline_at,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
	ProposalsCount       *int       `db:"proposals_count" json:"proposals_count,omitempty"`
}

// IsOwnedBy проверяет, принадлежит ли проект пользователю.
func (p *Project) IsOwnedBy(userID uuid.UUID) bool {
	return p.ClientID == userID
}

// ProjectAttachment описывает файл, прикреплённый к проекту.
type ProjectAttachment struct {
	ID        uuid.UUID `db:"id" json:"id"`
	ProjectID uuid.UUID `db:"project_id" json:"project_id"`
	FilePath  string    `db:"file_path" json:"file_path"`
	FileType  string    `db:"file_type" json:"file_type"`
	FileSize  int64     `db:"file_size" json:"file_size"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
