package models

import (
	"time"

	"github.com/google/uuid"
)

// Review описывает отзыв одной стороны сделки о другой после завершения проекта.
type Review struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ProjectID  uuid.UUID `db:"project_id" json:"project_id"`
	ReviewerID uuid.UUID `db:"reviewer_id" json:"reviewer_id"`
	ReviewedID uuid.UUID `db:"reviewed_id" json:"reviewed_id"`
	Rating     int       `db:"rating" json:"rating"`
	Comment    *string   `db:"comment" json:"comment,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
