package dto

import "time"

// RegisterRequest — тело запроса регистрации.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Username string `json:"username"`
	Role     string `json:"role" binding:"required"`
}

// LoginRequest — тело запроса входа.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RefreshRequest — тело запроса обновления токенов.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// CreateProjectRequest — тело запроса создания проекта.
type CreateProjectRequest struct {
	Title        string     `json:"title" binding:"required"`
	Description  string     `json:"description" binding:"required"`
	TotalBudget  float64    `json:"total_budget" binding:"required,gt=0"`
	Currency     string     `json:"currency"`
	MaxProposals int        `json:"max_proposals"`
	DeadlineAt   *time.Time `json:"deadline_at"`
}

// UpdateProjectRequest — тело запроса изменения проекта.
type UpdateProjectRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	TotalBudget *float64   `json:"total_budget"`
	DeadlineAt  *time.Time `json:"deadline_at"`
}

// SubmitProposalRequest — тело запроса подачи предложения.
type SubmitProposalRequest struct {
	ProjectID    string  `json:"project_id" binding:"required"`
	CoverLetter  string  `json:"cover_letter" binding:"required"`
	BidAmount    float64 `json:"bid_amount" binding:"required,gt=0"`
	TimelineDays int     `json:"timeline_days" binding:"required,gt=0"`
}

// CreatePaymentRequest — тело запроса создания платежа.
type CreatePaymentRequest struct {
	ProjectID    string                    `json:"project_id" binding:"required"`
	FreelancerID string                    `json:"freelancer_id" binding:"required"`
	Amount       float64                   `json:"amount" binding:"required,gt=0"`
	Method       string                    `json:"method" binding:"required"`
	Milestone    *MilestoneRequest         `json:"milestone"`
	Release      *ReleaseConditionsRequest `json:"release_conditions"`
}

// MilestoneRequest — вложенный этап работы создаваемого платежа.
type MilestoneRequest struct {
	Title       string     `json:"title" binding:"required"`
	Description string     `json:"description"`
	DueAt       *time.Time `json:"due_at"`
}

// ReleaseConditionsRequest — условия освобождения средств.
type ReleaseConditionsRequest struct {
	AutoRelease      bool `json:"auto_release"`
	AutoReleaseDays  int  `json:"auto_release_days"`
	RequiresApproval bool `json:"requires_approval"`
}

// ProcessPaymentRequest — тело запроса обработки платежа.
type ProcessPaymentRequest struct {
	ExternalRef string `json:"external_ref" binding:"required"`
}

// ReleasePaymentRequest — тело запроса освобождения средств.
type ReleasePaymentRequest struct {
	Notes string `json:"notes"`
}

// DisputeRequest — тело запроса спора или возврата.
type DisputeRequest struct {
	Reason      string `json:"reason" binding:"required"`
	Description string `json:"description"`
}

// ResolveDisputeRequest — тело запроса разрешения спора.
type ResolveDisputeRequest struct {
	Outcome    string `json:"outcome" binding:"required"`
	Resolution string `json:"resolution"`
}

// UpdateMilestoneRequest — тело запроса смены статуса этапа.
type UpdateMilestoneRequest struct {
	Status string  `json:"status" binding:"required"`
	Notes  *string `json:"notes"`
}

// CreateReviewRequest — тело запроса создания отзыва.
type CreateReviewRequest struct {
	ProjectID string  `json:"project_id" binding:"required"`
	Rating    int     `json:"rating" binding:"required,min=1,max=5"`
	Comment   *string `json:"comment"`
}
