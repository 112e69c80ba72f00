package models

// ProjectStatus константы статусов проектов
const (
	ProjectStatusOpen       = "open"
	ProjectStatusInProgress = "in_progress"
	ProjectStatusCompleted  = "completed"
	ProjectStatusCancelled  = "cancelled"
)

// ProposalStatus константы статусов предложений
const (
	ProposalStatusPending   = "pending"
	ProposalStatusAccepted  = "accepted"
	ProposalStatusRejected  = "rejected"
	ProposalStatusWithdrawn = "withdrawn"
)

// PaymentStatus константы статусов платежей
const (
	PaymentStatusPending   = "pending"
	PaymentStatusEscrowed  = "escrowed"
	PaymentStatusReleased  = "released"
	PaymentStatusRefunded  = "refunded"
	PaymentStatusDisputed  = "disputed"
	PaymentStatusCancelled = "cancelled"
)

// MilestoneStatus константы статусов этапов работы
const (
	MilestoneStatusPending    = "pending"
	MilestoneStatusInProgress = "in_progress"
	MilestoneStatusCompleted  = "completed"
	MilestoneStatusApproved   = "approved"
	MilestoneStatusRejected   = "rejected"
)

// DisputeStatus константы статусов споров
const (
	DisputeStatusOpen        = "open"
	DisputeStatusUnderReview = "under_review"
	DisputeStatusResolved    = "resolved"
	DisputeStatusClosed      = "closed"
)

// Роли пользователей
const (
	RoleClient     = "client"
	RoleFreelancer = "freelancer"
)

// ValidProjectStatuses список валидных статусов проектов
var ValidProjectStatuses = map[string]struct{}{
	ProjectStatusOpen:       {},
	ProjectStatusInProgress: {},
	ProjectStatusCompleted:  {},
	ProjectStatusCancelled:  {},
}

// ValidProposalStatuses список валидных статусов предложений
var ValidProposalStatuses = map[string]struct{}{
	ProposalStatusPending:   {},
	ProposalStatusAccepted:  {},
	ProposalStatusRejected:  {},
	ProposalStatusWithdrawn: {},
}

// ValidPaymentStatuses список валидных статусов платежей
var ValidPaymentStatuses = map[string]struct{}{
	PaymentStatusPending:   {},
	PaymentStatusEscrowed:  {},
	PaymentStatusReleased:  {},
	PaymentStatusRefunded:  {},
	PaymentStatusDisputed:  {},
	PaymentStatusCancelled: {},
}

// ValidMilestoneStatuses список валидных статусов этапов
var ValidMilestoneStatuses = map[string]struct{}{
	MilestoneStatusPending:    {},
	MilestoneStatusInProgress: {},
	MilestoneStatusCompleted:  {},
	MilestoneStatusApproved:   {},
	MilestoneStatusRejected:   {},
}
