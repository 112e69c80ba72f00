package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/marketplace-backend/internal/models"
	"github.com/ignatzorin/marketplace-backend/internal/pkg/apperror"
	"github.com/ignatzorin/marketplace-backend/internal/repository"
	"github.com/ignatzorin/marketplace-backend/internal/validation"
)

// PaymentStore описывает зависимости PaymentService от слоя хранилища.
type PaymentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Payment, error)
	Create(ctx context.Context, payment *models.Payment, entry *models.PaymentHistoryEntry) error
	Process(ctx context.Context, id uuid.UUID, externalRef string, releaseDate time.Time, entry *models.PaymentHistoryEntry) (*models.Payment, error)
	Release(ctx context.Context, id uuid.UUID, entry *models.PaymentHistoryEntry) (*models.Payment, error)
	Cancel(ctx context.Context, id uuid.UUID, entry *models.PaymentHistoryEntry) (*models.Payment, error)
	Refund(ctx context.Context, id uuid.UUID, dispute *models.PaymentDispute, entry *models.PaymentHistoryEntry) (*models.Payment, error)
	OpenDispute(ctx context.Context, id uuid.UUID, dispute *models.PaymentDispute, entry *models.PaymentHistoryEntry) (*models.Payment, error)
	ResolveDispute(ctx context.Context, id uuid.UUID, toStatus, resolution string, resolvedAt time.Time, entry *models.PaymentHistoryEntry) (*models.Payment, error)
	UpdateMilestone(ctx context.Context, paymentID uuid.UUID, status string, notes *string, entry *models.PaymentHistoryEntry) (*models.Payment, error)
}

// PaymentUserStore — доступ к пользователям для проверки существования фрилансера.
type PaymentUserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// FeePolicy задаёт ставки комиссий платформы и платёжного провайдера.
type FeePolicy struct {
	PlatformRate    float64
	ProcessingRate  float64
	ProcessingFixed float64
}

// PaymentService реализует эскроу-машину платежей.
//
// Переходы:
//
//	pending  -> escrowed  (process)
//	pending  -> cancelled (cancel)
//	escrowed -> released  (release)
//	escrowed -> refunded  (refund)
//	escrowed -> disputed  (dispute)
//	disputed -> released | refunded (resolve)
//
// Каждый переход добавляет ровно одну запись в журнал платежа; запись и
// переход фиксируются в одной транзакции хранилища.
type PaymentService struct {
	payments PaymentStore
	projects ProposalProjectStore
	users    PaymentUserStore
	fees     FeePolicy
	now      func() time.Time
}

// CreatePaymentInput содержит данные нового платежа.
type CreatePaymentInput struct {
	ProjectID    uuid.UUID
	FreelancerID uuid.UUID
	Amount       float64
	Method       string
	Milestone    *MilestoneInput
	Release      *ReleaseConditionsInput
}

// MilestoneInput описывает этап работы внутри создаваемого платежа.
type MilestoneInput struct {
	Title       string
	Description string
	DueAt       *time.Time
}

// ReleaseConditionsInput описывает условия освобождения средств.
type ReleaseConditionsInput struct {
	AutoRelease      bool
	AutoReleaseDays  int
	RequiresApproval bool
}

// NewPaymentService создаёт сервис платежей.
func NewPaymentService(payments PaymentStore, projects ProposalProjectStore, users PaymentUserStore, fees FeePolicy, now func() time.Time) *PaymentService {
	if now == nil {
		now = time.Now
	}
	return &PaymentService{
		payments: payments,
		projects: projects,
		users:    users,
		fees:     fees,
		now:      now,
	}
}

// Create создаёт платёж в статусе pending с рассчитанными комиссиями и первой
// записью журнала. Комиссии считаются по ставкам из конфигурации, сумма фрилансера
// не может быть отрицательной.
func (s *PaymentService) Create(ctx context.Context, in CreatePaymentInput, actingClientID uuid.UUID) (*models.Payment, error) {
	if err := validation.ValidateAmount("сумма платежа", in.Amount); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInvalidArgument, err.Error())
	}
	if in.Method == "" {
		return nil, apperror.New(apperror.ErrCodeInvalidArgument, "способ оплаты обязателен")
	}

	project, err := s.projects.GetByID(ctx, in.ProjectID)
	if err != nil {
		if errors.Is(err, repository.ErrProjectNotFound) {
			return nil, apperror.ErrProjectNotFound
		}
		return nil, storeError(err, "не удалось загрузить проект")
	}
	if !project.IsOwnedBy(actingClientID) {
		return nil, apperror.ErrForbidden
	}

	if _, err := s.users.GetByID(ctx, in.FreelancerID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperror.ErrUserNotFound
		}
		return nil, storeError(err, "не удалось загрузить пользователя")
	}

	platformFee, processingFee, freelancerAmount := s.computeFees(in.Amount)
	if freelancerAmount < 0 {
		return nil, apperror.New(apperror.ErrCodeInvalidArgument, "сумма платежа не покрывает комиссии")
	}

	release := ReleaseConditionsInput{AutoRelease: true, AutoReleaseDays: 7, RequiresApproval: true}
	if in.Release != nil {
		release = *in.Release
		if release.AutoReleaseDays <= 0 {
			return nil, apperror.New(apperror.ErrCodeInvalidArgument, "срок автоосвобождения должен быть положительным")
		}
	}

	payment := &models.Payment{
		ProjectID:        in.ProjectID,
		ClientID:         actingClientID,
		FreelancerID:     in.FreelancerID,
		Amount:           in.Amount,
		Currency:         project.Currency,
		Method:           in.Method,
		Status:           models.PaymentStatusPending,
		PlatformFee:      platformFee,
		ProcessingFee:    processingFee,
		FreelancerAmount: freelancerAmount,
		AutoRelease:      release.AutoRelease,
		AutoReleaseDays:  release.AutoReleaseDays,
		RequiresApproval: release.RequiresApproval,
	}

	if in.Milestone != nil {
		if in.Milestone.Title == "" {
			return nil, apperror.New(apperror.ErrCodeInvalidArgument, "название этапа обязательно")
		}
		payment.Milestone = &models.PaymentMilestone{
			Title:       in.Milestone.Title,
			Description: in.Milestone.Description,
			Status:      models.MilestoneStatusPending,
			DueAt:       in.Milestone.DueAt,
		}
	}

	entry := s.historyEntry("payment_created", "Платёж создан и ожидает обработки", actingClientID)
	if err := s.payments.Create(ctx, payment, entry); err != nil {
		return nil, storeError(err, "не удалось создать платёж")
	}

	return payment, nil
}

// Process переводит платёж в эскроу: средства считаются удержанными платформой.
// Дата автоосвобождения отсчитывается от текущего момента.
func (s *PaymentService) Process(ctx context.Context, paymentID uuid.UUID, externalRef string, actingClientID uuid.UUID) (*models.Payment, error) {
	payment, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.ClientID != actingClientID {
		return nil, apperror.ErrForbidden
	}

	releaseDate := s.now().AddDate(0, 0, payment.AutoReleaseDays)
	entry := s.historyEntry("payment_processed", "Средства удержаны на эскроу-счёте", actingClientID)

	updated, err := s.payments.Process(ctx, paymentID, externalRef, releaseDate, entry)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrPaymentWrongStatus):
			return nil, apperror.New(apperror.ErrCodeInvalidState, "обработать можно только ожидающий платёж")
		case errors.Is(err, repository.ErrDuplicateEscrow):
			return nil, apperror.New(apperror.ErrCodeConflict, "по этой сделке уже удержан платёж")
		default:
			return nil, storeError(err, "не удалось обработать платёж")
		}
	}
	return updated, nil
}

// Release освобождает удержанные средства в пользу фрилансера.
func (s *PaymentService) Release(ctx context.Context, paymentID, actingClientID uuid.UUID, notes string) (*models.Payment, error) {
	payment, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.ClientID != actingClientID {
		return nil, apperror.ErrForbidden
	}

	description := "Средства освобождены в пользу фрилансера"
	if notes != "" {
		description = fmt.Sprintf("%s: %s", description, notes)
	}
	entry := s.historyEntry("payment_released", description, actingClientID)

	updated, err := s.payments.Release(ctx, paymentID, entry)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentWrongStatus) {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "освободить можно только удержанный платёж")
		}
		return nil, storeError(err, "не удалось освободить средства")
	}
	return updated, nil
}

// Cancel отменяет ещё не обработанный платёж.
func (s *PaymentService) Cancel(ctx context.Context, paymentID, actingClientID uuid.UUID) (*models.Payment, error) {
	payment, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.ClientID != actingClientID {
		return nil, apperror.ErrForbidden
	}

	entry := s.historyEntry("payment_cancelled", "Платёж отменён до обработки", actingClientID)

	updated, err := s.payments.Cancel(ctx, paymentID, entry)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentWrongStatus) {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "отменить можно только ожидающий платёж")
		}
		return nil, storeError(err, "не удалось отменить платёж")
	}
	return updated, nil
}

// Refund возвращает удержанные средства клиенту с фиксацией причины.
func (s *PaymentService) Refund(ctx context.Context, paymentID, actingClientID uuid.UUID, reason, description string) (*models.Payment, error) {
	if reason == "" {
		return nil, apperror.New(apperror.ErrCodeInvalidArgument, "причина возврата обязательна")
	}

	payment, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.ClientID != actingClientID {
		return nil, apperror.ErrForbidden
	}

	dispute := &models.PaymentDispute{
		InitiatorID: actingClientID,
		Reason:      reason,
		Description: description,
		Status:      models.DisputeStatusOpen,
	}
	entry := s.historyEntry("payment_refunded", fmt.Sprintf("Средства возвращены клиенту: %s", reason), actingClientID)

	updated, err := s.payments.Refund(ctx, paymentID, dispute, entry)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentWrongStatus) {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "вернуть можно только удержанный платёж")
		}
		return nil, storeError(err, "не удалось вернуть средства")
	}
	return updated, nil
}

// Dispute открывает спор по удержанному платежу. Инициировать его может любая
// из сторон сделки.
func (s *PaymentService) Dispute(ctx context.Context, paymentID, actingUserID uuid.UUID, reason, description string) (*models.Payment, error) {
	if reason == "" {
		return nil, apperror.New(apperror.ErrCodeInvalidArgument, "причина спора обязательна")
	}

	payment, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !payment.IsParticipant(actingUserID) {
		return nil, apperror.ErrForbidden
	}

	dispute := &models.PaymentDispute{
		InitiatorID: actingUserID,
		Reason:      reason,
		Description: description,
		Status:      models.DisputeStatusOpen,
	}
	entry := s.historyEntry("payment_disputed", fmt.Sprintf("Открыт спор: %s", reason), actingUserID)

	updated, err := s.payments.OpenDispute(ctx, paymentID, dispute, entry)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentWrongStatus) {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "оспорить можно только удержанный платёж")
		}
		return nil, storeError(err, "не удалось открыть спор")
	}
	return updated, nil
}

// ResolveDispute закрывает спор решением в пользу одной из сторон: release
// освобождает средства фрилансеру, refund возвращает их клиенту.
func (s *PaymentService) ResolveDispute(ctx context.Context, paymentID, actingUserID uuid.UUID, outcome, resolution string) (*models.Payment, error) {
	var toStatus string
	switch outcome {
	case "release":
		toStatus = models.PaymentStatusReleased
	case "refund":
		toStatus = models.PaymentStatusRefunded
	default:
		return nil, apperror.New(apperror.ErrCodeInvalidArgument, "исход спора должен быть release или refund")
	}

	payment, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !payment.IsParticipant(actingUserID) {
		return nil, apperror.ErrForbidden
	}

	entry := s.historyEntry("dispute_resolved", fmt.Sprintf("Спор разрешён (%s): %s", outcome, resolution), actingUserID)

	updated, err := s.payments.ResolveDispute(ctx, paymentID, toStatus, resolution, s.now(), entry)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentWrongStatus) {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "платёж не находится в споре")
		}
		return nil, storeError(err, "не удалось разрешить спор")
	}
	return updated, nil
}

// UpdateMilestone меняет статус этапа работы. Доступно только фрилансеру платежа.
func (s *PaymentService) UpdateMilestone(ctx context.Context, paymentID, actingFreelancerID uuid.UUID, status string, notes *string) (*models.Payment, error) {
	if _, ok := models.ValidMilestoneStatuses[status]; !ok {
		return nil, apperror.New(apperror.ErrCodeInvalidArgument, "недопустимый статус этапа")
	}

	payment, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.FreelancerID != actingFreelancerID {
		return nil, apperror.ErrForbidden
	}

	entry := s.historyEntry("milestone_updated", fmt.Sprintf("Статус этапа изменён на %s", status), actingFreelancerID)

	updated, err := s.payments.UpdateMilestone(ctx, paymentID, status, notes, entry)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrPaymentNotFound):
			return nil, apperror.ErrPaymentNotFound
		case errors.Is(err, repository.ErrNoMilestone):
			return nil, apperror.New(apperror.ErrCodeInvalidArgument, "у платежа нет этапа работы")
		default:
			return nil, storeError(err, "не удалось обновить этап")
		}
	}
	return updated, nil
}

// GetByID возвращает платёж со всеми вложенными записями. Видят его только стороны сделки.
func (s *PaymentService) GetByID(ctx context.Context, paymentID, actingUserID uuid.UUID) (*models.Payment, error) {
	payment, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !payment.IsParticipant(actingUserID) {
		return nil, apperror.ErrForbidden
	}
	return payment, nil
}

// ListOwn возвращает платежи, где пользователь выступает любой из сторон.
func (s *PaymentService) ListOwn(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Payment, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	payments, err := s.payments.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, storeError(err, "не удалось загрузить платежи")
	}
	return payments, nil
}

// computeFees считает комиссии с округлением до цента.
func (s *PaymentService) computeFees(amount float64) (platformFee, processingFee, freelancerAmount float64) {
	platformFee = roundCents(amount * s.fees.PlatformRate)
	processingFee = roundCents(amount*s.fees.ProcessingRate + s.fees.ProcessingFixed)
	freelancerAmount = roundCents(amount - platformFee - processingFee)
	return platformFee, processingFee, freelancerAmount
}

// historyEntry собирает запись журнала с меткой времени сервиса.
func (s *PaymentService) historyEntry(action, description string, performedBy uuid.UUID) *models.PaymentHistoryEntry {
	return &models.PaymentHistoryEntry{
		Action:      action,
		Description: description,
		PerformedBy: performedBy,
		CreatedAt:   s.now(),
	}
}

// getPayment загружает платёж и переводит ошибки хранилища в доменные.
func (s *PaymentService) getPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	payment, err := s.payments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			return nil, apperror.ErrPaymentNotFound
		}
		return nil, storeError(err, "не удалось загрузить платёж")
	}
	return payment, nil
}

// roundCents округляет денежную сумму до двух знаков.
func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
