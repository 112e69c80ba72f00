package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/ignatzorin/marketplace-backend/internal/logger"
	"github.com/ignatzorin/marketplace-backend/internal/models"
	"github.com/ignatzorin/marketplace-backend/internal/pkg/apperror"
	"github.com/ignatzorin/marketplace-backend/internal/repository"
)

// NotificationStore описывает зависимости NotificationService от слоя хранилища.
type NotificationStore interface {
	Create(ctx context.Context, notification *models.Notification) error
	List(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, userID uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) error
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
}

// NotificationSender доставляет уведомление подключённому пользователю
// (WebSocket-хаб). Отсутствие подключения не является ошибкой.
type NotificationSender interface {
	SendToUser(userID uuid.UUID, payload interface{})
}

// NotificationService сохраняет уведомления и доставляет их онлайн-пользователям.
type NotificationService struct {
	store  NotificationStore
	sender NotificationSender
}

// NewNotificationService создаёт сервис уведомлений.
func NewNotificationService(store NotificationStore, sender NotificationSender) *NotificationService {
	return &NotificationService{store: store, sender: sender}
}

// Notify сохраняет уведомление и пытается доставить его адресату.
// Сбой доставки не откатывает сохранение.
func (s *NotificationService) Notify(ctx context.Context, userID uuid.UUID, event string, data interface{}) error {
	payload, err := json.Marshal(map[string]interface{}{
		"event": event,
		"data":  data,
	})
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сериализовать уведомление")
	}

	notification := &models.Notification{
		UserID:  userID,
		Payload: payload,
	}
	if err := s.store.Create(ctx, notification); err != nil {
		return storeError(err, "не удалось сохранить уведомление")
	}

	if s.sender != nil {
		s.sender.SendToUser(userID, notification)
	}
	return nil
}

// NotifyAsync — как Notify, но в фоне и без возврата ошибки вызывающему.
func (s *NotificationService) NotifyAsync(userID uuid.UUID, event string, data interface{}) {
	ctx := context.Background()
	if err := s.Notify(ctx, userID, event, data); err != nil {
		logger.WithComponent("notifications").
			WithField("user_id", userID).
			Warnf("уведомление не доставлено: %v", err)
	}
}

// List возвращает уведомления пользователя.
func (s *NotificationService) List(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	notifications, err := s.store.List(ctx, userID, limit, offset, unreadOnly)
	if err != nil {
		return nil, storeError(err, "не удалось загрузить уведомления")
	}
	return notifications, nil
}

// MarkRead помечает уведомление прочитанным.
func (s *NotificationService) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	if err := s.store.MarkRead(ctx, id, userID); err != nil {
		if errors.Is(err, repository.ErrNotificationNotFound) {
			return apperror.New(apperror.ErrCodeNotFound, "уведомление не найдено")
		}
		return storeError(err, "не удалось обновить уведомление")
	}
	return nil
}

// MarkAllRead помечает все уведомления пользователя прочитанными.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	if err := s.store.MarkAllRead(ctx, userID); err != nil {
		return storeError(err, "не удалось обновить уведомления")
	}
	return nil
}

// CountUnread возвращает число непрочитанных уведомлений.
func (s *NotificationService) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	count, err := s.store.CountUnread(ctx, userID)
	if err != nil {
		return 0, storeError(err, "не удалось посчитать уведомления")
	}
	return count, nil
}
