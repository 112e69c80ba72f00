package ws

import (
	"github.com/google/uuid"

	"github.com/ignatzorin/marketplace-backend/internal/models"
	"github.com/ignatzorin/marketplace-backend/internal/service"
)

// EventRouter принимает доменные события координатора и доставляет их
// заинтересованным сторонам через сервис уведомлений (сохранение + WebSocket).
type EventRouter struct {
	notifications *service.NotificationService
}

// NewEventRouter создаёт маршрутизатор событий.
func NewEventRouter(notifications *service.NotificationService) *EventRouter {
	return &EventRouter{notifications: notifications}
}

// Publish реализует service.EventPublisher. Получатели определяются по типу
// полезной нагрузки: предложение адресуется фрилансеру, платёж — обеим сторонам.
func (r *EventRouter) Publish(event string, payload interface{}) {
	for _, userID := range recipients(payload) {
		r.notifications.NotifyAsync(userID, event, payload)
	}
}

func recipients(payload interface{}) []uuid.UUID {
	switch v := payload.(type) {
	case *models.Proposal:
		return []uuid.UUID{v.FreelancerID}
	case *models.Payment:
		return []uuid.UUID{v.ClientID, v.FreelancerID}
	default:
		return nil
	}
}
