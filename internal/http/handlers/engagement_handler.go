package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/marketplace-backend/internal/http/handlers/common"
	"github.com/ignatzorin/marketplace-backend/internal/service"
)

// EngagementHandler отдаёт сводку по сделке.
type EngagementHandler struct {
	engagement *service.EngagementService
}

// NewEngagementHandler создаёт новый хэндлер.
func NewEngagementHandler(engagement *service.EngagementService) *EngagementHandler {
	return &EngagementHandler{engagement: engagement}
}

// GetState GET /projects/:id/engagement
func (h *EngagementHandler) GetState(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	projectID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	state, err := h.engagement.GetState(c.Request.Context(), projectID, userID)
	if err != nil {
		common.RespondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, state)
}
