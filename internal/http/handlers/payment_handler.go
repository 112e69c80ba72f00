package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/marketplace-backend/internal/dto"
	"github.com/ignatzorin/marketplace-backend/internal/http/handlers/common"
	"github.com/ignatzorin/marketplace-backend/internal/service"
)

// PaymentHandler обслуживает эскроу-платежи.
type PaymentHandler struct {
	payments   *service.PaymentService
	engagement *service.EngagementService
}

// NewPaymentHandler создаёт новый хэндлер.
func NewPaymentHandler(payments *service.PaymentService, engagement *service.EngagementService) *PaymentHandler {
	return &PaymentHandler{payments: payments, engagement: engagement}
}

// Create POST /payments
func (h *PaymentHandler) Create(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "project_id, freelancer_id, amount и method обязательны")
		return
	}

	projectID, err := uuid.Parse(req.ProjectID)
	if err != nil {
		common.RespondBadRequest(c, "неверный project_id")
		return
	}
	freelancerID, err := uuid.Parse(req.FreelancerID)
	if err != nil {
		common.RespondBadRequest(c, "неверный freelancer_id")
		return
	}

	in := service.CreatePaymentInput{
		ProjectID:    projectID,
		FreelancerID: freelancerID,
		Amount:       req.Amount,
		Method:       req.Method,
	}
	if req.Milestone != nil {
		in.Milestone = &service.MilestoneInput{
			Title:       req.Milestone.Title,
			Description: req.Milestone.Description,
			DueAt:       req.Milestone.DueAt,
		}
	}
	if req.Release != nil {
		in.Release = &service.ReleaseConditionsInput{
			AutoRelease:      req.Release.AutoRelease,
			AutoReleaseDays:  req.Release.AutoReleaseDays,
			RequiresApproval: req.Release.RequiresApproval,
		}
	}

	payment, err := h.payments.Create(c.Request.Context(), in, userID)
	if err != nil {
		common.RespondDomainError(c, err)
		return
	}

	c.JSON(http.StatusCreated, payment)
}

// Get GET /payments/:id
func (h *PaymentHandler) Get(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	payment, err := h.payments.GetByID(c.Request.Context(), id, userID)
	if err != nil {
		common.RespondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// ListOwn GET /payments
func (h *PaymentHandler) ListOwn(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)

	payments, err := h.payments.ListOwn(c.Request.Context(), userID, limit, offset)
	if err != nil {
		common.RespondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ListResponse{Items: payments, Limit: limit, Offset: offset})
}

// Process POST /payments/:id/process
func (h *PaymentHandler) Process(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.ProcessPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "external_ref обязателен")
		return
	}

	payment, err := h.payments.Process(c.Request.Context(), id, req.ExternalRef, userID)
	if err != nil {
		common.RespondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// Release POST /payments/:id/release
func (h *PaymentHandler) Release(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.ReleasePaymentRequest
	_ = c.ShouldBindJSON(&req)

	payment, err := h.engagement.ReleasePayment(c.Request.Context(), id, userID, req.Notes)
	if err != nil {
		common.RespondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// Cancel POST /payments/:id/cancel
func (h *PaymentHandler) Cancel(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	payment, err := h.payments.Cancel(c.Request.Context(), id, userID)
	if err != nil {
		common.RespondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// Refund POST /payments/:id/refund
func (h *PaymentHandler) Refund(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "reason обязателен")
		return
	}

	payment, err := h.payments.Refund(c.Request.Context(), id, userID, req.Reason, req.Description)
	if err != nil {
		common.RespondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// Dispute POST /payments/:id/dispute
func (h *PaymentHandler) Dispute(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "reason обязателен")
		return
	}

	payment, err := h.engagement.DisputePayment(c.Request.Context(), id, userID, req.Reason, req.Description)
	if err != nil {
		common.RespondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// Resolve POST /payments/:id/resolve
func (h *PaymentHandler) Resolve(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "outcome обязателен")
		return
	}

	payment, err := h.payments.ResolveDispute(c.Request.Context(), id, userID, req.Outcome, req.Resolution)
	if err != nil {
		common.RespondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// UpdateMilestone PUT /payments/:id/milestone
func (h *PaymentHandler) UpdateMilestone(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.UpdateMilestoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "status обязателен")
		return
	}

	payment, err := h.payments.UpdateMilestone(c.Request.Context(), id, userID, req.Status, req.Notes)
	if err != nil {
		common.RespondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}
