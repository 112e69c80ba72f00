package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/marketplace-backend/internal/dto"
	"github.com/ignatzorin/marketplace-backend/internal/http/handlers/common"
	"github.com/ignatzorin/marketplace-backend/internal/service"
)

// ProposalHandler обслуживает предложения фрилансеров.
type ProposalHandler struct {
	proposals  *service.ProposalService
	engagement *service.EngagementService
}

// NewProposalHandler создаёт новый хэндлер.
func NewProposalHandler(proposals *service.ProposalService, engagement *service.EngagementService) *ProposalHandler {
	return &ProposalHandler{proposals: proposals, engagement: engagement}
}

// Submit POST /proposals
func (h *ProposalHandler) Submit(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.SubmitProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "project_id, cover_letter, bid_amount и timeline_days обязательны")
		return
	}

	projectID, err := uuid.Parse(req.ProjectID)
	if err != nil {
		common.RespondBadRequest(c, "неверный project_id")
		return
	}

	proposal, err := h.proposals.Submit(c.Request.Context(), service.SubmitProposalInput{
		ProjectID:    projectID,
		FreelancerID: userID,
		CoverLetter:  req.CoverLetter,
		BidAmount:    req.BidAmount,
		TimelineDays: req.TimelineDays,
	})
	if err != nil {
		common.RespondDomainError(c, err)
		return
	}

	c.JSON(http.StatusCreated, proposal)
}

// Get GET /proposals/:id
func (h *ProposalHandler) Get(c *gin.Context) {
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

	proposal, err := h.proposals.GetByID(c.Request.Context(), id, userID)
	if err != nil {
		common.RespondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, proposal)
}

// Accept POST /proposals/:id/accept
//
// Принятие идёт через координатор сделок: помимо перехода статусов публикуются
// события и, если включено, создаётся платёж.
func (h *ProposalHandler) Accept(c *gin.Context) {
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

	proposal, err := h.engagement.AcceptProposal(c.Request.Context(), id, userID)
	if err != nil {
		common.RespondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, proposal)
}

// Reject POST /proposals/:id/reject
func (h *ProposalHandler) Reject(c *gin.Context) {
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

	proposal, err := h.proposals.Reject(c.Request.Context(), id, userID)
	if err != nil {
		common.RespondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, proposal)
}

// Withdraw POST /proposals/:id/withdraw
func (h *ProposalHandler) Withdraw(c *gin.Context) {
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

	proposal, err := h.proposals.Withdraw(c.Request.Context(), id, userID)
	if err != nil {
		common.RespondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, proposal)
}

// ListByProject GET /projects/:id/proposals
func (h *ProposalHandler) ListByProject(c *gin.Context) {
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

	proposals, err := h.proposals.ListByProject(c.Request.Context(), projectID, userID)
	if err != nil {
		common.RespondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"proposals": proposals})
}

// ListOwn GET /proposals
func (h *ProposalHandler) ListOwn(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	proposals, err := h.proposals.ListOwn(c.Request.Context(), userID)
	if err != nil {
		common.RespondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"proposals": proposals})
}
