package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/marketplace-backend/internal/dto"
	"github.com/ignatzorin/marketplace-backend/internal/http/handlers/common"
	"github.com/ignatzorin/marketplace-backend/internal/service"
)

// ReviewHandler обслуживает отзывы.
type ReviewHandler struct {
	reviews *service.ReviewService
}

// NewReviewHandler создаёт новый хэндлер.
func NewReviewHandler(reviews *service.ReviewService) *ReviewHandler {
	return &ReviewHandler{reviews: reviews}
}

// Create POST /reviews
func (h *ReviewHandler) Create(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.CreateReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "project_id и rating (1-5) обязательны")
		return
	}

	projectID, err := uuid.Parse(req.ProjectID)
	if err != nil {
		common.RespondBadRequest(c, "неверный project_id")
		return
	}

	review, err := h.reviews.Create(c.Request.Context(), service.CreateReviewInput{
		ProjectID: projectID,
		Rating:    req.Rating,
		Comment:   req.Comment,
	}, userID)
	if err != nil {
		common.RespondDomainError(c, err)
		return
	}

	c.JSON(http.StatusCreated, review)
}

// ListUserReviews GET /users/:id/reviews
func (h *ReviewHandler) ListUserReviews(c *gin.Context) {
	userID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)

	reviews, err := h.reviews.ListByUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		common.RespondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ListResponse{Items: reviews, Limit: limit, Offset: offset})
}

// GetUserRating GET /users/:id/rating
func (h *ReviewHandler) GetUserRating(c *gin.Context) {
	userID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	rating, err := h.reviews.GetRating(c.Request.Context(), userID)
	if err != nil {
		common.RespondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, rating)
}
