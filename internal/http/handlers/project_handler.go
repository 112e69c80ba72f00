package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/marketplace-backend/internal/dto"
	"github.com/ignatzorin/marketplace-backend/internal/http/handlers/common"
	"github.com/ignatzorin/marketplace-backend/internal/repository"
	"github.com/ignatzorin/marketplace-backend/internal/service"
	"github.com/ignatzorin/marketplace-backend/internal/storage"
)

// ProjectHandler обслуживает проекты и их вложения.
type ProjectHandler struct {
	projects *service.ProjectService
	files    *storage.FileStorage
}

// NewProjectHandler создаёт новый хэндлер.
func NewProjectHandler(projects *service.ProjectService, files *storage.FileStorage) *ProjectHandler {
	return &ProjectHandler{projects: projects, files: files}
}

// Create POST /projects
func (h *ProjectHandler) Create(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "title, description и total_budget обязательны")
		return
	}

	project, err := h.projects.Create(c.Request.Context(), service.CreateProjectInput{
		Title:        req.Title,
		Description:  req.Description,
		TotalBudget:  req.TotalBudget,
		Currency:     req.Currency,
		MaxProposals: req.MaxProposals,
		DeadlineAt:   req.DeadlineAt,
	}, userID)
	if err != nil {
		common.RespondDomainError(c, err)
		return
	}

	c.JSON(http.StatusCreated, project)
}

// Get GET /projects/:id
func (h *ProjectHandler) Get(c *gin.Context) {
	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	project, err := h.projects.GetByID(c.Request.Context(), id)
	if err != nil {
		common.RespondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, project)
}

// List GET /projects
func (h *ProjectHandler) List(c *gin.Context) {
	limit, offset := common.GetPagination(c)

	filter := repository.ProjectFilter{
		Status: c.Query("status"),
		Limit:  limit,
		Offset: offset,
	}
	if clientStr := c.Query("client_id"); clientStr != "" {
		clientID, err := uuid.Parse(clientStr)
		if err != nil {
			common.RespondBadRequest(c, "неверный client_id")
			return
		}
		filter.ClientID = &clientID
	}

	projects, err := h.projects.List(c.Request.Context(), filter)
	if err != nil {
		common.RespondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ListResponse{Items: projects, Limit: limit, Offset: offset})
}

// Update PUT /projects/:id
func (h *ProjectHandler) Update(c *gin.Context) {
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

	var req dto.UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	project, err := h.projects.Update(c.Request.Context(), id, service.UpdateProjectInput{
		Title:       req.Title,
		Description: req.Description,
		TotalBudget: req.TotalBudget,
		DeadlineAt:  req.DeadlineAt,
	}, userID)
	if err != nil {
		common.RespondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, project)
}

// Cancel POST /projects/:id/cancel
func (h *ProjectHandler) Cancel(c *gin.Context) {
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

	project, err := h.projects.Cancel(c.Request.Context(), id, userID)
	if err != nil {
		common.RespondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, project)
}

// Complete POST /projects/:id/complete
func (h *ProjectHandler) Complete(c *gin.Context) {
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

	project, err := h.projects.Complete(c.Request.Context(), id, userID)
	if err != nil {
		common.RespondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, project)
}

// Delete DELETE /projects/:id
func (h *ProjectHandler) Delete(c *gin.Context) {
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

	if err := h.projects.Delete(c.Request.Context(), id, userID); err != nil {
		common.RespondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.SuccessResponse{Message: "проект удалён"})
}

// UploadAttachment POST /projects/:id/attachments
func (h *ProjectHandler) UploadAttachment(c *gin.Context) {
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

	fileHeader, err := c.FormFile("file")
	if err != nil {
		common.RespondBadRequest(c, "файл обязателен")
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		common.RespondBadRequest(c, "не удалось прочитать файл")
		return
	}
	defer f.Close()

	saved, err := h.files.Save(c.Request.Context(), id, fileHeader.Filename, f)
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	att, err := h.projects.AddAttachment(c.Request.Context(), id, userID, saved.RelativePath, saved.ContentType, saved.Size)
	if err != nil {
		// Запись о вложении не создана, убираем файл из хранилища.
		_ = h.files.Delete(c.Request.Context(), saved.RelativePath)
		common.RespondDomainError(c, err)
		return
	}

	c.JSON(http.StatusCreated, att)
}

// ListAttachments GET /projects/:id/attachments
func (h *ProjectHandler) ListAttachments(c *gin.Context) {
	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	attachments, err := h.projects.ListAttachments(c.Request.Context(), id)
	if err != nil {
		common.RespondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"attachments": attachments})
}
