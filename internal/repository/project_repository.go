package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/marketplace-backend/internal/models"
)

// Ошибки уровня репозитория.
var (
	ErrProjectNotFound   = errors.New("project not found")
	ErrProjectNotOpen    = errors.New("project is not open")
	ErrProjectHasWorker  = errors.New("project already has a selected freelancer")
	ErrNotProjectOwner   = errors.New("user is not the project owner")
	ErrAttachmentMissing = errors.New("attachment not found")
)

// ProjectRepository отвечает за работу с проектами.
type ProjectRepository struct {
	db *sqlx.DB
}

// NewProjectRepository создаёт новый экземпляр.
func NewProjectRepository(db *sqlx.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

const projectColumns = `
	id, client_id, title, description, total_budget, currency, status,
	max_proposals, selected_freelancer_id, deadline_at, created_at, updated_at
`

// GetByID возвращает проект по идентификатору.
func (r *ProjectRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	var project models.Project
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	if err := r.db.GetContext(ctx, &project, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("project repository: get by id %w", err)
	}
	return &project, nil
}

// Create сохраняет новый проект.
func (r *ProjectRepository) Create(ctx context.Context, project *models.Project) error {
	query := `
		INSERT INTO projects (client_id, title, description, total_budget, currency, status, max_proposals, deadline_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`
	if err := r.db.QueryRowxContext(
		ctx,
		query,
		project.ClientID,
		project.Title,
		project.Description,
		project.TotalBudget,
		project.Currency,
		project.Status,
		project.MaxProposals,
		project.DeadlineAt,
	).Scan(&project.ID, &project.CreatedAt, &project.UpdatedAt); err != nil {
		return fmt.Errorf("project repository: insert %w", err)
	}
	return nil
}

// ProjectFilter параметры выборки проектов.
type ProjectFilter struct {
	Status   string
	ClientID *uuid.UUID
	Limit    int
	Offset   int
}

// List возвращает проекты с количеством предложений по каждому.
// Количество — производная проекция, единственный источник истины о
// предложениях остаётся в таблице proposals.
func (r *ProjectRepository) List(ctx context.Context, filter ProjectFilter) ([]models.Project, error) {
	query := `
		SELECT p.id, p.client_id, p.title, p.description, p.total_budget, p.currency,
		       p.status, p.max_proposals, p.selected_freelancer_id, p.deadline_at,
		       p.created_at, p.updated_at,
		       COUNT(pr.id) FILTER (WHERE pr.status <> 'withdrawn') AS proposals_count
		FROM projects p
		LEFT JOIN proposals pr ON pr.project_id = p.id
	`
	args := []interface{}{}
	where := ""
	argIndex := 1

	if filter.Status != "" {
		where = fmt.Sprintf(" WHERE p.status = $%d", argIndex)
		args = append(args, filter.Status)
		argIndex++
	}
	if filter.ClientID != nil {
		if where == "" {
			where = fmt.Sprintf(" WHERE p.client_id = $%d", argIndex)
		} else {
			where += fmt.Sprintf(" AND p.client_id = $%d", argIndex)
		}
		args = append(args, *filter.ClientID)
		argIndex++
	}

	query += where + " GROUP BY p.id ORDER BY p.created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
		argIndex++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, filter.Offset)
	}

	var projects []models.Project
	if err := r.db.SelectContext(ctx, &projects, query, args...); err != nil {
		return nil, fmt.Errorf("project repository: list %w", err)
	}
	return projects, nil
}

// Update изменяет описательные поля проекта. Статус и выбранный фрилансер
// меняются только через операции жизненного цикла, здесь они не затрагиваются.
func (r *ProjectRepository) Update(ctx context.Context, project *models.Project) error {
	query := `
		UPDATE projects
		SET title = $1,
		    description = $2,
		    total_budget = $3,
		    max_proposals = $4,
		    deadline_at = $5,
		    updated_at = NOW()
		WHERE id = $6 AND client_id = $7
		RETURNING updated_at
	`
	if err := r.db.QueryRowxContext(
		ctx,
		query,
		project.Title,
		project.Description,
		project.TotalBudget,
		project.MaxProposals,
		project.DeadlineAt,
		project.ID,
		project.ClientID,
	).Scan(&project.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrProjectNotFound
		}
		return fmt.Errorf("project repository: update %w", err)
	}
	return nil
}

// UpdateStatus переводит проект в новый статус, проверяя текущий.
func (r *ProjectRepository) UpdateStatus(ctx context.Context, id uuid.UUID, fromStatus, toStatus string) (*models.Project, error) {
	var project models.Project
	query := `
		UPDATE projects
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
		RETURNING ` + projectColumns
	if err := r.db.GetContext(ctx, &project, query, toStatus, id, fromStatus); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProjectNotOpen
		}
		return nil, fmt.Errorf("project repository: update status %w", err)
	}
	return &project, nil
}

// Delete удаляет проект клиента. Разрешено только пока проект открыт.
func (r *ProjectRepository) Delete(ctx context.Context, id uuid.UUID, clientID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM projects WHERE id = $1 AND client_id = $2 AND status = 'open'
	`, id, clientID)
	if err != nil {
		return fmt.Errorf("project repository: delete %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("project repository: delete rows affected %w", err)
	}
	if affected == 0 {
		return ErrProjectNotOpen
	}
	return nil
}

// AddAttachment сохраняет метаданные файла, прикреплённого к проекту.
func (r *ProjectRepository) AddAttachment(ctx context.Context, att *models.ProjectAttachment) error {
	query := `
		INSERT INTO project_attachments (project_id, file_path, file_type, file_size)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	if err := r.db.QueryRowxContext(ctx, query, att.ProjectID, att.FilePath, att.FileType, att.FileSize).
		Scan(&att.ID, &att.CreatedAt); err != nil {
		return fmt.Errorf("project repository: add attachment %w", err)
	}
	return nil
}

// ListAttachments возвращает файлы проекта.
func (r *ProjectRepository) ListAttachments(ctx context.Context, projectID uuid.UUID) ([]models.ProjectAttachment, error) {
	var attachments []models.ProjectAttachment
	query := `
		SELECT id, project_id, file_path, file_type, file_size, created_at
		FROM project_attachments WHERE project_id = $1 ORDER BY created_at
	`
	if err := r.db.SelectContext(ctx, &attachments, query, projectID); err != nil {
		return nil, fmt.Errorf("project repository: list attachments %w", err)
	}
	return attachments, nil
}
