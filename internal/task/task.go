// Package task manages sidebar tasks: the work items automation assigns to
// employees, with one-click quick actions.
package task

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opsdesk/opsdesk/internal/capability"
	"github.com/opsdesk/opsdesk/internal/models"
	"github.com/opsdesk/opsdesk/pkg/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Quick action names.
const (
	ActionOpenDrive    = "open_drive"
	ActionUpdateStatus = "update_status"
	ActionShareFile    = "share_file"
)

var (
	ErrNotFound      = errors.New("task: not found")
	ErrNotAssignee   = errors.New("task: not assigned to actor")
	ErrNotPending    = errors.New("task: not pending")
	ErrUnknownAction = errors.New("task: unknown quick action")
)

type Service struct {
	db   *gorm.DB
	docs capability.DocumentStore
	now  func() time.Time
}

func NewService(db *gorm.DB, docs capability.DocumentStore) *Service {
	return &Service{db: db, docs: docs, now: func() time.Time { return time.Now().UTC() }}
}

type CreateRequest struct {
	TaskType      string
	Title         string
	Description   string
	EmployeeEmail string
	Priority      models.TaskPriority
	SLA           time.Duration
	RelatedType   string
	RelatedID     string
	QuickActions  []models.QuickAction
}

func (s *Service) Create(ctx context.Context, req *CreateRequest) (*models.SidebarTask, error) {
	if strings.TrimSpace(req.EmployeeEmail) == "" {
		return nil, errors.New("task: assignee is required")
	}

	priority := req.Priority
	if priority == "" {
		priority = models.TaskPriorityNormal
	}

	t := &models.SidebarTask{
		ID:            uuid.New(),
		TaskType:      req.TaskType,
		Title:         req.Title,
		Description:   req.Description,
		EmployeeEmail: req.EmployeeEmail,
		Priority:      priority,
		Status:        models.TaskStatusPending,
		DueAt:         s.now().Add(req.SLA),
		RelatedType:   req.RelatedType,
		RelatedID:     req.RelatedID,
		QuickActions:  datatypes.JSONSlice[models.QuickAction](req.QuickActions),
	}
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, err
	}
	return t, nil
}

type ListRequest struct {
	EmployeeEmail string
	Status        string
	Limit         int
	Offset        int
}

// List returns tasks, most urgent due date first.
func (s *Service) List(ctx context.Context, req *ListRequest) (models.SidebarTasks, error) {
	tasks := make(models.SidebarTasks, 0)
	q := s.db.WithContext(ctx)

	if req.EmployeeEmail != "" {
		q = q.Where("employee_email = ?", req.EmployeeEmail)
	}
	if req.Status != "" {
		q = q.Where("status = ?", strings.ToLower(req.Status))
	}
	if req.Limit > 0 {
		q = q.Limit(req.Limit)
	}
	if req.Offset > 0 {
		q = q.Offset(req.Offset)
	}

	if err := q.Order("due_at").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.SidebarTask, error) {
	t := &models.SidebarTask{}
	err := s.db.WithContext(ctx).First(t, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return t, err
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID, actor string) (*models.SidebarTask, error) {
	return s.close(ctx, id, actor, models.TaskStatusCompleted, "completed_at")
}

func (s *Service) Dismiss(ctx context.Context, id uuid.UUID, actor string) (*models.SidebarTask, error) {
	return s.close(ctx, id, actor, models.TaskStatusDismissed, "dismissed_at")
}

func (s *Service) close(ctx context.Context, id uuid.UUID, actor string, status models.TaskStatus, column string) (*models.SidebarTask, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(t.EmployeeEmail, actor) {
		return nil, ErrNotAssignee
	}

	result := s.db.WithContext(ctx).
		Model(&models.SidebarTask{}).
		Where("id = ? AND status = ?", id, models.TaskStatusPending).
		Updates(map[string]interface{}{"status": status, column: s.now()})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotPending
	}
	return s.Get(ctx, id)
}

// RunQuickAction performs the named quick action of a pending task and
// returns its result. update_status completes the task.
func (s *Service) RunQuickAction(ctx context.Context, id uuid.UUID, actor, action string) (map[string]any, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(t.EmployeeEmail, actor) {
		return nil, ErrNotAssignee
	}
	if t.Status != models.TaskStatusPending {
		return nil, ErrNotPending
	}

	var qa *models.QuickAction
	for i := range t.QuickActions {
		if t.QuickActions[i].Action == action {
			qa = &t.QuickActions[i]
			break
		}
	}
	if qa == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	fileID := qa.Params["file_id"]
	if fileID == "" && t.RelatedType == "drive_item" {
		fileID = t.RelatedID
	}

	switch qa.Action {
	case ActionOpenDrive:
		return map[string]any{"url": "https://drive.google.com/open?id=" + fileID}, nil

	case ActionShareFile:
		role := qa.Params["role"]
		if role == "" {
			role = "reader"
		}
		permID, err := s.docs.GrantAccess(ctx, fileID, qa.Params["principal"], role)
		if err != nil {
			return nil, err
		}
		return map[string]any{"permission_id": permID}, nil

	case ActionUpdateStatus:
		return s.updateStatus(ctx, t, fileID, qa.Params["status"])
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
}

func (s *Service) updateStatus(ctx context.Context, t *models.SidebarTask, fileID, status string) (map[string]any, error) {
	file, err := s.docs.Describe(ctx, fileID)
	if err != nil {
		return nil, err
	}

	name := Retag(file.Name, status)
	if _, err := s.docs.Rename(ctx, fileID, name); err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).
		Model(&models.DriveItem{}).
		Where("gid = ?", fileID).
		Updates(map[string]interface{}{"name": name, "status": models.FileStatus(name)}).Error; err != nil {
		log.Warn("failed to record renamed drive item", "gid", fileID, "error", err)
	}

	if _, err := s.Complete(ctx, t.ID, t.EmployeeEmail); err != nil {
		return nil, err
	}
	return map[string]any{"new_name": name}, nil
}

var statusPrefix = regexp.MustCompile(`^\[[A-Za-z_]+\](_@[^_\s]+)?_?`)

// Retag replaces the leading [TAG] (and reviewer marker) of a document
// name with [STATUS].
func Retag(name, status string) string {
	rest := statusPrefix.ReplaceAllString(strings.TrimSpace(name), "")
	tag := "[" + strings.ToUpper(status) + "]"
	if rest == "" {
		return tag
	}
	return tag + "_" + rest
}
