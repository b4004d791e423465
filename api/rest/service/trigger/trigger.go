package trigger

import (
	"context"
	"errors"
	"slices"

	"github.com/google/uuid"
	"github.com/opsdesk/opsdesk/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("trigger: not found")

var orderable = []string{"trigger_name", "trigger_type", "is_active", "created_at", "updated_at"}

type Service struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Service {
	return &Service{db: db}
}

type ListRequest struct {
	Limit   uint64
	Offset  uint64
	OrderBy []string
	Type    string
	Active  *bool
}

func (s *Service) List(ctx context.Context, req *ListRequest) (models.AutomationTriggers, error) {
	triggers := make(models.AutomationTriggers, 0)
	q := s.db.WithContext(ctx)

	if req.Type != "" {
		q = q.Where("trigger_type = ?", req.Type)
	}

	if req.Active != nil {
		q = q.Where("is_active = ?", *req.Active)
	}

	if len(req.OrderBy) == 0 {
		req.OrderBy = []string{"trigger_name"}
	}
	for _, col := range req.OrderBy {
		if !slices.Contains(orderable, col) {
			return nil, errors.New("trigger: cannot order by " + col)
		}
		q = q.Order(clause.OrderByColumn{Column: clause.Column{Name: col}})
	}

	if req.Limit > 0 {
		q = q.Limit(int(req.Limit))
	}

	if req.Offset > 0 {
		q = q.Offset(int(req.Offset))
	}

	return triggers, q.Find(&triggers).Error
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.AutomationTrigger, error) {
	t := &models.AutomationTrigger{}
	err := s.db.WithContext(ctx).First(t, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return t, err
}

// SetActive flips is_active, the only trigger field mutable at runtime.
func (s *Service) SetActive(ctx context.Context, id uuid.UUID, active bool) (*models.AutomationTrigger, error) {
	result := s.db.WithContext(ctx).
		Model(&models.AutomationTrigger{}).
		Where("id = ?", id).
		Update("is_active", active)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}
