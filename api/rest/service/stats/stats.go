package stats

import (
	"context"
	"sort"
	"time"

	"github.com/opsdesk/opsdesk/internal/models"
	"gorm.io/gorm"
)

// DefaultWindow bounds the per-template summary.
const DefaultWindow = 7 * 24 * time.Hour

// Response is the top-level automation status payload.
type Response struct {
	Since            time.Time         `json:"since"`
	Executions       ExecutionStats    `json:"executions"`
	Summary          []TemplateSummary `json:"automation_summary"`
	TopFailing       []FailingTrigger  `json:"top_failing"`
	SlowestTemplates []SlowestTemplate `json:"slowest_templates"`
}

// ExecutionStats contains aggregate execution statistics over all time.
type ExecutionStats struct {
	Total              int64   `json:"total"`
	Pending            int64   `json:"pending"`
	Running            int64   `json:"running"`
	Completed          int64   `json:"completed"`
	Failed             int64   `json:"failed"`
	SuccessRate        float64 `json:"success_rate"`
	AvgDurationSeconds float64 `json:"avg_duration_seconds"`
}

// TemplateSummary counts finished executions of one template in one status.
type TemplateSummary struct {
	ActionTemplate string                 `json:"action_template"`
	Status         models.ExecutionStatus `json:"status"`
	Count          int64                  `json:"count"`
	LastExecution  *time.Time             `json:"last_execution"`
}

// FailingTrigger describes a frequently failing trigger.
type FailingTrigger struct {
	TriggerID    string     `json:"trigger_id"`
	TriggerName  string     `json:"trigger_name"`
	FailureCount int64      `json:"failure_count"`
	LastFailure  *time.Time `json:"last_failure"`
}

// SlowestTemplate describes a template with a high average duration.
type SlowestTemplate struct {
	ActionTemplate     string  `json:"action_template"`
	AvgDurationSeconds float64 `json:"avg_duration_seconds"`
}

// Service provides execution statistics queries.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Service {
	return &Service{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// durationExpr returns a SQL expression computing the difference in seconds
// between completed_at and started_at for the dialect in use.
func (s *Service) durationExpr() string {
	if s.db.Dialector.Name() == "postgres" {
		return "EXTRACT(EPOCH FROM (e.completed_at - e.started_at))"
	}
	return "(JULIANDAY(e.completed_at) - JULIANDAY(e.started_at)) * 86400"
}

func (s *Service) executions(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table("automation_executions AS e")
}

// Get computes execution statistics. The summary, failing and slowest
// sections only cover executions finished within window.
func (s *Service) Get(ctx context.Context, window time.Duration) (*Response, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	resp := &Response{Since: s.now().Add(-window)}

	if err := s.totals(ctx, &resp.Executions); err != nil {
		return nil, err
	}

	var err error
	if resp.Summary, err = s.summary(ctx, resp.Since); err != nil {
		return nil, err
	}
	if resp.TopFailing, err = s.topFailing(ctx, resp.Since); err != nil {
		return nil, err
	}
	if resp.SlowestTemplates, err = s.slowest(ctx, resp.Since); err != nil {
		return nil, err
	}

	return resp, nil
}

func (s *Service) totals(ctx context.Context, out *ExecutionStats) error {
	var rows []struct {
		Status models.ExecutionStatus
		Count  int64
	}
	if err := s.executions(ctx).
		Select("e.status AS status, COUNT(*) AS count").
		Group("e.status").
		Scan(&rows).Error; err != nil {
		return err
	}

	for _, row := range rows {
		out.Total += row.Count
		switch row.Status {
		case models.ExecutionStatusPending:
			out.Pending = row.Count
		case models.ExecutionStatusRunning:
			out.Running = row.Count
		case models.ExecutionStatusCompleted:
			out.Completed = row.Count
		case models.ExecutionStatusFailed:
			out.Failed = row.Count
		}
	}
	if finished := out.Completed + out.Failed; finished > 0 {
		out.SuccessRate = float64(out.Completed) / float64(finished)
	}

	var avg struct{ Avg *float64 }
	if err := s.executions(ctx).
		Select("AVG("+s.durationExpr()+") AS avg").
		Where("e.completed_at IS NOT NULL AND e.started_at IS NOT NULL").
		Scan(&avg).Error; err != nil {
		return err
	}
	if avg.Avg != nil {
		out.AvgDurationSeconds = *avg.Avg
	}
	return nil
}

func (s *Service) summary(ctx context.Context, since time.Time) ([]TemplateSummary, error) {
	var rows []struct {
		ActionTemplate string
		Status         models.ExecutionStatus
		Count          int64
	}
	if err := s.executions(ctx).
		Select("t.action_template AS action_template, e.status AS status, COUNT(*) AS count").
		Joins("JOIN automation_triggers t ON t.id = e.trigger_id").
		Where("e.completed_at > ?", since).
		Group("t.action_template, e.status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]TemplateSummary, 0, len(rows))
	for _, row := range rows {
		last, err := s.lastCompleted(ctx,
			s.executions(ctx).
				Joins("JOIN automation_triggers t ON t.id = e.trigger_id").
				Where("t.action_template = ? AND e.status = ?", row.ActionTemplate, row.Status))
		if err != nil {
			return nil, err
		}
		out = append(out, TemplateSummary{
			ActionTemplate: row.ActionTemplate,
			Status:         row.Status,
			Count:          row.Count,
			LastExecution:  last,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastExecution, out[j].LastExecution
		if a == nil || b == nil {
			return a != nil
		}
		return a.After(*b)
	})
	return out, nil
}

func (s *Service) topFailing(ctx context.Context, since time.Time) ([]FailingTrigger, error) {
	var rows []struct {
		TriggerID    string
		TriggerName  string
		FailureCount int64
	}
	if err := s.executions(ctx).
		Select("e.trigger_id AS trigger_id, t.trigger_name AS trigger_name, COUNT(*) AS failure_count").
		Joins("JOIN automation_triggers t ON t.id = e.trigger_id").
		Where("e.status = ? AND e.completed_at > ?", models.ExecutionStatusFailed, since).
		Group("e.trigger_id, t.trigger_name").
		Order("failure_count DESC, trigger_name").
		Limit(5).
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]FailingTrigger, 0, len(rows))
	for _, row := range rows {
		last, err := s.lastCompleted(ctx,
			s.executions(ctx).Where("e.trigger_id = ? AND e.status = ?", row.TriggerID, models.ExecutionStatusFailed))
		if err != nil {
			return nil, err
		}
		out = append(out, FailingTrigger{
			TriggerID:    row.TriggerID,
			TriggerName:  row.TriggerName,
			FailureCount: row.FailureCount,
			LastFailure:  last,
		})
	}
	return out, nil
}

func (s *Service) slowest(ctx context.Context, since time.Time) ([]SlowestTemplate, error) {
	var rows []struct {
		ActionTemplate string
		Avg            float64
	}
	if err := s.executions(ctx).
		Select("t.action_template AS action_template, AVG("+s.durationExpr()+") AS avg").
		Joins("JOIN automation_triggers t ON t.id = e.trigger_id").
		Where("e.completed_at > ? AND e.started_at IS NOT NULL", since).
		Group("t.action_template").
		Order("avg DESC").
		Limit(5).
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]SlowestTemplate, 0, len(rows))
	for _, row := range rows {
		out = append(out, SlowestTemplate{ActionTemplate: row.ActionTemplate, AvgDurationSeconds: row.Avg})
	}
	return out, nil
}

// lastCompleted reads the newest completed_at through the model column so
// every driver hands back a typed timestamp.
func (s *Service) lastCompleted(ctx context.Context, q *gorm.DB) (*time.Time, error) {
	var rows []struct{ CompletedAt *time.Time }
	if err := q.Select("e.completed_at AS completed_at").
		Where("e.completed_at IS NOT NULL").
		Order("e.completed_at DESC").
		Limit(1).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].CompletedAt, nil
}
