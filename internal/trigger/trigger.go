// Package trigger decides which automation trigger an incoming business
// event fires and finds pending executions for the runner.
package trigger

import (
	"context"
	"fmt"
	"sort"

	"github.com/opsdesk/opsdesk/internal/execution"
	"github.com/opsdesk/opsdesk/internal/metrics"
	"github.com/opsdesk/opsdesk/internal/models"
	"github.com/opsdesk/opsdesk/pkg/log"
	"gorm.io/gorm"
)

// DefaultBatch bounds one polling pass.
const DefaultBatch = 10

// Pending is an execution ready to run together with what drives it.
type Pending struct {
	Event     models.BusinessEvent
	Trigger   *models.AutomationTrigger
	Execution *models.AutomationExecution
}

type Matcher struct {
	store *execution.Store
	db    *gorm.DB
}

func NewMatcher(store *execution.Store) *Matcher {
	if store == nil {
		panic("trigger matcher requires an execution store")
	}
	return &Matcher{store: store, db: store.DB()}
}

var sourceTypes = []models.TriggerType{
	models.TriggerTypeEmailReceived,
	models.TriggerTypeFileStatusChanged,
	models.TriggerTypeCustomerCreated,
}

// FindPending returns up to limit pending executions of active triggers
// whose source event is still pending, oldest first. It does not claim
// anything; the runner's claim decides who runs each execution.
func (m *Matcher) FindPending(ctx context.Context, limit int) ([]Pending, error) {
	if limit <= 0 {
		limit = DefaultBatch
	}

	var execs models.AutomationExecutions
	for _, t := range sourceTypes {
		table, key, _ := models.SourceTable(t)

		var batch models.AutomationExecutions
		err := m.db.WithContext(ctx).
			Model(&models.AutomationExecution{}).
			Select("automation_executions.*").
			Joins("JOIN automation_triggers ON automation_triggers.id = automation_executions.trigger_id").
			Joins(fmt.Sprintf("JOIN %s src ON CAST(src.%s AS TEXT) = automation_executions.trigger_source_id", table, key)).
			Where("automation_executions.status = ?", models.ExecutionStatusPending).
			Where("automation_triggers.is_active = ?", true).
			Where("automation_triggers.trigger_type = ?", t).
			Where("src.automation_status = ?", models.AutomationStatusPending).
			Order("automation_executions.created_at ASC").
			Limit(limit).
			Find(&batch).Error
		if err != nil {
			return nil, fmt.Errorf("find pending %s executions: %w", t, err)
		}
		execs = append(execs, batch...)
	}

	sort.SliceStable(execs, func(i, j int) bool {
		return execs[i].CreatedAt.Before(execs[j].CreatedAt)
	})
	if len(execs) > limit {
		execs = execs[:limit]
	}

	triggers := map[string]*models.AutomationTrigger{}
	out := make([]Pending, 0, len(execs))
	for _, exec := range execs {
		trig, ok := triggers[exec.TriggerID.String()]
		if !ok {
			var err error
			if trig, err = m.store.Trigger(ctx, exec.TriggerID); err != nil {
				return nil, err
			}
			triggers[exec.TriggerID.String()] = trig
		}

		event, err := m.store.Event(ctx, trig.TriggerType, exec.TriggerSourceID)
		if err != nil {
			return nil, err
		}
		out = append(out, Pending{Event: event, Trigger: trig, Execution: exec})
	}
	return out, nil
}

// Match returns the first active trigger, by name, whose conditions hold
// for event.
func (m *Matcher) Match(ctx context.Context, event models.BusinessEvent) (*models.AutomationTrigger, error) {
	var triggers models.AutomationTriggers
	if err := m.db.WithContext(ctx).
		Where("trigger_type = ? AND is_active = ?", event.TriggerType(), true).
		Order("trigger_name ASC").
		Find(&triggers).Error; err != nil {
		return nil, err
	}

	attrs := event.Attributes()
	for _, t := range triggers {
		if Matches(t.Conditions, attrs) {
			return t, nil
		}
	}
	return nil, nil
}

// Enqueue creates a pending execution for event when an active trigger
// matches it. It returns nil when nothing matched and the already open
// execution when the same trigger is queued or running for the event.
func (m *Matcher) Enqueue(ctx context.Context, event models.BusinessEvent, actor string) (*models.AutomationExecution, error) {
	trig, err := m.Match(ctx, event)
	if err != nil {
		return nil, err
	}
	if trig == nil {
		log.Debug("no trigger matched", "type", event.TriggerType(), "source_id", event.SourceID())
		return nil, nil
	}

	exec, created, err := m.store.Enqueue(ctx, trig, event.SourceID(), actor)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", trig.TriggerName, err)
	}
	if created {
		metrics.TriggerFiresTotal.WithLabelValues(trig.TriggerName, string(trig.TriggerType)).Inc()
		log.Info("trigger fired",
			"trigger", trig.TriggerName, "type", trig.TriggerType,
			"source_id", event.SourceID(), "execution_id", exec.ID)
	}
	return exec, nil
}
