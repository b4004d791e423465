// Package ruledef persists trigger definitions and plans their changes.
package ruledef

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/opsdesk/opsdesk/internal/models"
	"github.com/opsdesk/opsdesk/pkg/log"
	schema "github.com/opsdesk/opsdesk/pkg/ruledef"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Importer coordinates persistence of trigger definitions.
type Importer struct {
	db        *gorm.DB
	templates []string
}

// NewImporter creates a new importer. The provided db connection must be
// non-nil. templates restricts the accepted action templates.
func NewImporter(dbConn *gorm.DB, templates []string) *Importer {
	if dbConn == nil {
		panic("ruledef importer requires a database connection")
	}
	return &Importer{db: dbConn, templates: templates}
}

// Result lists trigger names by what applying did to them.
type Result struct {
	Created   []string `json:"created"`
	Updated   []string `json:"updated"`
	Unchanged []string `json:"unchanged"`
}

// Apply creates or updates every definition in one transaction. Triggers
// missing from defs are left alone.
func (i *Importer) Apply(ctx context.Context, defs []*schema.Definition) (*Result, error) {
	if err := i.validate(defs); err != nil {
		return nil, err
	}

	res := &Result{}
	err := i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, def := range defs {
			desired, err := toModel(def)
			if err != nil {
				return err
			}

			existing := &models.AutomationTrigger{}
			err = tx.Where("trigger_name = ?", def.Metadata.Name).Take(existing).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				desired.ID = uuid.New()
				if err := tx.Create(desired).Error; err != nil {
					return fmt.Errorf("create trigger %s: %w", def.Metadata.Name, err)
				}
				res.Created = append(res.Created, def.Metadata.Name)
				continue
			case err != nil:
				return err
			}

			if SpecFromModel(existing).Equal(SpecFromDefinition(def)) {
				res.Unchanged = append(res.Unchanged, def.Metadata.Name)
				continue
			}

			if err := tx.Model(existing).Select(
				"trigger_type", "conditions", "action_template", "action_config", "is_active", "notify_url",
			).Updates(&models.AutomationTrigger{
				TriggerType:    desired.TriggerType,
				Conditions:     desired.Conditions,
				ActionTemplate: desired.ActionTemplate,
				ActionConfig:   desired.ActionConfig,
				IsActive:       desired.IsActive,
				NotifyURL:      desired.NotifyURL,
			}).Error; err != nil {
				return fmt.Errorf("update trigger %s: %w", def.Metadata.Name, err)
			}
			res.Updated = append(res.Updated, def.Metadata.Name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info("trigger definitions applied",
		"created", len(res.Created), "updated", len(res.Updated), "unchanged", len(res.Unchanged))
	return res, nil
}

// InvalidError rejects a set of definitions before anything is written.
type InvalidError struct {
	Err error
}

func (e *InvalidError) Error() string { return e.Err.Error() }

func (e *InvalidError) Unwrap() error { return e.Err }

func (i *Importer) validate(defs []*schema.Definition) error {
	seen := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		if def == nil {
			return &InvalidError{Err: errors.New("empty trigger definition")}
		}
		if err := def.Validate(i.templates); err != nil {
			return &InvalidError{Err: fmt.Errorf("%s: %w", def.Metadata.Name, err)}
		}
		if _, ok := seen[def.Metadata.Name]; ok {
			return &InvalidError{Err: fmt.Errorf("duplicate trigger name %q", def.Metadata.Name)}
		}
		seen[def.Metadata.Name] = struct{}{}
	}
	return nil
}

func toModel(def *schema.Definition) (*models.AutomationTrigger, error) {
	cfg, err := normalizeMap(def.Action.Config)
	if err != nil {
		return nil, fmt.Errorf("%s: action.config: %w", def.Metadata.Name, err)
	}
	conds := def.Trigger.Conditions
	if conds == nil {
		conds = []models.Condition{}
	}
	return &models.AutomationTrigger{
		TriggerName:    def.Metadata.Name,
		TriggerType:    models.TriggerType(def.Trigger.Type),
		Conditions:     datatypes.NewJSONSlice(conds),
		ActionTemplate: def.Action.Template,
		ActionConfig:   datatypes.JSONMap(cfg),
		IsActive:       def.IsActive(),
		NotifyURL:      def.Action.NotifyURL,
	}, nil
}

// normalizeMap round-trips in through JSON so YAML and database values
// compare equal.
func normalizeMap(in map[string]any) (map[string]any, error) {
	if len(in) == 0 {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
