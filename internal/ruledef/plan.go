package ruledef

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/opsdesk/opsdesk/internal/models"
	schema "github.com/opsdesk/opsdesk/pkg/ruledef"
	"gorm.io/gorm"
)

// Spec captures the trigger fields that participate in diffing.
type Spec struct {
	Name       string
	Type       string
	Conditions []map[string]any
	Template   string
	Config     map[string]any
	Active     bool
	NotifyURL  string
}

var cmpOpts = []cmp.Option{cmpopts.EquateEmpty()}

func (s Spec) Equal(other Spec) bool {
	return cmp.Equal(s, other, cmpOpts...)
}

// SpecFromDefinition normalises a definition into a Spec.
func SpecFromDefinition(def *schema.Definition) Spec {
	cfg, _ := normalizeMap(def.Action.Config)
	return Spec{
		Name:       def.Metadata.Name,
		Type:       def.Trigger.Type,
		Conditions: normalizeConditions(def.Trigger.Conditions),
		Template:   def.Action.Template,
		Config:     cfg,
		Active:     def.IsActive(),
		NotifyURL:  def.Action.NotifyURL,
	}
}

// SpecFromModel normalises a stored trigger into a Spec.
func SpecFromModel(t *models.AutomationTrigger) Spec {
	cfg, _ := normalizeMap(t.ActionConfig)
	return Spec{
		Name:       t.TriggerName,
		Type:       string(t.TriggerType),
		Conditions: normalizeConditions(t.Conditions),
		Template:   t.ActionTemplate,
		Config:     cfg,
		Active:     t.IsActive,
		NotifyURL:  t.NotifyURL,
	}
}

func normalizeConditions(conds []models.Condition) []map[string]any {
	if len(conds) == 0 {
		return nil
	}
	raw, err := json.Marshal(conds)
	if err != nil {
		return nil
	}
	var out []map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// Update captures the differences for an existing trigger.
type Update struct {
	Name string `json:"name"`
	Diff string `json:"diff"`
}

// Plan is what applying a set of definitions would change.
type Plan struct {
	Creates   []string `json:"creates"`
	Updates   []Update `json:"updates"`
	Unchanged []string `json:"unchanged"`
	// Untracked triggers exist in the database but not in the definitions.
	Untracked []string `json:"untracked"`
}

// Empty reports whether the plan contains no changes.
func (p Plan) Empty() bool {
	return len(p.Creates) == 0 && len(p.Updates) == 0
}

// Compare generates a plan between desired and actual specs keyed by name.
func Compare(desired, actual map[string]Spec) Plan {
	plan := Plan{}

	remaining := make(map[string]Spec, len(actual))
	for k, v := range actual {
		remaining[k] = v
	}

	for name, spec := range desired {
		current, ok := remaining[name]
		if !ok {
			plan.Creates = append(plan.Creates, name)
			continue
		}
		if diff := cmp.Diff(current, spec, cmpOpts...); diff != "" {
			plan.Updates = append(plan.Updates, Update{Name: name, Diff: diff})
		} else {
			plan.Unchanged = append(plan.Unchanged, name)
		}
		delete(remaining, name)
	}
	for name := range remaining {
		plan.Untracked = append(plan.Untracked, name)
	}

	sort.Strings(plan.Creates)
	sort.Strings(plan.Unchanged)
	sort.Strings(plan.Untracked)
	sort.Slice(plan.Updates, func(a, b int) bool { return plan.Updates[a].Name < plan.Updates[b].Name })
	return plan
}

// Plan compares defs against the stored triggers without writing.
func (i *Importer) Plan(ctx context.Context, defs []*schema.Definition) (Plan, error) {
	if err := i.validate(defs); err != nil {
		return Plan{}, err
	}

	actual, err := LoadDatabaseSpecs(ctx, i.db)
	if err != nil {
		return Plan{}, err
	}
	desired := make(map[string]Spec, len(defs))
	for _, def := range defs {
		desired[def.Metadata.Name] = SpecFromDefinition(def)
	}
	return Compare(desired, actual), nil
}

// LoadDatabaseSpecs loads all triggers from the database keyed by name.
func LoadDatabaseSpecs(ctx context.Context, db *gorm.DB) (map[string]Spec, error) {
	var triggers models.AutomationTriggers
	if err := db.WithContext(ctx).Find(&triggers).Error; err != nil {
		return nil, err
	}
	specs := make(map[string]Spec, len(triggers))
	for _, t := range triggers {
		specs[t.TriggerName] = SpecFromModel(t)
	}
	return specs, nil
}
