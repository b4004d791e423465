// Package action holds the automation templates: fixed, ordered sequences
// of capability calls run by the execution runner.
package action

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/opsdesk/opsdesk/internal/capability"
	"github.com/opsdesk/opsdesk/internal/directory"
	"github.com/opsdesk/opsdesk/internal/models"
	"github.com/opsdesk/opsdesk/internal/task"
	"gorm.io/gorm"
)

// ValidationError means an execution cannot start: its template is
// unknown or does not accept the event kind.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid execution: " + e.Reason
}

// Settings are deployment-wide template parameters.
type Settings struct {
	DriveRootFolder string
	Location        *time.Location
}

// Deps are the collaborators available to every step.
type Deps struct {
	Suite     capability.Suite
	Directory *directory.Directory
	Tasks     *task.Service
	DB        *gorm.DB
	Settings  Settings
	Now       func() time.Time
}

// RecordFunc persists one performed side effect.
type RecordFunc func(ctx context.Context, action string, result map[string]any) error

// Invocation is the state of one template run.
type Invocation struct {
	Deps
	Execution *models.AutomationExecution
	Trigger   *models.AutomationTrigger
	Event     models.BusinessEvent
	Config    Config

	record RecordFunc
	state  map[string]any
}

func NewInvocation(deps Deps, exec *models.AutomationExecution, trigger *models.AutomationTrigger, event models.BusinessEvent, record RecordFunc) *Invocation {
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.Settings.Location == nil {
		deps.Settings.Location = time.UTC
	}
	return &Invocation{
		Deps:      deps,
		Execution: exec,
		Trigger:   trigger,
		Event:     event,
		Config:    Config(trigger.ActionConfig),
		record:    record,
		state:     map[string]any{},
	}
}

// Record persists a performed side effect before the next step runs.
func (inv *Invocation) Record(ctx context.Context, action string, result map[string]any) error {
	if inv.record == nil {
		return nil
	}
	return inv.record(ctx, action, result)
}

// Step is one named unit of a template.
type Step struct {
	Name string
	Run  func(ctx context.Context, inv *Invocation) error
}

type Template struct {
	Name   string
	Source models.TriggerType
	Steps  []Step
}

// Accepts returns a ValidationError when event cannot drive t.
func (t *Template) Accepts(event models.BusinessEvent) error {
	if event == nil {
		return &ValidationError{Reason: "source event not found"}
	}
	if event.TriggerType() != t.Source {
		return &ValidationError{Reason: fmt.Sprintf("template %s does not accept %s events", t.Name, event.TriggerType())}
	}
	return nil
}

type Registry struct {
	templates map[string]*Template
}

func NewRegistry(templates ...*Template) *Registry {
	r := &Registry{templates: make(map[string]*Template, len(templates))}
	for _, t := range templates {
		r.templates[t.Name] = t
	}
	return r
}

// Default returns a registry with every built-in template.
func Default() *Registry {
	return NewRegistry(
		SendAutoReply(),
		CategorizeAndRoute(),
		AssignReviewTask(),
		CustomerOnboardingSequence(),
	)
}

func (r *Registry) Lookup(name string) (*Template, error) {
	t, ok := r.templates[name]
	if !ok {
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown action template %q", name)}
	}
	return t, nil
}

// Names returns the registered template names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.templates))
	for n := range r.templates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Config is a trigger's action_config with typed accessors.
type Config map[string]any

func (c Config) String(key, def string) string {
	if v, ok := c[key]; ok && v != nil {
		if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
			return s
		}
	}
	return def
}

func (c Config) Bool(key string, def bool) bool {
	switch v := c[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func (c Config) Int(key string, def int) int {
	switch v := c[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}
