// Package runner executes claimed automation executions: it walks the
// template's steps in order, records every performed side effect as it
// happens and writes the terminal status.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opsdesk/opsdesk/internal/action"
	"github.com/opsdesk/opsdesk/internal/callback"
	"github.com/opsdesk/opsdesk/internal/capability"
	"github.com/opsdesk/opsdesk/internal/event"
	"github.com/opsdesk/opsdesk/internal/execution"
	"github.com/opsdesk/opsdesk/internal/metrics"
	"github.com/opsdesk/opsdesk/internal/models"
	"github.com/opsdesk/opsdesk/internal/tracing"
	"github.com/opsdesk/opsdesk/pkg/log"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultCapabilityTimeout = 30 * time.Second

	unknownTemplate = "unknown"
	stepOK          = "ok"
	stepFailed      = "failed"
)

// Result summarises one Run.
type Result struct {
	ExecutionID  uuid.UUID
	Status       models.ExecutionStatus
	Skipped      bool
	Actions      []models.ActionRecord
	FailedAction string
	Error        string
	CompletedAt  *time.Time
}

type Runner struct {
	store     *execution.Store
	templates *action.Registry
	deps      action.Deps
	bus       event.Bus
	callbacks *callback.Dispatcher
	nodeID    string
	timeout   time.Duration
	now       func() time.Time
}

type Option func(*Runner)

// WithBus publishes execution lifecycle events to b.
func WithBus(b event.Bus) Option {
	return func(r *Runner) { r.bus = b }
}

// WithCallbacks notifies trigger notify URLs after terminal writes.
func WithCallbacks(d *callback.Dispatcher) Option {
	return func(r *Runner) { r.callbacks = d }
}

// WithNodeID sets the claimant recorded on executions.
func WithNodeID(id string) Option {
	return func(r *Runner) {
		if id != "" {
			r.nodeID = id
		}
	}
}

// WithCapabilityTimeout bounds every capability call.
func WithCapabilityTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

func New(store *execution.Store, templates *action.Registry, deps action.Deps, opts ...Option) *Runner {
	if store == nil {
		panic("runner requires an execution store")
	}
	if templates == nil {
		templates = action.Default()
	}

	r := &Runner{
		store:     store,
		templates: templates,
		nodeID:    "local",
		timeout:   DefaultCapabilityTimeout,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}

	deps.Suite = capability.WithTimeout(deps.Suite, r.timeout)
	if deps.DB == nil {
		deps.DB = store.DB()
	}
	if deps.Now == nil {
		deps.Now = r.now
	}
	r.deps = deps
	return r
}

// Run claims and executes one execution. An execution that is no longer
// pending, or whose source already has a running execution, is skipped
// without side effects. The returned error is non-nil only when the
// terminal state could not be persisted.
func (r *Runner) Run(ctx context.Context, id uuid.UUID) (*Result, error) {
	claimed, err := r.store.Claim(ctx, id, r.nodeID)
	if errors.Is(err, execution.ErrConflict) {
		metrics.ExecutionsSkippedTotal.WithLabelValues(r.nodeID).Inc()
		r.publish(event.TypeExecutionSkipped, id, uuid.Nil, "", nil)
		log.Debug("execution skipped", "execution_id", id, "node_id", r.nodeID)
		return &Result{ExecutionID: id, Skipped: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim execution %s: %w", id, err)
	}

	// Once running, an execution finishes regardless of the caller.
	ctx = context.WithoutCancel(ctx)

	ctx, span := tracing.StartSpan(ctx, "execution.run",
		attribute.String(tracing.ExecutionIDKey, claimed.ID.String()),
		attribute.String(tracing.TriggerIDKey, claimed.TriggerID.String()),
		attribute.String(tracing.SourceIDKey, claimed.TriggerSourceID),
		attribute.String(tracing.NodeIDKey, r.nodeID),
		attribute.Int(tracing.AttemptKey, claimed.Attempt),
	)
	defer span.End()

	r.publish(event.TypeExecutionStarted, claimed.ID, claimed.TriggerID, claimed.TriggerSourceID, nil)
	log.Info("execution started", "execution_id", claimed.ID, "trigger_id", claimed.TriggerID, "source_id", claimed.TriggerSourceID)

	started := r.now()
	run := &state{exec: claimed, template: unknownTemplate}
	run.outcome = r.execute(ctx, run)

	result, err := r.finish(ctx, run)
	status := string(result.Status)
	metrics.ExecutionsTotal.WithLabelValues(run.template, status).Inc()
	metrics.ExecutionDurationSeconds.WithLabelValues(run.template, status).Observe(r.now().Sub(started).Seconds())

	if run.outcome.err != nil {
		tracing.SetError(span, run.outcome.err, attribute.String(tracing.StepNameKey, run.outcome.failedAction))
	}
	if err != nil {
		tracing.SetError(span, err)
		return result, err
	}

	r.notify(ctx, run)
	return result, nil
}

type state struct {
	exec     *models.AutomationExecution
	trigger  *models.AutomationTrigger
	template string
	actions  []models.ActionRecord
	outcome  outcome
}

type outcome struct {
	failedAction string
	err          error
}

func (r *Runner) execute(ctx context.Context, run *state) outcome {
	trigger, err := r.store.Trigger(ctx, run.exec.TriggerID)
	if err != nil {
		return outcome{err: fmt.Errorf("load trigger: %w", err)}
	}
	run.trigger = trigger

	tmpl, err := r.templates.Lookup(trigger.ActionTemplate)
	if err != nil {
		return outcome{err: err}
	}
	run.template = tmpl.Name

	source, err := r.store.Event(ctx, trigger.TriggerType, run.exec.TriggerSourceID)
	if errors.Is(err, execution.ErrNotFound) {
		source = nil
	} else if err != nil {
		return outcome{err: fmt.Errorf("load source event: %w", err)}
	}
	if err := tmpl.Accepts(source); err != nil {
		return outcome{err: err}
	}

	inv := action.NewInvocation(r.deps, run.exec, trigger, source, func(ctx context.Context, name string, result map[string]any) error {
		run.actions = append(run.actions, models.ActionRecord{Action: name, Result: result, At: r.now()})
		if err := r.store.AppendActions(ctx, run.exec.ID, run.actions); err != nil {
			return err
		}
		r.publish(event.TypeActionRecorded, run.exec.ID, trigger.ID, run.exec.TriggerSourceID,
			map[string]any{"action": name, "result": result})
		return nil
	})

	for _, step := range tmpl.Steps {
		if err := r.runStep(ctx, tmpl.Name, step, inv); err != nil {
			log.Warn("execution step failed",
				"execution_id", run.exec.ID, "template", tmpl.Name, "step", step.Name,
				"kind", capability.KindOf(err), "error", err)
			return outcome{failedAction: step.Name, err: err}
		}
	}
	return outcome{}
}

func (r *Runner) runStep(ctx context.Context, template string, step action.Step, inv *action.Invocation) (err error) {
	ctx, span := tracing.StartSpan(ctx, "execution.step", attribute.String(tracing.StepNameKey, step.Name))
	defer span.End()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("step %s panicked: %v", step.Name, rec)
		}

		status := stepOK
		if err != nil {
			status = stepFailed
			tracing.SetError(span, err)
		}
		metrics.StepsTotal.WithLabelValues(template, step.Name, status).Inc()
	}()

	return step.Run(ctx, inv)
}

func (r *Runner) finish(ctx context.Context, run *state) (*Result, error) {
	out := execution.Outcome{
		Status:     models.ExecutionStatusCompleted,
		Actions:    run.actions,
		SourceID:   run.exec.TriggerSourceID,
		SourceType: sourceType(run.trigger),
	}
	if run.outcome.err != nil {
		out.Status = models.ExecutionStatusFailed
		out.FailedAction = run.outcome.failedAction
		out.Error = capability.ErrorText(run.outcome.err)
	}

	result := &Result{
		ExecutionID:  run.exec.ID,
		Status:       out.Status,
		Actions:      run.actions,
		FailedAction: out.FailedAction,
		Error:        out.Error,
	}

	completedAt, err := r.store.Finish(ctx, run.exec.ID, out)
	if err != nil {
		log.Error("failed to persist execution outcome",
			"execution_id", run.exec.ID, "status", out.Status, "actions", len(run.actions), "error", err)
		return result, err
	}
	result.CompletedAt = completedAt

	run.exec.Status = out.Status
	run.exec.ActionsTaken = out.Actions
	run.exec.FailedAction = out.FailedAction
	run.exec.CompletedAt = completedAt
	if out.Error != "" {
		msg := out.Error
		run.exec.ErrorMessage = &msg
	}

	typ := event.TypeExecutionCompleted
	if out.Status == models.ExecutionStatusFailed {
		typ = event.TypeExecutionFailed
	}
	r.publish(typ, run.exec.ID, run.exec.TriggerID, run.exec.TriggerSourceID, map[string]any{
		"template":      run.template,
		"actions":       len(run.actions),
		"failed_action": out.FailedAction,
		"error":         out.Error,
	})
	log.Info("execution finished",
		"execution_id", run.exec.ID, "template", run.template, "status", out.Status,
		"actions", len(run.actions), "failed_action", out.FailedAction)

	return result, nil
}

func (r *Runner) notify(ctx context.Context, run *state) {
	if r.callbacks == nil || run.trigger == nil || run.trigger.NotifyURL == "" {
		return
	}
	if err := r.callbacks.Dispatch(ctx, run.exec, run.trigger); err != nil {
		log.Warn("execution callback dispatch failed", "execution_id", run.exec.ID, "error", err)
	}
}

func (r *Runner) publish(t event.Type, execID, triggerID uuid.UUID, sourceID string, payload any) {
	if r.bus == nil {
		return
	}
	e := event.Event{
		Type:        t,
		ExecutionID: execID,
		TriggerID:   triggerID,
		SourceID:    sourceID,
		Timestamp:   r.now(),
	}
	if payload != nil {
		e.Payload = event.Payload(payload)
	}
	r.bus.Publish(e)
}

func sourceType(trigger *models.AutomationTrigger) models.TriggerType {
	if trigger == nil {
		return ""
	}
	return trigger.TriggerType
}
