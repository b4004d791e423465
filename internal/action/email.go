package action

import (
	"context"
	"time"

	"github.com/opsdesk/opsdesk/internal/capability"
	"github.com/opsdesk/opsdesk/internal/models"
	"github.com/opsdesk/opsdesk/internal/task"
)

const (
	TemplateSendAutoReply      = "send_auto_reply"
	TemplateCategorizeAndRoute = "categorize_and_route"

	autoReplyBody   = "Thank you for your email. We have received your message and will respond within 24 hours."
	followUpSLA     = 24 * time.Hour
	routedTaskSLA   = 4 * time.Hour
	relatedEmail    = "email"
	stateCategory   = "category"
	stateSpecialist = "specialist"
)

// SendAutoReply acknowledges an inbound email and queues a follow-up task
// for the receiving employee.
func SendAutoReply() *Template {
	return &Template{
		Name:   TemplateSendAutoReply,
		Source: models.TriggerTypeEmailReceived,
		Steps: []Step{
			{Name: "send_reply", Run: sendReply},
			{Name: "create_follow_up_task", Run: createFollowUpTask},
		},
	}
}

func sendReply(ctx context.Context, inv *Invocation) error {
	email := inv.Event.(*models.Email)

	id, err := inv.Suite.Mail.SendEmail(ctx, capability.Email{
		From:     email.EmployeeEmail,
		To:       []string{email.FromEmail},
		Subject:  "Re: " + email.Subject,
		Body:     autoReplyBody,
		Template: inv.Config.String("template", "default_reply"),
		ThreadID: email.ThreadID,
	})
	if err != nil {
		return err
	}
	return inv.Record(ctx, "sent_reply", map[string]any{"message_id": id})
}

func createFollowUpTask(ctx context.Context, inv *Invocation) error {
	if !inv.Config.Bool("create_task", true) {
		return nil
	}
	email := inv.Event.(*models.Email)

	t, err := inv.Tasks.Create(ctx, &task.CreateRequest{
		TaskType:      "respond",
		Title:         "Follow up: " + email.Subject,
		Description:   "Customer email requires response",
		EmployeeEmail: email.EmployeeEmail,
		Priority:      models.TaskPriorityNormal,
		SLA:           followUpSLA,
		RelatedType:   relatedEmail,
		RelatedID:     email.ID.String(),
	})
	if err != nil {
		return err
	}
	return inv.Record(ctx, "created_task", map[string]any{"task_id": t.ID.String(), "for": email.EmployeeEmail})
}

// CategorizeAndRoute labels an inbound email by category and hands it to
// the least-loaded specialist for that category.
func CategorizeAndRoute() *Template {
	return &Template{
		Name:   TemplateCategorizeAndRoute,
		Source: models.TriggerTypeEmailReceived,
		Steps: []Step{
			{Name: "classify", Run: classify},
			{Name: "apply_label", Run: applyLabel},
			{Name: "find_specialist", Run: findSpecialist},
			{Name: "create_routed_task", Run: createRoutedTask},
		},
	}
}

func classify(_ context.Context, inv *Invocation) error {
	email := inv.Event.(*models.Email)
	inv.state[stateCategory] = Categorize(email.Subject, email.Snippet)
	return nil
}

func applyLabel(ctx context.Context, inv *Invocation) error {
	email := inv.Event.(*models.Email)
	category := inv.state[stateCategory].(string)

	if err := inv.Suite.Mail.AddLabel(ctx, email.EmployeeEmail, email.GmailMessageID, category); err != nil {
		return err
	}
	return inv.Record(ctx, "added_label", map[string]any{"label": category})
}

func findSpecialist(ctx context.Context, inv *Invocation) error {
	needed := CategoryCapability(inv.state[stateCategory].(string))
	if needed == "" {
		return nil
	}

	emp, err := inv.Directory.LeastLoaded(ctx, needed)
	if err != nil {
		return err
	}
	if emp != nil {
		inv.state[stateSpecialist] = emp.EmployeeEmail
	}
	return nil
}

func createRoutedTask(ctx context.Context, inv *Invocation) error {
	specialist, ok := inv.state[stateSpecialist].(string)
	if !ok {
		return nil
	}
	email := inv.Event.(*models.Email)

	t, err := inv.Tasks.Create(ctx, &task.CreateRequest{
		TaskType:      "review",
		Title:         "Review: " + email.Subject,
		Description:   "Routed from " + email.EmployeeEmail,
		EmployeeEmail: specialist,
		Priority:      models.TaskPriorityHigh,
		SLA:           routedTaskSLA,
		RelatedType:   relatedEmail,
		RelatedID:     email.ID.String(),
	})
	if err != nil {
		return err
	}
	return inv.Record(ctx, "routed_to", map[string]any{"specialist": specialist, "task_id": t.ID.String()})
}
