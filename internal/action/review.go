package action

import (
	"context"
	"strings"
	"time"

	"github.com/opsdesk/opsdesk/internal/directory"
	"github.com/opsdesk/opsdesk/internal/models"
	"github.com/opsdesk/opsdesk/internal/task"
	"github.com/opsdesk/opsdesk/pkg/log"
)

const (
	TemplateAssignReviewTask = "assign_review_task"

	stateReviewer = "reviewer"
	readyTag      = "[READY]"
)

// AssignReviewTask hands a document that became ready to a reviewer and
// marks the reviewer in the document name.
func AssignReviewTask() *Template {
	return &Template{
		Name:   TemplateAssignReviewTask,
		Source: models.TriggerTypeFileStatusChanged,
		Steps: []Step{
			{Name: "resolve_reviewer", Run: resolveReviewer},
			{Name: "create_review_task", Run: createReviewTask},
			{Name: "rename_document", Run: renameDocument},
		},
	}
}

func resolveReviewer(ctx context.Context, inv *Invocation) error {
	item := inv.Event.(*models.DriveItem)
	role := inv.Config.String("assignee_role", directory.RoleManager)

	reviewer, err := inv.Directory.ReviewerFor(ctx, role, item.OrganizationID)
	if err != nil {
		return err
	}
	if reviewer == "" {
		log.Info("no reviewer available", "gid", item.GID, "role", role)
		return nil
	}
	inv.state[stateReviewer] = reviewer
	return nil
}

func createReviewTask(ctx context.Context, inv *Invocation) error {
	reviewer, ok := inv.state[stateReviewer].(string)
	if !ok {
		return nil
	}
	item := inv.Event.(*models.DriveItem)
	role := inv.Config.String("assignee_role", directory.RoleManager)

	priority := models.TaskPriorityNormal
	if strings.Contains(strings.ToLower(item.Name), "contract") {
		priority = models.TaskPriorityHigh
	}

	t, err := inv.Tasks.Create(ctx, &task.CreateRequest{
		TaskType:      "review",
		Title:         "Review: " + item.Name,
		Description:   "Document ready for " + role + " review",
		EmployeeEmail: reviewer,
		Priority:      priority,
		SLA:           time.Duration(inv.Config.Int("sla_hours", 24)) * time.Hour,
		RelatedType:   "drive_item",
		RelatedID:     item.GID,
		QuickActions: []models.QuickAction{
			{Label: "Open document", Action: task.ActionOpenDrive, Params: map[string]string{"file_id": item.GID}},
			{Label: "Approve", Action: task.ActionUpdateStatus, Params: map[string]string{"file_id": item.GID, "status": "APPROVED"}},
		},
	})
	if err != nil {
		return err
	}
	return inv.Record(ctx, "created_review_task", map[string]any{"task_id": t.ID.String(), "assignee": reviewer})
}

func renameDocument(ctx context.Context, inv *Invocation) error {
	reviewer, ok := inv.state[stateReviewer].(string)
	if !ok {
		return nil
	}
	item := inv.Event.(*models.DriveItem)
	name := ReviewName(item.Name, reviewer)

	if _, err := inv.Suite.Documents.Rename(ctx, item.GID, name); err != nil {
		return err
	}

	if err := inv.DB.WithContext(ctx).
		Model(&models.DriveItem{}).
		Where("gid = ?", item.GID).
		Updates(map[string]interface{}{"name": name, "status": models.FileStatus(name)}).Error; err != nil {
		log.Warn("failed to record renamed drive item", "gid", item.GID, "error", err)
	}

	return inv.Record(ctx, "updated_filename", map[string]any{"new_name": name})
}

// ReviewName marks reviewer in a document name by replacing its [READY]
// tag with [REVIEW]_@<reviewer local part>.
func ReviewName(name, reviewer string) string {
	local, _, _ := strings.Cut(reviewer, "@")
	marker := "[REVIEW]_@" + local
	if strings.Contains(name, readyTag) {
		return strings.Replace(name, readyTag, marker, 1)
	}
	return marker + strings.TrimPrefix(task.Retag(name, "REVIEW"), "[REVIEW]")
}
