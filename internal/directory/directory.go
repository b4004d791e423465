// Package directory answers staff lookups for action templates: who can
// handle a category, who reviews a document and who manages a customer.
package directory

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/opsdesk/opsdesk/internal/models"
	"gorm.io/gorm"
)

// Reviewer roles accepted by assign_review_task.
const (
	RoleLegal     = "legal"
	RoleTechnical = "technical"
	RoleManager   = "manager"
)

var roleCapabilities = map[string]string{
	RoleLegal:     "contract_review",
	RoleTechnical: "technical_review",
}

const defaultReviewCapability = "document_review"

// ReviewCapability returns the capability required to review as role.
func ReviewCapability(role string) string {
	if c, ok := roleCapabilities[strings.ToLower(role)]; ok {
		return c
	}
	return defaultReviewCapability
}

type Directory struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

// Employee returns the employee with email, or nil when none exists.
func (d *Directory) Employee(ctx context.Context, email string) (*models.Employee, error) {
	emp := &models.Employee{}
	err := d.db.WithContext(ctx).First(emp, "employee_email = ?", strings.ToLower(email)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return emp, nil
}

// Available returns active employees that are not out of office.
func (d *Directory) Available(ctx context.Context) ([]*models.Employee, error) {
	var emps []*models.Employee
	err := d.db.WithContext(ctx).
		Where("employment_status = ? AND out_of_office = ?", models.EmploymentStatusActive, false).
		Order("employee_email").
		Find(&emps).Error
	return emps, err
}

// LeastLoaded returns the available employee carrying capability with the
// fewest pending sidebar tasks. Ties go to the lowest email. It returns
// nil when nobody qualifies.
func (d *Directory) LeastLoaded(ctx context.Context, capability string) (*models.Employee, error) {
	emps, err := d.Available(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []*models.Employee
	emails := make([]string, 0, len(emps))
	for _, e := range emps {
		if e.Can(capability) {
			candidates = append(candidates, e)
			emails = append(emails, e.EmployeeEmail)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	load, err := d.PendingLoad(ctx, emails)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		li, lj := load[candidates[i].EmployeeEmail], load[candidates[j].EmployeeEmail]
		if li != lj {
			return li < lj
		}
		return candidates[i].EmployeeEmail < candidates[j].EmployeeEmail
	})
	return candidates[0], nil
}

// PendingLoad counts pending sidebar tasks per employee.
func (d *Directory) PendingLoad(ctx context.Context, emails []string) (map[string]int64, error) {
	var rows []struct {
		EmployeeEmail string
		Pending       int64
	}
	err := d.db.WithContext(ctx).
		Model(&models.SidebarTask{}).
		Select("employee_email, COUNT(*) AS pending").
		Where("status = ? AND employee_email IN ?", models.TaskStatusPending, emails).
		Group("employee_email").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	load := make(map[string]int64, len(rows))
	for _, r := range rows {
		load[r.EmployeeEmail] = r.Pending
	}
	return load, nil
}

// ProjectManager returns the manager of the newest active project of the
// organization, or "" when it has none.
func (d *Directory) ProjectManager(ctx context.Context, organizationID uuid.UUID) (string, error) {
	project := &models.Project{}
	err := d.db.WithContext(ctx).
		Where("organization_id = ? AND status = ? AND project_manager_email <> ''", organizationID, models.ProjectStatusActive).
		Order("created_at DESC").
		First(project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return project.ProjectManagerEmail, nil
}

// ReviewerFor picks the reviewer of a document for role. The manager role
// resolves to the organization's project manager; every other role to the
// least-loaded holder of the matching review capability.
func (d *Directory) ReviewerFor(ctx context.Context, role string, organizationID *uuid.UUID) (string, error) {
	if strings.EqualFold(role, RoleManager) {
		if organizationID == nil {
			return "", nil
		}
		return d.ProjectManager(ctx, *organizationID)
	}

	emp, err := d.LeastLoaded(ctx, ReviewCapability(role))
	if err != nil || emp == nil {
		return "", err
	}
	return emp.EmployeeEmail, nil
}

// SyncableMailboxes returns active employees with mailbox sync enabled.
func (d *Directory) SyncableMailboxes(ctx context.Context) ([]*models.Employee, error) {
	var emps []*models.Employee
	err := d.db.WithContext(ctx).
		Where("employment_status = ? AND gmail_sync_enabled = ?", models.EmploymentStatusActive, true).
		Order("employee_email").
		Find(&emps).Error
	return emps, err
}
