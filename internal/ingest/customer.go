package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/opsdesk/opsdesk/internal/capability"
	"github.com/opsdesk/opsdesk/internal/models"
	"github.com/opsdesk/opsdesk/pkg/log"
	"gorm.io/gorm"
)

type ContactRequest struct {
	Name      string `json:"name" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone,omitempty"`
	Role      string `json:"role,omitempty"`
	IsPrimary bool   `json:"is_primary"`
}

type CustomerRequest struct {
	OrganizationCode string            `json:"organization_code" validate:"required,max=32"`
	DisplayName      string            `json:"display_name" validate:"required"`
	CustomerType     string            `json:"customer_type,omitempty"`
	DriveFolderGID   string            `json:"drive_folder_gid,omitempty"`
	Contacts         []*ContactRequest `json:"contacts" validate:"dive"`
}

type CustomerResult struct {
	Organization *models.Organization        `json:"organization"`
	Execution    *models.AutomationExecution `json:"execution,omitempty"`
}

// CreateCustomer stores an organization and its contacts, syncs the
// contacts to the directory and enqueues the customer_created event.
// Without an explicit primary contact the first contact is primary.
func (s *Service) CreateCustomer(ctx context.Context, req *CustomerRequest, actor string) (*CustomerResult, error) {
	code := strings.ToUpper(strings.TrimSpace(req.OrganizationCode))
	name := strings.TrimSpace(req.DisplayName)
	if code == "" || name == "" {
		return nil, fmt.Errorf("%w: organization code and display name are required", ErrInvalid)
	}

	now := s.now()
	org := &models.Organization{
		ID:               uuid.New(),
		OrganizationCode: code,
		DisplayName:      name,
		CustomerType:     strings.TrimSpace(req.CustomerType),
		DriveFolderGID:   strings.TrimSpace(req.DriveFolderGID),
		CreatedBy:        actor,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	hasPrimary := false
	for _, c := range req.Contacts {
		hasPrimary = hasPrimary || c.IsPrimary
	}
	for i, c := range req.Contacts {
		email := strings.ToLower(strings.TrimSpace(c.Email))
		if email == "" {
			return nil, fmt.Errorf("%w: contact %d has no email", ErrInvalid, i)
		}
		org.Contacts = append(org.Contacts, &models.OrganizationContact{
			ID:             uuid.New(),
			OrganizationID: org.ID,
			Name:           strings.TrimSpace(c.Name),
			Email:          email,
			Phone:          strings.TrimSpace(c.Phone),
			Role:           strings.TrimSpace(c.Role),
			IsPrimary:      c.IsPrimary || (!hasPrimary && i == 0),
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}

	if err := s.db.WithContext(ctx).Create(org).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("create organization %s: %w", code, err)
	}
	log.Info("customer created", "organization_id", org.ID, "code", code, "contacts", len(org.Contacts), "actor", actor)

	s.syncContacts(ctx, org)

	exec, err := s.enqueue(ctx, org, actor)
	if err != nil {
		return &CustomerResult{Organization: org}, err
	}
	return &CustomerResult{Organization: org, Execution: exec}, nil
}

// CustomerListRequest filters ListCustomers. Limit defaults to 20.
type CustomerListRequest struct {
	Limit        int
	Offset       int
	CustomerType string
	Search       string
}

// ListCustomers returns organizations with their contacts, newest first.
// Search matches the organization code or display name.
func (s *Service) ListCustomers(ctx context.Context, req *CustomerListRequest) ([]*models.Organization, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}

	q := s.db.WithContext(ctx).Preload("Contacts", func(db *gorm.DB) *gorm.DB {
		return db.Order("is_primary DESC, email")
	})
	if req.CustomerType != "" {
		q = q.Where("customer_type = ?", req.CustomerType)
	}
	if term := strings.ToLower(strings.TrimSpace(req.Search)); term != "" {
		like := "%" + term + "%"
		q = q.Where("LOWER(organization_code) LIKE ? OR LOWER(display_name) LIKE ?", like, like)
	}

	orgs := make([]*models.Organization, 0)
	if err := q.Order("created_at DESC, organization_code").
		Limit(limit).
		Offset(req.Offset).
		Find(&orgs).Error; err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	return orgs, nil
}

// syncContacts mirrors contacts into the directory. Failures are logged and
// leave resource_name empty.
func (s *Service) syncContacts(ctx context.Context, org *models.Organization) {
	if s.suite.Contacts == nil {
		return
	}
	for _, c := range org.Contacts {
		resource, err := s.suite.Contacts.UpsertContact(ctx, capability.Person{
			Name:         c.Name,
			Email:        c.Email,
			Phone:        c.Phone,
			Organization: org.DisplayName,
			Role:         c.Role,
		})
		if err != nil {
			log.Warn("contact sync failed", "organization_id", org.ID, "email", c.Email, "error", err)
			continue
		}
		c.ResourceName = resource
		if err := s.db.WithContext(ctx).Model(c).Update("resource_name", resource).Error; err != nil {
			log.Warn("store contact resource failed", "contact_id", c.ID, "error", err)
		}
	}
}
