package action

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/opsdesk/opsdesk/internal/capability"
	"github.com/opsdesk/opsdesk/internal/models"
	"gorm.io/gorm"
)

const (
	TemplateCustomerOnboardingSequence = "customer_onboarding_sequence"

	DefaultFolderTemplate = "standard_customer"
	welcomeCustomerType   = "welcome"
	customerSuccess       = "customer_success"
	kickoffDescription    = "Welcome to our platform! Let's discuss your goals and next steps."
	welcomeBody           = "Welcome aboard! We're excited to work with you..."
	onboardingDuration    = 30 * 24 * time.Hour

	stateFolders         = "folders"
	stateAccountManager  = "account_manager"
	stateContactsPresent = "contacts"
)

// DefaultFolderStructure is used when the standard_customer template is
// not stored.
var DefaultFolderStructure = []string{
	"01_Contracts",
	"02_Projects",
	"03_Communications",
	"04_Training",
	"05_Reports",
}

// CustomerOnboardingSequence provisions a new customer: folders, welcome
// documents, a kickoff meeting, a welcome email and an onboarding project.
func CustomerOnboardingSequence() *Template {
	return &Template{
		Name:   TemplateCustomerOnboardingSequence,
		Source: models.TriggerTypeCustomerCreated,
		Steps: []Step{
			{Name: "create_folders", Run: createFolders},
			{Name: "copy_welcome_documents", Run: copyWelcomeDocuments},
			{Name: "schedule_kickoff", Run: scheduleKickoff},
			{Name: "send_welcome_email", Run: sendWelcomeEmail},
			{Name: "create_project", Run: createProject},
		},
	}
}

func folderStructure(ctx context.Context, inv *Invocation) ([]string, error) {
	code := inv.Config.String("folder_template", DefaultFolderTemplate)

	tmpl := &models.FolderTemplate{}
	err := inv.DB.WithContext(ctx).First(tmpl, "template_code = ?", code).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound) && code == DefaultFolderTemplate:
		return DefaultFolderStructure, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("folder template %q not found", code)
	case err != nil:
		return nil, err
	}
	return tmpl.Structure, nil
}

func createFolders(ctx context.Context, inv *Invocation) error {
	org := inv.Event.(*models.Organization)

	structure, err := folderStructure(ctx, inv)
	if err != nil {
		return err
	}
	if len(structure) == 0 {
		return errors.New("folder template has no folders")
	}

	root := org.DriveFolderGID
	if root == "" {
		root = inv.Config.String("parent_folder_gid", inv.Settings.DriveRootFolder)
	}

	// nested paths are created under the folder of their parent path
	created := map[string]string{}
	ids := make([]string, 0, len(structure))
	for _, p := range structure {
		parent := root
		if dir := path.Dir(p); dir != "." {
			if id, ok := created[dir]; ok {
				parent = id
			}
		}

		id, err := inv.Suite.Documents.CreateFolder(ctx, parent, path.Base(p))
		if err != nil {
			return err
		}
		created[p] = id
		ids = append(ids, id)
	}

	inv.state[stateFolders] = ids
	return inv.Record(ctx, "created_folders", map[string]any{"count": len(ids), "folder_ids": ids})
}

func copyWelcomeDocuments(ctx context.Context, inv *Invocation) error {
	org := inv.Event.(*models.Organization)
	folders, _ := inv.state[stateFolders].([]string)
	if len(folders) == 0 {
		return errors.New("no destination folder")
	}

	var templates []*models.DocumentTemplate
	if err := inv.DB.WithContext(ctx).Order("template_name").Find(&templates).Error; err != nil {
		return err
	}

	now := inv.Now().In(inv.Settings.Location)
	contact := ""
	if primaries := org.PrimaryContacts(); len(primaries) > 0 {
		contact = primaries[0].Name
	}
	vars := map[string]string{
		"customer_name": org.DisplayName,
		"contact_name":  contact,
		"date":          now.Format("January 02, 2006"),
	}
	name := fmt.Sprintf("[DRAFT]_Welcome_%s_%s", org.DisplayName, now.Format("20060102"))

	for _, t := range templates {
		if !slices.Contains(t.ForCustomerTypes, welcomeCustomerType) {
			continue
		}

		gid, err := inv.Suite.Documents.CopyFromTemplate(ctx, t.FileGID, folders[0], name, vars)
		if err != nil {
			return err
		}
		if err := inv.Record(ctx, "created_document", map[string]any{"template": t.TemplateName, "gid": gid}); err != nil {
			return err
		}
	}
	return nil
}

func scheduleKickoff(ctx context.Context, inv *Invocation) error {
	org := inv.Event.(*models.Organization)
	primaries := org.PrimaryContacts()
	if len(primaries) == 0 {
		return nil
	}
	inv.state[stateContactsPresent] = true

	am, err := inv.Directory.LeastLoaded(ctx, customerSuccess)
	if err != nil {
		return err
	}
	if am == nil {
		return errors.New("no customer success manager available")
	}
	inv.state[stateAccountManager] = am.EmployeeEmail

	start := inv.Now().In(inv.Settings.Location).Add(3*24*time.Hour + 10*time.Hour)
	created, err := inv.Suite.Calendar.CreateEvent(ctx, am.EmployeeEmail, capability.Event{
		Summary:     "Kickoff Meeting - " + org.DisplayName,
		Description: kickoffDescription,
		Start:       start,
		End:         start.Add(time.Hour),
		TimeZone:    inv.Settings.Location.String(),
		Attendees:   []string{primaries[0].Email, am.EmployeeEmail},
	})
	if err != nil {
		return err
	}
	return inv.Record(ctx, "scheduled_meeting", map[string]any{"event_id": created.ID, "meet_link": created.MeetLink})
}

func sendWelcomeEmail(ctx context.Context, inv *Invocation) error {
	if present, _ := inv.state[stateContactsPresent].(bool); !present {
		return nil
	}
	org := inv.Event.(*models.Organization)
	am := inv.state[stateAccountManager].(string)

	var to []string
	for _, c := range org.PrimaryContacts() {
		to = append(to, c.Email)
	}

	id, err := inv.Suite.Mail.SendEmail(ctx, capability.Email{
		From:     am,
		To:       to,
		Subject:  "Welcome to Our Platform - " + org.DisplayName,
		Body:     welcomeBody,
		Template: "customer_welcome",
	})
	if err != nil {
		return err
	}
	return inv.Record(ctx, "sent_welcome_email", map[string]any{"message_id": id, "to": to})
}

func createProject(ctx context.Context, inv *Invocation) error {
	org := inv.Event.(*models.Organization)
	manager, _ := inv.state[stateAccountManager].(string)
	now := inv.Now()

	project := &models.Project{
		ID:                  uuid.New(),
		ProjectCode:         org.OrganizationCode + "_ONBOARDING",
		ProjectName:         org.DisplayName + " Onboarding",
		ProjectType:         models.ProjectTypeImplementation,
		Status:              models.ProjectStatusActive,
		OrganizationID:      org.ID,
		ProjectManagerEmail: manager,
		StartDate:           now,
		EndDate:             now.Add(onboardingDuration),
	}
	if err := inv.DB.WithContext(ctx).Create(project).Error; err != nil {
		return err
	}
	return inv.Record(ctx, "created_project", map[string]any{"project_id": project.ID.String()})
}
