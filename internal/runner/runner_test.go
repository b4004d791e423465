package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/opsdesk/opsdesk/internal/action"
	"github.com/opsdesk/opsdesk/internal/capability"
	"github.com/opsdesk/opsdesk/internal/capability/mock"
	"github.com/opsdesk/opsdesk/internal/directory"
	"github.com/opsdesk/opsdesk/internal/event"
	"github.com/opsdesk/opsdesk/internal/execution"
	"github.com/opsdesk/opsdesk/internal/models"
	"github.com/opsdesk/opsdesk/internal/task"
	"github.com/opsdesk/opsdesk/internal/testutil"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var fixedNow = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

type fixture struct {
	db     *gorm.DB
	mock   *mock.Suite
	store  *execution.Store
	bus    event.Bus
	runner *Runner
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	db := testutil.OpenTestDB(t)
	t.Cleanup(func() { testutil.CloseDB(db) })

	m := mock.New()
	store := execution.NewStore(db, execution.WithRetry(1, time.Millisecond))
	bus := event.New()
	deps := action.Deps{
		Suite:     m.Suite(),
		Directory: directory.New(db),
		Tasks:     task.NewService(db, m.Suite().Documents),
		DB:        db,
		Settings:  action.Settings{DriveRootFolder: "root-folder"},
	}

	opts = append([]Option{
		WithBus(bus),
		WithNodeID("node-test"),
		WithClock(func() time.Time { return fixedNow }),
	}, opts...)

	return &fixture{
		db:     db,
		mock:   m,
		store:  store,
		bus:    bus,
		runner: New(store, action.Default(), deps, opts...),
	}
}

func (f *fixture) seedEmail(t *testing.T, template string, cfg map[string]any) (*models.Email, *models.AutomationExecution) {
	t.Helper()

	trigger := testutil.Trigger("email-"+uuid.NewString()[:8], models.TriggerTypeEmailReceived, template, cfg)
	email := &models.Email{
		ID:               uuid.New(),
		MessageID:        "<" + uuid.NewString() + "@mail.example>",
		EmployeeEmail:    "agent@opsdesk.example",
		GmailMessageID:   "gm-1",
		ThreadID:         "thread-1",
		Subject:          "Where is my order?",
		FromEmail:        "customer@acme.example",
		AutomationStatus: models.AutomationStatusPending,
	}
	exec := testutil.PendingExecution(trigger, email.ID.String(), fixedNow)
	testutil.MustCreate(t, f.db, trigger, email, exec)
	return email, exec
}

func (f *fixture) seedOnboarding(t *testing.T) (*models.Organization, *models.AutomationExecution) {
	t.Helper()

	org := &models.Organization{
		ID:               uuid.New(),
		OrganizationCode: "ACME",
		DisplayName:      "Acme Corp",
		CustomerType:     "enterprise",
		AutomationStatus: models.AutomationStatusPending,
	}
	contact := &models.OrganizationContact{
		ID:             uuid.New(),
		OrganizationID: org.ID,
		Name:           "Jane Doe",
		Email:          "jane@acme.example",
		IsPrimary:      true,
	}
	welcome := &models.DocumentTemplate{
		ID:               uuid.New(),
		TemplateName:     "Welcome Letter",
		FileGID:          "tmpl-welcome",
		ForCustomerTypes: []string{"welcome"},
	}
	internal := &models.DocumentTemplate{
		ID:               uuid.New(),
		TemplateName:     "Internal Checklist",
		FileGID:          "tmpl-internal",
		ForCustomerTypes: []string{"enterprise"},
	}
	trigger := testutil.Trigger("onboard-new-customers", models.TriggerTypeCustomerCreated, action.TemplateCustomerOnboardingSequence, nil)
	exec := testutil.PendingExecution(trigger, org.ID.String(), fixedNow)

	testutil.MustCreate(t, f.db,
		org, contact, welcome, internal, trigger, exec,
		testutil.Employee("am@opsdesk.example", "customer_success"),
	)
	return org, exec
}

func normalizeIDs(actions []models.ActionRecord) []models.ActionRecord {
	out := make([]models.ActionRecord, 0, len(actions))
	for _, a := range actions {
		result := map[string]any{}
		for k, v := range a.Result {
			if k == "project_id" || k == "task_id" {
				v = "generated-uuid"
			}
			result[k] = v
		}
		out = append(out, models.ActionRecord{Action: a.Action, Result: result, At: a.At})
	}
	return out
}

func actionNames(actions []models.ActionRecord) []string {
	names := make([]string, 0, len(actions))
	for _, a := range actions {
		names = append(names, a.Action)
	}
	return names
}

func TestRunCustomerOnboardingSequence(t *testing.T) {
	f := newFixture(t)
	org, exec := f.seedOnboarding(t)

	result, err := f.runner.Run(context.Background(), exec.ID)
	require.NoError(t, err)
	require.False(t, result.Skipped)
	require.Equal(t, models.ExecutionStatusCompleted, result.Status)
	require.NotNil(t, result.CompletedAt)

	require.Equal(t, []string{
		"created_folders",
		"created_document",
		"scheduled_meeting",
		"sent_welcome_email",
		"created_project",
	}, actionNames(result.Actions))
	require.Equal(t, 5, result.Actions[0].Result["count"])

	g := goldie.New(t, goldie.WithFixtureDir("testdata"), goldie.WithNameSuffix(".golden"))
	g.AssertJson(t, "onboarding_actions", normalizeIDs(result.Actions))

	stored, err := f.store.Get(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusCompleted, stored.Status)
	require.Len(t, stored.ActionsTaken, 5)
	require.Nil(t, stored.ErrorMessage)

	var reloaded models.Organization
	require.NoError(t, f.db.First(&reloaded, "id = ?", org.ID).Error)
	require.Equal(t, models.AutomationStatusCompleted, reloaded.AutomationStatus)

	var project models.Project
	require.NoError(t, f.db.First(&project, "project_code = ?", "ACME_ONBOARDING").Error)
	require.Equal(t, "am@opsdesk.example", project.ProjectManagerEmail)

	copies := f.mock.CallsTo(capability.OpCopyFromTemplate)
	require.Len(t, copies, 1)
	require.Equal(t, "tmpl-welcome", copies[0].Args["template_id"])
	require.Equal(t, "folder-1", copies[0].Args["dest_folder_id"])
}

func TestRunAutoReplyProviderFailure(t *testing.T) {
	f := newFixture(t)
	email, exec := f.seedEmail(t, action.TemplateSendAutoReply, map[string]any{"create_task": true})
	f.mock.Fail(capability.OpSendEmail, errors.New("gmail quota exceeded"))

	result, err := f.runner.Run(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusFailed, result.Status)
	require.Empty(t, result.Actions)
	require.Equal(t, "send_reply", result.FailedAction)
	require.Equal(t, "gmail quota exceeded", result.Error)

	stored, err := f.store.Get(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusFailed, stored.Status)
	require.Len(t, stored.ActionsTaken, 0)
	require.NotNil(t, stored.ErrorMessage)
	require.Equal(t, "gmail quota exceeded", *stored.ErrorMessage)
	require.NotNil(t, stored.CompletedAt)

	// the follow-up task is never created
	testutil.AssertCount(t, f.db, &models.SidebarTask{}, 0)

	var reloaded models.Email
	require.NoError(t, f.db.First(&reloaded, "id = ?", email.ID).Error)
	require.Equal(t, models.AutomationStatusFailed, reloaded.AutomationStatus)
}

func TestRunAutoReplySucceeds(t *testing.T) {
	f := newFixture(t)
	email, exec := f.seedEmail(t, action.TemplateSendAutoReply, nil)

	result, err := f.runner.Run(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusCompleted, result.Status)
	require.Equal(t, []string{"sent_reply", "created_task"}, actionNames(result.Actions))

	sends := f.mock.CallsTo(capability.OpSendEmail)
	require.Len(t, sends, 1)
	require.Equal(t, "agent@opsdesk.example", sends[0].Args["from"])
	require.Equal(t, []string{"customer@acme.example"}, sends[0].Args["to"])
	require.Equal(t, "Re: Where is my order?", sends[0].Args["subject"])
	require.Equal(t, "default_reply", sends[0].Args["template"])

	var tasks []models.SidebarTask
	require.NoError(t, f.db.Find(&tasks).Error)
	require.Len(t, tasks, 1)
	require.Equal(t, "Follow up: Where is my order?", tasks[0].Title)
	require.Equal(t, email.EmployeeEmail, tasks[0].EmployeeEmail)
}

func TestRunConcurrentCallsClaimOnce(t *testing.T) {
	f := newFixture(t)
	_, exec := f.seedEmail(t, action.TemplateSendAutoReply, map[string]any{"create_task": false})

	var (
		wg      sync.WaitGroup
		results = make([]*Result, 2)
		errs    = make([]error, 2)
	)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.runner.Run(context.Background(), exec.ID)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	skipped := 0
	for _, r := range results {
		if r.Skipped {
			skipped++
		}
	}
	require.Equal(t, 1, skipped)
	require.Len(t, f.mock.CallsTo(capability.OpSendEmail), 1)
}

func TestRunIsNoopOnceTerminal(t *testing.T) {
	f := newFixture(t)
	_, exec := f.seedEmail(t, action.TemplateSendAutoReply, nil)

	_, err := f.runner.Run(context.Background(), exec.ID)
	require.NoError(t, err)
	calls := len(f.mock.Calls())

	again, err := f.runner.Run(context.Background(), exec.ID)
	require.NoError(t, err)
	require.True(t, again.Skipped)
	require.Len(t, f.mock.Calls(), calls)
}

func TestRunUnknownTemplateFailsWithoutSteps(t *testing.T) {
	f := newFixture(t)
	email, exec := f.seedEmail(t, "launch_rockets", nil)

	result, err := f.runner.Run(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusFailed, result.Status)
	require.Contains(t, result.Error, `unknown action template "launch_rockets"`)
	require.Empty(t, result.FailedAction)
	require.Empty(t, f.mock.Calls())

	var reloaded models.Email
	require.NoError(t, f.db.First(&reloaded, "id = ?", email.ID).Error)
	require.Equal(t, models.AutomationStatusFailed, reloaded.AutomationStatus)
}

func TestRunTemplateRejectsEventKind(t *testing.T) {
	f := newFixture(t)

	item := &models.DriveItem{GID: "file-1", Name: "[READY]_Plan", Status: "READY", AutomationStatus: models.AutomationStatusPending}
	trigger := testutil.Trigger("mismatch", models.TriggerTypeFileStatusChanged, action.TemplateSendAutoReply, nil)
	exec := testutil.PendingExecution(trigger, item.GID, fixedNow)
	testutil.MustCreate(t, f.db, item, trigger, exec)

	result, err := f.runner.Run(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusFailed, result.Status)
	require.Contains(t, result.Error, "does not accept")
	require.Empty(t, f.mock.Calls())
}

func TestRunPartialFailureStopsRemainingSteps(t *testing.T) {
	f := newFixture(t)
	_, exec := f.seedOnboarding(t)
	f.mock.Fail(capability.OpCreateEvent, errors.New("calendar backend down"))

	result, err := f.runner.Run(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusFailed, result.Status)
	require.Equal(t, "schedule_kickoff", result.FailedAction)
	require.Equal(t, "calendar backend down", result.Error)
	require.Equal(t, []string{"created_folders", "created_document"}, actionNames(result.Actions))

	// later steps never ran and earlier side effects were kept
	require.Empty(t, f.mock.CallsTo(capability.OpSendEmail))
	testutil.AssertCount(t, f.db, &models.Project{}, 0)
	require.Len(t, f.mock.CallsTo(capability.OpCreateFolder), 5)

	stored, err := f.store.Get(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"created_folders", "created_document"}, actionNames(stored.ActionsTaken))
}

func TestRunCapabilityTimeout(t *testing.T) {
	f := newFixture(t, WithCapabilityTimeout(20*time.Millisecond))
	_, exec := f.seedEmail(t, action.TemplateSendAutoReply, nil)
	f.mock.Delay(capability.OpSendEmail, time.Second)

	result, err := f.runner.Run(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusFailed, result.Status)
	require.Equal(t, "send_reply", result.FailedAction)
	require.Equal(t, context.DeadlineExceeded.Error(), result.Error)
}

func TestRunRecoversStepPanic(t *testing.T) {
	f := newFixture(t)
	f.runner.templates = action.NewRegistry(&action.Template{
		Name:   action.TemplateSendAutoReply,
		Source: models.TriggerTypeEmailReceived,
		Steps: []action.Step{
			{Name: "record", Run: func(ctx context.Context, inv *action.Invocation) error {
				return inv.Record(ctx, "noted", map[string]any{"ok": true})
			}},
			{Name: "explode", Run: func(context.Context, *action.Invocation) error {
				panic("boom")
			}},
		},
	})
	_, exec := f.seedEmail(t, action.TemplateSendAutoReply, nil)

	result, err := f.runner.Run(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusFailed, result.Status)
	require.Equal(t, "explode", result.FailedAction)
	require.Contains(t, result.Error, "panicked: boom")
	require.Equal(t, []string{"noted"}, actionNames(result.Actions))
}

func TestRunCancelledCallerStillFinishes(t *testing.T) {
	f := newFixture(t)
	_, exec := f.seedEmail(t, action.TemplateSendAutoReply, nil)

	ctx, cancel := context.WithCancel(context.Background())
	f.runner.templates = action.NewRegistry(&action.Template{
		Name:   action.TemplateSendAutoReply,
		Source: models.TriggerTypeEmailReceived,
		Steps: []action.Step{
			{Name: "cancel_caller", Run: func(ctx context.Context, inv *action.Invocation) error {
				cancel()
				return ctx.Err()
			}},
			{Name: "send_reply", Run: func(ctx context.Context, inv *action.Invocation) error {
				return inv.Record(ctx, "sent_reply", map[string]any{"message_id": "m-1"})
			}},
		},
	})

	result, err := f.runner.Run(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusCompleted, result.Status)
	require.Equal(t, []string{"sent_reply"}, actionNames(result.Actions))
}

func TestRunPublishesLifecycleEvents(t *testing.T) {
	f := newFixture(t)
	_, exec := f.seedEmail(t, action.TemplateSendAutoReply, map[string]any{"create_task": false})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := f.bus.Subscribe(ctx, event.Filter{ExecutionID: exec.ID})
	require.NoError(t, err)

	_, err = f.runner.Run(context.Background(), exec.ID)
	require.NoError(t, err)

	var types []event.Type
	for len(types) < 3 {
		select {
		case e := <-ch:
			types = append(types, e.Type)
		case <-time.After(time.Second):
			t.Fatalf("timed out, saw %v", types)
		}
	}
	require.Equal(t, []event.Type{
		event.TypeExecutionStarted,
		event.TypeActionRecorded,
		event.TypeExecutionCompleted,
	}, types)
}

func TestRunSurfacesPersistenceFailure(t *testing.T) {
	f := newFixture(t)
	_, exec := f.seedEmail(t, action.TemplateSendAutoReply, nil)

	f.runner.templates = action.NewRegistry(&action.Template{
		Name:   action.TemplateSendAutoReply,
		Source: models.TriggerTypeEmailReceived,
		Steps: []action.Step{
			{Name: "lose_database", Run: func(ctx context.Context, inv *action.Invocation) error {
				testutil.CloseDB(f.db)
				return inv.Record(ctx, "sent_reply", map[string]any{"message_id": "m-1"})
			}},
		},
	})

	result, err := f.runner.Run(context.Background(), exec.ID)
	require.Error(t, err)
	require.True(t, execution.IsPersistenceError(err))
	require.Equal(t, models.ExecutionStatusFailed, result.Status)
	require.Equal(t, []string{"sent_reply"}, actionNames(result.Actions))
}
