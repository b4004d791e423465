package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/opsdesk/opsdesk/internal/execution"
	"github.com/opsdesk/opsdesk/internal/models"
	"github.com/opsdesk/opsdesk/internal/testutil"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

type MatcherSuite struct {
	suite.Suite
	db      *gorm.DB
	store   *execution.Store
	matcher *Matcher
}

func TestMatcherSuite(t *testing.T) {
	suite.Run(t, new(MatcherSuite))
}

func (s *MatcherSuite) SetupTest() {
	s.db = testutil.OpenTestDB(s.T())
	s.store = execution.NewStore(s.db)
	s.matcher = NewMatcher(s.store)
}

func (s *MatcherSuite) TearDownTest() {
	testutil.CloseDB(s.db)
}

func (s *MatcherSuite) email(to ...string) *models.Email {
	e := &models.Email{
		ID:            uuid.New(),
		MessageID:     "<" + uuid.NewString() + "@mail.example>",
		EmployeeEmail: "support@example.com",
		Subject:       "Invoice question",
		FromEmail:     "customer@acme.example",
		ToEmails:      to,
	}
	testutil.MustCreate(s.T(), s.db, e)
	return e
}

func (s *MatcherSuite) TestEnqueueFirstMatchingTriggerByName() {
	support := models.Condition{Field: "to_emails", Op: OpContains, Value: "SUPPORT@example.com"}
	testutil.MustCreate(s.T(), s.db,
		testutil.Trigger("b-route", models.TriggerTypeEmailReceived, "categorize_and_route", nil, support),
		testutil.Trigger("a-reply", models.TriggerTypeEmailReceived, "send_auto_reply", nil, support),
		testutil.Trigger("c-other", models.TriggerTypeEmailReceived, "send_auto_reply", nil,
			models.Condition{Field: "to_emails", Op: OpContains, Value: "sales@example.com"}),
	)
	email := s.email("support@example.com")

	exec, err := s.matcher.Enqueue(context.Background(), email, "")
	s.Require().NoError(err)
	s.Require().NotNil(exec)
	s.Equal(models.ExecutionStatusPending, exec.Status)
	s.Equal(models.SystemActor, exec.TriggeredBy)
	s.Equal(email.ID.String(), exec.TriggerSourceID)

	trig, err := s.store.Trigger(context.Background(), exec.TriggerID)
	s.Require().NoError(err)
	s.Equal("a-reply", trig.TriggerName)

	var reloaded models.Email
	s.Require().NoError(s.db.First(&reloaded, "id = ?", email.ID).Error)
	s.Equal(models.AutomationStatusPending, reloaded.AutomationStatus)
}

func (s *MatcherSuite) TestEnqueueIsIdempotent() {
	testutil.MustCreate(s.T(), s.db, testutil.Trigger("reply", models.TriggerTypeEmailReceived, "send_auto_reply", nil))
	email := s.email("support@example.com")

	first, err := s.matcher.Enqueue(context.Background(), email, "")
	s.Require().NoError(err)
	second, err := s.matcher.Enqueue(context.Background(), email, "")
	s.Require().NoError(err)

	s.Equal(first.ID, second.ID)
	testutil.AssertCount(s.T(), s.db, &models.AutomationExecution{}, 1)
}

func (s *MatcherSuite) TestInactiveTriggersNeverProduceExecutions() {
	inactive := testutil.Trigger("reply", models.TriggerTypeEmailReceived, "send_auto_reply", nil)
	testutil.MustCreate(s.T(), s.db, inactive)
	s.Require().NoError(s.db.Model(inactive).Update("is_active", false).Error)
	email := s.email("support@example.com")

	exec, err := s.matcher.Enqueue(context.Background(), email, "")
	s.Require().NoError(err)
	s.Nil(exec)

	// executions queued before deactivation are not picked up either
	queued := testutil.PendingExecution(inactive, email.ID.String(), time.Now().UTC())
	testutil.MustCreate(s.T(), s.db, queued)
	s.Require().NoError(s.db.Model(email).Update("automation_status", models.AutomationStatusPending).Error)

	pending, err := s.matcher.FindPending(context.Background(), 10)
	s.Require().NoError(err)
	s.Empty(pending)
}

func (s *MatcherSuite) TestFindPendingJoinsEventsAcrossKinds() {
	reply := testutil.Trigger("reply", models.TriggerTypeEmailReceived, "send_auto_reply", nil)
	review := testutil.Trigger("review", models.TriggerTypeFileStatusChanged, "assign_review_task", nil)
	testutil.MustCreate(s.T(), s.db, reply, review)

	base := time.Now().UTC().Add(-time.Hour)

	email := s.email("support@example.com")
	item := &models.DriveItem{GID: "file-1", Name: "[READY]_Plan", Status: "READY", AutomationStatus: models.AutomationStatusPending}
	done := s.email("support@example.com")
	testutil.MustCreate(s.T(), s.db, item)
	s.Require().NoError(s.db.Model(email).Update("automation_status", models.AutomationStatusPending).Error)
	s.Require().NoError(s.db.Model(done).Update("automation_status", models.AutomationStatusCompleted).Error)

	fileExec := testutil.PendingExecution(review, item.GID, base)
	emailExec := testutil.PendingExecution(reply, email.ID.String(), base.Add(time.Minute))
	doneExec := testutil.PendingExecution(reply, done.ID.String(), base.Add(2*time.Minute))
	testutil.MustCreate(s.T(), s.db, fileExec, emailExec, doneExec)

	pending, err := s.matcher.FindPending(context.Background(), 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 2)
	s.Equal(fileExec.ID, pending[0].Execution.ID)
	s.Equal("review", pending[0].Trigger.TriggerName)
	s.Equal("file-1", pending[0].Event.SourceID())
	s.Equal(emailExec.ID, pending[1].Execution.ID)

	limited, err := s.matcher.FindPending(context.Background(), 1)
	s.Require().NoError(err)
	s.Require().Len(limited, 1)
	s.Equal(fileExec.ID, limited[0].Execution.ID)

	// a running execution is not pending any more
	_, err = s.store.Claim(context.Background(), fileExec.ID, "node-a")
	s.Require().NoError(err)
	pending, err = s.matcher.FindPending(context.Background(), 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(emailExec.ID, pending[0].Execution.ID)
}

func TestConditions(t *testing.T) {
	attrs := map[string]any{
		"subject":   "Contract Renewal",
		"to_emails": []string{"Support@Example.com", "ops@example.com"},
		"status":    "READY",
		"is_unread": true,
		"labels":    []string{},
	}

	cases := []struct {
		cond models.Condition
		want bool
	}{
		{models.Condition{Field: "status", Op: OpEq, Value: "ready"}, true},
		{models.Condition{Field: "status", Op: OpNeq, Value: "ready"}, false},
		{models.Condition{Field: "missing", Op: OpNeq, Value: "x"}, true},
		{models.Condition{Field: "missing", Op: OpEq, Value: "x"}, false},
		{models.Condition{Field: "subject", Op: OpContains, Value: "renewal"}, true},
		{models.Condition{Field: "to_emails", Op: OpContains, Value: "support@example.com"}, true},
		{models.Condition{Field: "to_emails", Op: OpContains, Value: "support"}, false},
		{models.Condition{Field: "subject", Op: OpPrefix, Value: "contract"}, true},
		{models.Condition{Field: "status", Op: OpIn, Value: []any{"DRAFT", "ready"}}, true},
		{models.Condition{Field: "status", Op: OpIn, Value: []any{"DRAFT"}}, false},
		{models.Condition{Field: "is_unread", Op: OpEq, Value: true}, true},
		{models.Condition{Field: "subject", Op: OpExists}, true},
		{models.Condition{Field: "labels", Op: OpExists}, false},
		{models.Condition{Field: "labels", Op: OpExists, Value: false}, true},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Matches([]models.Condition{tc.cond}, attrs), "%+v", tc.cond)
	}

	require.True(t, Matches(nil, attrs))
	require.False(t, Matches([]models.Condition{
		{Field: "status", Op: OpEq, Value: "READY"},
		{Field: "subject", Op: OpPrefix, Value: "invoice"},
	}, attrs))
}

func TestValidateCondition(t *testing.T) {
	require.NoError(t, ValidateCondition(models.Condition{Field: "status", Op: OpEq, Value: "READY"}))
	require.NoError(t, ValidateCondition(models.Condition{Field: "subject", Op: OpExists}))
	require.NoError(t, ValidateCondition(models.Condition{Field: "status", Op: OpIn, Value: []any{"A"}}))

	require.Error(t, ValidateCondition(models.Condition{Op: OpEq, Value: "x"}))
	require.Error(t, ValidateCondition(models.Condition{Field: "status", Op: "regex", Value: ".*"}))
	require.Error(t, ValidateCondition(models.Condition{Field: "status", Op: OpEq}))
	require.Error(t, ValidateCondition(models.Condition{Field: "status", Op: OpIn, Value: "A"}))
	require.Error(t, ValidateCondition(models.Condition{Field: "status", Op: OpExists, Value: "yes"}))
}
