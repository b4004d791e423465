package capability_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/opsdesk/opsdesk/internal/capability"
	"github.com/opsdesk/opsdesk/internal/capability/mock"
	"github.com/opsdesk/opsdesk/internal/metrics"
	metricstest "github.com/opsdesk/opsdesk/internal/metrics/testutil"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	notFound := capability.NewError(capability.KindNotFound, capability.OpDescribe, errors.New("gone"))
	wrapped := fmt.Errorf("step: %w", notFound)

	require.True(t, capability.IsNotFound(wrapped))
	require.False(t, capability.IsUnavailable(wrapped))
	require.Equal(t, capability.KindUnavailable, capability.KindOf(errors.New("connection reset")))
	require.True(t, capability.IsTimeout(fmt.Errorf("call: %w", context.DeadlineExceeded)))
	require.False(t, capability.IsInvalidInput(nil))
	require.Contains(t, notFound.Error(), "documents.describe: not_found: gone")
}

func TestErrorText(t *testing.T) {
	quota := capability.NewError(capability.KindUnavailable, capability.OpSendEmail, errors.New("quota exceeded"))

	require.Equal(t, "quota exceeded", capability.ErrorText(fmt.Errorf("send_reply: %w", quota)))
	require.Equal(t, "plain failure", capability.ErrorText(errors.New("plain failure")))
	require.Empty(t, capability.ErrorText(nil))
}

func TestWithTimeoutExpiresSlowCalls(t *testing.T) {
	m := mock.New()
	m.Delay(capability.OpSendEmail, time.Second)
	suite := capability.WithTimeout(m.Suite(), 20*time.Millisecond)

	before := metricstest.CounterValue(t, metrics.CapabilityCallsTotal, capability.OpSendEmail, string(capability.KindTimeout))

	_, err := suite.Mail.SendEmail(context.Background(), capability.Email{From: "a@example.com", To: []string{"b@example.com"}})
	require.Error(t, err)
	require.True(t, capability.IsTimeout(err))

	var ce *capability.Error
	require.ErrorAs(t, err, &ce)
	require.Equal(t, capability.OpSendEmail, ce.Op)

	after := metricstest.CounterValue(t, metrics.CapabilityCallsTotal, capability.OpSendEmail, string(capability.KindTimeout))
	require.Equal(t, before+1, after)
}

func TestWithTimeoutPassesResultsAndErrors(t *testing.T) {
	m := mock.New()
	suite := capability.WithTimeout(m.Suite(), time.Second)
	ctx := context.Background()

	id, err := suite.Documents.CreateFolder(ctx, "root", "01_Contracts")
	require.NoError(t, err)
	require.Equal(t, "folder-1", id)

	m.Fail(capability.OpCreateFolder, errors.New("quota exceeded"))
	_, err = suite.Documents.CreateFolder(ctx, "root", "02_Projects")
	require.True(t, capability.IsUnavailable(err))

	m.Fail(capability.OpAddLabel, capability.NewError(capability.KindNotFound, capability.OpAddLabel, nil))
	err = suite.Mail.AddLabel(ctx, "agent@example.com", "gm-1", "billing")
	require.True(t, capability.IsNotFound(err))

	require.Len(t, m.CallsTo(capability.OpCreateFolder), 2)
	require.Len(t, m.CallsTo(capability.OpAddLabel), 1)
}

func TestWithTimeoutKeepsMissingClientsNil(t *testing.T) {
	suite := capability.WithTimeout(capability.Suite{Mail: mock.New()}, time.Second)
	require.NotNil(t, suite.Mail)
	require.Nil(t, suite.Documents)
	require.Nil(t, suite.Calendar)
	require.Nil(t, suite.Contacts)
}
