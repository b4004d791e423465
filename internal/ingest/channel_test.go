package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/opsdesk/opsdesk/internal/capability"
	"github.com/opsdesk/opsdesk/internal/execution"
	"github.com/opsdesk/opsdesk/internal/models"
	"github.com/opsdesk/opsdesk/internal/testutil"
	"github.com/opsdesk/opsdesk/internal/trigger"
)

const testTopic = "projects/opsdesk/topics/gmail"

func (s *IngestSuite) channelService(cfg ChannelConfig) *Service {
	matcher := trigger.NewMatcher(execution.NewStore(s.db))
	return NewService(s.db, matcher, s.mock.Suite(),
		WithClock(func() time.Time { return fixedNow }),
		WithChannels(cfg))
}

func (s *IngestSuite) TestWatchMailboxUpsertsChannel() {
	ctx := context.Background()
	s.mailbox("agent@example.com", true)
	svc := s.channelService(ChannelConfig{Topic: testTopic})

	ch, err := svc.WatchMailbox(ctx, "Agent@Example.com")
	s.Require().NoError(err)
	s.Require().Equal(models.ChannelKindGmail, ch.Kind)
	s.Require().Equal("agent@example.com", ch.ResourceID)
	s.Require().Equal(testTopic, ch.Address)
	s.Require().False(ch.Expiration.IsZero())

	calls := s.mock.CallsTo(capability.OpWatchMailbox)
	s.Require().Len(calls, 1)
	s.Require().Equal(testTopic, calls[0].Args["topic"])

	_, err = svc.WatchMailbox(ctx, "agent@example.com")
	s.Require().NoError(err)
	testutil.AssertCount(s.T(), s.db, &models.PushChannel{}, 1)
}

func (s *IngestSuite) TestWatchMailboxRejectsUnsyncedAndUnconfigured() {
	ctx := context.Background()
	s.mailbox("quiet@example.com", false)

	_, err := s.channelService(ChannelConfig{Topic: testTopic}).WatchMailbox(ctx, "quiet@example.com")
	s.Require().ErrorIs(err, ErrUnknownMailbox)

	_, err = s.channelService(ChannelConfig{Topic: testTopic}).WatchMailbox(ctx, "nobody@example.com")
	s.Require().ErrorIs(err, ErrUnknownMailbox)

	_, err = s.service.WatchMailbox(ctx, "quiet@example.com")
	s.Require().ErrorIs(err, ErrChannelsDisabled)

	s.Require().Empty(s.mock.CallsTo(capability.OpWatchMailbox))
	testutil.AssertCount(s.T(), s.db, &models.PushChannel{}, 0)
}

func (s *IngestSuite) TestWatchDocumentResolvesChannel() {
	ctx := context.Background()
	s.mock.PutFile(capability.File{ID: "doc-1", Name: "Acme onboarding"})
	svc := s.channelService(ChannelConfig{BaseURL: "https://ops.example/", Token: "secret"})

	ch, err := svc.WatchDocument(ctx, "doc-1")
	s.Require().NoError(err)
	s.Require().Equal(models.ChannelKindDrive, ch.Kind)
	s.Require().True(strings.HasPrefix(ch.ChannelID, "drive-"), ch.ChannelID)
	s.Require().Equal("https://ops.example/webhooks/drive", ch.Address)
	s.Require().NotEmpty(ch.ProviderResourceID)
	s.Require().True(ch.Expiration.Equal(fixedNow.Add(DefaultChannelTTL)), ch.Expiration)

	calls := s.mock.CallsTo(capability.OpWatchFile)
	s.Require().Len(calls, 1)
	s.Require().Equal("secret", calls[0].Args["token"])

	gid, ok, err := svc.ChannelDocument(ctx, ch.ChannelID)
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Require().Equal("doc-1", gid)

	again, err := svc.WatchDocument(ctx, "doc-1")
	s.Require().NoError(err)
	s.Require().NotEqual(ch.ChannelID, again.ChannelID)
	testutil.AssertCount(s.T(), s.db, &models.PushChannel{}, 1)

	_, ok, err = svc.ChannelDocument(ctx, ch.ChannelID)
	s.Require().NoError(err)
	s.Require().False(ok)
}

func (s *IngestSuite) TestWatchDocumentErrors() {
	ctx := context.Background()
	svc := s.channelService(ChannelConfig{BaseURL: "https://ops.example"})

	_, err := svc.WatchDocument(ctx, " ")
	s.Require().ErrorIs(err, ErrInvalid)

	_, err = svc.WatchDocument(ctx, "missing")
	s.Require().Error(err)
	s.Require().Equal(capability.KindNotFound, capability.KindOf(err))

	_, err = s.service.WatchDocument(ctx, "doc-1")
	s.Require().ErrorIs(err, ErrChannelsDisabled)

	testutil.AssertCount(s.T(), s.db, &models.PushChannel{}, 0)
}

func (s *IngestSuite) TestRenewChannels() {
	ctx := context.Background()
	s.mailbox("watched@example.com", true)
	s.mailbox("new@example.com", true)
	s.mailbox("off@example.com", false)
	s.mock.PutFile(capability.File{ID: "doc-1"})

	svc := s.channelService(ChannelConfig{Topic: testTopic, BaseURL: "https://ops.example"})
	_, err := svc.WatchMailbox(ctx, "watched@example.com")
	s.Require().NoError(err)
	doc, err := svc.WatchDocument(ctx, "doc-1")
	s.Require().NoError(err)

	res, err := svc.RenewChannels(ctx, 48*time.Hour)
	s.Require().NoError(err)
	s.Require().Equal(2, res.Renewed)
	s.Require().Zero(res.Failed)

	channels, err := svc.Channels(ctx)
	s.Require().NoError(err)
	s.Require().Len(channels, 3)

	renewed, ok, err := svc.ChannelDocument(ctx, doc.ChannelID)
	s.Require().NoError(err)
	s.Require().False(ok, renewed)

	s.Require().Len(s.mock.CallsTo(capability.OpWatchMailbox), 2)
	s.Require().Len(s.mock.CallsTo(capability.OpWatchFile), 2)
}

func (s *IngestSuite) TestRenewChannelsCountsFailures() {
	ctx := context.Background()
	s.mailbox("a@example.com", true)
	s.mailbox("b@example.com", true)
	s.mock.Fail(capability.OpWatchMailbox, errors.New("pubsub down"))

	res, err := s.channelService(ChannelConfig{Topic: testTopic}).RenewChannels(ctx, time.Hour)
	s.Require().NoError(err)
	s.Require().Zero(res.Renewed)
	s.Require().Equal(2, res.Failed)
	testutil.AssertCount(s.T(), s.db, &models.PushChannel{}, 0)
}
