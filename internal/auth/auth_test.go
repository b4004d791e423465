package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/opsdesk/opsdesk/internal/models"
	"github.com/opsdesk/opsdesk/internal/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type sentSMS struct {
	to, body string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentSMS
}

func (r *recordingSender) Send(_ context.Context, to, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentSMS{to: to, body: body})
	return nil
}

type GatewaySuite struct {
	suite.Suite
	db      *gorm.DB
	redis   *miniredis.Miniredis
	clock   *clock
	sms     *recordingSender
	gateway *Gateway
}

func TestGatewaySuite(t *testing.T) {
	suite.Run(t, new(GatewaySuite))
}

func (s *GatewaySuite) SetupTest() {
	s.db = testutil.OpenTestDB(s.T())
	s.redis = miniredis.RunT(s.T())
	s.clock = &clock{t: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)}
	s.sms = &recordingSender{}

	gw, err := NewGateway(s.db, Config{
		Secret:        "test-secret",
		CompanyDomain: "example.com",
		SessionTTL:    8 * time.Hour,
	},
		WithCache(redis.NewClient(&redis.Options{Addr: s.redis.Addr()})),
		WithSMS(s.sms),
		WithClock(s.clock.Now),
		WithCodeGenerator(func() (string, error) { return "123456", nil }),
	)
	s.Require().NoError(err)
	s.gateway = gw
}

func (s *GatewaySuite) TearDownTest() {
	testutil.CloseDB(s.db)
}

func (s *GatewaySuite) employee(email, password string) {
	testutil.MustCreate(s.T(), s.db, testutil.Employee(email))
	_, err := s.gateway.SetPassword(context.Background(), email, password)
	s.Require().NoError(err)
}

func (s *GatewaySuite) customer(email, phone string, expires *time.Time) {
	testutil.MustCreate(s.T(), s.db, &models.PreapprovedAccount{
		ID:          uuid.New(),
		Email:       email,
		AccountType: models.RoleCustomer,
		PhoneNumber: phone,
		IsActive:    true,
		ExpiresAt:   expires,
	})
}

func (s *GatewaySuite) TestEmployeeLoginAndResolve() {
	ctx := context.Background()
	s.employee("agent@example.com", "correct-horse")

	session, err := s.gateway.Login(ctx, "Agent@Example.com", "correct-horse", ClientMeta{IPAddress: "10.0.0.1"})
	s.Require().NoError(err)
	s.Require().Equal("Bearer", session.TokenType)
	s.Require().Equal(s.clock.Now().Add(8*time.Hour), session.ExpiresAt)
	s.Require().True(s.redis.Exists(sessionKeyPrefix + session.Actor.SessionID.String()))

	actor, err := s.gateway.ResolveActor(ctx, "Bearer "+session.Token)
	s.Require().NoError(err)
	s.Require().Equal("agent@example.com", actor.Email)
	s.Require().Equal(models.RoleEmployee, actor.Role)
	s.Require().True(actor.IsEmployee())
	s.Require().Equal(session.Actor.SessionID, actor.SessionID)

	var user models.WebappUser
	s.Require().NoError(s.db.First(&user, "email = ?", "agent@example.com").Error)
	s.Require().NotNil(user.LastLoginAt)
}

func (s *GatewaySuite) TestLoginRejections() {
	ctx := context.Background()
	s.employee("agent@example.com", "correct-horse")

	_, err := s.gateway.Login(ctx, "agent@example.com", "wrong-password", ClientMeta{})
	s.Require().ErrorIs(err, ErrInvalidCredentials)

	_, err = s.gateway.Login(ctx, "agent@other.example", "correct-horse", ClientMeta{})
	s.Require().ErrorIs(err, ErrInvalidCredentials)

	_, err = s.gateway.Login(ctx, "ghost@example.com", "correct-horse", ClientMeta{})
	s.Require().ErrorIs(err, ErrInvalidCredentials)

	s.Require().NoError(s.db.Model(&models.Employee{}).
		Where("employee_email = ?", "agent@example.com").
		Update("employment_status", "terminated").Error)
	_, err = s.gateway.Login(ctx, "agent@example.com", "correct-horse", ClientMeta{})
	s.Require().ErrorIs(err, ErrInvalidCredentials)
	testutil.AssertCount(s.T(), s.db, &models.UserSession{}, 0)
}

func (s *GatewaySuite) TestResolveActorRejectsBadCredentials() {
	ctx := context.Background()
	s.employee("agent@example.com", "correct-horse")
	session, err := s.gateway.Login(ctx, "agent@example.com", "correct-horse", ClientMeta{})
	s.Require().NoError(err)

	for _, credential := range []string{"", "Bearer ", "not-a-token", session.Token + "x"} {
		_, err := s.gateway.ResolveActor(ctx, credential)
		s.Require().ErrorIs(err, ErrUnauthenticated, credential)
	}

	other, err := NewGateway(s.db, Config{Secret: "other-secret", CompanyDomain: "example.com"})
	s.Require().NoError(err)
	_, err = other.ResolveActor(ctx, session.Token)
	s.Require().ErrorIs(err, ErrUnauthenticated)

	s.clock.Advance(8*time.Hour + time.Second)
	_, err = s.gateway.ResolveActor(ctx, session.Token)
	s.Require().ErrorIs(err, ErrUnauthenticated)
}

func (s *GatewaySuite) TestResolveActorFallsBackToSessionTable() {
	ctx := context.Background()
	s.employee("agent@example.com", "correct-horse")
	session, err := s.gateway.Login(ctx, "agent@example.com", "correct-horse", ClientMeta{})
	s.Require().NoError(err)

	s.redis.FlushAll()
	actor, err := s.gateway.ResolveActor(ctx, session.Token)
	s.Require().NoError(err)
	s.Require().Equal(session.Actor.ID, actor.ID)
	s.Require().True(s.redis.Exists(sessionKeyPrefix + session.Actor.SessionID.String()))
}

func (s *GatewaySuite) TestLogoutRevokes() {
	ctx := context.Background()
	s.employee("agent@example.com", "correct-horse")
	session, err := s.gateway.Login(ctx, "agent@example.com", "correct-horse", ClientMeta{})
	s.Require().NoError(err)

	actor, err := s.gateway.ResolveActor(ctx, session.Token)
	s.Require().NoError(err)
	s.Require().NoError(s.gateway.Logout(ctx, actor))
	s.Require().False(s.redis.Exists(sessionKeyPrefix + actor.SessionID.String()))

	_, err = s.gateway.ResolveActor(ctx, session.Token)
	s.Require().ErrorIs(err, ErrUnauthenticated)
	s.Require().ErrorIs(s.gateway.Logout(ctx, nil), ErrUnauthenticated)
}

func (s *GatewaySuite) TestOTPFlow() {
	ctx := context.Background()
	s.customer("buyer@acme.example", "(555) 123-4567", nil)

	s.Require().NoError(s.gateway.SendOTP(ctx, "Buyer@Acme.example"))
	s.Require().Len(s.sms.sent, 1)
	s.Require().Equal("+15551234567", s.sms.sent[0].to)
	s.Require().Contains(s.sms.sent[0].body, "123456")
	s.Require().Contains(s.sms.sent[0].body, "10 minutes")

	_, err := s.gateway.VerifyOTP(ctx, "buyer@acme.example", "000000", ClientMeta{})
	s.Require().ErrorIs(err, ErrCodeInvalid)

	session, err := s.gateway.VerifyOTP(ctx, "buyer@acme.example", "123456", ClientMeta{IPAddress: "10.0.0.2"})
	s.Require().NoError(err)
	s.Require().Equal(models.RoleCustomer, session.Actor.Role)

	actor, err := s.gateway.ResolveActor(ctx, session.Token)
	s.Require().NoError(err)
	s.Require().False(actor.IsEmployee())

	_, err = s.gateway.VerifyOTP(ctx, "buyer@acme.example", "123456", ClientMeta{})
	s.Require().ErrorIs(err, ErrCodeInvalid)
	testutil.AssertCount(s.T(), s.db, &models.WebappUser{}, 1)
}

func (s *GatewaySuite) TestOTPAttemptLimit() {
	ctx := context.Background()
	s.customer("buyer@acme.example", "+44 20 7946 0958", nil)
	s.Require().NoError(s.gateway.SendOTP(ctx, "buyer@acme.example"))
	s.Require().Equal("+442079460958", s.sms.sent[0].to)

	_, err := s.gateway.VerifyOTP(ctx, "buyer@acme.example", "111111", ClientMeta{})
	s.Require().ErrorIs(err, ErrCodeInvalid)
	_, err = s.gateway.VerifyOTP(ctx, "buyer@acme.example", "222222", ClientMeta{})
	s.Require().ErrorIs(err, ErrCodeInvalid)
	_, err = s.gateway.VerifyOTP(ctx, "buyer@acme.example", "333333", ClientMeta{})
	s.Require().ErrorIs(err, ErrTooManyAttempts)

	_, err = s.gateway.VerifyOTP(ctx, "buyer@acme.example", "123456", ClientMeta{})
	s.Require().ErrorIs(err, ErrTooManyAttempts)

	// a fresh code resets the budget
	s.Require().NoError(s.gateway.SendOTP(ctx, "buyer@acme.example"))
	_, err = s.gateway.VerifyOTP(ctx, "buyer@acme.example", "123456", ClientMeta{})
	s.Require().NoError(err)
}

func (s *GatewaySuite) TestOTPExpiry() {
	ctx := context.Background()
	s.customer("buyer@acme.example", "5551234567", nil)
	s.Require().NoError(s.gateway.SendOTP(ctx, "buyer@acme.example"))

	s.clock.Advance(10 * time.Minute)
	_, err := s.gateway.VerifyOTP(ctx, "buyer@acme.example", "123456", ClientMeta{})
	s.Require().ErrorIs(err, ErrCodeExpired)
}

func (s *GatewaySuite) TestOTPRequiresPreapproval() {
	ctx := context.Background()
	s.Require().ErrorIs(s.gateway.SendOTP(ctx, "stranger@acme.example"), ErrNotPreapproved)

	expired := s.clock.Now().Add(-time.Hour)
	s.customer("old@acme.example", "5551234567", &expired)
	s.Require().ErrorIs(s.gateway.SendOTP(ctx, "old@acme.example"), ErrNotPreapproved)
	s.Require().Empty(s.sms.sent)
}

func TestNewGatewayRequiresSecret(t *testing.T) {
	_, err := NewGateway(nil, Config{})
	require.Error(t, err)
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"(555) 123-4567":   "+15551234567",
		"1-555-123-4567":   "+15551234567",
		"+44 20 7946 0958": "+442079460958",
	}
	for in, want := range cases {
		got, err := NormalizePhone(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got)
	}

	for _, in := range []string{"", "12345", "call me"} {
		_, err := NormalizePhone(in)
		require.Error(t, err, in)
	}
}

func TestTwilioSender(t *testing.T) {
	var gotPath, gotUser, gotTo, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, _, _ = r.BasicAuth()
		require.NoError(t, r.ParseForm())
		gotTo = r.PostForm.Get("To")
		gotBody = r.PostForm.Get("Body")
		if gotTo == "+10000000000" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM123"}`))
	}))
	defer srv.Close()

	sender := NewTwilioSender("AC123", "token", "+15550000000", WithTwilioBaseURL(srv.URL))
	require.NoError(t, sender.Send(context.Background(), "+15551234567", "code 123456"))
	require.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", gotPath)
	require.Equal(t, "AC123", gotUser)
	require.Equal(t, "+15551234567", gotTo)
	require.Equal(t, "code 123456", gotBody)

	err := sender.Send(context.Background(), "+10000000000", "code")
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "21211"))
}
