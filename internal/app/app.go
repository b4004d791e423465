// Package app assembles opsdesk's services from the environment.
package app

import (
	"context"
	"strings"
	"time"

	"github.com/opsdesk/opsdesk/api/rest/bind"
	"github.com/opsdesk/opsdesk/internal/action"
	"github.com/opsdesk/opsdesk/internal/auth"
	"github.com/opsdesk/opsdesk/internal/callback"
	"github.com/opsdesk/opsdesk/internal/capability"
	"github.com/opsdesk/opsdesk/internal/capability/google"
	"github.com/opsdesk/opsdesk/internal/capability/mock"
	"github.com/opsdesk/opsdesk/internal/directory"
	"github.com/opsdesk/opsdesk/internal/event"
	"github.com/opsdesk/opsdesk/internal/execution"
	"github.com/opsdesk/opsdesk/internal/ingest"
	"github.com/opsdesk/opsdesk/internal/ruledef"
	"github.com/opsdesk/opsdesk/internal/ruledef/git"
	"github.com/opsdesk/opsdesk/internal/runner"
	"github.com/opsdesk/opsdesk/internal/scheduler"
	"github.com/opsdesk/opsdesk/internal/secret"
	"github.com/opsdesk/opsdesk/internal/task"
	"github.com/opsdesk/opsdesk/internal/trigger"
	"github.com/opsdesk/opsdesk/internal/worker"
	"github.com/opsdesk/opsdesk/pkg/env"
	"github.com/opsdesk/opsdesk/pkg/log"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// App holds the wired services of one opsdesk process.
type App struct {
	Vars      env.Environment
	DB        *gorm.DB
	Secrets   *secret.Registry
	Suite     capability.Suite
	Redis     redis.UniversalClient
	Bus       event.Bus
	Store     *execution.Store
	Matcher   *trigger.Matcher
	Tasks     *task.Service
	Ingest    *ingest.Service
	Callbacks *callback.Dispatcher
	Runner    *runner.Runner
	Importer  *ruledef.Importer
	Location  *time.Location
}

// Option overrides a collaborator New would otherwise build from the
// environment.
type Option func(*App)

// WithSuite replaces the capability suite.
func WithSuite(s capability.Suite) Option {
	return func(a *App) {
		a.Suite = s
	}
}

// WithRedis replaces the redis client.
func WithRedis(client redis.UniversalClient) Option {
	return func(a *App) {
		a.Redis = client
	}
}

// New wires every service on dbConn.
func New(ctx context.Context, vars env.Environment, dbConn *gorm.DB, opts ...Option) (*App, error) {
	a := &App{Vars: vars, DB: dbConn, Bus: event.New()}
	for _, opt := range opts {
		opt(a)
	}

	loc, err := scheduler.ParseLocation(vars.KickoffCalendarTZ)
	if err != nil {
		return nil, err
	}
	a.Location = loc

	if a.Secrets, err = secret.FromEnv(vars); err != nil {
		return nil, errors.Wrap(err, "secret provider configuration")
	}

	if a.Suite.Documents == nil {
		if a.Suite, err = BuildSuite(ctx, vars, a.Secrets); err != nil {
			return nil, errors.Wrap(err, "capability configuration")
		}
	}

	if a.Redis == nil {
		a.Redis = BuildRedis(vars)
	}

	a.Store = execution.NewStore(dbConn, execution.WithRetry(vars.PersistRetries, vars.PersistBackoff))
	a.Matcher = trigger.NewMatcher(a.Store)
	a.Tasks = task.NewService(dbConn, a.Suite.Documents)
	a.Ingest = ingest.NewService(dbConn, a.Matcher, a.Suite, ingest.WithChannels(ingest.ChannelConfig{
		Topic:   vars.GmailPushTopic,
		BaseURL: vars.WebhookBaseURL,
		Token:   vars.WebhookToken,
		TTL:     vars.ChannelTTL,
	}))
	a.Callbacks = callback.NewDispatcher(dbConn, vars.CallbackTimeout)
	a.Importer = ruledef.NewImporter(dbConn, action.Default().Names())

	a.Runner = runner.New(a.Store, action.Default(), action.Deps{
		Suite:     a.Suite,
		Directory: directory.New(dbConn),
		Tasks:     a.Tasks,
		DB:        dbConn,
		Settings: action.Settings{
			DriveRootFolder: vars.DriveRootFolder,
			Location:        loc,
		},
	},
		runner.WithBus(a.Bus),
		runner.WithCallbacks(a.Callbacks),
		runner.WithNodeID(vars.NodeID),
		runner.WithCapabilityTimeout(vars.CapabilityTimeout),
	)

	return a, nil
}

// BuildSuite connects the Google Workspace capabilities. Without
// credentials the in-memory suite is used instead.
func BuildSuite(ctx context.Context, vars env.Environment, resolver secret.Resolver) (capability.Suite, error) {
	if strings.TrimSpace(vars.GoogleCredentialsRef) == "" {
		log.Warn("no google credentials configured; using in-memory capabilities")
		return mock.New().Suite(), nil
	}

	creds, err := secret.Value(ctx, resolver, vars.GoogleCredentialsRef)
	if err != nil {
		return capability.Suite{}, errors.Wrap(err, "resolve google credentials")
	}

	source, err := google.ServiceAccountSource([]byte(creds))
	if err != nil {
		return capability.Suite{}, err
	}

	client, err := google.New(google.Config{
		AdminSubject: vars.GoogleAdminSubject,
		TimeZone:     vars.KickoffCalendarTZ,
		Tokens:       google.NewTokenCache(vars.CredentialTTL, source),
	})
	if err != nil {
		return capability.Suite{}, err
	}
	return client.Suite(), nil
}

// BuildRedis returns nil when no address is configured.
func BuildRedis(vars env.Environment) redis.UniversalClient {
	if strings.TrimSpace(vars.RedisAddr) == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     vars.RedisAddr,
		Password: vars.RedisPassword,
		DB:       vars.RedisDB,
	})
}

// BuildSMS picks Twilio when an account is configured.
func BuildSMS(vars env.Environment) auth.SMSSender {
	if vars.TwilioAccountSID == "" || vars.TwilioAuthToken == "" {
		return auth.LogSender{}
	}
	return auth.NewTwilioSender(vars.TwilioAccountSID, vars.TwilioAuthToken, vars.TwilioFromNumber)
}

// Gateway builds the login gateway. The signing secret may be a secret
// reference.
func (a *App) Gateway(ctx context.Context) (*auth.Gateway, error) {
	key, err := secret.Value(ctx, a.Secrets, a.Vars.JWTSecret)
	if err != nil {
		return nil, errors.Wrap(err, "resolve jwt secret")
	}

	opts := []auth.Option{auth.WithSMS(BuildSMS(a.Vars))}
	if a.Redis != nil {
		opts = append(opts, auth.WithCache(a.Redis))
	}

	return auth.NewGateway(a.DB, auth.Config{
		Secret:         key,
		CompanyDomain:  a.Vars.CompanyDomain,
		SessionTTL:     a.Vars.SessionTTL,
		OTPExpiry:      a.Vars.OTPExpiry,
		OTPMaxAttempts: a.Vars.OTPMaxAttempts,
	}, opts...)
}

// GitWatch converts the Git sync settings into watch options. ok is false
// when no repository is configured.
func (a *App) GitWatch() (opts git.WatchOptions, ok bool) {
	vars := a.Vars
	if strings.TrimSpace(vars.GitSyncURL) == "" {
		return git.WatchOptions{}, false
	}

	source := git.Source{
		URL:      vars.GitSyncURL,
		Ref:      vars.GitSyncRef,
		Path:     vars.GitSyncPath,
		Globs:    vars.GitSyncGlobs,
		Resolver: a.Secrets,
	}

	switch {
	case vars.GitSyncSSHKeyRef != "":
		source.SSH = &git.SSHAuth{
			UsernameRef:    vars.GitSyncUsernameRef,
			PrivateKeyRef:  vars.GitSyncSSHKeyRef,
			KnownHostsRef:  vars.GitSyncKnownHostsRef,
			KnownHostsPath: vars.GitSyncKnownHostsPath,
		}
	case vars.GitSyncUsernameRef != "" || vars.GitSyncPasswordRef != "":
		source.Auth = &git.BasicAuth{
			UsernameRef: vars.GitSyncUsernameRef,
			PasswordRef: vars.GitSyncPasswordRef,
		}
	}

	return git.WatchOptions{Source: source, Interval: vars.GitSyncInterval}, true
}

// Jobs returns the periodic background jobs. Push channels are only
// renewed when a topic or a public base URL is configured.
func (a *App) Jobs() []scheduler.Job {
	jobs := []scheduler.Job{
		{
			Name:     scheduler.JobProcessAutomationQueue,
			Schedule: a.Vars.QueueSchedule,
			Run: func(ctx context.Context) error {
				summary, err := a.ProcessQueue(ctx, a.Vars.QueueBatch)
				if err != nil {
					return err
				}
				log.Info("automation queue processed", "found", summary.Found, "completed", summary.Completed, "failed", summary.Failed)
				return nil
			},
		},
		{
			Name:     scheduler.JobSyncEmployeeMailboxes,
			Schedule: a.Vars.MailboxSchedule,
			Run: func(ctx context.Context) error {
				results, failed, err := a.Ingest.SyncAll(ctx)
				if err != nil {
					return err
				}
				log.Info("employee mailboxes synced", "synced", len(results), "failed", failed)
				return nil
			},
		},
	}

	if a.Vars.GmailPushTopic != "" || a.Vars.WebhookBaseURL != "" {
		jobs = append(jobs, scheduler.Job{
			Name:     scheduler.JobRenewPushChannels,
			Schedule: a.Vars.ChannelSchedule,
			Run: func(ctx context.Context) error {
				res, err := a.Ingest.RenewChannels(ctx, a.Vars.ChannelRenewWithin)
				if err != nil {
					return err
				}
				log.Info("push channels renewed", "renewed", res.Renewed, "failed", res.Failed)
				return nil
			},
		})
	}
	return jobs
}

// ProcessQueue runs one bounded pass over the pending executions.
func (a *App) ProcessQueue(ctx context.Context, limit int) (worker.Summary, error) {
	return worker.ProcessQueue(ctx, a.Matcher, a.Runner, worker.NewPool(a.Vars.WorkerConcurrency), limit)
}

// Deps returns the REST bindings' services.
func (a *App) Deps(gw *auth.Gateway, dispatcher *worker.Dispatcher) *bind.Deps {
	return &bind.Deps{
		DB:           a.DB,
		Auth:         gw,
		Store:        a.Store,
		Pending:      a.Matcher,
		Runner:       a.Runner,
		Dispatcher:   dispatcher,
		Ingest:       a.Ingest,
		Tasks:        a.Tasks,
		Importer:     a.Importer,
		Callbacks:    a.Callbacks,
		Bus:          a.Bus,
		Concurrency:  a.Vars.WorkerConcurrency,
		QueueBatch:   a.Vars.QueueBatch,
		WebhookToken: a.Vars.WebhookToken,
	}
}
