package env

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/opsdesk/opsdesk/pkg/log"
	"github.com/pkg/errors"
)

var variables = new(Environment)

// Process the environment variables set for opsdesk.
func Process() error {
	if err := envconfig.Process("opsdesk", variables); err != nil {
		return errors.Wrap(err, "failed to process environment variables")
	}

	// set the log level
	if err := log.SetLevel(variables.LogLevel); err != nil {
		return errors.Wrap(err, "failed to set log level")
	}

	log.SetFile(log.FileOptions{
		Path:       variables.LogFile,
		MaxSizeMB:  variables.LogFileMaxSizeMB,
		MaxBackups: variables.LogFileMaxBackups,
		MaxAgeDays: variables.LogFileMaxAgeDays,
	})

	return nil
}

// Variables returns the processed environment variables.
func Variables() Environment {
	return *variables
}

// Environment defines the environment variables used
// by opsdesk.
type Environment struct {
	LogLevel          string `default:"info" split_words:"true"`
	LogFile           string `default:"" split_words:"true"`
	LogFileMaxSizeMB  int    `default:"100" split_words:"true"`
	LogFileMaxBackups int    `default:"5" split_words:"true"`
	LogFileMaxAgeDays int    `default:"28" split_words:"true"`
	Port              int    `default:"8080" split_words:"true"`
	NodeID            string `default:"" split_words:"true"` // hostname

	DatabaseType string `default:"postgres" split_words:"true"`
	DatabaseDSN  string `default:"host=postgres user=postgres password=postgres dbname=opsdesk port=5432 sslmode=disable" split_words:"true"`
	DatabasePath string `default:"opsdesk.db" split_words:"true"`

	WorkerEnabled      bool          `default:"true" split_words:"true"`
	WorkerConcurrency  int           `default:"4" split_words:"true"`
	WorkerPollInterval time.Duration `default:"5s" split_words:"true"`
	QueueSchedule      string        `default:"0 */5 * * * *" split_words:"true"`
	QueueBatch         int           `default:"10" split_words:"true"`
	MailboxSchedule    string        `default:"0 */15 * * * *" split_words:"true"`

	CapabilityTimeout time.Duration `default:"30s" split_words:"true"`
	PersistRetries    uint64        `default:"3" split_words:"true"`
	PersistBackoff    time.Duration `default:"100ms" split_words:"true"`

	GoogleCredentialsRef string        `default:"" split_words:"true"`
	GoogleAdminSubject   string        `default:"" split_words:"true"`
	CredentialTTL        time.Duration `default:"50m" split_words:"true"`
	DriveRootFolder      string        `default:"" split_words:"true"`
	KickoffCalendarTZ    string        `default:"UTC" split_words:"true"`

	SecretProviders     string `default:"env" split_words:"true"`
	VaultAddress        string `default:"" split_words:"true"`
	VaultToken          string `default:"" split_words:"true"`
	VaultNamespace      string `default:"" split_words:"true"`
	KubernetesConfig    string `default:"" split_words:"true"`
	KubernetesNamespace string `default:"default" split_words:"true"`

	CompanyDomain  string        `default:"example.com" split_words:"true"`
	JWTSecret      string        `default:"" split_words:"true"`
	SessionTTL     time.Duration `default:"8h" split_words:"true"`
	OTPExpiry      time.Duration `default:"10m" split_words:"true"`
	OTPMaxAttempts int           `default:"3" split_words:"true"`
	RedisAddr      string        `default:"" split_words:"true"`
	RedisPassword  string        `default:"" split_words:"true"`
	RedisDB        int           `default:"0" split_words:"true"`

	TwilioAccountSID string `default:"" split_words:"true"`
	TwilioAuthToken  string `default:"" split_words:"true"`
	TwilioFromNumber string `default:"" split_words:"true"`

	TracingEnabled  bool   `default:"false" split_words:"true"`
	TracingEndpoint string `default:"localhost:4318" split_words:"true"`
	TracingInsecure bool   `default:"true" split_words:"true"`

	CallbackTimeout time.Duration `default:"10s" split_words:"true"`
	WebhookToken    string        `default:"" split_words:"true"`

	GmailPushTopic     string        `default:"" split_words:"true"`
	WebhookBaseURL     string        `default:"" envconfig:"WEBHOOK_BASE_URL"`
	ChannelTTL         time.Duration `default:"24h" split_words:"true"`
	ChannelSchedule    string        `default:"0 0 */6 * * *" split_words:"true"`
	ChannelRenewWithin time.Duration `default:"12h" split_words:"true"`

	GitSyncURL            string        `default:"" split_words:"true"`
	GitSyncRef            string        `default:"main" split_words:"true"`
	GitSyncPath           string        `default:"" split_words:"true"`
	GitSyncGlobs          []string      `default:"" split_words:"true"`
	GitSyncInterval       time.Duration `default:"1m" split_words:"true"`
	GitSyncUsernameRef    string        `default:"" split_words:"true"`
	GitSyncPasswordRef    string        `default:"" split_words:"true"`
	GitSyncSSHKeyRef      string        `default:"" envconfig:"GIT_SYNC_SSH_KEY_REF"`
	GitSyncKnownHostsRef  string        `default:"" split_words:"true"`
	GitSyncKnownHostsPath string        `default:"" split_words:"true"`

	ServerURL   string        `default:"http://localhost:8080" split_words:"true"`
	APIToken    string        `default:"" envconfig:"API_TOKEN"`
	HTTPTimeout time.Duration `default:"30s" split_words:"true"`
}
