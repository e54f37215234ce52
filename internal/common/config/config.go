// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Leasing       LeasingConfig           `mapstructure:"leasing"`
	Jobs          JobsConfig              `mapstructure:"jobs"`
	Logging       LoggingConfig           `mapstructure:"logging"`
	Notifications NotificationConfig      `mapstructure:"notifications"`
	Tracing       TracingConfig           `mapstructure:"tracing"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	HTTPAddress string `mapstructure:"http_address"`
}

type CamundaConfig struct {
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
	AutoMigrate    bool   `mapstructure:"auto_migrate"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	SSLEnabled bool     `mapstructure:"ssl_enabled"`
	URL        string   `mapstructure:"url"` // Single URL for backwards compatibility
	AuditIndex string   `mapstructure:"audit_index"`
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

// Enabled reports whether an Elasticsearch cluster is configured at all.
func (e ElasticsearchConfig) Enabled() bool {
	return e.GetURL() != ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// --- Leasing engine ---

// LeasingConfig holds engine-wide settings and the hard-coded policy used
// when no WorkflowConfig resolves for an application.
type LeasingConfig struct {
	DuplicateLookbackHours int    `mapstructure:"duplicate_lookback_hours"`
	DraftSessionTTLHours   int    `mapstructure:"draft_session_ttl_hours"`
	ApplicationFeeCents    int64  `mapstructure:"application_fee_cents"`
	Currency               string `mapstructure:"currency"`
	ConfigCacheTTLSeconds  int    `mapstructure:"config_cache_ttl_seconds"`
	PaymentProvider        string `mapstructure:"payment_provider"`

	Defaults PolicyDefaults `mapstructure:"defaults"`
}

// PolicyDefaults mirrors the tunable fields of a workflow policy document.
type PolicyDefaults struct {
	UnitIntakeMode        string `mapstructure:"unit_intake_mode"`
	SubmitCap             int    `mapstructure:"submit_cap"`
	SubmittedTTLHours     int    `mapstructure:"submitted_ttl_hours"`
	ScreeningLockTTLHours int    `mapstructure:"screening_lock_ttl_hours"`
	SoftHoldTTLHours      int    `mapstructure:"soft_hold_ttl_hours"`
	ScreeningTimeoutHours int    `mapstructure:"screening_timeout_hours"`
	RequiredCoApplicants  int    `mapstructure:"required_co_applicants"`
	MaxReminders          int    `mapstructure:"max_reminders"`
	ReminderIntervalHours int    `mapstructure:"reminder_interval_hours"`
}

// JobsConfig drives the background job orchestrator.
type JobsConfig struct {
	Enabled             bool    `mapstructure:"enabled"`
	IntervalSeconds     int     `mapstructure:"interval_seconds"`
	BatchSize           int     `mapstructure:"batch_size"`
	RemindersPerSecond  float64 `mapstructure:"reminders_per_second"`
	AuditIndexEnabled   bool    `mapstructure:"audit_index_enabled"`
	SweepTimeoutSeconds int     `mapstructure:"sweep_timeout_seconds"`
}

// NotificationConfig holds settings for co-applicant reminder delivery.
type NotificationConfig struct {
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
	} `mapstructure:"email"`
	SMS struct {
		Enabled  bool   `mapstructure:"enabled"`
		SenderID string `mapstructure:"sender_id"`
	} `mapstructure:"sms"`
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
}

// TracingConfig configures the Jaeger span exporter. Tracing is disabled
// when no collector endpoint is set.
type TracingConfig struct {
	CollectorEndpoint string  `mapstructure:"collector_endpoint"`
	SampleRatio       float64 `mapstructure:"sample_ratio"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
