package internal

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultWebhookSecret is only meant for local development. Deployments that
// end up with it are misconfigured.
const DefaultWebhookSecret = "taskhooks-development-secret"

// DefaultPushTopic receives pushes when no routing rule is configured.
const DefaultPushTopic = "github.push"

// AppConfig represents the main application configuration.
type AppConfig struct {
	// Server holds server-specific configuration.
	Server struct {
		Port           int    `yaml:"port"`
		ReadTimeoutMS  int64  `yaml:"read_timeout_ms"`
		WriteTimeoutMS int64  `yaml:"write_timeout_ms"`
		IdleTimeoutMS  int64  `yaml:"idle_timeout_ms"`
		ReadHeaderMS   int64  `yaml:"read_header_timeout_ms"`
		MaxBodyBytes   int64  `yaml:"max_body_bytes"`
		RateLimitRPS   int64  `yaml:"rate_limit_rps"`
		RateLimitBurst int64  `yaml:"rate_limit_burst"`
		MetricsEnabled bool   `yaml:"metrics_enabled"`
		MetricsPath    string `yaml:"metrics_path"`
		APIPrefix      string `yaml:"api_prefix"`
	} `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	GitHub  GitHubConfig  `yaml:"github"`
	Storage StorageConfig `yaml:"storage"`
	// Watermill holds configuration for the dispatch layer.
	Watermill WatermillConfig `yaml:"watermill"`
	Worker    WorkerConfig    `yaml:"worker"`
}

// Config represents the application configuration including rules.
type Config struct {
	AppConfig   `yaml:",inline"`
	Rules       []Rule `yaml:"rules"`
	RulesStrict bool   `yaml:"rules_strict"`
}

// UsesDefaultSecret reports whether the webhook secret fell back to
// DefaultWebhookSecret.
func (c Config) UsesDefaultSecret() bool {
	return c.GitHub.WebhookSecret == DefaultWebhookSecret
}

// LogConfig configures zap.
type LogConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	Development bool   `yaml:"development"`
}

// GitHubConfig holds the webhook endpoint and API credentials.
type GitHubConfig struct {
	Path           string `yaml:"path"`
	WebhookSecret  string `yaml:"webhook_secret"`
	ReplayWindowMS int64  `yaml:"replay_window_ms"`
	Topic          string `yaml:"topic"`
	DebugEvents    bool   `yaml:"debug_events"`
	BaseURL        string `yaml:"base_url"`
	Token          string `yaml:"token"`
	AppID          int64  `yaml:"app_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
	PrivateKey     string `yaml:"private_key"`
}

// IssuesEnabled reports whether any GitHub API credential is configured.
func (c GitHubConfig) IssuesEnabled() bool {
	return c.Token != "" || (c.AppID != 0 && (c.PrivateKeyPath != "" || c.PrivateKey != ""))
}

// StorageConfig selects the task database.
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	DSN         string `yaml:"dsn"`
	Dialect     string `yaml:"dialect"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// WatermillConfig holds the configuration for Watermill, which handles messaging.
type WatermillConfig struct {
	Driver       string             `yaml:"driver"`
	Drivers      []string           `yaml:"drivers"`
	GoChannel    GoChannelConfig    `yaml:"gochannel"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	NATS         NATSConfig         `yaml:"nats"`
	AMQP         AMQPConfig         `yaml:"amqp"`
	SQL          SQLConfig          `yaml:"sql"`
	HTTP         HTTPConfig         `yaml:"http"`
	RiverQueue   RiverQueueConfig   `yaml:"riverqueue"`
	PublishRetry PublishRetryConfig `yaml:"publish_retry"`
}

// GoChannelConfig holds configuration for the GoChannel pub/sub.
type GoChannelConfig struct {
	OutputChannelBuffer            int64 `yaml:"output_buffer"`
	Persistent                     bool  `yaml:"persistent"`
	BlockPublishUntilSubscriberAck bool  `yaml:"block_publish_until_subscriber_ack"`
}

// KafkaConfig holds configuration for the Kafka pub/sub.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

// NATSConfig holds configuration for the NATS streaming pub/sub.
type NATSConfig struct {
	ClusterID string `yaml:"cluster_id"`
	ClientID  string `yaml:"client_id"`
	URL       string `yaml:"url"`
	Durable   string `yaml:"durable"`
}

// AMQPConfig holds configuration for the AMQP pub/sub.
type AMQPConfig struct {
	URL  string `yaml:"url"`
	Mode string `yaml:"mode"`
}

// SQLConfig holds configuration for the SQL pub/sub.
type SQLConfig struct {
	Driver               string `yaml:"driver"`
	DSN                  string `yaml:"dsn"`
	Dialect              string `yaml:"dialect"`
	ConsumerGroup        string `yaml:"consumer_group"`
	InitializeSchema     bool   `yaml:"initialize_schema"`
	AutoInitializeSchema bool   `yaml:"auto_initialize_schema"`
}

// HTTPConfig holds configuration for the HTTP publisher.
type HTTPConfig struct {
	BaseURL string `yaml:"base_url"`
	Mode    string `yaml:"mode"`
}

// RiverQueueConfig holds configuration for the river job queue.
type RiverQueueConfig struct {
	DSN         string   `yaml:"dsn"`
	Queue       string   `yaml:"queue"`
	MaxAttempts int      `yaml:"max_attempts"`
	Priority    int      `yaml:"priority"`
	Tags        []string `yaml:"tags"`
	MaxWorkers  int      `yaml:"max_workers"`
	Migrate     bool     `yaml:"migrate"`
}

// PublishRetryConfig bounds how often a single publish is retried.
type PublishRetryConfig struct {
	Attempts int `yaml:"attempts"`
	DelayMS  int `yaml:"delay_ms"`
}

// WorkerConfig configures the in-process push consumer.
type WorkerConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Topics           []string `yaml:"topics"`
	Concurrency      int      `yaml:"concurrency"`
	RetryMaxAttempts int      `yaml:"retry_max_attempts"`
	RetryInitialMS   int64    `yaml:"retry_initial_ms"`
	RetryMaxMS       int64    `yaml:"retry_max_ms"`
}

// LoadConfig loads the full application configuration, including rules, from a YAML file.
// It expands environment variables, applies defaults, and normalizes rules.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, err
	}

	applyDefaults(&cfg.AppConfig)
	normalized, err := normalizeRules(cfg.Rules)
	if err != nil {
		return cfg, err
	}
	cfg.Rules = normalized

	return cfg, nil
}

// RulesConfig represents the rule-specific parts of the configuration.
type RulesConfig struct {
	Rules  []Rule `yaml:"rules"`
	Strict bool   `yaml:"rules_strict"`
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeoutMS == 0 {
		cfg.Server.ReadTimeoutMS = 5000
	}
	if cfg.Server.WriteTimeoutMS == 0 {
		cfg.Server.WriteTimeoutMS = 10000
	}
	if cfg.Server.IdleTimeoutMS == 0 {
		cfg.Server.IdleTimeoutMS = 60000
	}
	if cfg.Server.ReadHeaderMS == 0 {
		cfg.Server.ReadHeaderMS = 5000
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = "/metrics"
	}
	if cfg.Server.APIPrefix == "" {
		cfg.Server.APIPrefix = "/api/v1"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.GitHub.Path == "" {
		cfg.GitHub.Path = "/webhooks/github"
	}
	if strings.TrimSpace(cfg.GitHub.WebhookSecret) == "" {
		cfg.GitHub.WebhookSecret = DefaultWebhookSecret
	}
	if cfg.GitHub.ReplayWindowMS == 0 {
		cfg.GitHub.ReplayWindowMS = 60 * 60 * 1000
	}
	if cfg.GitHub.Topic == "" {
		cfg.GitHub.Topic = DefaultPushTopic
	}
	if cfg.Storage.Driver == "" && cfg.Storage.Dialect == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "taskhooks.db"
	}
	if cfg.Watermill.Driver == "" {
		cfg.Watermill.Driver = "gochannel"
	}
	if cfg.Watermill.GoChannel.OutputChannelBuffer == 0 {
		cfg.Watermill.GoChannel.OutputChannelBuffer = 64
	}
	if cfg.Watermill.HTTP.Mode == "" {
		cfg.Watermill.HTTP.Mode = "topic_url"
	}
	if cfg.Watermill.RiverQueue.Queue == "" {
		cfg.Watermill.RiverQueue.Queue = "default"
	}
	if cfg.Watermill.RiverQueue.MaxAttempts == 0 {
		cfg.Watermill.RiverQueue.MaxAttempts = 5
	}
	if cfg.Watermill.RiverQueue.MaxWorkers == 0 {
		cfg.Watermill.RiverQueue.MaxWorkers = 5
	}
	if cfg.Watermill.PublishRetry.Attempts == 0 {
		cfg.Watermill.PublishRetry.Attempts = 3
	}
	if cfg.Watermill.PublishRetry.DelayMS == 0 {
		cfg.Watermill.PublishRetry.DelayMS = 500
	}
	if len(cfg.Worker.Topics) == 0 {
		cfg.Worker.Topics = []string{cfg.GitHub.Topic}
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 4
	}
	if cfg.Worker.RetryMaxAttempts == 0 {
		cfg.Worker.RetryMaxAttempts = 5
	}
	if cfg.Worker.RetryInitialMS == 0 {
		cfg.Worker.RetryInitialMS = 200
	}
	if cfg.Worker.RetryMaxMS == 0 {
		cfg.Worker.RetryMaxMS = 10000
	}
}

func normalizeRules(rules []Rule) ([]Rule, error) {
	out := make([]Rule, 0, len(rules))
	for i := range rules {
		rule := rules[i]
		rule.When = strings.TrimSpace(rule.When)
		emit := make(EmitList, 0, len(rule.Emit))
		for _, topic := range rule.Emit {
			if trimmed := strings.TrimSpace(topic); trimmed != "" {
				emit = append(emit, trimmed)
			}
		}
		rule.Emit = emit
		if rule.When == "" || len(rule.Emit) == 0 {
			return nil, fmt.Errorf("rule %d is missing when or emit", i)
		}
		if len(rule.Drivers) > 0 {
			drivers := make([]string, 0, len(rule.Drivers))
			for _, driver := range rule.Drivers {
				trimmed := strings.TrimSpace(driver)
				if trimmed != "" {
					drivers = append(drivers, trimmed)
				}
			}
			rule.Drivers = drivers
		}
		out = append(out, rule)
	}
	return out, nil
}
