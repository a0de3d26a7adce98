package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"leakwatch/internal/models"
	"leakwatch/internal/source"
)

// ThresholdPrefix is the legacy key prefix for thresholds ("seuil_debit").
const ThresholdPrefix = "seuil_"

// Config holds runtime configuration for the collector.
type Config struct {
	Email      EmailConfig        `yaml:"email"`
	Thresholds map[string]float64 `yaml:"thresholds"`
	Collector  CollectorConfig    `yaml:"collector"`
	Alerting   AlertingConfig     `yaml:"alerting"`
	Store      StoreConfig        `yaml:"store"`
	Logging    LoggingConfig      `yaml:"logging"`
	HTTP       HTTPConfig         `yaml:"http"`
	Kafka      KafkaConfig        `yaml:"kafka"`
}

// EmailConfig describes the single notification channel.
type EmailConfig struct {
	Sender    string `yaml:"sender"`
	Recipient string `yaml:"recipient"`
	SMTPHost  string `yaml:"smtp_host"`
	SMTPPort  int    `yaml:"smtp_port"`
	// Username defaults to Sender when empty.
	Username string `yaml:"username"`
}

type CollectorConfig struct {
	Interval time.Duration `yaml:"interval"`
	// Source is one of synthetic, static or host.
	Source string `yaml:"source"`
	// Metrics lists the tracked metrics; each needs a threshold. Empty
	// tracks everything the source produces.
	Metrics []string           `yaml:"metrics"`
	Static  map[string]float64 `yaml:"static"`
	Node    string             `yaml:"node"`
}

type AlertingConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type HTTPConfig struct {
	// Addr is the ops listener; empty disables it.
	Addr string `yaml:"addr"`
}

// KafkaConfig configures the optional snapshot mirror. No brokers, no mirror.
type KafkaConfig struct {
	Brokers  []string       `yaml:"brokers"`
	Topic    string         `yaml:"topic"`
	Workers  int            `yaml:"workers"`
	Queue    int            `yaml:"queue"`
	Producer ProducerConfig `yaml:"producer"`
}

// ProducerConfig holds Kafka writer tuning.
type ProducerConfig struct {
	PoolSize     int           `yaml:"pool_size"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	RequiredAcks int           `yaml:"required_acks"`
	Compression  string        `yaml:"compression"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// Enabled reports whether the snapshot mirror should run.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// Default returns a sensible default config for local dev.
func Default() *Config {
	return &Config{
		Email: EmailConfig{
			SMTPHost: "smtp.gmail.com",
			SMTPPort: 587,
		},
		Collector: CollectorConfig{
			Interval: 5 * time.Second,
			Source:   "synthetic",
		},
		Alerting: AlertingConfig{
			MaxAttempts: 3,
			Backoff:     5 * time.Second,
		},
		Store: StoreConfig{
			Path: "data_log.ndjson",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Kafka: KafkaConfig{
			Topic:   "leakwatch.snapshots",
			Workers: 1,
			Queue:   256,
			Producer: ProducerConfig{
				PoolSize:     1,
				BatchSize:    100,
				BatchTimeout: time.Second,
				WriteTimeout: 10 * time.Second,
				RequiredAcks: 1,
				Compression:  "snappy",
				MaxRetries:   3,
				RetryBackoff: 500 * time.Millisecond,
			},
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, then environment overrides. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	cfg.Thresholds = normalizeThresholds(cfg.Thresholds)
	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Logging.Level = getEnv("LEAKWATCH_LOG_LEVEL", cfg.Logging.Level)
	cfg.Store.Path = getEnv("LEAKWATCH_STORE_PATH", cfg.Store.Path)
	cfg.HTTP.Addr = getEnv("LEAKWATCH_HTTP_ADDR", cfg.HTTP.Addr)
	if brokers := os.Getenv("LEAKWATCH_KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

// normalizeThresholds lower-cases keys and strips the legacy prefix.
func normalizeThresholds(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		name := strings.ToLower(strings.TrimSpace(k))
		name = strings.TrimPrefix(name, ThresholdPrefix)
		out[name] = v
	}
	return out
}

// Validate fails fast with a *ConfigError when a required key is missing or
// a value cannot drive the collector.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Email.Sender) == "" {
		return missing("email.sender")
	}
	if strings.TrimSpace(c.Email.Recipient) == "" {
		return missing("email.recipient")
	}
	if c.Email.SMTPHost == "" {
		return missing("email.smtp_host")
	}
	if c.Email.SMTPPort <= 0 || c.Email.SMTPPort > 65535 {
		return invalid("email.smtp_port", "must be a TCP port")
	}
	if len(c.Thresholds) == 0 {
		return missing("thresholds")
	}

	for _, name := range c.TrackedMetrics() {
		if _, ok := c.Thresholds[name]; !ok {
			return missing("thresholds." + name)
		}
	}

	if c.Collector.Interval <= 0 {
		return invalid("collector.interval", "must be positive")
	}
	switch c.Collector.Source {
	case "synthetic", "static", "host":
	default:
		return invalid("collector.source", fmt.Sprintf("unknown source %q", c.Collector.Source))
	}
	if _, err := source.New(c.Collector.Source, c.Collector.Metrics, c.Collector.Static); err != nil {
		return invalid("collector.metrics", err.Error())
	}
	if c.Alerting.MaxAttempts < 1 {
		return invalid("alerting.max_attempts", "must be at least 1")
	}
	if c.Alerting.Backoff < 0 {
		return invalid("alerting.backoff", "must not be negative")
	}
	if c.Store.Path == "" {
		return missing("store.path")
	}
	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		return missing("kafka.topic")
	}
	return nil
}

// TrackedMetrics returns, sorted and normalised, the configured metrics or,
// when none are set, every metric the configured source produces.
func (c *Config) TrackedMetrics() []string {
	if len(c.Collector.Metrics) == 0 {
		return source.Metrics(c.Collector.Source, c.Collector.Static)
	}
	names := make([]string, 0, len(c.Collector.Metrics))
	for _, m := range c.Collector.Metrics {
		names = append(names, models.NormalizeName(m))
	}
	sort.Strings(names)
	return names
}

// Login returns the SMTP login, which defaults to the sender address.
func (e EmailConfig) Login() string {
	if e.Username != "" {
		return e.Username
	}
	return e.Sender
}
