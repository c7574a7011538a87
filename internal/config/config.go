package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DatabaseURL string
	DBHost      string
	DBPort      int
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string
	DBMaxConns  int

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// AWS Services
	AWSRegion    string
	AWSEndpoint  string // LocalStack override for SNS/SQS
	SESFromEmail string
	SMSSenderID  string

	// Gateways: "ses" | "http" | "log" for email, "sns" | "http" | "log" for SMS
	EmailGateway     string
	SMSGateway       string
	HTTPEmailURL     string
	HTTPSMSURL       string
	HTTPGatewayToken string
	GatewayTimeout   time.Duration

	// Per-channel send throttles, messages per second
	EmailRatePerSec float64
	EmailBurst      int
	SMSRatePerSec   float64
	SMSBurst        int

	// Retry policy
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// Sweep
	SweepSchedule  string // cron spec, seconds optional
	SweepTimeout   time.Duration
	SweepBatchSize int
	SweepWorkers   int
	SendTimeout    time.Duration
	StaleAfter     time.Duration

	// Alerts on terminal failures
	AlertTopicARN string
	DLQURL        string

	// API guards
	RateLimitPerMinute int
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "reminders",
		DBName:     "reminders",
		DBSSLMode:  "disable",
		DBMaxConns: 25,

		RedisHost: "localhost",
		RedisPort: 6379,

		AWSRegion:    "us-east-1",
		SESFromEmail: "noreply@reminders.local",

		EmailGateway:   "log",
		SMSGateway:     "log",
		GatewayTimeout: 10 * time.Second,

		EmailRatePerSec: 14, // SES default sending rate
		EmailBurst:      14,
		SMSRatePerSec:   20,
		SMSBurst:        20,

		MaxRetries:     3,
		RetryBaseDelay: 60 * time.Second,
		RetryMaxDelay:  time.Hour,

		SweepSchedule:  "@every 30s",
		SweepTimeout:   5 * time.Minute,
		SweepBatchSize: 100,
		SweepWorkers:   8,
		SendTimeout:    15 * time.Second,
		StaleAfter:     10 * time.Minute,

		RateLimitPerMinute: 120,
	}

	var err error

	if cfg.Port, err = intEnv("PORT", cfg.Port); err != nil {
		return nil, err
	}
	cfg.LogLevel = stringEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Env = stringEnv("ENV", cfg.Env)

	// Database config
	cfg.DatabaseURL = stringEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.DBHost = stringEnv("DB_HOST", cfg.DBHost)
	if cfg.DBPort, err = intEnv("DB_PORT", cfg.DBPort); err != nil {
		return nil, err
	}
	cfg.DBUser = stringEnv("DB_USER", cfg.DBUser)
	cfg.DBPassword = stringEnv("DB_PASSWORD", cfg.DBPassword)
	cfg.DBName = stringEnv("DB_NAME", cfg.DBName)
	cfg.DBSSLMode = stringEnv("DB_SSLMODE", cfg.DBSSLMode)
	if cfg.DBMaxConns, err = intEnv("DB_MAX_CONNS", cfg.DBMaxConns); err != nil {
		return nil, err
	}

	// Redis config
	cfg.RedisHost = stringEnv("REDIS_HOST", cfg.RedisHost)
	if cfg.RedisPort, err = intEnv("REDIS_PORT", cfg.RedisPort); err != nil {
		return nil, err
	}
	cfg.RedisPassword = stringEnv("REDIS_PASSWORD", cfg.RedisPassword)
	if cfg.RedisDB, err = intEnv("REDIS_DB", cfg.RedisDB); err != nil {
		return nil, err
	}

	cfg.AWSRegion = stringEnv("AWS_REGION", cfg.AWSRegion)
	cfg.AWSEndpoint = stringEnv("AWS_ENDPOINT_URL", cfg.AWSEndpoint)
	cfg.SESFromEmail = stringEnv("SES_FROM_EMAIL", cfg.SESFromEmail)
	cfg.SMSSenderID = stringEnv("SMS_SENDER_ID", cfg.SMSSenderID)

	// Gateways
	cfg.EmailGateway = strings.ToLower(stringEnv("EMAIL_GATEWAY", cfg.EmailGateway))
	cfg.SMSGateway = strings.ToLower(stringEnv("SMS_GATEWAY", cfg.SMSGateway))
	cfg.HTTPEmailURL = stringEnv("HTTP_EMAIL_URL", cfg.HTTPEmailURL)
	cfg.HTTPSMSURL = stringEnv("HTTP_SMS_URL", cfg.HTTPSMSURL)
	cfg.HTTPGatewayToken = stringEnv("HTTP_GATEWAY_TOKEN", cfg.HTTPGatewayToken)
	if cfg.GatewayTimeout, err = durationEnv("GATEWAY_TIMEOUT", cfg.GatewayTimeout); err != nil {
		return nil, err
	}

	if cfg.EmailRatePerSec, err = floatEnv("EMAIL_RATE_PER_SEC", cfg.EmailRatePerSec); err != nil {
		return nil, err
	}
	if cfg.EmailBurst, err = intEnv("EMAIL_BURST", cfg.EmailBurst); err != nil {
		return nil, err
	}
	if cfg.SMSRatePerSec, err = floatEnv("SMS_RATE_PER_SEC", cfg.SMSRatePerSec); err != nil {
		return nil, err
	}
	if cfg.SMSBurst, err = intEnv("SMS_BURST", cfg.SMSBurst); err != nil {
		return nil, err
	}

	// Retry policy
	if cfg.MaxRetries, err = intEnv("MAX_RETRIES", cfg.MaxRetries); err != nil {
		return nil, err
	}
	if cfg.RetryBaseDelay, err = durationEnv("RETRY_BASE_DELAY", cfg.RetryBaseDelay); err != nil {
		return nil, err
	}
	if cfg.RetryMaxDelay, err = durationEnv("RETRY_MAX_DELAY", cfg.RetryMaxDelay); err != nil {
		return nil, err
	}

	// Sweep
	cfg.SweepSchedule = stringEnv("SWEEP_SCHEDULE", cfg.SweepSchedule)
	if cfg.SweepTimeout, err = durationEnv("SWEEP_TIMEOUT", cfg.SweepTimeout); err != nil {
		return nil, err
	}
	if cfg.SweepBatchSize, err = intEnv("SWEEP_BATCH_SIZE", cfg.SweepBatchSize); err != nil {
		return nil, err
	}
	if cfg.SweepWorkers, err = intEnv("SWEEP_WORKERS", cfg.SweepWorkers); err != nil {
		return nil, err
	}
	if cfg.SendTimeout, err = durationEnv("SEND_TIMEOUT", cfg.SendTimeout); err != nil {
		return nil, err
	}
	if cfg.StaleAfter, err = durationEnv("STALE_AFTER", cfg.StaleAfter); err != nil {
		return nil, err
	}

	cfg.AlertTopicARN = stringEnv("ALERT_TOPIC_ARN", cfg.AlertTopicARN)
	cfg.DLQURL = stringEnv("SQS_DLQ_URL", cfg.DLQURL)

	if cfg.RateLimitPerMinute, err = intEnv("RATE_LIMIT_PER_MINUTE", cfg.RateLimitPerMinute); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.EmailGateway {
	case "ses", "http", "log":
	default:
		return fmt.Errorf("invalid EMAIL_GATEWAY: %q", c.EmailGateway)
	}
	switch c.SMSGateway {
	case "sns", "http", "log":
	default:
		return fmt.Errorf("invalid SMS_GATEWAY: %q", c.SMSGateway)
	}
	if c.EmailGateway == "http" && c.HTTPEmailURL == "" {
		return fmt.Errorf("HTTP_EMAIL_URL is required when EMAIL_GATEWAY=http")
	}
	if c.SMSGateway == "http" && c.HTTPSMSURL == "" {
		return fmt.Errorf("HTTP_SMS_URL is required when SMS_GATEWAY=http")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("invalid MAX_RETRIES: must be >= 0, got %d", c.MaxRetries)
	}
	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("invalid RETRY_MAX_DELAY: %s must be >= RETRY_BASE_DELAY %s", c.RetryMaxDelay, c.RetryBaseDelay)
	}
	if c.SweepBatchSize <= 0 || c.SweepWorkers <= 0 {
		return fmt.Errorf("invalid sweep sizing: batch %d, workers %d", c.SweepBatchSize, c.SweepWorkers)
	}
	// a record still inside a live sweep must never look stale to another worker
	if c.StaleAfter <= c.SweepTimeout || c.StaleAfter <= c.SendTimeout {
		return fmt.Errorf("invalid STALE_AFTER: %s must exceed SWEEP_TIMEOUT %s and SEND_TIMEOUT %s", c.StaleAfter, c.SweepTimeout, c.SendTimeout)
	}
	return nil
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func floatEnv(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

// durationEnv accepts Go durations ("90s") or bare seconds ("90").
func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
