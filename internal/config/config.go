package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"

	"github.com/dukerupert/medreminder/internal/backup"
)

// Config holds the process-wide settings. It is resolved once at startup and
// handed to constructors.
type Config struct {
	Port     string `mapstructure:"PORT"`
	DBPath   string `mapstructure:"DB_PATH"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	LogJSON  bool   `mapstructure:"LOG_JSON"`
	BaseURL  string `mapstructure:"BASE_URL"`

	JWTSecret string `mapstructure:"JWT_SECRET"`

	VAPIDPublicKey  string `mapstructure:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `mapstructure:"VAPID_PRIVATE_KEY"`
	VAPIDSubject    string `mapstructure:"VAPID_SUBJECT"`

	PostmarkToken string `mapstructure:"POSTMARK_TOKEN"`
	FromEmail     string `mapstructure:"FROM_EMAIL"`

	StripeSecretKey     string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `mapstructure:"STRIPE_WEBHOOK_SECRET"`

	TickInterval      time.Duration `mapstructure:"TICK_INTERVAL"`
	GraceWindow       time.Duration `mapstructure:"GRACE_WINDOW"`
	EscalationDelay   time.Duration `mapstructure:"ESCALATION_DELAY"`
	MissedAfter       time.Duration `mapstructure:"MISSED_AFTER"`
	CatchUpLimit      time.Duration `mapstructure:"CATCH_UP_LIMIT"`
	LowStockThreshold int           `mapstructure:"LOW_STOCK_THRESHOLD"`
	DeliveryRetention time.Duration `mapstructure:"DELIVERY_RETENTION"`

	WSOrigins []string `mapstructure:"WS_ORIGINS"`

	BackupEndpoint   string        `mapstructure:"BACKUP_S3_ENDPOINT"`
	BackupBucket     string        `mapstructure:"BACKUP_S3_BUCKET"`
	BackupRegion     string        `mapstructure:"BACKUP_S3_REGION"`
	BackupAccessKey  string        `mapstructure:"BACKUP_S3_ACCESS_KEY"`
	BackupSecretKey  string        `mapstructure:"BACKUP_S3_SECRET_KEY"`
	BackupPrefix     string        `mapstructure:"BACKUP_S3_PREFIX"`
	BackupPassphrase string        `mapstructure:"BACKUP_PASSPHRASE"`
	BackupInterval   time.Duration `mapstructure:"BACKUP_INTERVAL"`
	BackupKeep       int           `mapstructure:"BACKUP_KEEP"`
}

var keys = []string{
	"PORT", "DB_PATH", "LOG_LEVEL", "LOG_JSON", "BASE_URL", "JWT_SECRET",
	"VAPID_PUBLIC_KEY", "VAPID_PRIVATE_KEY", "VAPID_SUBJECT",
	"POSTMARK_TOKEN", "FROM_EMAIL",
	"STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET",
	"TICK_INTERVAL", "GRACE_WINDOW", "ESCALATION_DELAY", "MISSED_AFTER",
	"CATCH_UP_LIMIT", "LOW_STOCK_THRESHOLD", "DELIVERY_RETENTION",
	"WS_ORIGINS",
	"BACKUP_S3_ENDPOINT", "BACKUP_S3_BUCKET", "BACKUP_S3_REGION",
	"BACKUP_S3_ACCESS_KEY", "BACKUP_S3_SECRET_KEY", "BACKUP_S3_PREFIX",
	"BACKUP_PASSPHRASE", "BACKUP_INTERVAL", "BACKUP_KEEP",
}

// Load reads the optional .env file and the environment.
func Load() (*Config, error) {
	return load(".env")
}

func load(file string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(file)
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("DB_PATH", "medreminder.db")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_JSON", false)
	v.SetDefault("BASE_URL", "http://localhost:8080")
	v.SetDefault("VAPID_SUBJECT", "mailto:admin@localhost")
	v.SetDefault("FROM_EMAIL", "reminders@localhost")
	v.SetDefault("TICK_INTERVAL", 60*time.Second)
	v.SetDefault("GRACE_WINDOW", 10*time.Minute)
	v.SetDefault("ESCALATION_DELAY", 30*time.Minute)
	v.SetDefault("MISSED_AFTER", 4*time.Hour)
	v.SetDefault("CATCH_UP_LIMIT", 24*time.Hour)
	v.SetDefault("LOW_STOCK_THRESHOLD", 5)
	v.SetDefault("DELIVERY_RETENTION", 720*time.Hour)
	v.SetDefault("BACKUP_S3_REGION", "us-east-1")
	v.SetDefault("BACKUP_INTERVAL", 24*time.Hour)
	v.SetDefault("BACKUP_KEEP", 14)

	for _, k := range keys {
		v.BindEnv(k)
	}

	// .env is optional, but a broken one is an error
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.WSOrigins) == 1 && cfg.WSOrigins[0] == "" {
		cfg.WSOrigins = nil
	}

	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.TickInterval < time.Second {
		return fmt.Errorf("TICK_INTERVAL must be at least 1s, got %s", c.TickInterval)
	}
	if c.GraceWindow <= 0 {
		return fmt.Errorf("GRACE_WINDOW must be positive, got %s", c.GraceWindow)
	}
	if c.EscalationDelay <= 0 {
		return fmt.Errorf("ESCALATION_DELAY must be positive, got %s", c.EscalationDelay)
	}
	if c.EscalationDelay >= c.MissedAfter {
		return fmt.Errorf("ESCALATION_DELAY (%s) must be shorter than MISSED_AFTER (%s)", c.EscalationDelay, c.MissedAfter)
	}
	if c.CatchUpLimit < c.TickInterval {
		return fmt.Errorf("CATCH_UP_LIMIT (%s) must be at least TICK_INTERVAL (%s)", c.CatchUpLimit, c.TickInterval)
	}
	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		return errors.New("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")
	}
	if c.LowStockThreshold < 0 {
		return fmt.Errorf("LOW_STOCK_THRESHOLD must not be negative, got %d", c.LowStockThreshold)
	}
	if c.BackupBucket != "" && c.BackupPassphrase == "" {
		return errors.New("BACKUP_PASSPHRASE is required when BACKUP_S3_BUCKET is set")
	}
	if c.BackupKeep < 0 {
		return fmt.Errorf("BACKUP_KEEP must not be negative, got %d", c.BackupKeep)
	}
	return nil
}

// PushEnabled reports whether VAPID keys are configured.
func (c *Config) PushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

// EmailEnabled reports whether a Postmark token is configured.
func (c *Config) EmailEnabled() bool {
	return c.PostmarkToken != ""
}

// BackupConfig returns the snapshot settings.
func (c *Config) BackupConfig() backup.Config {
	return backup.Config{
		Endpoint:   c.BackupEndpoint,
		Bucket:     c.BackupBucket,
		Region:     c.BackupRegion,
		AccessKey:  c.BackupAccessKey,
		SecretKey:  c.BackupSecretKey,
		Prefix:     c.BackupPrefix,
		Passphrase: c.BackupPassphrase,
		Interval:   c.BackupInterval,
		Keep:       c.BackupKeep,
	}
}
