package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Config struct {
	HTTPAddr   string `env:"HTTP_ADDR" envDefault:":8080"`
	CronSecret string `env:"CRON_SECRET"`

	Store       string `env:"STORE" envDefault:"postgres"`
	PostgresURL string `env:"POSTGRES_URL"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"notify.db"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	EmailProvider       string `env:"EMAIL_PROVIDER" envDefault:"log"`
	EmailFrom           string `env:"EMAIL_FROM" envDefault:"noreply@localhost"`
	EmailFromName       string `env:"EMAIL_FROM_NAME"`
	EmailReplyTo        string `env:"EMAIL_REPLY_TO"`
	EmailDefaultSubject string `env:"EMAIL_DEFAULT_SUBJECT" envDefault:"Notification"`
	SendgridAPIKey      string `env:"SENDGRID_API_KEY"`
	MailgunDomain       string `env:"MAILGUN_DOMAIN"`
	MailgunAPIKey       string `env:"MAILGUN_API_KEY"`
	AWSRegion           string `env:"AWS_REGION" envDefault:"eu-west-1"`

	BatchSize          int           `env:"DISPATCH_BATCH_SIZE" envDefault:"100"`
	Concurrency        int           `env:"DISPATCH_CONCURRENCY" envDefault:"0"`
	DispatchSchedule   string        `env:"DISPATCH_SCHEDULE" envDefault:"@every 1m"`
	SweepSchedule      string        `env:"SWEEP_SCHEDULE" envDefault:"@every 5m"`
	DefaultMaxAttempts int           `env:"DEFAULT_MAX_ATTEMPTS" envDefault:"3"`
	RetryBase          time.Duration `env:"RETRY_BASE" envDefault:"1m"`
	RetryMaxDelay      time.Duration `env:"RETRY_MAX_DELAY" envDefault:"24h"`
	SendTimeout        time.Duration `env:"SEND_TIMEOUT" envDefault:"30s"`
	LeaseTimeout       time.Duration `env:"LEASE_TIMEOUT" envDefault:"15m"`
	AdminBroadcast     string        `env:"ADMIN_BROADCAST" envDefault:"all"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return c, errors.Wrap(err, "parse environment")
	}

	if err := c.Validate(); err != nil {
		return c, err
	}

	return c, nil
}

func (c Config) Validate() error {
	switch c.Store {
	case "postgres":
		if c.PostgresURL == "" {
			return errors.New("POSTGRES_URL is required when STORE=postgres")
		}
	case "sqlite", "memory":
	default:
		return errors.Errorf("unknown STORE %q", c.Store)
	}

	switch c.EmailProvider {
	case "sendgrid":
		if c.SendgridAPIKey == "" {
			return errors.New("SENDGRID_API_KEY is required when EMAIL_PROVIDER=sendgrid")
		}
	case "mailgun":
		if c.MailgunDomain == "" || c.MailgunAPIKey == "" {
			return errors.New("MAILGUN_DOMAIN and MAILGUN_API_KEY are required when EMAIL_PROVIDER=mailgun")
		}
	case "ses", "log":
	default:
		return errors.Errorf("unknown EMAIL_PROVIDER %q", c.EmailProvider)
	}

	if c.BatchSize <= 0 {
		return errors.New("DISPATCH_BATCH_SIZE must be positive")
	}

	if c.Concurrency < 0 {
		return errors.New("DISPATCH_CONCURRENCY must not be negative")
	}

	return nil
}

// Logger builds the root logger from LOG_LEVEL and LOG_FORMAT.
func (c Config) Logger() (*logrus.Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, errors.Wrap(err, "LOG_LEVEL")
	}
	logger.SetLevel(level)

	switch c.LogFormat {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, errors.Errorf("unknown LOG_FORMAT %q", c.LogFormat)
	}

	return logger, nil
}
