package main

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	mg "github.com/mailgun/mailgun-go/v3"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/interactive-solutions/go-notify"
	"github.com/interactive-solutions/go-notify/internal/config"
	sesprovider "github.com/interactive-solutions/go-notify/provider/aws"
	"github.com/interactive-solutions/go-notify/provider/logmail"
	"github.com/interactive-solutions/go-notify/provider/mailgun"
	"github.com/interactive-solutions/go-notify/provider/redispub"
	"github.com/interactive-solutions/go-notify/provider/sendgrid"
	gopg "github.com/interactive-solutions/go-notify/storage/go-pg"
	"github.com/interactive-solutions/go-notify/storage/memory"
	"github.com/interactive-solutions/go-notify/storage/sqlite"
)

type store interface {
	notify.JobRepository
	notify.JobRunRepository
	notify.UserDirectory
	notify.NotificationWriter
	notify.TemplateRepository
}

type closeFunc func() error

func noopClose() error { return nil }

func openStore(cfg config.Config) (store, closeFunc, error) {
	switch cfg.Store {
	case "postgres":
		db, err := gopg.Connect(cfg.PostgresURL)
		if err != nil {
			return nil, nil, err
		}

		if err := gopg.CreateSchema(db); err != nil {
			db.Close()
			return nil, nil, err
		}

		return gopg.New(db), db.Close, nil

	case "sqlite":
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}

		if err := sqlite.EnsureSchema(db); err != nil {
			db.Close()
			return nil, nil, errors.Wrap(err, "ensure schema")
		}

		return sqlite.New(db), db.Close, nil

	case "memory":
		return memory.New(), noopClose, nil
	}

	return nil, nil, errors.Errorf("unknown store %q", cfg.Store)
}

func emailTransport(c *cli) (notify.EmailTransport, error) {
	cfg := c.cfg

	switch cfg.EmailProvider {
	case "sendgrid":
		return sendgrid.NewSendgridTransport(cfg.SendgridAPIKey, sendgrid.SetLogger(c.logger)), nil

	case "mailgun":
		return mailgun.NewMailgunTransport(mg.NewMailgun(cfg.MailgunDomain, cfg.MailgunAPIKey)), nil

	case "ses":
		sess, err := session.NewSession(&aws.Config{Region: aws.String(cfg.AWSRegion)})
		if err != nil {
			return nil, errors.Wrap(err, "aws session")
		}

		return sesprovider.NewSesTransport(sess), nil

	case "log":
		return logmail.NewLogTransport(c.logger), nil
	}

	return nil, errors.Errorf("unknown email provider %q", cfg.EmailProvider)
}

func publisher(cfg config.Config) (notify.Publisher, closeFunc) {
	if cfg.RedisAddr == "" {
		return nil, noopClose
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})

	return redispub.NewPublisher(rdb), rdb.Close
}

// buildApplication wires the configured store and providers into the queue.
// The returned close func releases every connection that was opened.
func buildApplication(c *cli) (notify.Application, closeFunc, error) {
	cfg := c.cfg

	st, closeStore, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	transport, err := emailTransport(c)
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	broadcast, err := notify.ParseBroadcastMode(cfg.AdminBroadcast)
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	pub, closePublisher := publisher(cfg)
	clock := notify.SystemClock{}

	app, err := notify.NewApplication(
		notify.SetLogger(c.logger),
		notify.SetClock(clock),
		notify.SetJobRepo(st),
		notify.SetJobRunRepo(st),
		notify.SetUserDirectory(st),
		notify.SetTemplateRepo(st),
		notify.SetBroadcastMode(broadcast),
		notify.SetBatchSize(cfg.BatchSize),
		notify.SetConcurrency(cfg.Concurrency),
		notify.SetDefaultMaxAttempts(cfg.DefaultMaxAttempts),
		notify.SetSendTimeout(cfg.SendTimeout),
		notify.SetLeaseTimeout(cfg.LeaseTimeout),
		notify.SetTriggerSecret(cfg.CronSecret),
		notify.SetRetryPolicy(notify.RetryPolicy{Base: cfg.RetryBase, MaxDelay: cfg.RetryMaxDelay}),
		notify.SetSender(notify.NewEmailSender(transport,
			notify.SetEmailFrom(notify.Sender{Email: cfg.EmailFrom, Name: cfg.EmailFromName}),
			notify.SetEmailReplyTo(cfg.EmailReplyTo),
			notify.SetEmailDefaultSubject(cfg.EmailDefaultSubject),
			notify.SetEmailTemplates(st),
			notify.SetEmailTimeout(cfg.SendTimeout),
			notify.SetEmailLogger(c.logger),
		)),
		notify.SetSender(notify.NewInAppSender(st, pub, clock, c.logger)),
	)
	if err != nil {
		closePublisher()
		closeStore()
		return nil, nil, err
	}

	closeAll := func() error {
		perr := closePublisher()
		if err := closeStore(); err != nil {
			return err
		}
		return perr
	}

	return app, closeAll, nil
}

// openInspector opens just the store for read-only commands.
func openInspector(c *cli) (store, closeFunc, error) {
	return openStore(c.cfg)
}
