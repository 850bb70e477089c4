package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/interactive-solutions/go-notify"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(c *cli) *cobra.Command {
	var withScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP trigger endpoint and the embedded dispatch scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.CronSecret == "" {
				return errors.New("CRON_SECRET is required to serve")
			}

			app, closeAll, err := buildApplication(c)
			if err != nil {
				return err
			}
			defer closeAll()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if _, err := app.Recover(ctx); err != nil {
				c.logger.WithError(err).Error("startup recovery failed")
			}

			var scheduler *cron.Cron
			if withScheduler {
				scheduler, err = startScheduler(ctx, c, app)
				if err != nil {
					return err
				}
			}

			srv := &http.Server{
				Addr:              c.cfg.HTTPAddr,
				Handler:           app.HttpHandler().Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			serveErr := make(chan error, 1)
			go func() {
				c.logger.WithField("addr", srv.Addr).Info("http server starting")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case <-ctx.Done():
			case err := <-serveErr:
				if err != nil {
					return errors.Wrap(err, "http server")
				}
			}

			c.logger.Info("shutting down")

			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancelShutdown()

			if scheduler != nil {
				// a running pass is detached from ctx, let it settle its jobs
				select {
				case <-scheduler.Stop().Done():
				case <-shutdownCtx.Done():
				}
			}

			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().BoolVar(&withScheduler, "scheduler", true, "run dispatch passes on DISPATCH_SCHEDULE")

	return cmd
}

func startScheduler(ctx context.Context, c *cli, app notify.Application) (*cron.Cron, error) {
	scheduler := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(c.logger)),
		cron.SkipIfStillRunning(cron.PrintfLogger(c.logger)),
	))

	if _, err := scheduler.AddFunc(c.cfg.DispatchSchedule, func() {
		if _, err := app.Dispatch(ctx); err != nil {
			c.logger.WithError(err).Error("scheduled dispatch failed")
		}
	}); err != nil {
		return nil, errors.Wrapf(err, "invalid DISPATCH_SCHEDULE %q", c.cfg.DispatchSchedule)
	}

	if _, err := scheduler.AddFunc(c.cfg.SweepSchedule, func() {
		if _, err := app.Recover(ctx); err != nil {
			c.logger.WithError(err).Error("scheduled lease sweep failed")
		}
	}); err != nil {
		return nil, errors.Wrapf(err, "invalid SWEEP_SCHEDULE %q", c.cfg.SweepSchedule)
	}

	scheduler.Start()

	c.logger.
		WithField("dispatch", c.cfg.DispatchSchedule).
		WithField("sweep", c.cfg.SweepSchedule).
		Info("scheduler started")

	return scheduler, nil
}
