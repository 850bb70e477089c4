package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/interactive-solutions/go-notify/internal/config"
)

// cli carries what every subcommand needs once the environment has been read.
type cli struct {
	cfg    config.Config
	logger *logrus.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:           "notifyq",
		Short:         "Asynchronous notification delivery queue",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			logger, err := cfg.Logger()
			if err != nil {
				return err
			}

			c.cfg = cfg
			c.logger = logger
			return nil
		},
	}

	rootCmd.AddCommand(serveCmd(c))
	rootCmd.AddCommand(dispatchCmd(c))
	rootCmd.AddCommand(sweepCmd(c))
	rootCmd.AddCommand(enqueueCmd(c))
	rootCmd.AddCommand(jobsCmd(c))
	rootCmd.AddCommand(runsCmd(c))

	return rootCmd
}
