package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

func dispatchCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch",
		Short: "Run a single dispatch pass and print its counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, closeAll, err := buildApplication(c)
			if err != nil {
				return err
			}
			defer closeAll()

			result, err := app.Dispatch(cmd.Context())
			if err != nil {
				return err
			}

			return printJSON(result)
		},
	}
}

func sweepCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Requeue jobs and close runs abandoned past the lease timeout",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, closeAll, err := buildApplication(c)
			if err != nil {
				return err
			}
			defer closeAll()

			result, err := app.Recover(cmd.Context())
			if err != nil {
				return err
			}

			return printJSON(result)
		},
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
