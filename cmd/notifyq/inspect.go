package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/interactive-solutions/go-notify"
)

func jobsCmd(c *cli) *cobra.Command {
	var (
		status  string
		channel string
		limit   int
		offset  int
	)

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List notification jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, closeStore, err := openInspector(c)
			if err != nil {
				return err
			}
			defer closeStore()

			jobs, total, err := st.Matching(cmd.Context(), notify.JobCriteria{
				Status:  notify.Status(status),
				Channel: notify.Channel(channel),
				Limit:   limit,
				Offset:  offset,
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCHANNEL\tTO\tSTATUS\tATTEMPTS\tSCHEDULED\tLAST ERROR")
			for _, job := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
					job.ID, job.Channel, job.Recipient, job.Status, job.Attempts, job.MaxAttempts,
					job.ScheduledAt.Format("2006-01-02 15:04:05"), job.LastError)
			}
			fmt.Fprintf(w, "\n%d of %d\n", len(jobs), total)

			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "queued, processing, sent or failed")
	cmd.Flags().StringVar(&channel, "channel", "", "email, inapp, sms or push")
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")

	return cmd
}

func runsCmd(c *cli) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent dispatch passes",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, closeStore, err := openInspector(c)
			if err != nil {
				return err
			}
			defer closeStore()

			runs, err := st.Recent(cmd.Context(), notify.DefaultJobName, limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tPROCESSED\tOK\tFAILED\tERROR")
			for _, run := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					run.ID, run.Status, run.StartedAt.Format("2006-01-02 15:04:05"),
					run.ProcessedCount, run.SuccessCount, run.FailureCount, run.ErrorMessage)
			}

			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs")

	return cmd
}
