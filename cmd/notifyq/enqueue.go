package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/interactive-solutions/go-notify"
)

func enqueueCmd(c *cli) *cobra.Command {
	var (
		channel     string
		email       string
		userID      string
		admins      bool
		subject     string
		template    string
		payload     string
		at          string
		maxAttempts int
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a notification",
		Example: `  notifyq enqueue --channel email --email jane@example.com --subject Hi --payload '{"message":"Hello {{name}}","name":"Jane"}'
  notifyq enqueue --channel inapp --admins --payload '{"title":"New order"}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			recipient, err := recipientFromFlags(email, userID, admins)
			if err != nil {
				return err
			}

			req := notify.EnqueueRequest{
				Channel:      notify.Channel(channel),
				Recipient:    recipient,
				TemplateName: template,
				Subject:      subject,
				MaxAttempts:  maxAttempts,
			}

			if err := json.Unmarshal([]byte(payload), &req.Payload); err != nil {
				return errors.Wrap(err, "--payload must be a JSON object")
			}

			if at != "" {
				if req.ScheduledAt, err = time.Parse(time.RFC3339, at); err != nil {
					return errors.Wrap(err, "--at must be RFC 3339")
				}
			}

			app, closeAll, err := buildApplication(c)
			if err != nil {
				return err
			}
			defer closeAll()

			id, err := app.Enqueue(cmd.Context(), req)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().StringVar(&channel, "channel", string(notify.ChannelEmail), "email, inapp, sms or push")
	cmd.Flags().StringVar(&email, "email", "", "explicit recipient address")
	cmd.Flags().StringVar(&userID, "user", "", "recipient user id")
	cmd.Flags().BoolVar(&admins, "admins", false, "send to the active administrators")
	cmd.Flags().StringVar(&subject, "subject", "", "subject line")
	cmd.Flags().StringVar(&template, "template", "", "stored template name")
	cmd.Flags().StringVar(&payload, "payload", "{}", "payload JSON object")
	cmd.Flags().StringVar(&at, "at", "", "earliest delivery time (RFC 3339), defaults to now")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "attempt budget, defaults to DEFAULT_MAX_ATTEMPTS")

	return cmd
}

func recipientFromFlags(email, userID string, admins bool) (notify.Recipient, error) {
	set := 0
	for _, given := range []bool{email != "", userID != "", admins} {
		if given {
			set++
		}
	}

	if set != 1 {
		return nil, errors.New("exactly one of --email, --user or --admins is required")
	}

	switch {
	case email != "":
		return notify.Address(email), nil
	case userID != "":
		id, err := uuid.Parse(userID)
		if err != nil {
			return nil, errors.Wrap(err, "--user")
		}
		return notify.UserID(id), nil
	default:
		return notify.AdminBroadcast{}, nil
	}
}
