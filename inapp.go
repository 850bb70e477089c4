package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultInAppTitle    = "Notification"
	DefaultInAppCategory = "system"
	DefaultInAppPriority = "medium"
)

// InAppNotification is the row shown in a user's notification center.
type InAppNotification struct {
	ID     uuid.UUID `json:"id"`
	UserID uuid.UUID `json:"userId"`
	JobID  uuid.UUID `json:"jobId"`

	Title    string `json:"title"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Priority string `json:"priority"`

	ActionURL    string                 `json:"actionUrl,omitempty"`
	CtaLabel     string                 `json:"ctaLabel,omitempty"`
	TemplateName string                 `json:"templateName,omitempty"`
	TemplateData map[string]interface{} `json:"templateData,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	ReadAt    *time.Time `json:"readAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

type inAppSender struct {
	writer    NotificationWriter
	publisher Publisher
	clock     Clock
	logger    logrus.FieldLogger
}

func NewInAppSender(writer NotificationWriter, publisher Publisher, clock Clock, logger logrus.FieldLogger) ChannelSender {
	if clock == nil {
		clock = SystemClock{}
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &inAppSender{
		writer:    writer,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
	}
}

func (s *inAppSender) Channel() Channel {
	return ChannelInApp
}

func (s *inAppSender) Send(ctx context.Context, job *Job, resolve ResolveFunc) error {
	targets, err := resolve(ctx)
	if err != nil {
		return err
	}

	payload := job.Payload
	vars := TemplateVars(payload)

	for _, target := range targets {
		n := &InAppNotification{
			ID:           uuid.New(),
			UserID:       target.UserID,
			JobID:        job.ID,
			Title:        Render(firstNonEmpty(payloadString(payload, "title"), job.Subject, DefaultInAppTitle), vars),
			Message:      Render(firstNonEmpty(payloadString(payload, "message", "body"), DefaultMessage), vars),
			Category:     firstNonEmpty(payloadString(payload, "category"), DefaultInAppCategory),
			Priority:     firstNonEmpty(payloadString(payload, "priority"), DefaultInAppPriority),
			ActionURL:    payloadString(payload, "actionUrl"),
			CtaLabel:     payloadString(payload, "ctaLabel"),
			TemplateName: job.TemplateName,
			TemplateData: payloadMap(payload, "templateData"),
			Metadata:     payloadMap(payload, "metadata"),
			CreatedAt:    s.clock.Now().UTC(),
		}

		if err := s.writer.CreateNotification(ctx, n); err != nil {
			return errors.Wrapf(err, "failed to store in-app notification for user %s", target.UserID)
		}

		if s.publisher == nil {
			continue
		}

		if err := s.publisher.Publish(ctx, n); err != nil {
			s.logger.
				WithField("job", job.ID).
				WithField("notification", n.ID).
				WithError(err).
				Warn("failed to publish in-app notification")
		}
	}

	return nil
}
