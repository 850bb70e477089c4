package notify

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const DefaultMaxAttempts = 3

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelInApp Channel = "inapp"
	ChannelSms   Channel = "sms"
	ChannelPush  Channel = "push"
)

// Channels lists every channel a job may target, including the ones without a sender.
var Channels = []Channel{ChannelEmail, ChannelInApp, ChannelSms, ChannelPush}

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelInApp, ChannelSms, ChannelPush:
		return true
	default:
		return false
	}
}

func ParseChannel(s string) (Channel, error) {
	c := Channel(s)
	if !c.Valid() {
		return "", errors.Wrapf(ValidationErr, "unknown channel %q", s)
	}

	return c, nil
}

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

type Job struct {
	ID      uuid.UUID `json:"id"`
	Channel Channel   `json:"channel"`

	Recipient Recipient `json:"-"`

	TemplateName string                 `json:"templateName,omitempty"`
	Subject      string                 `json:"subject,omitempty"`
	Payload      map[string]interface{} `json:"payload"`

	Status      Status    `json:"status"`
	ScheduledAt time.Time `json:"scheduledAt"`

	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"maxAttempts"`
	LastError   string `json:"lastError,omitempty"`

	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty"`
	SentAt        *time.Time `json:"sentAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// EnqueueRequest is what producers hand to Application.Enqueue. Zero ScheduledAt
// means now, zero MaxAttempts means DefaultMaxAttempts.
type EnqueueRequest struct {
	Channel      Channel
	Recipient    Recipient
	TemplateName string
	Subject      string
	Payload      map[string]interface{}
	ScheduledAt  time.Time
	MaxAttempts  int
}

func (r EnqueueRequest) Validate() error {
	if r.Channel == "" {
		return errors.Wrap(ValidationErr, "channel is required")
	}

	if !r.Channel.Valid() {
		return errors.Wrapf(ValidationErr, "unknown channel %q", r.Channel)
	}

	if r.Recipient == nil {
		return errors.Wrap(ValidationErr, "recipient is required")
	}

	if err := validateRecipient(r.Recipient); err != nil {
		return err
	}

	if r.Payload == nil {
		return errors.Wrap(ValidationErr, "payload is required")
	}

	if r.MaxAttempts < 0 {
		return errors.Wrap(ValidationErr, "maxAttempts must not be negative")
	}

	return nil
}

// NewJob validates the request and builds a queued job from it.
func NewJob(r EnqueueRequest, now time.Time, defaultMaxAttempts int) (*Job, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	scheduledAt := r.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = now
	}

	maxAttempts := r.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = defaultMaxAttempts
	}

	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	return &Job{
		ID:           uuid.New(),
		Channel:      r.Channel,
		Recipient:    r.Recipient,
		TemplateName: r.TemplateName,
		Subject:      r.Subject,
		Payload:      r.Payload,
		Status:       StatusQueued,
		ScheduledAt:  scheduledAt.UTC(),
		MaxAttempts:  maxAttempts,
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}, nil
}

type JobCriteria struct {
	Status  Status
	Channel Channel

	ScheduledAfter  time.Time
	ScheduledBefore time.Time

	Offset int
	Limit  int
}
