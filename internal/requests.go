package internal

import (
	"encoding/json"
	"time"
)

type EnqueueRequest struct {
	Channel      string                 `json:"channel"`
	To           json.RawMessage        `json:"to"`
	TemplateName string                 `json:"templateName"`
	Subject      string                 `json:"subject"`
	Payload      map[string]interface{} `json:"payload"`
	ScheduledAt  *time.Time             `json:"scheduledAt"`
	MaxAttempts  int                    `json:"maxAttempts"`
}

type UpdateTemplateRequest struct {
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`

	Subject  string `json:"subject"`
	HtmlBody string `json:"htmlBody"`
	TextBody string `json:"textBody"`
}
