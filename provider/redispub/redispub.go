// Package redispub fans stored in-app notifications out over Redis pub/sub so
// connected clients see them without polling.
package redispub

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/interactive-solutions/go-notify"
)

const channelPrefix = "notifications:"

type publisher struct {
	rdb redis.UniversalClient
}

func NewPublisher(rdb redis.UniversalClient) notify.Publisher {
	return &publisher{rdb: rdb}
}

// Channel is the pub/sub channel a user's notifications are published on.
func Channel(n *notify.InAppNotification) string {
	return channelPrefix + n.UserID.String()
}

func (p *publisher) Publish(ctx context.Context, n *notify.InAppNotification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "Failed to encode notification")
	}

	if err := p.rdb.Publish(ctx, Channel(n), data).Err(); err != nil {
		return errors.Wrapf(err, "Failed to publish notification %s", n.ID)
	}

	return nil
}
