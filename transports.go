package notify

import "context"

// ResolveFunc resolves the job's recipient for the sender's channel. Senders call
// it when they need targets, so a sender that cannot deliver never touches the
// user directory.
type ResolveFunc func(ctx context.Context) ([]Target, error)

// ChannelSender delivers a claimed job over one channel.
type ChannelSender interface {
	Channel() Channel
	Send(ctx context.Context, job *Job, resolve ResolveFunc) error
}

type EmailTransport interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// Publisher pushes freshly stored in-app notifications to connected clients.
type Publisher interface {
	Publish(ctx context.Context, notification *InAppNotification) error
}
