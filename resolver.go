package notify

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	PushToken string    `json:"pushToken,omitempty"`
	FirstName string    `json:"firstName,omitempty"`
	LastName  string    `json:"lastName,omitempty"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
}

func (u User) Name() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// ContactFor returns the user's address on channel, empty when none is on file.
func (u User) ContactFor(channel Channel) string {
	switch channel {
	case ChannelEmail:
		return u.Email
	case ChannelSms:
		return u.Phone
	case ChannelPush:
		return u.PushToken
	case ChannelInApp:
		return u.ID.String()
	default:
		return ""
	}
}

// Target is a concrete destination. UserID is set whenever the target is a known
// user, Address holds the channel specific contact.
type Target struct {
	UserID  uuid.UUID
	Address string
	Name    string
}

type BroadcastMode int

const (
	// BroadcastAll addresses every active admin.
	BroadcastAll BroadcastMode = iota
	// BroadcastFirst addresses only the first admin found.
	BroadcastFirst
)

func ParseBroadcastMode(s string) (BroadcastMode, error) {
	switch strings.ToLower(s) {
	case "", "all":
		return BroadcastAll, nil
	case "first":
		return BroadcastFirst, nil
	default:
		return BroadcastAll, errors.Errorf("unknown broadcast mode %q", s)
	}
}

type Resolver interface {
	Resolve(ctx context.Context, channel Channel, recipient Recipient) ([]Target, error)
}

type directoryResolver struct {
	users     UserDirectory
	broadcast BroadcastMode
}

func NewResolver(users UserDirectory, broadcast BroadcastMode) Resolver {
	return &directoryResolver{
		users:     users,
		broadcast: broadcast,
	}
}

func (r *directoryResolver) Resolve(ctx context.Context, channel Channel, recipient Recipient) ([]Target, error) {
	switch v := recipient.(type) {
	case Address:
		return r.resolveAddress(ctx, channel, string(v))

	case UserID:
		return r.resolveUser(ctx, channel, uuid.UUID(v))

	case AdminBroadcast:
		return r.resolveAdmins(ctx, channel)

	default:
		return nil, errors.Wrapf(ValidationErr, "unsupported recipient %T", recipient)
	}
}

func (r *directoryResolver) resolveAddress(ctx context.Context, channel Channel, address string) ([]Target, error) {
	if channel != ChannelInApp {
		return []Target{{Address: address}}, nil
	}

	// in-app notifications belong to a user, so the address has to be one
	if r.users == nil {
		return nil, errors.Wrapf(RecipientNotFoundErr, "no user directory to look up %s", address)
	}

	user, err := r.users.FindUserByEmail(ctx, address)
	if err != nil {
		return nil, errors.Wrapf(err, "user with email %s", address)
	}

	return []Target{userTarget(user, channel)}, nil
}

func (r *directoryResolver) resolveUser(ctx context.Context, channel Channel, id uuid.UUID) ([]Target, error) {
	if r.users == nil {
		return nil, errors.Wrapf(RecipientNotFoundErr, "no user directory to look up user %s", id)
	}

	user, err := r.users.GetUser(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "user %s", id)
	}

	if user.ContactFor(channel) == "" {
		return nil, errors.Wrapf(NoContactInfoErr, "user %s has no %s contact", id, channel)
	}

	return []Target{userTarget(user, channel)}, nil
}

func (r *directoryResolver) resolveAdmins(ctx context.Context, channel Channel) ([]Target, error) {
	if r.users == nil {
		return nil, NoAdminsConfiguredErr
	}

	admins, err := r.users.ActiveAdmins(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list admins")
	}

	if len(admins) == 0 {
		return nil, NoAdminsConfiguredErr
	}

	var targets []Target
	for _, admin := range admins {
		if admin.ContactFor(channel) == "" {
			continue
		}

		targets = append(targets, userTarget(admin, channel))

		if r.broadcast == BroadcastFirst {
			break
		}
	}

	if len(targets) == 0 {
		return nil, errors.Wrapf(NoContactInfoErr, "no admin has a %s contact", channel)
	}

	return targets, nil
}

func userTarget(user User, channel Channel) Target {
	return Target{
		UserID:  user.ID,
		Address: user.ContactFor(channel),
		Name:    user.Name(),
	}
}
