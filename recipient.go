package notify

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Recipient describes who a notification is for. It is one of Address, UserID or
// AdminBroadcast and is turned into concrete targets by a Resolver at dispatch time.
type Recipient interface {
	isRecipient()
	String() string
}

// Address is an explicit destination: an email address for email and in-app,
// a phone number for sms, a device token for push.
type Address string

// UserID points at a user whose contact details are looked up per channel.
type UserID uuid.UUID

// AdminBroadcast targets the active administrators.
type AdminBroadcast struct{}

func (Address) isRecipient()        {}
func (UserID) isRecipient()         {}
func (AdminBroadcast) isRecipient() {}

func (a Address) String() string      { return string(a) }
func (u UserID) String() string       { return uuid.UUID(u).String() }
func (AdminBroadcast) String() string { return "admins" }

func (u UserID) UUID() uuid.UUID { return uuid.UUID(u) }

// recipientDoc is the persisted and wire form, the same "to" object producers
// have always sent: exactly one of email, userId or admin.
type recipientDoc struct {
	Email  string     `json:"email,omitempty"`
	UserID *uuid.UUID `json:"userId,omitempty"`
	Admin  bool       `json:"admin,omitempty"`
}

func MarshalRecipient(r Recipient) ([]byte, error) {
	var doc recipientDoc

	switch v := r.(type) {
	case Address:
		doc.Email = string(v)
	case UserID:
		id := uuid.UUID(v)
		doc.UserID = &id
	case AdminBroadcast:
		doc.Admin = true
	default:
		return nil, errors.Wrapf(ValidationErr, "unsupported recipient %T", r)
	}

	return json.Marshal(doc)
}

func UnmarshalRecipient(data []byte) (Recipient, error) {
	var doc recipientDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(ValidationErr, "malformed recipient")
	}

	return doc.recipient()
}

func (doc recipientDoc) recipient() (Recipient, error) {
	set := 0
	if doc.Email != "" {
		set++
	}
	if doc.UserID != nil {
		set++
	}
	if doc.Admin {
		set++
	}

	if set != 1 {
		return nil, errors.Wrap(ValidationErr, "recipient needs exactly one of email, userId or admin")
	}

	switch {
	case doc.Email != "":
		return Address(strings.TrimSpace(doc.Email)), nil
	case doc.UserID != nil:
		return UserID(*doc.UserID), nil
	default:
		return AdminBroadcast{}, nil
	}
}

// RecipientField adapts a Recipient to encoding/json for request and response bodies.
type RecipientField struct {
	Recipient
}

func (f RecipientField) MarshalJSON() ([]byte, error) {
	if f.Recipient == nil {
		return []byte("null"), nil
	}

	return MarshalRecipient(f.Recipient)
}

func (f *RecipientField) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		f.Recipient = nil
		return nil
	}

	r, err := UnmarshalRecipient(data)
	if err != nil {
		return err
	}

	f.Recipient = r
	return nil
}

func validateRecipient(r Recipient) error {
	switch v := r.(type) {
	case Address:
		if strings.TrimSpace(string(v)) == "" {
			return errors.Wrap(ValidationErr, "recipient address is empty")
		}
	case UserID:
		if uuid.UUID(v) == uuid.Nil {
			return errors.Wrap(ValidationErr, "recipient user id is empty")
		}
	case AdminBroadcast:
	default:
		return errors.Wrapf(ValidationErr, "unsupported recipient %T", r)
	}

	return nil
}
