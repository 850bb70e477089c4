package main

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/interactive-solutions/go-notify"
)

func TestRecipientFromFlags(t *testing.T) {
	id := uuid.New()

	r, err := recipientFromFlags("a@example.com", "", false)
	assert.NoError(t, err)
	assert.Equal(t, notify.Address("a@example.com"), r)

	r, err = recipientFromFlags("", id.String(), false)
	assert.NoError(t, err)
	assert.Equal(t, notify.UserID(id), r)

	r, err = recipientFromFlags("", "", true)
	assert.NoError(t, err)
	assert.Equal(t, notify.AdminBroadcast{}, r)

	_, err = recipientFromFlags("a@example.com", "", true)
	assert.Error(t, err)

	_, err = recipientFromFlags("", "", false)
	assert.Error(t, err)

	_, err = recipientFromFlags("", "not-a-uuid", false)
	assert.Error(t, err)
}
