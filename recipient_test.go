package notify

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecipientDocument(t *testing.T) {
	id := uuid.MustParse("0b5c5a9e-6d3c-4a55-9f0e-1f8a4f0f4e11")

	cases := []struct {
		recipient Recipient
		doc       string
	}{
		{Address("a@b.com"), `{"email":"a@b.com"}`},
		{UserID(id), `{"userId":"0b5c5a9e-6d3c-4a55-9f0e-1f8a4f0f4e11"}`},
		{AdminBroadcast{}, `{"admin":true}`},
	}

	for _, c := range cases {
		data, err := MarshalRecipient(c.recipient)
		require.NoError(t, err)
		assert.JSONEq(t, c.doc, string(data))

		back, err := UnmarshalRecipient([]byte(c.doc))
		require.NoError(t, err)
		assert.Equal(t, c.recipient, back)
	}
}

func TestRecipientDocumentNeedsExactlyOneTarget(t *testing.T) {
	for _, doc := range []string{
		`{}`,
		`{"email":"a@b.com","admin":true}`,
		`{"admin":false}`,
		`{"userId":"not-a-uuid"}`,
		`[]`,
	} {
		_, err := UnmarshalRecipient([]byte(doc))
		assert.ErrorIs(t, err, ValidationErr, doc)
	}
}

func TestRecipientFieldInJSON(t *testing.T) {
	var body struct {
		To RecipientField `json:"to"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"to":{"admin":true}}`), &body))
	assert.Equal(t, AdminBroadcast{}, body.To.Recipient)

	data, err := json.Marshal(body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"to":{"admin":true}}`, string(data))
}

func TestEnqueueRequestValidation(t *testing.T) {
	valid := EnqueueRequest{
		Channel:   ChannelEmail,
		Recipient: Address("a@b.com"),
		Payload:   map[string]interface{}{},
	}
	assert.NoError(t, valid.Validate())

	noPayload := valid
	noPayload.Payload = nil
	assert.ErrorIs(t, noPayload.Validate(), ValidationErr)

	badChannel := valid
	badChannel.Channel = "carrier-pigeon"
	assert.ErrorIs(t, badChannel.Validate(), ValidationErr)

	emptyAddress := valid
	emptyAddress.Recipient = Address("")
	assert.ErrorIs(t, emptyAddress.Validate(), ValidationErr)

	negative := valid
	negative.MaxAttempts = -1
	assert.ErrorIs(t, negative.Validate(), ValidationErr)
}
