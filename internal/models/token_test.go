package models

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionToken(t *testing.T) {
	t.Run("round trips every action", func(t *testing.T) {
		for _, action := range AllActions {
			encoded, err := ActionToken{Action: action, MessageID: "abc@example.com"}.Encode()
			require.NoError(t, err)

			decoded, err := DecodeToken(encoded)
			require.NoError(t, err)
			assert.Equal(t, action, decoded.Action)
			assert.Equal(t, "abc@example.com", decoded.MessageID)
		}
	})

	t.Run("keeps the message id verbatim", func(t *testing.T) {
		for _, id := range []string{"<abc@x>", " abc@x", "abc@x>", "abc@x"} {
			token := ActionToken{Action: ActionRead, MessageID: id}
			encoded, err := token.Encode()
			require.NoError(t, err)
			assert.Equal(t, "read:"+id, encoded)

			decoded, err := DecodeToken(encoded)
			require.NoError(t, err)
			assert.Equal(t, token, decoded, "round trip of %q", id)
		}
	})

	t.Run("splits on the first separator only", func(t *testing.T) {
		decoded, err := DecodeToken("trash:weird:id@example.com")
		require.NoError(t, err)
		assert.Equal(t, ActionTrash, decoded.Action)
		assert.Equal(t, "weird:id@example.com", decoded.MessageID)
	})

	t.Run("rejects malformed tokens", func(t *testing.T) {
		for _, raw := range []string{"", "read", "read:", "archive:abc@example.com", ":abc@example.com", "READ:abc"} {
			_, err := DecodeToken(raw)
			assert.Truef(t, errors.Is(err, ErrInvalidToken), "expected ErrInvalidToken for %q, got %v", raw, err)
		}
	})

	t.Run("rejects tokens over the custom id limit", func(t *testing.T) {
		longID := strings.Repeat("x", MaxTokenLength) + "@example.com"
		_, err := ActionToken{Action: ActionRead, MessageID: longID}.Encode()
		assert.True(t, errors.Is(err, ErrInvalidToken))
	})

	t.Run("rejects empty message id on encode", func(t *testing.T) {
		for _, id := range []string{"", "   "} {
			_, err := ActionToken{Action: ActionRead, MessageID: id}.Encode()
			assert.True(t, errors.Is(err, ErrInvalidToken), "id %q", id)
		}
	})
}
