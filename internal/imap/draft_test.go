package imap

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplySubject(t *testing.T) {
	assert.Equal(t, "Re: Hello", replySubject("Hello"))
	assert.Equal(t, "Re: Hello", replySubject("Re: Hello"))
	assert.Equal(t, "RE: Hello", replySubject("RE: Hello"))
	assert.Equal(t, "re:Hello", replySubject("re:Hello"))
	assert.Equal(t, "Re: ", replySubject(""))
}

func TestQuote(t *testing.T) {
	assert.Equal(t, "> one\n>\n> two", quote("one\r\n\r\ntwo\r\n"))
	assert.Equal(t, ">", quote(""))
}

func TestBuildDraft(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("uses the fallback sender when the original has no recipient", func(t *testing.T) {
		original, err := ParseMessage(crlf(`Message-ID: <lonely@example.com>
From: alice@example.com
Subject: Hi
Content-Type: text/plain

Hello
`))
		require.NoError(t, err)

		draft, err := BuildDraft(original, "Hello", "Hi back", "Bot <bot@relay.example>", now)
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(draft.MessageID, "@relay.example"), draft.MessageID)

		env := parseDraft(t, string(draft.Raw))
		from, err := env.AddressList("From")
		require.NoError(t, err)
		assert.Equal(t, "bot@relay.example", from[0].Address)
		assert.Equal(t, "<lonely@example.com>", env.GetHeader("References"))
		assert.Contains(t, env.Text, "alice@example.com wrote:")
	})

	t.Run("seeds no threading headers without an original id", func(t *testing.T) {
		original, err := ParseMessage(crlf(`From: alice@example.com
To: bot@example.org
Subject: No id
Content-Type: text/plain

Body
`))
		require.NoError(t, err)

		draft, err := BuildDraft(original, "Body", "Reply", "", now)
		require.NoError(t, err)

		env := parseDraft(t, string(draft.Raw))
		assert.Empty(t, env.GetHeader("In-Reply-To"))
		assert.Empty(t, env.GetHeader("References"))
		assert.Equal(t, "Re: No id", env.GetHeader("Subject"))
	})

	t.Run("generates unique message ids", func(t *testing.T) {
		original, err := ParseMessage(crlf(replyableMessage))
		require.NoError(t, err)

		a, err := BuildDraft(original, "", "One", "", now)
		require.NoError(t, err)
		b, err := BuildDraft(original, "", "Two", "", now)
		require.NoError(t, err)
		assert.NotEqual(t, a.MessageID, b.MessageID)
	})

	t.Run("drops the quote when the original has no text", func(t *testing.T) {
		original, err := ParseMessage(crlf(replyableMessage))
		require.NoError(t, err)

		for _, text := range []string{"", " \r\n "} {
			draft, err := BuildDraft(original, text, "Thanks!", "", now)
			require.NoError(t, err)

			env := parseDraft(t, string(draft.Raw))
			assert.Equal(t, "Thanks!", strings.TrimSpace(env.Text))
			assert.NotContains(t, env.Text, "wrote:")
			assert.NotContains(t, env.Text, ">")
		}
	})

	t.Run("rejects an invalid fallback sender", func(t *testing.T) {
		original, err := ParseMessage(crlf("From: alice@example.com\nSubject: x\n\nbody\n"))
		require.NoError(t, err)

		_, err = BuildDraft(original, "body", "reply", "not an address", now)
		assert.Error(t, err)
	})
}
