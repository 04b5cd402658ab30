package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Auth   string
	Body   map[string]interface{}
}

func newRecordingServer(t *testing.T, status int, response string) (*httptest.Server, *[]recordedRequest) {
	t.Helper()

	var requests []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{Method: r.Method, Path: r.URL.Path, Auth: r.Header.Get("Authorization")}
		if r.ContentLength != 0 && r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.Body)
		}
		requests = append(requests, rec)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func TestClient_Respond(t *testing.T) {
	srv, requests := newRecordingServer(t, http.StatusNoContent, "")
	client := NewClient(srv.URL, "bot-token", "app-1", nil, zerolog.Nop())

	err := client.Respond(context.Background(), &Interaction{ID: "i-1", Token: "tok"}, DeferredEphemeral())
	require.NoError(t, err)

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/interactions/i-1/tok/callback", req.Path)
	assert.Empty(t, req.Auth, "interaction callbacks are authorized by the token in the path")
	assert.Equal(t, float64(CallbackDeferredChannelMessage), req.Body["type"])
	assert.Equal(t, float64(FlagEphemeral), req.Body["data"].(map[string]interface{})["flags"])
}

func TestClient_FollowUp(t *testing.T) {
	srv, requests := newRecordingServer(t, http.StatusOK, `{"id":"m"}`)
	client := NewClient(srv.URL, "bot-token", "app-1", nil, zerolog.Nop())

	t.Run("falls back to the configured application id", func(t *testing.T) {
		err := client.FollowUp(context.Background(), &Interaction{Token: "tok"}, "forwarded", true)
		require.NoError(t, err)

		req := (*requests)[len(*requests)-1]
		assert.Equal(t, "/webhooks/app-1/tok", req.Path)
		assert.Equal(t, "forwarded", req.Body["content"])
		assert.Equal(t, float64(FlagEphemeral), req.Body["flags"])
	})

	t.Run("prefers the interaction's application id", func(t *testing.T) {
		err := client.FollowUp(context.Background(), &Interaction{ApplicationID: "app-2", Token: "tok"}, "hi", false)
		require.NoError(t, err)

		req := (*requests)[len(*requests)-1]
		assert.Equal(t, "/webhooks/app-2/tok", req.Path)
		assert.NotContains(t, req.Body, "flags")
	})
}

func TestClient_GetMessage(t *testing.T) {
	t.Run("decodes the message", func(t *testing.T) {
		srv, requests := newRecordingServer(t, http.StatusOK, `{
			"id": "42",
			"channel_id": "c-1",
			"content": "New mail",
			"components": [{"type": 1, "components": [{"type": 2, "custom_id": "read:abc@x", "label": "Mark as Read", "style": 1}]}]
		}`)
		client := NewClient(srv.URL, "bot-token", "app-1", nil, zerolog.Nop())

		msg, err := client.GetMessage(context.Background(), "c-1", "42")
		require.NoError(t, err)

		assert.Equal(t, "New mail", msg.Content)
		require.Len(t, msg.Components, 1)
		assert.Equal(t, "read:abc@x", msg.Components[0].Components[0].CustomID)

		req := (*requests)[0]
		assert.Equal(t, http.MethodGet, req.Method)
		assert.Equal(t, "/channels/c-1/messages/42", req.Path)
		assert.Equal(t, "Bot bot-token", req.Auth)
	})

	t.Run("404 matches ErrNotFound", func(t *testing.T) {
		srv, _ := newRecordingServer(t, http.StatusNotFound, `{"message": "Unknown Message", "code": 10008}`)
		client := NewClient(srv.URL, "bot-token", "app-1", nil, zerolog.Nop())

		_, err := client.GetMessage(context.Background(), "c-1", "404")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNotFound))

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
		assert.Contains(t, apiErr.Body, "Unknown Message")
	})

	t.Run("other failures do not match ErrNotFound", func(t *testing.T) {
		srv, _ := newRecordingServer(t, http.StatusForbidden, `{"message": "Missing Access"}`)
		client := NewClient(srv.URL, "bot-token", "app-1", nil, zerolog.Nop())

		_, err := client.GetMessage(context.Background(), "c-1", "42")
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrNotFound))
	})
}

func TestClient_EditMessage(t *testing.T) {
	srv, requests := newRecordingServer(t, http.StatusOK, `{"id":"42"}`)
	client := NewClient(srv.URL, "bot-token", "app-1", nil, zerolog.Nop())

	_, err := client.EditMessage(context.Background(), "c-1", "42", MessageEdit{Content: "done"})
	require.NoError(t, err)

	req := (*requests)[0]
	assert.Equal(t, http.MethodPatch, req.Method)
	assert.Equal(t, "/channels/c-1/messages/42", req.Path)
	assert.Equal(t, "done", req.Body["content"])
	assert.Equal(t, []interface{}{}, req.Body["components"], "an empty control set must be sent explicitly")
}

func TestClient_CreateMessage(t *testing.T) {
	srv, requests := newRecordingServer(t, http.StatusOK, `{"id":"43","channel_id":"c-1","content":"draft"}`)
	client := NewClient(srv.URL, "bot-token", "app-1", nil, zerolog.Nop())

	msg, err := client.CreateMessage(context.Background(), "c-1", MessageSend{
		Content:          "draft",
		MessageReference: &MessageReference{MessageID: "42", ChannelID: "c-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "43", msg.ID)

	req := (*requests)[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/channels/c-1/messages", req.Path)
	assert.Equal(t, map[string]interface{}{"message_id": "42", "channel_id": "c-1"}, req.Body["message_reference"])
	assert.NotContains(t, req.Body, "components")
}

func TestClient_TransportError(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "bot-token", "app-1", nil, zerolog.Nop())

	_, err := client.GetMessage(context.Background(), "c-1", "42")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}
