package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestNewCLI(t *testing.T) {
	app := newCLI()

	var names []string
	for _, cmd := range app.Commands {
		names = append(names, cmd.Name)
	}
	assert.Equal(t, []string{"serve", "lookup-uid", "sandbox"}, names)
}

func TestLookupUID_RequiresArgument(t *testing.T) {
	app := newCLI()
	app.ExitErrHandler = func(*cli.Context, error) {}

	err := app.Run([]string{"mailrelay", "lookup-uid"})
	require.Error(t, err)

	var exitErr cli.ExitCoder
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.ExitCode())
}

func postJSON(t *testing.T, h http.Handler, path, body string) map[string]interface{} {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer sandbox-key")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func TestSandbox(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	server, err := startSandbox("127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	h := sandboxHandler(server, "sandbox-key", zerolog.Nop())

	t.Run("seeded messages resolve", func(t *testing.T) {
		for _, m := range sandboxMessages {
			resp := postJSON(t, h, "/get-uid", `{"message_id": "<`+m.id+`>"}`)
			assert.Equal(t, "success", resp["status"], m.id)
			assert.NotEmpty(t, resp["uid"], m.id)
		}
	})

	t.Run("text is readable", func(t *testing.T) {
		resp := postJSON(t, h, "/get-uid", `{"message_id": "order-42@shop.example"}`)
		uid, _ := resp["uid"].(string)
		require.NotEmpty(t, uid)

		resp = postJSON(t, h, "/get-text", `{"uid": "`+uid+`"}`)
		assert.Equal(t, "success", resp["status"])
		assert.Contains(t, resp["text"], "lamp")
	})

	t.Run("drafts land in the seeded folder", func(t *testing.T) {
		resp := postJSON(t, h, "/get-uid", `{"message_id": "invoice-7@agency.example"}`)
		uid, _ := resp["uid"].(string)

		resp = postJSON(t, h, "/create-draft", `{"uid": "`+uid+`", "reply": "Thanks, paid."}`)
		assert.Equal(t, "success", resp["status"], resp["message"])
		draftID, _ := resp["draft_message_id"].(string)
		require.NotEmpty(t, draftID)
		assert.Len(t, server.SearchMessageID(t, "Drafts", strings.Trim(draftID, "<>")), 1)
	})

	t.Run("suggestions need a generation backend", func(t *testing.T) {
		resp := postJSON(t, h, "/suggest-answer", `{"message_id": "order-42@shop.example"}`)
		assert.Equal(t, "error", resp["status"])
		assert.Equal(t, "generation_error", resp["code"])
	})

	t.Run("api key is enforced", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/get-uid", strings.NewReader(`{"message_id": "x"}`))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("no callback route", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/update-message", strings.NewReader(`{}`))
		req.Header.Set("Authorization", "Bearer sandbox-key")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}
