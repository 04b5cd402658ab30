package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/vdavid/mailrelay/internal/logging"
)

// DefaultAPIURL is the base of the chat platform's REST API.
const DefaultAPIURL = "https://discord.com/api/v10"

// ErrNotFound matches an APIError with status 404.
var ErrNotFound = errors.New("chat resource not found")

// APIError is a non-2xx response from the chat REST API.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client is the chat control surface: it acknowledges interactions,
// sends follow-ups and reads, patches and posts channel messages.
type Client struct {
	baseURL       string
	token         string
	applicationID string
	httpClient    *http.Client
	logger        zerolog.Logger
}

func NewClient(baseURL, token, applicationID string, httpClient *http.Client, logger zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		token:         token,
		applicationID: applicationID,
		httpClient:    httpClient,
		logger:        logging.Component(logger, "chat_rest"),
	}
}

// Respond answers an interaction. Every interaction must be answered exactly once.
func (c *Client) Respond(ctx context.Context, interaction *Interaction, resp InteractionResponse) error {
	path := fmt.Sprintf("/interactions/%s/%s/callback", url.PathEscape(interaction.ID), url.PathEscape(interaction.Token))
	return c.do(ctx, http.MethodPost, path, resp, nil, false)
}

// FollowUp posts a message after a deferred response, using the interaction token.
func (c *Client) FollowUp(ctx context.Context, interaction *Interaction, content string, ephemeral bool) error {
	appID := interaction.ApplicationID
	if appID == "" {
		appID = c.applicationID
	}
	body := InteractionResponseData{Content: Truncate(content, MaxContentLength)}
	if ephemeral {
		body.Flags = FlagEphemeral
	}
	path := fmt.Sprintf("/webhooks/%s/%s", url.PathEscape(appID), url.PathEscape(interaction.Token))
	return c.do(ctx, http.MethodPost, path, body, nil, false)
}

func (c *Client) GetMessage(ctx context.Context, channelID, messageID string) (*Message, error) {
	var msg Message
	if err := c.do(ctx, http.MethodGet, messagePath(channelID, messageID), nil, &msg, true); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) EditMessage(ctx context.Context, channelID, messageID string, edit MessageEdit) (*Message, error) {
	if edit.Components == nil {
		edit.Components = []Component{}
	}
	var msg Message
	if err := c.do(ctx, http.MethodPatch, messagePath(channelID, messageID), edit, &msg, true); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) CreateMessage(ctx context.Context, channelID string, send MessageSend) (*Message, error) {
	var msg Message
	path := fmt.Sprintf("/channels/%s/messages", url.PathEscape(channelID))
	if err := c.do(ctx, http.MethodPost, path, send, &msg, true); err != nil {
		return nil, err
	}
	return &msg, nil
}

func messagePath(channelID, messageID string) string {
	return fmt.Sprintf("/channels/%s/messages/%s", url.PathEscape(channelID), url.PathEscape(messageID))
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}, authed bool) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "failed to encode request")
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bot "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s failed", method, path)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		apiErr := &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
		c.logger.Warn().Str("method", method).Str("path", path).Int("status_code", resp.StatusCode).Msg("Chat API call failed")
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "failed to decode %s %s response", method, path)
	}
	return nil
}
