package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/vdavid/mailrelay/internal/logging"
	"github.com/vdavid/mailrelay/internal/models"
)

// ErrRejected matches every RejectedError.
var ErrRejected = errors.New("action rejected by automation engine")

// maxReasonBytes caps how much of a rejection body is kept.
const maxReasonBytes = 512

// RejectedError reports that the automation engine did not accept the request.
// StatusCode is zero when the request never got a response.
type RejectedError struct {
	StatusCode int
	Reason     string
}

func (e *RejectedError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("relay failed: %s", e.Reason)
	}
	return fmt.Sprintf("relay rejected with status %d: %s", e.StatusCode, e.Reason)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// Client posts action requests to the automation engine's webhook.
// It makes exactly one attempt per Send and never deduplicates.
type Client struct {
	url        string
	authToken  string
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewClient(url, authToken string, httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		url:        url,
		authToken:  authToken,
		httpClient: httpClient,
		logger:     logging.Component(logger, "relay"),
	}
}

// Send relays one request. A 200 response means accepted; anything else is a *RejectedError.
// A context that is already done returns its error without sending.
func (c *Client) Send(ctx context.Context, req models.ActionRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := req.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "failed to encode action request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to build relay request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	log := c.logger.With().
		Str("action", req.Action.String()).
		Str("message_id", req.MessageID).
		Str("chat_message_id", req.ChatMessageID).
		Logger()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error().Err(err).Msg("Relay request failed")
		return &RejectedError{Reason: err.Error()}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		reason := readReason(resp)
		log.Error().Int("status_code", resp.StatusCode).Str("reason", reason).Msg("Relay rejected")
		return &RejectedError{StatusCode: resp.StatusCode, Reason: reason}
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	log.Info().Msg("Relayed action")
	return nil
}

func readReason(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxReasonBytes))
	if reason := strings.TrimSpace(string(b)); reason != "" {
		return reason
	}
	return http.StatusText(resp.StatusCode)
}
