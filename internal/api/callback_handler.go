package api

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/vdavid/mailrelay/internal/logging"
	"github.com/vdavid/mailrelay/internal/models"
)

// ResultHandler applies an automation result to the chat.
type ResultHandler interface {
	HandleResult(ctx context.Context, result models.ActionResult) models.CallbackResponse
}

// CallbackHandler receives the automation engine's asynchronous results.
type CallbackHandler struct {
	results ResultHandler
	logger  zerolog.Logger
}

func NewCallbackHandler(results ResultHandler, logger zerolog.Logger) *CallbackHandler {
	return &CallbackHandler{
		results: results,
		logger:  logging.Component(logger, "callback_api"),
	}
}

// callbackRequest also accepts the field name used by older workflows.
type callbackRequest struct {
	models.ActionResult
	DiscordMessageID string `json:"discordMessageId"`
}

// UpdateMessage always answers 200 with {status, message}.
func (h *CallbackHandler) UpdateMessage(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.Warn().Err(err).Msg("Invalid callback body")
		WriteJSONResponse(w, models.ErrorResponse("Invalid request: "+err.Error()))
		return
	}

	result := req.ActionResult
	if result.ChatMessageID == "" {
		result.ChatMessageID = req.DiscordMessageID
	}

	h.logger.Info().
		Str("action", result.Action.String()).
		Str("status", string(result.Status)).
		Str("chat_message_id", result.ChatMessageID).
		Msg("Callback received")

	WriteJSONResponse(w, h.results.HandleResult(r.Context(), result))
}
