package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/vdavid/mailrelay/internal/chat"
	"github.com/vdavid/mailrelay/internal/logging"
	"github.com/vdavid/mailrelay/internal/models"
)

// SuggestionLabel replaces the annotation text of a successful suggestion.
// The drafted body itself is posted as a separate reply.
const SuggestionLabel = "Created suggested answer"

const (
	successMarker = "✅"
	errorMarker   = "❌"
)

// ChatAPI is the part of the chat control surface the reconciler uses.
type ChatAPI interface {
	GetMessage(ctx context.Context, channelID, messageID string) (*chat.Message, error)
	EditMessage(ctx context.Context, channelID, messageID string, edit chat.MessageEdit) (*chat.Message, error)
	CreateMessage(ctx context.Context, channelID string, send chat.MessageSend) (*chat.Message, error)
}

// ResultObserver is told about every result before the chat message is touched.
type ResultObserver interface {
	ResolveResult(action models.Action, chatMessageID string)
}

// Reconciler applies the automation engine's results to the chat messages that represent emails.
type Reconciler struct {
	chat           ChatAPI
	defaultChannel string
	markReadLabel  string
	observer       ResultObserver
	logger         zerolog.Logger
}

func NewReconciler(api ChatAPI, defaultChannel, markReadLabel string, observer ResultObserver, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		chat:           api,
		defaultChannel: defaultChannel,
		markReadLabel:  markReadLabel,
		observer:       observer,
		logger:         logging.Component(logger, "reconciler"),
	}
}

// HandleResult fetches the chat message, annotates it, replaces its controls and,
// for a successful suggestion, posts the drafted text as a threaded reply.
// It never panics and never returns an error: every failure becomes an error response.
func (r *Reconciler) HandleResult(ctx context.Context, result models.ActionResult) (resp models.CallbackResponse) {
	log := r.logger.With().
		Str("action", result.Action.String()).
		Str("status", string(result.Status)).
		Str("chat_message_id", result.ChatMessageID).
		Logger()

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("Recovered while reconciling result")
			resp = models.ErrorResponse("Exception occurred")
		}
	}()

	if strings.TrimSpace(result.ChatMessageID) == "" {
		return models.ErrorResponse("chatMessageId is required")
	}
	ref := result.ChatRef().OrChannel(r.defaultChannel)
	if ref.ChannelID == "" {
		return models.ErrorResponse("channelId is required")
	}

	if r.observer != nil {
		r.observer.ResolveResult(result.Action, result.ChatMessageID)
	}

	msg, err := r.chat.GetMessage(ctx, ref.ChannelID, ref.ChatMessageID)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			log.Warn().Msg("Chat message not found")
			return models.ErrorResponse(fmt.Sprintf("MessageNotFound: chat message %s does not exist", result.ChatMessageID))
		}
		log.Error().Err(err).Msg("Failed to retrieve chat message")
		return models.ErrorResponse("Failed to retrieve the original chat message")
	}

	edit := chat.MessageEdit{
		Content:    Annotate(msg.Content, result),
		Components: Controls(result.Action, msg.Components, r.markReadLabel),
	}
	if _, err := r.chat.EditMessage(ctx, ref.ChannelID, ref.ChatMessageID, edit); err != nil {
		log.Error().Err(err).Msg("Failed to update chat message")
		return models.ErrorResponse("Failed to update chat message")
	}

	if result.Action == models.ActionSuggest && result.Succeeded() && strings.TrimSpace(result.Message) != "" {
		if err := r.postReply(ctx, ref, result.Message); err != nil {
			log.Error().Err(err).Msg("Failed to send suggested reply")
			return models.ErrorResponse("Failed to send suggested reply")
		}
		log.Info().Msg("Replied with suggested message")
		return models.SuccessResponse("Replied with suggested message")
	}

	log.Info().Msg("Chat message updated")
	return models.SuccessResponse("Updated chat message")
}

func (r *Reconciler) postReply(ctx context.Context, ref models.ChatMessageRef, body string) error {
	for _, chunk := range chat.SplitContent(body, chat.MaxContentLength) {
		_, err := r.chat.CreateMessage(ctx, ref.ChannelID, chat.MessageSend{
			Content:          chunk,
			MessageReference: &chat.MessageReference{MessageID: ref.ChatMessageID, ChannelID: ref.ChannelID},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Annotate appends the status line to the existing content after a blank line.
// The result fits the chat limit; the existing content is cut first.
func Annotate(existing string, result models.ActionResult) string {
	text := result.Message
	if result.Action == models.ActionSuggest && result.Succeeded() {
		text = SuggestionLabel
	}
	marker := errorMarker
	if result.Succeeded() {
		marker = successMarker
	}
	annotation := chat.Truncate(strings.TrimSpace(marker+" "+text), chat.MaxContentLength)

	if strings.TrimSpace(existing) == "" {
		return annotation
	}

	const separator = "\n\n"
	room := chat.MaxContentLength - len([]rune(annotation)) - len(separator)
	if room <= 0 {
		return annotation
	}
	return chat.Truncate(existing, room) + separator + annotation
}

// Controls computes the control set left on the message after the action completed.
func Controls(action models.Action, existing []chat.Component, markReadLabel string) []chat.Component {
	switch action {
	case models.ActionTrash:
		return []chat.Component{}
	case models.ActionRead:
		return chat.RemoveMarkRead(existing, markReadLabel)
	default:
		return existing
	}
}
