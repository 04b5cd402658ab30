package router

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/vdavid/mailrelay/internal/chat"
	"github.com/vdavid/mailrelay/internal/logging"
	"github.com/vdavid/mailrelay/internal/models"
	"github.com/vdavid/mailrelay/internal/relay"
)

// Responder is the part of the chat control surface the router talks to.
type Responder interface {
	Respond(ctx context.Context, interaction *chat.Interaction, resp chat.InteractionResponse) error
	FollowUp(ctx context.Context, interaction *chat.Interaction, content string, ephemeral bool) error
}

// Relayer forwards a request to the automation engine.
type Relayer interface {
	Send(ctx context.Context, req models.ActionRequest) error
}

// Router turns chat interactions into relayed action requests.
// Activations of actions that need context open a modal first; the modal's
// submission completes the flow.
type Router struct {
	responder Responder
	relayer   Relayer
	flows     *Flows
	guard     *Guard
	logger    zerolog.Logger
}

func NewRouter(responder Responder, relayer Relayer, flows *Flows, guard *Guard, logger zerolog.Logger) *Router {
	return &Router{
		responder: responder,
		relayer:   relayer,
		flows:     flows,
		guard:     guard,
		logger:    logging.Component(logger, "router"),
	}
}

// HandleInteraction is the chat gateway's interaction handler.
func (r *Router) HandleInteraction(ctx context.Context, interaction *chat.Interaction) {
	switch interaction.Type {
	case chat.InteractionMessageComponent:
		r.handleActivation(ctx, interaction)
	case chat.InteractionModalSubmit:
		r.handleSubmission(ctx, interaction)
	default:
		r.logger.Debug().Int("type", int(interaction.Type)).Msg("Ignoring interaction")
	}
}

// Sweep abandons expired flows and guard entries. It runs on a schedule.
func (r *Router) Sweep() {
	flows := r.flows.Sweep()
	entries := r.guard.Sweep()
	if flows > 0 || entries > 0 {
		r.logger.Debug().Int("flows", flows).Int("guard_entries", entries).Msg("Swept expired state")
	}
}

func (r *Router) handleActivation(ctx context.Context, interaction *chat.Interaction) {
	log := r.logger.With().Str("interaction_id", interaction.ID).Str("custom_id", interaction.Data.CustomID).Logger()

	token, err := models.DecodeToken(interaction.Data.CustomID)
	if err != nil {
		log.Warn().Err(err).Msg("Malformed action token")
		r.respondError(ctx, interaction, "This button is not recognized.")
		return
	}
	if interaction.Message == nil || interaction.Message.ID == "" {
		log.Warn().Msg("Activation without a source message")
		r.respondError(ctx, interaction, "Could not find the message for this button.")
		return
	}

	source := models.ChatMessageRef{ChatMessageID: interaction.Message.ID, ChannelID: interaction.ChannelID}.
		OrChannel(interaction.Message.ChannelID)

	if token.Action.RequiresContext() {
		flow := r.flows.Begin(Flow{
			Action:         token.Action,
			EmailMessageID: token.MessageID,
			Chat:           source,
			Author:         interaction.Author(),
		})
		if err := r.responder.Respond(ctx, interaction, chat.ContextModal(flow.ID)); err != nil {
			r.flows.Discard(flow.ID)
			log.Error().Err(err).Msg("Failed to present context modal")
			return
		}
		log.Info().Str("flow_id", flow.ID).Str("action", token.Action.String()).Msg("Awaiting context")
		return
	}

	r.dispatch(ctx, interaction, models.NewActionRequest(token.Action, token.MessageID, source, interaction.Author()))
}

func (r *Router) handleSubmission(ctx context.Context, interaction *chat.Interaction) {
	flow, ok := r.flows.Take(interaction.Data.CustomID)
	if !ok {
		r.logger.Info().Str("flow_id", interaction.Data.CustomID).Msg("Submission for unknown or expired flow")
		r.respondError(ctx, interaction, "This request has expired. Please click the button again.")
		return
	}

	req := models.NewActionRequest(flow.Action, flow.EmailMessageID, flow.Chat, flow.Author)
	req.Context = interaction.TextInputValue(chat.ContextInputID)
	r.dispatch(ctx, interaction, req)
}

func (r *Router) dispatch(ctx context.Context, interaction *chat.Interaction, req models.ActionRequest) {
	log := r.logger.With().
		Str("action", req.Action.String()).
		Str("message_id", req.MessageID).
		Str("chat_message_id", req.ChatMessageID).
		Str("author", req.Author).
		Logger()

	if !r.guard.Acquire(req.Action, req.MessageID, req.ChatMessageID) {
		log.Info().Msg("Duplicate activation suppressed")
		r.respondError(ctx, interaction, fmt.Sprintf("A %s request for this email was already forwarded.", req.Action))
		return
	}

	if err := r.responder.Respond(ctx, interaction, chat.DeferredEphemeral()); err != nil {
		r.guard.Release(req.Action, req.MessageID)
		log.Error().Err(err).Msg("Failed to acknowledge interaction, nothing relayed")
		return
	}

	if err := r.relayer.Send(ctx, req); err != nil {
		r.guard.Release(req.Action, req.MessageID)
		log.Error().Err(err).Msg("Relay failed")
		r.followUp(ctx, interaction, rejectionMessage(err))
		return
	}

	log.Info().Msg("Action forwarded")
	r.followUp(ctx, interaction, fmt.Sprintf("Forwarded %s request to automation.", req.Action))
}

func (r *Router) respondError(ctx context.Context, interaction *chat.Interaction, content string) {
	if err := r.responder.Respond(ctx, interaction, chat.EphemeralMessage(content)); err != nil {
		r.logger.Error().Err(err).Str("interaction_id", interaction.ID).Msg("Failed to report error to actor")
	}
}

func (r *Router) followUp(ctx context.Context, interaction *chat.Interaction, content string) {
	if err := r.responder.FollowUp(ctx, interaction, content, true); err != nil {
		r.logger.Error().Err(err).Str("interaction_id", interaction.ID).Msg("Failed to send follow-up")
	}
}

func rejectionMessage(err error) string {
	var rejected *relay.RejectedError
	if errors.As(err, &rejected) {
		if rejected.StatusCode == 0 {
			return fmt.Sprintf("Could not reach automation: %s", rejected.Reason)
		}
		return fmt.Sprintf("Automation rejected the request (status %d): %s", rejected.StatusCode, rejected.Reason)
	}
	return fmt.Sprintf("Failed to forward request: %v", err)
}
