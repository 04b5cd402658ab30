package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vdavid/mailrelay/internal/chat"
	"github.com/vdavid/mailrelay/internal/imap"
	"github.com/vdavid/mailrelay/internal/logging"
	"github.com/vdavid/mailrelay/internal/models"
)

// ChatPoster posts a new channel message.
type ChatPoster interface {
	CreateMessage(ctx context.Context, channelID string, send chat.MessageSend) (*chat.Message, error)
}

// Announcer posts one chat message with action buttons per new email.
type Announcer struct {
	chat          ChatPoster
	channelID     string
	markReadLabel string
	logger        zerolog.Logger
}

func NewAnnouncer(poster ChatPoster, channelID, markReadLabel string, logger zerolog.Logger) *Announcer {
	return &Announcer{
		chat:          poster,
		channelID:     channelID,
		markReadLabel: markReadLabel,
		logger:        logging.Component(logger, "announcer"),
	}
}

func (a *Announcer) AnnounceEmail(ctx context.Context, email imap.NewEmail) error {
	log := a.logger.With().Uint32("uid", email.UID).Str("message_id", email.MessageID).Logger()

	send := chat.MessageSend{Content: chat.Truncate(FormatAnnouncement(email), chat.MaxContentLength)}
	if email.MessageID == "" {
		log.Warn().Msg("Email has no Message-ID, announcing without actions")
	} else {
		// Buttons carry the header form so automation receives the Message-ID as it appears in the mail.
		components, err := chat.ActionButtons(models.WrapMessageID(email.MessageID), a.markReadLabel)
		if err != nil {
			log.Warn().Err(err).Msg("Cannot render actions, announcing without them")
		} else {
			send.Components = components
		}
	}

	msg, err := a.chat.CreateMessage(ctx, a.channelID, send)
	if err != nil {
		return err
	}
	log.Info().Str("chat_message_id", msg.ID).Msg("Announced new email")
	return nil
}

// FormatAnnouncement renders the chat text for a new email.
func FormatAnnouncement(email imap.NewEmail) string {
	subject := strings.TrimSpace(email.Subject)
	if subject == "" {
		subject = "(no subject)"
	}
	from := strings.TrimSpace(email.From)
	if from == "" {
		from = "unknown sender"
	}
	return fmt.Sprintf("📧 **%s**\nFrom: %s", subject, from)
}
