package imap

import (
	"bytes"
	"context"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/vdavid/mailrelay/internal/logging"
)

// GatewayConfig holds the mailbox layout the gateway works against.
type GatewayConfig struct {
	TrashFolder   string
	DraftsFolders []string
	SenderAddress string
}

// Gateway performs one unit of mailbox work per call, each on its own session.
// It holds no connection between calls and is safe for concurrent use.
type Gateway struct {
	connector Connector
	cfg       GatewayConfig
	logger    zerolog.Logger
	now       func() time.Time
}

func NewGateway(connector Connector, cfg GatewayConfig, logger zerolog.Logger) *Gateway {
	if cfg.TrashFolder == "" {
		cfg.TrashFolder = "Trash"
	}
	if len(cfg.DraftsFolders) == 0 {
		cfg.DraftsFolders = []string{"Drafts", "Entwürfe"}
	}
	return &Gateway{
		connector: connector,
		cfg:       cfg,
		logger:    logging.Component(logger, "mailbox"),
		now:       time.Now,
	}
}

// withSession opens a session, runs fn and always logs out.
// Cancelling ctx terminates the connection; the error then matches ctx.Err().
func (g *Gateway) withSession(ctx context.Context, op string, fn func(c *client.Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c, err := g.connector.Connect(ctx)
	if err != nil {
		g.logger.Error().Err(err).Str("op", op).Msg("Failed to open IMAP session")
		return err
	}
	defer func() {
		if err := c.Logout(); err != nil {
			g.logger.Debug().Err(err).Str("op", op).Msg("Logout failed")
		}
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Terminate()
		case <-done:
		}
	}()

	err = fn(c)
	if err != nil && ctx.Err() != nil {
		return &OpError{Kind: ctx.Err(), Op: op, Err: err}
	}
	return err
}

// ResolveUID finds the INBOX UID of the message with the given Message-ID.
// Angle brackets around the id are optional.
func (g *Gateway) ResolveUID(ctx context.Context, messageID string) (uint32, error) {
	var uid uint32
	err := g.withSession(ctx, "resolve_uid", func(c *client.Client) error {
		if err := selectInbox(c); err != nil {
			return err
		}

		uids, err := SearchByMessageID(c, messageID)
		if err != nil {
			return err
		}
		if len(uids) == 0 {
			return errors.Wrapf(ErrMessageNotFound, "message id %q", messageID)
		}

		uid = uids[0]
		return nil
	})
	if err != nil {
		return 0, err
	}

	g.logger.Debug().Str("message_id", messageID).Uint32("uid", uid).Msg("Resolved UID")
	return uid, nil
}

// ExtractText returns the readable body of an INBOX message without marking it read.
func (g *Gateway) ExtractText(ctx context.Context, uid uint32) (string, error) {
	var text string
	err := g.withSession(ctx, "extract_text", func(c *client.Client) error {
		if err := selectInbox(c); err != nil {
			return err
		}

		raw, err := FetchRawMessage(c, uid)
		if err != nil {
			return err
		}

		parsed, err := ParseMessage(raw)
		if err != nil {
			return err
		}

		text, err = parsed.Text()
		return err
	})
	return text, err
}

// MoveToTrash moves an INBOX message to the configured trash folder.
// An unknown UID yields ErrMessageNotFound, never a silent success.
func (g *Gateway) MoveToTrash(ctx context.Context, uid uint32) error {
	err := g.withSession(ctx, "move_to_trash", func(c *client.Client) error {
		if err := selectInbox(c); err != nil {
			return err
		}
		if err := ensureUIDExists(c, uid); err != nil {
			return err
		}

		seqSet := new(imap.SeqSet)
		seqSet.AddNum(uid)
		if err := c.UidMove(seqSet, g.cfg.TrashFolder); err != nil {
			return protocolError(err, "failed to move uid %d to %s", uid, g.cfg.TrashFolder)
		}
		return nil
	})
	if err != nil {
		return err
	}

	g.logger.Info().Uint32("uid", uid).Str("folder", g.cfg.TrashFolder).Msg("Moved message to trash")
	return nil
}

// MarkRead sets \Seen on an INBOX message. Marking an already read message succeeds.
func (g *Gateway) MarkRead(ctx context.Context, uid uint32) error {
	err := g.withSession(ctx, "mark_read", func(c *client.Client) error {
		if err := selectInbox(c); err != nil {
			return err
		}
		if err := ensureUIDExists(c, uid); err != nil {
			return err
		}

		seqSet := new(imap.SeqSet)
		seqSet.AddNum(uid)
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := c.UidStore(seqSet, item, []interface{}{imap.SeenFlag}, nil); err != nil {
			return protocolError(err, "failed to mark uid %d as read", uid)
		}
		return nil
	})
	if err != nil {
		return err
	}

	g.logger.Info().Uint32("uid", uid).Msg("Marked message as read")
	return nil
}

// ComposeDraft appends a threaded reply to the original message into the first
// drafts folder that exists, and returns the new draft's Message-ID.
func (g *Gateway) ComposeDraft(ctx context.Context, uid uint32, replyText string) (string, error) {
	var draft *Draft
	var folder string
	err := g.withSession(ctx, "compose_draft", func(c *client.Client) error {
		if err := selectInbox(c); err != nil {
			return err
		}

		raw, err := FetchRawMessage(c, uid)
		if err != nil {
			return err
		}

		original, err := ParseMessage(raw)
		if err != nil {
			return err
		}

		originalText, err := original.Text()
		if err != nil && !errors.Is(err, ErrNoTextContent) {
			return err
		}

		now := g.now()
		draft, err = BuildDraft(original, originalText, replyText, g.cfg.SenderAddress, now)
		if err != nil {
			return protocolError(err, "failed to build draft")
		}

		folder, err = resolveDraftsFolder(c, g.cfg.DraftsFolders)
		if err != nil {
			return err
		}

		if err := c.Append(folder, []string{imap.DraftFlag}, now, bytes.NewReader(draft.Raw)); err != nil {
			return protocolError(err, "failed to append draft to %s", folder)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	g.logger.Info().Uint32("uid", uid).Str("folder", folder).Str("draft_message_id", draft.MessageID).Msg("Saved draft")
	return draft.MessageID, nil
}
