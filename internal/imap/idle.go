package imap

import (
	"context"
	"sort"
	"time"

	"github.com/emersion/go-imap"
	idle "github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap/client"
	"github.com/rs/zerolog"

	"github.com/vdavid/mailrelay/internal/logging"
	"github.com/vdavid/mailrelay/internal/models"
)

const (
	// watcherRetryDelay is the backoff after a failed session before reconnecting.
	watcherRetryDelay = 10 * time.Second
	// defaultRefreshInterval bounds how long one IDLE command runs before the folder is rechecked.
	defaultRefreshInterval = 5 * time.Minute
	idlePollInterval       = 30 * time.Second
)

// NewEmail describes a message that arrived in INBOX while the watcher was running.
type NewEmail struct {
	UID       uint32
	MessageID string
	Subject   string
	From      string
}

// Announcer is told about every new INBOX message.
type Announcer interface {
	AnnounceEmail(ctx context.Context, email NewEmail) error
}

// Watcher holds one long-lived IDLE session on INBOX and announces new messages.
// Messages already present when a session starts are not announced.
type Watcher struct {
	connector Connector
	announcer Announcer
	logger    zerolog.Logger
	refresh   time.Duration
	retry     time.Duration
	// onWatching, when set, is called once a session has taken its baseline.
	onWatching func(uidNext uint32)
}

func NewWatcher(connector Connector, announcer Announcer, logger zerolog.Logger) *Watcher {
	return &Watcher{
		connector: connector,
		announcer: announcer,
		logger:    logging.Component(logger, "inbox_watcher"),
		refresh:   defaultRefreshInterval,
		retry:     watcherRetryDelay,
	}
}

// Run blocks until the context is cancelled, reconnecting after failures.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := w.watch(ctx); err != nil {
			w.logger.Warn().Err(err).Msg("IMAP IDLE session ended, reconnecting")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.retry):
		}
	}
}

func (w *Watcher) watch(ctx context.Context) error {
	c, err := w.connector.Connect(ctx)
	if err != nil {
		return err
	}

	quit := make(chan struct{})
	defer close(quit)
	defer func() {
		_ = c.Logout()
	}()

	status, err := c.Select(inboxFolder, true)
	if err != nil {
		return protocolError(err, "failed to select %s", inboxFolder)
	}

	next := status.UidNext
	if next == 0 {
		if next, err = nextUID(c); err != nil {
			return err
		}
	}
	w.logger.Info().Uint32("uid_next", next).Msg("Watching INBOX")
	if w.onWatching != nil {
		w.onWatching(next)
	}

	// The client blocks on a full Updates channel, so updates are drained into a signal.
	updates := make(chan client.Update, 10)
	changed := make(chan struct{}, 1)
	c.Updates = updates
	go func() {
		for {
			select {
			case <-quit:
				return
			case update := <-updates:
				if _, ok := update.(*client.MailboxUpdate); ok {
					select {
					case changed <- struct{}{}:
					default:
					}
				}
			}
		}
	}()

	idleClient := idle.NewClient(c)
	for {
		stop := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			done <- idleClient.IdleWithFallback(stop, idlePollInterval)
		}()

		timer := time.NewTimer(w.refresh)
		select {
		case <-ctx.Done():
			timer.Stop()
			close(stop)
			<-done
			return nil
		case err := <-done:
			timer.Stop()
			if err != nil {
				return protocolError(err, "idle failed")
			}
		case <-changed:
			timer.Stop()
			close(stop)
			if err := <-done; err != nil {
				return protocolError(err, "idle failed")
			}
		case <-timer.C:
			close(stop)
			if err := <-done; err != nil {
				return protocolError(err, "idle failed")
			}
		}

		emails, newNext, err := CollectNewEmails(c, next)
		if err != nil {
			return err
		}
		next = newNext

		for _, email := range emails {
			if err := w.announcer.AnnounceEmail(ctx, email); err != nil {
				w.logger.Error().Err(err).Str("message_id", email.MessageID).Msg("Failed to announce email")
				continue
			}
			w.logger.Info().Str("message_id", email.MessageID).Uint32("uid", email.UID).Msg("Announced new email")
		}
	}
}

// nextUID returns one past the highest UID in the selected folder.
func nextUID(c *client.Client) (uint32, error) {
	uids, err := c.UidSearch(imap.NewSearchCriteria())
	if err != nil {
		return 0, protocolError(err, "failed to list uids")
	}

	var highest uint32
	for _, uid := range uids {
		if uid > highest {
			highest = uid
		}
	}
	return highest + 1, nil
}

// CollectNewEmails fetches envelopes of every message with UID >= since in the selected folder.
// It returns them in UID order along with the next UID to watch from.
// Messages without a Message-ID cannot be acted on and are skipped.
func CollectNewEmails(c *client.Client, since uint32) ([]NewEmail, uint32, error) {
	if since == 0 {
		since = 1
	}

	criteria := imap.NewSearchCriteria()
	criteria.Uid = new(imap.SeqSet)
	criteria.Uid.AddRange(since, 0)

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, since, protocolError(err, "failed to search new messages")
	}

	seqSet := new(imap.SeqSet)
	next := since
	for _, uid := range uids {
		// "n:*" always matches the highest UID, even when it is below n.
		if uid < since {
			continue
		}
		seqSet.AddNum(uid)
		if uid >= next {
			next = uid + 1
		}
	}

	if seqSet.Empty() {
		return nil, next, nil
	}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid}, messages)
	}()

	var emails []NewEmail
	for msg := range messages {
		if msg.Envelope == nil || msg.Envelope.MessageId == "" {
			continue
		}
		email := NewEmail{
			UID:       msg.Uid,
			MessageID: models.UnwrapMessageID(msg.Envelope.MessageId),
			Subject:   msg.Envelope.Subject,
		}
		if len(msg.Envelope.From) > 0 {
			email.From = formatIMAPAddress(msg.Envelope.From[0])
		}
		emails = append(emails, email)
	}

	if err := <-done; err != nil {
		return nil, since, protocolError(err, "failed to fetch new messages")
	}

	sort.Slice(emails, func(i, j int) bool { return emails[i].UID < emails[j].UID })
	return emails, next, nil
}

// formatIMAPAddress formats an envelope address as "Name <box@host>" or "box@host".
func formatIMAPAddress(address *imap.Address) string {
	if address == nil || (address.MailboxName == "" && address.HostName == "") {
		return ""
	}

	addr := address.MailboxName + "@" + address.HostName
	if address.PersonalName != "" {
		return address.PersonalName + " <" + addr + ">"
	}
	return addr
}
