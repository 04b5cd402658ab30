package imap

import (
	"io"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/pkg/errors"

	"github.com/vdavid/mailrelay/internal/models"
)

const inboxFolder = "INBOX"

func selectInbox(c *client.Client) error {
	if _, err := c.Select(inboxFolder, false); err != nil {
		return protocolError(err, "failed to select %s", inboxFolder)
	}
	return nil
}

// SearchByMessageID returns the UIDs in the selected folder whose Message-ID header matches.
func SearchByMessageID(c *client.Client, messageID string) ([]uint32, error) {
	bare := models.UnwrapMessageID(messageID)
	if bare == "" {
		return nil, errors.Wrap(ErrMessageNotFound, "empty message id")
	}

	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Message-ID", bare)

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, protocolError(err, "failed to search for message id")
	}

	return uids, nil
}

// ensureUIDExists reports ErrMessageNotFound when the UID is absent from the selected folder.
// UID STORE, MOVE and COPY silently ignore unknown UIDs, so this check runs before any of them.
func ensureUIDExists(c *client.Client, uid uint32) error {
	criteria := imap.NewSearchCriteria()
	criteria.Uid = new(imap.SeqSet)
	criteria.Uid.AddNum(uid)

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return protocolError(err, "failed to search for uid %d", uid)
	}

	for _, found := range uids {
		if found == uid {
			return nil
		}
	}

	return errors.Wrapf(ErrMessageNotFound, "uid %d", uid)
}

// FetchRawMessage fetches the full RFC 822 source of a message without setting \Seen.
func FetchRawMessage(c *client.Client, uid uint32) ([]byte, error) {
	if c == nil {
		return nil, errors.Wrap(ErrProtocol, "client is nil")
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)

	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	var msg *imap.Message
	for m := range messages {
		if msg == nil && m.Uid == uid {
			msg = m
		}
	}

	if err := <-done; err != nil {
		return nil, protocolError(err, "failed to fetch uid %d", uid)
	}

	if msg == nil {
		return nil, errors.Wrapf(ErrMessageNotFound, "uid %d", uid)
	}

	body := msg.GetBody(section)
	if body == nil {
		return nil, errors.Wrapf(ErrProtocol, "server returned no body for uid %d", uid)
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, protocolError(err, "failed to read body of uid %d", uid)
	}

	return raw, nil
}
