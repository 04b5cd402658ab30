package imap

import (
	"bytes"
	"net/mail"
	"strings"

	"github.com/jhillyerd/enmime"

	"github.com/vdavid/mailrelay/internal/models"
)

// ParsedMessage is the subset of an email needed to extract its text and to reply to it.
type ParsedMessage struct {
	MessageID  string
	Subject    string
	Date       string
	From       []*mail.Address
	To         []*mail.Address
	References []string
	envelope   *enmime.Envelope
}

// ParseMessage decodes a raw RFC 822 message with enmime.
func ParseMessage(raw []byte) (*ParsedMessage, error) {
	envelope, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, protocolError(err, "failed to parse message")
	}

	msg := &ParsedMessage{
		MessageID:  models.UnwrapMessageID(envelope.GetHeader("Message-ID")),
		Subject:    envelope.GetHeader("Subject"),
		Date:       envelope.GetHeader("Date"),
		References: parseMessageIDList(envelope.GetHeader("References")),
		envelope:   envelope,
	}

	// Malformed address headers are treated as absent.
	if from, err := envelope.AddressList("From"); err == nil {
		msg.From = from
	}
	if to, err := envelope.AddressList("To"); err == nil {
		msg.To = to
	}

	return msg, nil
}

// Text returns the readable body of the message.
// Parts are walked depth-first and attachments are skipped. The first non-empty
// text/plain part wins; otherwise the first non-empty text/html part is converted to text.
func (m *ParsedMessage) Text() (string, error) {
	if m.envelope == nil || m.envelope.Root == nil {
		return "", ErrNoTextContent
	}

	var plain, html string
	m.envelope.Root.DepthMatchAll(func(p *enmime.Part) bool {
		if strings.EqualFold(p.Disposition, "attachment") {
			return false
		}
		switch strings.ToLower(p.ContentType) {
		case "text/plain":
			if plain == "" {
				plain = strings.TrimSpace(string(p.Content))
			}
		case "text/html":
			if html == "" && strings.TrimSpace(string(p.Content)) != "" {
				html = string(p.Content)
			}
		}
		return false
	})

	if plain != "" {
		return plain, nil
	}

	if html != "" {
		text, err := HTMLToText(html)
		if err != nil {
			return "", protocolError(err, "failed to convert html body")
		}
		if text != "" {
			return text, nil
		}
	}

	return "", ErrNoTextContent
}

// FromDisplay renders the first From address for attribution lines.
func (m *ParsedMessage) FromDisplay() string {
	if len(m.From) == 0 {
		return "unknown sender"
	}
	return formatAddress(m.From[0])
}

func formatAddress(address *mail.Address) string {
	if address == nil {
		return ""
	}

	if address.Name != "" {
		return address.Name + " <" + address.Address + ">"
	}

	return address.Address
}

// parseMessageIDList splits a References-style header into bare Message-IDs.
func parseMessageIDList(value string) []string {
	var ids []string
	for _, field := range strings.Fields(value) {
		if id := models.UnwrapMessageID(field); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
