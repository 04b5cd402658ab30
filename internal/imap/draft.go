package imap

import (
	"bytes"
	"fmt"
	"io"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pkg/errors"
)

const messageIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Draft is a composed reply ready to be appended to a drafts folder.
type Draft struct {
	MessageID string
	Raw       []byte
}

// BuildDraft composes a threaded plain-text reply to original.
// fallbackFrom is used as From when the original has no recipient to reply as.
func BuildDraft(original *ParsedMessage, originalText, replyText, fallbackFrom string, now time.Time) (*Draft, error) {
	from := original.To
	if len(from) == 0 && fallbackFrom != "" {
		addr, err := netmail.ParseAddress(fallbackFrom)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid sender address %q", fallbackFrom)
		}
		from = []*netmail.Address{addr}
	}

	messageID, err := generateMessageID(addressDomain(from))
	if err != nil {
		return nil, err
	}

	var h mail.Header
	h.SetDate(now)
	h.SetMessageID(messageID)
	h.SetSubject(replySubject(original.Subject))
	if len(from) > 0 {
		h.SetAddressList("From", from)
	}
	if len(original.From) > 0 {
		h.SetAddressList("To", original.From)
	}
	if original.MessageID != "" {
		h.SetMsgIDList("In-Reply-To", []string{original.MessageID})
		references := append(append([]string{}, original.References...), original.MessageID)
		h.SetMsgIDList("References", references)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create draft writer")
	}
	if _, err := io.WriteString(w, draftBody(original, originalText, replyText)); err != nil {
		return nil, errors.Wrap(err, "failed to write draft body")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to finish draft")
	}

	return &Draft{MessageID: messageID, Raw: buf.Bytes()}, nil
}

// replySubject prefixes "Re: " unless the subject already starts with it, case-insensitively.
func replySubject(subject string) string {
	trimmed := strings.TrimSpace(subject)
	if strings.HasPrefix(strings.ToLower(trimmed), "re:") {
		return trimmed
	}
	return "Re: " + trimmed
}

// draftBody puts the reply above a quote of the original. An original with no
// text gets no quoted section.
func draftBody(original *ParsedMessage, originalText, replyText string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(replyText))
	if strings.TrimSpace(originalText) == "" {
		b.WriteString("\n")
		return b.String()
	}
	b.WriteString("\n\n")
	b.WriteString(attribution(original))
	b.WriteString("\n")
	b.WriteString(quote(originalText))
	b.WriteString("\n")
	return b.String()
}

func attribution(original *ParsedMessage) string {
	if original.Date == "" {
		return fmt.Sprintf("%s wrote:", original.FromDisplay())
	}
	return fmt.Sprintf("On %s, %s wrote:", original.Date, original.FromDisplay())
}

// quote prefixes every line with "> ". Blank lines get a bare ">".
func quote(text string) string {
	lines := strings.Split(strings.ReplaceAll(strings.TrimSpace(text), "\r\n", "\n"), "\n")
	for i, line := range lines {
		if line == "" {
			lines[i] = ">"
			continue
		}
		lines[i] = "> " + line
	}
	return strings.Join(lines, "\n")
}

func addressDomain(addresses []*netmail.Address) string {
	for _, a := range addresses {
		if at := strings.LastIndexByte(a.Address, '@'); at >= 0 && at < len(a.Address)-1 {
			return a.Address[at+1:]
		}
	}
	return "localhost"
}

// generateMessageID returns a bare Message-ID of the form <micros>.<nanoid>@<domain>.
func generateMessageID(domain string) (string, error) {
	id, err := gonanoid.Generate(messageIDAlphabet, 12)
	if err != nil {
		return "", errors.Wrap(err, "failed to generate message id")
	}
	return fmt.Sprintf("%d.%s@%s", time.Now().UnixMicro(), id, domain), nil
}
