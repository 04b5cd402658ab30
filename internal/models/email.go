package models

import "strings"

// EmailReference identifies a mailbox message.
// MessageID is the durable RFC 5322 Message-ID without angle brackets.
// UID is only meaningful inside the IMAP session that resolved it and is never cached.
type EmailReference struct {
	MessageID string  `json:"message_id"`
	UID       *uint32 `json:"uid,omitempty"`
}

// NewEmailReference builds a reference from a Message-ID in either wrapped or bare form.
func NewEmailReference(messageID string) EmailReference {
	return EmailReference{MessageID: UnwrapMessageID(messageID)}
}

// ChatMessageRef identifies the chat message that represents an email.
type ChatMessageRef struct {
	ChatMessageID string `json:"chat_message_id"`
	ChannelID     string `json:"channel_id"`
}

// OrChannel returns the reference with an empty channel replaced by fallback.
func (r ChatMessageRef) OrChannel(fallback string) ChatMessageRef {
	if r.ChannelID == "" {
		r.ChannelID = fallback
	}
	return r
}

// UnwrapMessageID strips surrounding whitespace and enclosing angle brackets from a Message-ID.
// IMAP header search needs the bare form while the header itself stores "<id@host>".
func UnwrapMessageID(messageID string) string {
	return strings.Trim(strings.TrimSpace(messageID), "<>")
}

// WrapMessageID returns the Message-ID in its "<id@host>" header form.
func WrapMessageID(messageID string) string {
	bare := UnwrapMessageID(messageID)
	if bare == "" {
		return ""
	}
	return "<" + bare + ">"
}
