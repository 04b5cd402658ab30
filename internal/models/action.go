package models

import (
	"strings"

	"github.com/pkg/errors"
)

// Action is the closed set of things a human can ask the automation engine to do with an email.
type Action string

const (
	ActionRead    Action = "read"
	ActionTrash   Action = "trash"
	ActionSpam    Action = "spam"
	ActionReply   Action = "reply"
	ActionSuggest Action = "suggest"
	ActionDelete  Action = "delete"
	ActionAntwort Action = "antwort"
)

// AllActions lists every known action in a stable order.
var AllActions = []Action{
	ActionRead,
	ActionTrash,
	ActionSpam,
	ActionReply,
	ActionSuggest,
	ActionDelete,
	ActionAntwort,
}

// ErrUnknownAction is returned when a string does not name a known action.
var ErrUnknownAction = errors.New("unknown action")

// ParseAction converts a raw string into an Action. Matching is exact.
func ParseAction(s string) (Action, error) {
	for _, a := range AllActions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", errors.Wrapf(ErrUnknownAction, "%q", s)
}

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	_, err := ParseAction(string(a))
	return err == nil
}

// RequiresContext reports whether the action needs free-text input from the human before dispatch.
func (a Action) RequiresContext() bool {
	return a == ActionSuggest
}

func (a Action) String() string {
	return string(a)
}

// UnmarshalText makes JSON decoding reject unknown actions.
func (a *Action) UnmarshalText(text []byte) error {
	parsed, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Status is the outcome reported by the automation engine or returned by our HTTP routes.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// UnmarshalText makes JSON decoding reject unknown statuses.
func (s *Status) UnmarshalText(text []byte) error {
	switch Status(text) {
	case StatusSuccess, StatusError:
		*s = Status(text)
		return nil
	default:
		return errors.Errorf("unknown status %q", string(text))
	}
}

// ActionRequest is the payload relayed to the automation engine.
// It always carries both the mailbox identifier and the chat identifier,
// because the two namespaces have no implicit mapping.
type ActionRequest struct {
	Action        Action `json:"action"`
	MessageID     string `json:"messageId"`
	ChatMessageID string `json:"chatMessageId"`
	ChannelID     string `json:"channelId,omitempty"`
	Context       string `json:"context"`
	Author        string `json:"author"`
}

// NewActionRequest correlates an email with the chat message whose control was activated.
func NewActionRequest(action Action, messageID string, chat ChatMessageRef, author string) ActionRequest {
	return ActionRequest{
		Action:        action,
		MessageID:     messageID,
		ChatMessageID: chat.ChatMessageID,
		ChannelID:     chat.ChannelID,
		Author:        author,
	}
}

// Validate checks the correlation invariant before the request leaves the process.
func (r ActionRequest) Validate() error {
	var missing []string
	if !r.Action.Valid() {
		missing = append(missing, "action")
	}
	if strings.TrimSpace(r.MessageID) == "" {
		missing = append(missing, "messageId")
	}
	if strings.TrimSpace(r.ChatMessageID) == "" {
		missing = append(missing, "chatMessageId")
	}
	if len(missing) > 0 {
		return errors.Errorf("invalid action request: missing or invalid %s", strings.Join(missing, ", "))
	}
	if r.Context != "" && !r.Action.RequiresContext() {
		return errors.Errorf("invalid action request: context is only allowed for %s", ActionSuggest)
	}
	return nil
}

// ActionResult is the asynchronous callback sent by the automation engine.
// For ActionSuggest, Message carries the drafted reply body.
type ActionResult struct {
	Action        Action `json:"action"`
	Status        Status `json:"status"`
	Message       string `json:"message"`
	ChatMessageID string `json:"chatMessageId"`
	ChannelID     string `json:"channelId,omitempty"`
}

// ChatRef returns the chat message the result is about.
func (r ActionResult) ChatRef() ChatMessageRef {
	return ChatMessageRef{ChatMessageID: r.ChatMessageID, ChannelID: r.ChannelID}
}

// Succeeded reports whether the automation engine reported success.
func (r ActionResult) Succeeded() bool {
	return r.Status == StatusSuccess
}

// CallbackResponse is the body every callback receives, whatever happened internally.
type CallbackResponse struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// SuccessResponse builds a success CallbackResponse.
func SuccessResponse(message string) CallbackResponse {
	return CallbackResponse{Status: StatusSuccess, Message: message}
}

// ErrorResponse builds an error CallbackResponse.
func ErrorResponse(message string) CallbackResponse {
	return CallbackResponse{Status: StatusError, Message: message}
}
