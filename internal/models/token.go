package models

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// TokenSeparator joins the action and the Message-ID in an ActionToken's wire form.
const TokenSeparator = ":"

// MaxTokenLength is the chat platform's limit on a component custom id.
const MaxTokenLength = 100

// ErrInvalidToken is returned when a token cannot be encoded or decoded.
var ErrInvalidToken = errors.New("invalid action token")

// ActionToken is the opaque string embedded in an action control.
// It carries everything needed to reconstruct the request at activation time.
type ActionToken struct {
	Action    Action
	MessageID string
}

// Encode renders the token as "action:messageId". The Message-ID is kept verbatim,
// so decoding yields exactly the pair that was encoded.
func (t ActionToken) Encode() (string, error) {
	if !t.Action.Valid() {
		return "", errors.Wrapf(ErrInvalidToken, "unknown action %q", t.Action)
	}
	if strings.TrimSpace(t.MessageID) == "" {
		return "", errors.Wrap(ErrInvalidToken, "empty message id")
	}
	encoded := string(t.Action) + TokenSeparator + t.MessageID
	if len(encoded) > MaxTokenLength {
		return "", errors.Wrapf(ErrInvalidToken, "encoded length %d exceeds %d", len(encoded), MaxTokenLength)
	}
	return encoded, nil
}

// DecodeToken parses "action:messageId". The split happens on the first separator,
// so Message-IDs containing the separator survive the round trip.
func DecodeToken(raw string) (ActionToken, error) {
	actionPart, idPart, found := strings.Cut(raw, TokenSeparator)
	if !found {
		return ActionToken{}, errors.Wrapf(ErrInvalidToken, "missing separator in %q", raw)
	}
	action, err := ParseAction(actionPart)
	if err != nil {
		return ActionToken{}, errors.Wrap(ErrInvalidToken, err.Error())
	}
	if strings.TrimSpace(idPart) == "" {
		return ActionToken{}, errors.Wrap(ErrInvalidToken, "empty message id")
	}
	return ActionToken{Action: action, MessageID: idPart}, nil
}

func (t ActionToken) String() string {
	return fmt.Sprintf("%s%s%s", t.Action, TokenSeparator, t.MessageID)
}
