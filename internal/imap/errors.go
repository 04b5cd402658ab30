package imap

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrConnection means the server could not be reached or refused the credentials.
	ErrConnection = errors.New("imap connection failed")
	// ErrMessageNotFound means no message matched the Message-ID, or the UID does not exist.
	ErrMessageNotFound = errors.New("message not found")
	// ErrProtocol covers any other failed IMAP command.
	ErrProtocol = errors.New("imap protocol error")
	// ErrNoTextContent means the message has neither a text/plain nor a text/html body.
	ErrNoTextContent = errors.New("message has no text content")
	// ErrDraftsFolderNotFound means none of the configured drafts folder candidates exists.
	ErrDraftsFolderNotFound = errors.New("drafts folder not found")
)

// OpError classifies a failed step with one of the sentinels above (or a context error)
// and keeps the underlying cause in the chain, so errors.Is matches both.
type OpError struct {
	Kind error
	Op   string
	Err  error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.Error()
	}
	return e.Op + ": " + e.Kind.Error() + ": " + e.Err.Error()
}

func (e *OpError) Is(target error) bool {
	return target == e.Kind
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func protocolError(err error, format string, args ...interface{}) error {
	return &OpError{Kind: ErrProtocol, Op: fmt.Sprintf(format, args...), Err: err}
}

func connectionError(err error, format string, args ...interface{}) error {
	return &OpError{Kind: ErrConnection, Op: fmt.Sprintf(format, args...), Err: err}
}
