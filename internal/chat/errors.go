package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrSendInFlight is returned when a send is attempted for a chat that
	// already has one waiting on the network.
	ErrSendInFlight = errors.New("a message is already being sent in this chat")
	// ErrEmptyMessage is returned for a send with no text and no attachments.
	ErrEmptyMessage = errors.New("message has no content and no attachments")
	// ErrUnknownLocalID is returned when a local id does not name an entry.
	ErrUnknownLocalID = errors.New("unknown local message id")
	// ErrNotFailed is returned when retrying or discarding a message that has
	// not failed.
	ErrNotFailed = errors.New("message is not in failed state")
	// ErrNoChat is returned when an operation needs a chat id and got none.
	ErrNoChat = errors.New("chat id is required")
	// ErrMalformed is returned for a server message without id or timestamp.
	ErrMalformed = errors.New("malformed message")
)

// TransportError reports a network or HTTP failure talking to the chat API.
type TransportError struct {
	Op     string
	ChatID string
	Status int // HTTP status, 0 when the request never completed
	Err    error
}

func (e *TransportError) Error() string {
	msg := e.Op
	if e.ChatID != "" {
		msg += fmt.Sprintf(" chat %s", e.ChatID)
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
