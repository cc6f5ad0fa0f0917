package laravel

import (
	"context"
	"errors"

	"github.com/unishare/unisync/internal/chat"
)

// ErrPushDisabled is returned by Subscribe when no push socket is configured.
var ErrPushDisabled = errors.New("push delivery is not configured")

// Transport joins the REST client and the push socket into the interface
// the sync controller consumes.
type Transport struct {
	*Client
	Echo *Echo
}

// NewTransport combines a client with an optional push socket.
func NewTransport(c *Client, e *Echo) *Transport {
	return &Transport{Client: c, Echo: e}
}

// Subscribe delivers pushed messages for chatID until the returned function
// is called.
func (t *Transport) Subscribe(ctx context.Context, chatID string, onMessage func(chat.Message)) (func(), error) {
	if t.Echo == nil {
		return nil, ErrPushDisabled
	}
	return t.Echo.Subscribe(ctx, chatID, onMessage)
}
