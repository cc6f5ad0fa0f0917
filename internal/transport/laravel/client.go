// Package laravel talks to the UniShare Laravel API: REST endpoints for
// chats and messages, and the Laravel Echo (Pusher protocol) socket that
// broadcasts new messages.
package laravel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/unishare/unisync/internal/chat"
)

const maxBody = 8 << 20

// ClientConfig configures the REST client.
type ClientConfig struct {
	// APIURL is the API root, e.g. https://unishare.example/api.
	APIURL string
	// AuthURL is the private channel authorization endpoint. Defaults to
	// /broadcasting/auth on the API host.
	AuthURL string
	Token   string
	Timeout time.Duration
}

// Client is the REST half of the transport.
type Client struct {
	api     *url.URL
	authURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient validates cfg and creates a client.
func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	api, err := url.Parse(strings.TrimRight(cfg.APIURL, "/"))
	if err != nil || api.Scheme == "" || api.Host == "" {
		return nil, fmt.Errorf("invalid api url %q", cfg.APIURL)
	}
	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = (&url.URL{Scheme: api.Scheme, Host: api.Host, Path: "/broadcasting/auth"}).String()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		api:     api,
		authURL: authURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

// ListChats returns the chats of the current user.
func (c *Client) ListChats(ctx context.Context) ([]chat.Chat, error) {
	const op = "list chats"
	body, err := c.do(ctx, op, "", http.MethodGet, c.api.JoinPath("chats").String(), nil, "")
	if err != nil {
		return nil, err
	}
	wires, err := decodeChats(body)
	if err != nil {
		return nil, &chat.TransportError{Op: op, Err: err}
	}
	chats := make([]chat.Chat, 0, len(wires))
	for i := range wires {
		chats = append(chats, wires[i].toChat())
	}
	return chats, nil
}

// FetchMessages returns the full message history of a chat.
func (c *Client) FetchMessages(ctx context.Context, chatID string) ([]chat.Message, error) {
	const op = "fetch messages"
	body, err := c.do(ctx, op, chatID, http.MethodGet, c.api.JoinPath("chats", chatID, "messages").String(), nil, "")
	if err != nil {
		return nil, err
	}
	wires, err := decodeMessages(body)
	if err != nil {
		return nil, &chat.TransportError{Op: op, ChatID: chatID, Err: err}
	}
	msgs := make([]chat.Message, 0, len(wires))
	for i := range wires {
		m := wires[i].toMessage()
		if m.ChatID == "" {
			m.ChatID = chatID
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// SendMessage posts a message. Messages with uploads go as multipart form
// data, text-only messages as JSON.
func (c *Client) SendMessage(ctx context.Context, chatID string, out chat.Outgoing) (chat.Message, error) {
	const op = "send message"
	var (
		payload     bytes.Buffer
		contentType string
	)
	if len(out.Uploads) == 0 {
		contentType = "application/json"
		if err := json.NewEncoder(&payload).Encode(map[string]string{
			"content":   out.Content,
			"client_id": out.ClientID,
		}); err != nil {
			return chat.Message{}, &chat.TransportError{Op: op, ChatID: chatID, Err: err}
		}
	} else {
		mw := multipart.NewWriter(&payload)
		if err := writeMultipart(mw, out); err != nil {
			return chat.Message{}, &chat.TransportError{Op: op, ChatID: chatID, Err: err}
		}
		contentType = mw.FormDataContentType()
	}

	body, err := c.do(ctx, op, chatID, http.MethodPost, c.api.JoinPath("chats", chatID, "messages").String(), &payload, contentType)
	if err != nil {
		return chat.Message{}, err
	}
	w, err := decodeMessage(body)
	if err != nil {
		return chat.Message{}, &chat.TransportError{Op: op, ChatID: chatID, Err: err}
	}
	m := w.toMessage()
	if m.ChatID == "" {
		m.ChatID = chatID
	}
	if m.ClientID == "" {
		m.ClientID = out.ClientID
	}
	return m, nil
}

func writeMultipart(mw *multipart.Writer, out chat.Outgoing) error {
	if err := mw.WriteField("content", out.Content); err != nil {
		return err
	}
	if err := mw.WriteField("client_id", out.ClientID); err != nil {
		return err
	}
	for _, u := range out.Uploads {
		fw, err := mw.CreateFormFile("attachments[]", u.FileName)
		if err != nil {
			return err
		}
		if _, err := fw.Write(u.Data); err != nil {
			return err
		}
	}
	return mw.Close()
}

// MarkRead tells the server the current user has read a chat.
func (c *Client) MarkRead(ctx context.Context, chatID string) error {
	_, err := c.do(ctx, "mark read", chatID, http.MethodPost, c.api.JoinPath("chats", chatID, "read").String(), nil, "")
	return err
}

// Authorize signs a private channel subscription for socketID.
func (c *Client) Authorize(ctx context.Context, socketID, channel string) (string, error) {
	const op = "authorize channel"
	form := url.Values{"socket_id": {socketID}, "channel_name": {channel}}
	body, err := c.do(ctx, op, "", http.MethodPost, c.authURL, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return "", err
	}
	var resp struct {
		Auth string `json:"auth"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Auth == "" {
		return "", &chat.TransportError{Op: op, Err: fmt.Errorf("no auth signature for %s", channel)}
	}
	return resp.Auth, nil
}

func (c *Client) do(ctx context.Context, op, chatID, method, endpoint string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, &chat.TransportError{Op: op, ChatID: chatID, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &chat.TransportError{Op: op, ChatID: chatID, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	c.logger.Debug("api request",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("url", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)
	if err != nil {
		return nil, &chat.TransportError{Op: op, ChatID: chatID, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &chat.TransportError{Op: op, ChatID: chatID, Status: resp.StatusCode, Err: apiError(data)}
	}
	return data, nil
}

// apiError extracts Laravel's {"message": "..."} error body.
func apiError(body []byte) error {
	var resp struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &resp) == nil {
		if resp.Message != "" {
			return errors.New(resp.Message)
		}
		if resp.Error != "" {
			return errors.New(resp.Error)
		}
	}
	return errors.New("request failed")
}
