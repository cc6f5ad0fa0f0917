package laravel

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// errShape reports a response body that matches none of the known shapes.
var errShape = errors.New("unrecognized response shape")

// listKeys are the wrapper keys a collection may hide under, in the order
// they are tried. "data" covers both resource collections ({data: [...]})
// and paginators ({data: {data: [...]}}).
var listKeys = []string{"data", "messages", "chats"}

// oneKeys are the wrapper keys a single resource may hide under.
var oneKeys = []string{"message", "data", "chat"}

// unwrapList finds the JSON array inside a collection response.
func unwrapList(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	for depth := 0; depth < 3; depth++ {
		if len(body) == 0 {
			return nil, errShape
		}
		switch body[0] {
		case '[':
			var items []json.RawMessage
			if err := json.Unmarshal(body, &items); err != nil {
				return nil, fmt.Errorf("decode list: %w", err)
			}
			return items, nil
		case '{':
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(body, &obj); err != nil {
				return nil, fmt.Errorf("decode object: %w", err)
			}
			next, ok := pick(obj, listKeys)
			if !ok {
				return nil, errShape
			}
			body = bytes.TrimSpace(next)
		default:
			return nil, errShape
		}
	}
	return nil, errShape
}

// unwrapOne finds the resource object inside a single-item response. A
// wrapper is recognised by having no "id" of its own.
func unwrapOne(body []byte) (json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	for depth := 0; depth < 3; depth++ {
		if len(body) == 0 || body[0] != '{' {
			return nil, errShape
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(body, &obj); err != nil {
			return nil, fmt.Errorf("decode object: %w", err)
		}
		if _, ok := obj["id"]; ok {
			return body, nil
		}
		next, ok := pick(obj, oneKeys)
		if !ok {
			return nil, errShape
		}
		body = bytes.TrimSpace(next)
	}
	return nil, errShape
}

func pick(obj map[string]json.RawMessage, keys []string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok && !bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return v, true
		}
	}
	return nil, false
}

// stringOrObject returns the bytes of a Pusher data field, which is either
// a JSON-encoded string or an inline object.
func stringOrObject(raw json.RawMessage) ([]byte, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return []byte(s), nil
	}
	return raw, nil
}

func decodeMessages(body []byte) ([]wireMessage, error) {
	items, err := unwrapList(body)
	if err != nil {
		return nil, err
	}
	out := make([]wireMessage, 0, len(items))
	for _, item := range items {
		var w wireMessage
		if err := json.Unmarshal(item, &w); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, w)
	}
	return out, nil
}

func decodeMessage(body []byte) (wireMessage, error) {
	var w wireMessage
	raw, err := unwrapOne(body)
	if err != nil {
		return w, err
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return w, fmt.Errorf("decode message: %w", err)
	}
	return w, nil
}

func decodeChats(body []byte) ([]wireChat, error) {
	items, err := unwrapList(body)
	if err != nil {
		return nil, err
	}
	out := make([]wireChat, 0, len(items))
	for _, item := range items {
		var w wireChat
		if err := json.Unmarshal(item, &w); err != nil {
			return nil, fmt.Errorf("decode chat: %w", err)
		}
		out = append(out, w)
	}
	return out, nil
}
