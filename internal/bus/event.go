package bus

import "time"

// Event is a notification published by one component for any number of
// others (UI clients, the cache persister, the gRPC event stream).
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
