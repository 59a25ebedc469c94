package models

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelChat  Channel = "chat"
)

func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelChat
}

// NotificationResult is the per-channel outcome of processing one event.
type NotificationResult struct {
	Success   bool      `json:"success"`
	Channel   Channel   `json:"channel"`
	EventID   string    `json:"event_id"`
	EventType EventType `json:"event_type"`
	Error     error     `json:"-"`
}
