package pubsub

import "time"

// Routing keys published by the hub.
const (
	KeyMessageReceived      = "conduit.message.received"
	KeyMessageSent          = "conduit.message.sent"
	KeyChannelStatusChanged = "conduit.channel.status"
)

// Event is the wire envelope for every published record.
type Event struct {
	ID         string    `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

type MessagePayload struct {
	MessageID      string `json:"message_id"`
	ChannelID      string `json:"channel_id"`
	ConversationID string `json:"conversation_id"`
	Platform       string `json:"platform"`
	From           string `json:"from"`
	To             string `json:"to"`
	Text           string `json:"text"`
	IsFromBot      bool   `json:"is_from_bot"`
	AgentID        string `json:"agent_id,omitempty"`
}

type ChannelStatusPayload struct {
	ChannelID string `json:"channel_id"`
	Platform  string `json:"platform"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}
