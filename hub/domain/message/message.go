package message

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// MessageType classifies message content.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeVideo    MessageType = "video"
	TypeDocument MessageType = "document"
	TypeVoice    MessageType = "voice"
	TypeLocation MessageType = "location"
	TypeContact  MessageType = "contact"
)

// DeliveryStatus tracks the lifecycle of an outbound message.
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

// Metadata keys attached to conversation messages.
const (
	MetaPlatform  = "platform"
	MetaAgentID   = "agent_id"
	MetaAgentName = "agent_name"
	MetaRawRef    = "raw_ref"
	MetaSource    = "source"
)

// ConversationMessage is one observed or sent message. Immutable after
// creation except for delivery status and read flag.
type ConversationMessage struct {
	ID             string            `json:"id"`
	ChannelID      string            `json:"channel_id"`
	ConversationID string            `json:"conversation_id"`
	IsFromBot      bool              `json:"is_from_bot"`
	From           string            `json:"from"`
	To             string            `json:"to"`
	Text           string            `json:"text"`
	Type           MessageType       `json:"type"`
	Timestamp      time.Time         `json:"timestamp"`
	Status         DeliveryStatus    `json:"status"`
	Read           bool              `json:"read"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Conversation groups messages exchanged with one remote party on one channel.
type Conversation struct {
	ID            string    `json:"id"`
	ChannelID     string    `json:"channel_id"`
	Remote        string    `json:"remote"`
	UserName      string    `json:"user_name,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// ConversationID derives the conversation identifier for a remote party
// on a channel. It is a pure function: the same inputs always yield the
// same id, so message grouping survives process restarts.
func ConversationID(channelID, remote string) string {
	sum := sha256.Sum256([]byte(channelID + "\x00" + remote))
	return "conv_" + hex.EncodeToString(sum[:16])
}

// ParseType maps a driver-reported type string onto a MessageType,
// defaulting to text for anything unrecognized.
func ParseType(raw string) MessageType {
	switch MessageType(raw) {
	case TypeImage, TypeVideo, TypeDocument, TypeVoice, TypeLocation, TypeContact:
		return MessageType(raw)
	default:
		return TypeText
	}
}
