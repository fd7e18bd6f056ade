package storage

import (
	"context"
	"errors"

	"github.com/conduitchat/conduit/hub/domain/channel"
	"github.com/conduitchat/conduit/hub/domain/message"
)

// ErrNotFound is returned by lookups for records that do not exist.
var ErrNotFound = errors.New("record not found")

// Gateway is the narrow persistence contract the hub core depends on.
// Callers on the dispatch path log and swallow gateway errors; a failed
// write must never abort message delivery.
type Gateway interface {
	SaveChannel(ctx context.Context, ch *channel.Channel) error
	GetChannel(ctx context.Context, id string) (*channel.Channel, error)
	UpdateChannelStatus(ctx context.Context, id string, status channel.ChannelStatus) error
	GetActiveChannels(ctx context.Context) ([]channel.Channel, error)

	SaveMessage(ctx context.Context, msg *message.ConversationMessage) error
	GetRecentMessages(ctx context.Context, conversationID string, limit int) ([]message.ConversationMessage, error)

	SaveConversation(ctx context.Context, conv *message.Conversation) error
	GetConversation(ctx context.Context, id string) (*message.Conversation, error)
	GetConversationsByChannel(ctx context.Context, channelID string) ([]message.Conversation, error)
}
