package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/conduitchat/conduit/hub/domain/channel"
	"github.com/conduitchat/conduit/hub/domain/message"
	"github.com/conduitchat/conduit/hub/domain/storage"
)

// MemoryGateway is an in-memory storage.Gateway used in tests and
// single-node development setups.
type MemoryGateway struct {
	mu            sync.RWMutex
	channels      map[string]channel.Channel
	conversations map[string]message.Conversation
	messages      map[string][]message.ConversationMessage // conversationID -> ordered
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		channels:      make(map[string]channel.Channel),
		conversations: make(map[string]message.Conversation),
		messages:      make(map[string][]message.ConversationMessage),
	}
}

func (g *MemoryGateway) SaveChannel(ctx context.Context, ch *channel.Channel) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}
	ch.UpdatedAt = time.Now().UTC()
	g.channels[ch.ID] = *ch
	return nil
}

func (g *MemoryGateway) GetChannel(ctx context.Context, id string) (*channel.Channel, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ch, ok := g.channels[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := ch
	return &copied, nil
}

func (g *MemoryGateway) UpdateChannelStatus(ctx context.Context, id string, status channel.ChannelStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.channels[id]
	if !ok {
		return storage.ErrNotFound
	}
	ch.Status = status
	ch.UpdatedAt = time.Now().UTC()
	g.channels[id] = ch
	return nil
}

func (g *MemoryGateway) GetActiveChannels(ctx context.Context) ([]channel.Channel, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []channel.Channel
	for _, ch := range g.channels {
		switch ch.Status {
		case channel.StatusOnline, channel.StatusConnecting, channel.StatusError:
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (g *MemoryGateway) SaveMessage(ctx context.Context, msg *message.ConversationMessage) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	msgs := g.messages[msg.ConversationID]
	for i, existing := range msgs {
		if existing.ID == msg.ID {
			msgs[i] = *msg
			return nil
		}
	}
	g.messages[msg.ConversationID] = append(msgs, *msg)
	if conv, ok := g.conversations[msg.ConversationID]; ok {
		conv.LastMessageAt = msg.Timestamp
		g.conversations[msg.ConversationID] = conv
	}
	return nil
}

func (g *MemoryGateway) GetRecentMessages(ctx context.Context, conversationID string, limit int) ([]message.ConversationMessage, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	msgs := g.messages[conversationID]
	if limit <= 0 || limit > len(msgs) {
		limit = len(msgs)
	}
	out := make([]message.ConversationMessage, limit)
	copy(out, msgs[len(msgs)-limit:])
	return out, nil
}

func (g *MemoryGateway) SaveConversation(ctx context.Context, conv *message.Conversation) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	if conv.LastMessageAt.IsZero() {
		conv.LastMessageAt = conv.CreatedAt
	}
	g.conversations[conv.ID] = *conv
	return nil
}

func (g *MemoryGateway) GetConversation(ctx context.Context, id string) (*message.Conversation, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	conv, ok := g.conversations[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := conv
	return &copied, nil
}

func (g *MemoryGateway) GetConversationsByChannel(ctx context.Context, channelID string) ([]message.Conversation, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []message.Conversation
	for _, conv := range g.conversations {
		if conv.ChannelID == channelID {
			out = append(out, conv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	return out, nil
}
