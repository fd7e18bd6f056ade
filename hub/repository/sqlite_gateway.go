package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/conduitchat/conduit/hub/domain/channel"
	"github.com/conduitchat/conduit/hub/domain/message"
	"github.com/conduitchat/conduit/hub/domain/storage"
	"github.com/conduitchat/conduit/pkg/crypto"
)

// SQLiteGateway implements storage.Gateway on top of database/sql.
type SQLiteGateway struct {
	db *sql.DB
}

func NewSQLiteGateway(db *sql.DB) *SQLiteGateway {
	return &SQLiteGateway{db: db}
}

func (g *SQLiteGateway) Init(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS channels (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT DEFAULT 'pending',
			agent_id TEXT DEFAULT '',
			auto_reply BOOLEAN DEFAULT 0,
			phone TEXT DEFAULT '',
			token_ref TEXT DEFAULT '',
			settings TEXT DEFAULT '{}',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL,
			remote TEXT NOT NULL,
			user_name TEXT DEFAULT '',
			created_at DATETIME NOT NULL,
			last_message_at DATETIME NOT NULL,
			FOREIGN KEY (channel_id) REFERENCES channels(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			is_from_bot BOOLEAN DEFAULT 0,
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL,
			text TEXT,
			type TEXT DEFAULT 'text',
			timestamp DATETIME NOT NULL,
			status TEXT DEFAULT 'sent',
			read BOOLEAN DEFAULT 0,
			metadata TEXT DEFAULT '{}',
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_channel ON conversations(channel_id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);`,
		// Migraciones incrementales
		`ALTER TABLE channels ADD COLUMN token_ref TEXT DEFAULT '';`,
		`ALTER TABLE messages ADD COLUMN read BOOLEAN DEFAULT 0;`,
	}

	for _, query := range queries {
		if _, err := g.db.ExecContext(ctx, query); err != nil {
			// Ignorar errores de "duplicate column" en migraciones ALTER TABLE
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

// Channels

func (g *SQLiteGateway) SaveChannel(ctx context.Context, ch *channel.Channel) error {
	settings, _ := json.Marshal(ch.Settings)
	tokenRef, err := crypto.Encrypt(ch.TokenRef)
	if err != nil {
		return err
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}
	ch.UpdatedAt = time.Now().UTC()

	query := `INSERT INTO channels (id, name, type, status, agent_id, auto_reply, phone, token_ref, settings, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			status = excluded.status,
			agent_id = excluded.agent_id,
			auto_reply = excluded.auto_reply,
			phone = excluded.phone,
			token_ref = excluded.token_ref,
			settings = excluded.settings,
			updated_at = excluded.updated_at`
	_, err = g.db.ExecContext(ctx, query, ch.ID, ch.Name, string(ch.Type), string(ch.Status),
		ch.AgentID, ch.AutoReply, ch.Phone, tokenRef, string(settings), ch.CreatedAt, ch.UpdatedAt)
	return err
}

func (g *SQLiteGateway) GetChannel(ctx context.Context, id string) (*channel.Channel, error) {
	query := `SELECT id, name, type, status, agent_id, auto_reply, phone, token_ref, settings, created_at, updated_at FROM channels WHERE id = ?`
	row := g.db.QueryRowContext(ctx, query, id)

	ch, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (g *SQLiteGateway) UpdateChannelStatus(ctx context.Context, id string, status channel.ChannelStatus) error {
	query := `UPDATE channels SET status = ?, updated_at = ? WHERE id = ?`
	res, err := g.db.ExecContext(ctx, query, string(status), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (g *SQLiteGateway) GetActiveChannels(ctx context.Context) ([]channel.Channel, error) {
	query := `SELECT id, name, type, status, agent_id, auto_reply, phone, token_ref, settings, created_at, updated_at
		FROM channels WHERE status IN ('online', 'connecting', 'error') ORDER BY created_at`
	rows, err := g.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []channel.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ch)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(row rowScanner) (*channel.Channel, error) {
	var ch channel.Channel
	var typ, status, settings, tokenRef string
	err := row.Scan(&ch.ID, &ch.Name, &typ, &status, &ch.AgentID, &ch.AutoReply,
		&ch.Phone, &tokenRef, &settings, &ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		return nil, err
	}
	ch.Type = channel.PlatformType(typ)
	ch.Status = channel.ChannelStatus(status)
	if tokenRef != "" {
		if plain, err := crypto.Decrypt(tokenRef); err == nil {
			ch.TokenRef = plain
		}
	}
	_ = json.Unmarshal([]byte(settings), &ch.Settings)
	return &ch, nil
}

// Messages

func (g *SQLiteGateway) SaveMessage(ctx context.Context, msg *message.ConversationMessage) error {
	metadata, _ := json.Marshal(msg.Metadata)
	query := `INSERT INTO messages (id, channel_id, conversation_id, is_from_bot, sender, recipient, text, type, timestamp, status, read, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, read = excluded.read`
	_, err := g.db.ExecContext(ctx, query, msg.ID, msg.ChannelID, msg.ConversationID,
		msg.IsFromBot, msg.From, msg.To, msg.Text, string(msg.Type), msg.Timestamp,
		string(msg.Status), msg.Read, string(metadata))
	if err != nil {
		return err
	}

	// Touch conversation activity
	_, _ = g.db.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = ? WHERE id = ?`, msg.Timestamp, msg.ConversationID)
	return nil
}

func (g *SQLiteGateway) GetRecentMessages(ctx context.Context, conversationID string, limit int) ([]message.ConversationMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, channel_id, conversation_id, is_from_bot, sender, recipient, text, type, timestamp, status, read, metadata
		FROM messages WHERE conversation_id = ? ORDER BY timestamp DESC LIMIT ?`
	rows, err := g.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []message.ConversationMessage
	for rows.Next() {
		var msg message.ConversationMessage
		var typ, status, metadata string
		if err := rows.Scan(&msg.ID, &msg.ChannelID, &msg.ConversationID, &msg.IsFromBot,
			&msg.From, &msg.To, &msg.Text, &typ, &msg.Timestamp, &status, &msg.Read, &metadata); err != nil {
			return nil, err
		}
		msg.Type = message.MessageType(typ)
		msg.Status = message.DeliveryStatus(status)
		_ = json.Unmarshal([]byte(metadata), &msg.Metadata)
		out = append(out, msg)
	}

	// Reverse to chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// Conversations

func (g *SQLiteGateway) SaveConversation(ctx context.Context, conv *message.Conversation) error {
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	if conv.LastMessageAt.IsZero() {
		conv.LastMessageAt = conv.CreatedAt
	}
	query := `INSERT INTO conversations (id, channel_id, remote, user_name, created_at, last_message_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET user_name = excluded.user_name, last_message_at = excluded.last_message_at`
	_, err := g.db.ExecContext(ctx, query, conv.ID, conv.ChannelID, conv.Remote,
		conv.UserName, conv.CreatedAt, conv.LastMessageAt)
	return err
}

func (g *SQLiteGateway) GetConversation(ctx context.Context, id string) (*message.Conversation, error) {
	query := `SELECT id, channel_id, remote, user_name, created_at, last_message_at FROM conversations WHERE id = ?`
	var conv message.Conversation
	err := g.db.QueryRowContext(ctx, query, id).Scan(&conv.ID, &conv.ChannelID,
		&conv.Remote, &conv.UserName, &conv.CreatedAt, &conv.LastMessageAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (g *SQLiteGateway) GetConversationsByChannel(ctx context.Context, channelID string) ([]message.Conversation, error) {
	query := `SELECT id, channel_id, remote, user_name, created_at, last_message_at
		FROM conversations WHERE channel_id = ? ORDER BY last_message_at DESC`
	rows, err := g.db.QueryContext(ctx, query, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []message.Conversation
	for rows.Next() {
		var conv message.Conversation
		if err := rows.Scan(&conv.ID, &conv.ChannelID, &conv.Remote, &conv.UserName,
			&conv.CreatedAt, &conv.LastMessageAt); err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}
