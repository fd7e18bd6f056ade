package repository

import (
	"context"
	"encoding/json"

	"github.com/conduitchat/conduit/hub/domain/health"
	"github.com/conduitchat/conduit/hub/domain/storage"
	"github.com/conduitchat/conduit/infrastructure/valkey"
)

// ValkeyHealthStore implements health.Store on Valkey, giving every node
// in a cluster the same view of channel health.
type ValkeyHealthStore struct {
	client *valkey.Client
	key    string
}

func NewValkeyHealthStore(client *valkey.Client) *ValkeyHealthStore {
	return &ValkeyHealthStore{
		client: client,
		key:    client.Key("health", "channels"),
	}
}

func (s *ValkeyHealthStore) Get(ctx context.Context, channelID string) (*health.Record, error) {
	cmd := s.client.Inner().B().Hget().Key(s.key).Field(channelID).Build()
	raw, err := s.client.Inner().Do(ctx, cmd).ToString()
	if err != nil {
		if valkey.IsNil(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	var rec health.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *ValkeyHealthStore) Put(ctx context.Context, rec health.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	cmd := s.client.Inner().B().Hset().
		Key(s.key).
		FieldValue().
		FieldValue(rec.ChannelID, string(data)).
		Build()
	return s.client.Inner().Do(ctx, cmd).Error()
}

func (s *ValkeyHealthStore) Delete(ctx context.Context, channelID string) error {
	cmd := s.client.Inner().B().Hdel().Key(s.key).Field(channelID).Build()
	return s.client.Inner().Do(ctx, cmd).Error()
}

func (s *ValkeyHealthStore) List(ctx context.Context) ([]health.Record, error) {
	cmd := s.client.Inner().B().Hgetall().Key(s.key).Build()
	entries, err := s.client.Inner().Do(ctx, cmd).AsStrMap()
	if err != nil {
		return nil, err
	}

	out := make([]health.Record, 0, len(entries))
	for _, raw := range entries {
		var rec health.Record
		if err := json.Unmarshal([]byte(raw), &rec); err == nil {
			out = append(out, rec)
		}
	}
	return out, nil
}
