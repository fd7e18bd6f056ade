package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/conduitchat/conduit/hub/domain/agent"
	"github.com/conduitchat/conduit/hub/domain/storage"
	"github.com/google/uuid"
)

// MemoryAgentStore is an in-memory agent.Store for tests and development.
type MemoryAgentStore struct {
	mu     sync.RWMutex
	agents map[string]agent.Agent
}

func NewMemoryAgentStore() *MemoryAgentStore {
	return &MemoryAgentStore{agents: make(map[string]agent.Agent)}
}

func (s *MemoryAgentStore) GetAgent(ctx context.Context, id string) (*agent.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := a
	copied.Prompts = append([]agent.Prompt(nil), a.Prompts...)
	return &copied, nil
}

func (s *MemoryAgentStore) ListAgents(ctx context.Context) ([]agent.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]agent.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryAgentStore) SaveAgent(ctx context.Context, a *agent.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	if existing, ok := s.agents[a.ID]; ok && a.Prompts == nil {
		a.Prompts = existing.Prompts
	}
	s.agents[a.ID] = *a
	return nil
}

func (s *MemoryAgentStore) DeleteAgent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.agents, id)
	return nil
}

func (s *MemoryAgentStore) SavePrompt(ctx context.Context, p *agent.Prompt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[p.AgentID]
	if !ok {
		return storage.ErrNotFound
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	for i, existing := range a.Prompts {
		if existing.ID == p.ID {
			a.Prompts[i] = *p
			s.agents[p.AgentID] = a
			return nil
		}
	}
	a.Prompts = append(a.Prompts, *p)
	s.agents[p.AgentID] = a
	return nil
}

func (s *MemoryAgentStore) DeletePrompt(ctx context.Context, agentID, promptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok {
		return storage.ErrNotFound
	}
	for i, existing := range a.Prompts {
		if existing.ID == promptID {
			a.Prompts = append(a.Prompts[:i], a.Prompts[i+1:]...)
			s.agents[agentID] = a
			return nil
		}
	}
	return storage.ErrNotFound
}
