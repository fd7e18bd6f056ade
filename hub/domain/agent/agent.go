package agent

import (
	"context"
	"time"

	"github.com/conduitchat/conduit/hub/domain/message"
)

// DayHours is one working-hours window, times as "HH:MM".
type DayHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Settings is the per-agent reply policy. WorkingHours is keyed by
// weekday name (abbreviations accepted); a day without an entry is
// closed. MaxResponsesPerMinute of 0 means unlimited.
type Settings struct {
	ResponseDelaySeconds  int                 `json:"response_delay_seconds"`
	MaxResponsesPerMinute int                 `json:"max_responses_per_minute"`
	WorkingHours          map[string]DayHours `json:"working_hours,omitempty"`
	Timezone              string              `json:"timezone,omitempty"`
	// UseProvider routes matched conversations through the generative
	// provider instead of the template catalog.
	UseProvider  bool   `json:"use_provider"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// TimeWindow constrains a prompt to a time-of-day range, "HH:MM" inclusive.
type TimeWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Conditions optionally narrows when a prompt may match.
type Conditions struct {
	MessageTypes []message.MessageType `json:"message_types,omitempty"`
	TimeOfDay    *TimeWindow           `json:"time_of_day,omitempty"`
}

// Prompt is a single trigger-matched reply template. Templates may use
// the {userName}, {userMessage}, {platform} and {time} placeholders.
type Prompt struct {
	ID           string      `json:"id"`
	AgentID      string      `json:"agent_id"`
	TriggerWords []string    `json:"trigger_words"`
	Priority     int         `json:"priority"`
	Active       bool        `json:"active"`
	Template     string      `json:"template"`
	Conditions   *Conditions `json:"conditions,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Agent is a configured AI responder that can be bound to a channel.
type Agent struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	Prompts   []Prompt  `json:"prompts"`
	Settings  Settings  `json:"settings"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the agent catalog contract. Read-only from the dispatch path.
type Store interface {
	GetAgent(ctx context.Context, id string) (*Agent, error)
	ListAgents(ctx context.Context) ([]Agent, error)
	SaveAgent(ctx context.Context, a *Agent) error
	DeleteAgent(ctx context.Context, id string) error
	SavePrompt(ctx context.Context, p *Prompt) error
	DeletePrompt(ctx context.Context, agentID, promptID string) error
}
