package providers

import "context"

// CompletionRequest is the minimal input a generative provider needs.
type CompletionRequest struct {
	SystemPrompt string
	History      []HistoryMessage
	UserMessage  string
	Model        string
}

// HistoryMessage is one prior turn of a conversation.
type HistoryMessage struct {
	Role string // "user" | "assistant"
	Text string
}

// Provider is a generative completion backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}
