package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/sirupsen/logrus"
)

// OpenAIProvider is the adapter for the OpenAI chat completions API.
type OpenAIProvider struct {
	apiKey       string
	defaultModel string
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(apiKey, defaultModel string) *OpenAIProvider {
	if defaultModel == "" {
		defaultModel = "gpt-4o-mini"
	}
	return &OpenAIProvider{
		apiKey:       apiKey,
		defaultModel: defaultModel,
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Complete implements the Provider interface for OpenAI.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if p.apiKey == "" {
		return "", fmt.Errorf("openai provider has no API key")
	}

	client := openai.NewClient(
		option.WithAPIKey(p.apiKey),
	)

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, t := range req.History {
		if t.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(t.Text))
		} else {
			messages = append(messages, openai.UserMessage(t.Text))
		}
	}
	messages = append(messages, openai.UserMessage(req.UserMessage))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}

	completion, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		logrus.WithError(err).Error("[OPENAI] Completion request failed")
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}

	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}
