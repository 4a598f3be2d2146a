package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/BTreeMap/OTAI/internal/escalation"
)

// chatCompleter defines the minimal interface for chat completions.
type chatCompleter interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAICompleter asks an OpenAI chat model for plain-text replies and reads
// the escalation marker from the text.
type OpenAICompleter struct {
	chat        chatCompleter
	model       string
	temperature float64
}

// OpenAIOpts holds configuration for the OpenAI completer.
type OpenAIOpts struct {
	APIKey      string
	Model       string
	Temperature float64
}

// OpenAIOption modifies OpenAIOpts.
type OpenAIOption func(*OpenAIOpts)

// WithOpenAIAPIKey sets the OpenAI API key.
func WithOpenAIAPIKey(key string) OpenAIOption {
	return func(o *OpenAIOpts) { o.APIKey = key }
}

// WithOpenAIModel sets the chat model name.
func WithOpenAIModel(model string) OpenAIOption {
	return func(o *OpenAIOpts) { o.Model = model }
}

// WithOpenAITemperature sets the sampling temperature.
func WithOpenAITemperature(t float64) OpenAIOption {
	return func(o *OpenAIOpts) { o.Temperature = t }
}

// NewOpenAICompleter creates a completer backed by the OpenAI API.
func NewOpenAICompleter(opts ...OpenAIOption) (*OpenAICompleter, error) {
	cfg := OpenAIOpts{Model: openai.ChatModelGPT4oMini, Temperature: 0.7}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: OpenAI API key is required", ErrNotConfigured)
	}
	client := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return newOpenAICompleter(&client.Chat.Completions, cfg.Model, cfg.Temperature), nil
}

func newOpenAICompleter(chat chatCompleter, model string, temperature float64) *OpenAICompleter {
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	return &OpenAICompleter{chat: chat, model: model, temperature: temperature}
}

// buildMessages converts a prompt into OpenAI chat messages.
func buildMessages(prompt Prompt) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(prompt.History)+2)
	messages = append(messages, openai.SystemMessage(prompt.System+"\n\n"+markerInstruction))
	for _, t := range prompt.History {
		if t.FromUser {
			messages = append(messages, openai.UserMessage(t.Content))
		} else {
			messages = append(messages, openai.AssistantMessage(t.Content))
		}
	}
	messages = append(messages, openai.UserMessage(prompt.Message))
	return messages
}

// Complete implements Completer.
func (c *OpenAICompleter) Complete(ctx context.Context, prompt Prompt) (Reply, error) {
	params := openai.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    buildMessages(prompt),
		Temperature: openai.Float(c.temperature),
	}

	slog.Debug("OpenAICompleter.Complete: sending request", "model", c.model, "messages", len(params.Messages), "phase", prompt.Phase.String())
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Reply{}, ctxErr
		}
		slog.Error("OpenAICompleter.Complete: request failed", "error", err, "model", c.model)
		return Reply{}, classify(err, openAIStatus(err))
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return Reply{}, ErrEmptyResponse
	}
	return escalation.ParseAssistantReply(resp.Choices[0].Message.Content), nil
}

func openAIStatus(err error) int {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		return apiErr.StatusCode
	}
	return 0
}
