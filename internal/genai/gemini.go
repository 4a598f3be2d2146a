package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	gemini "google.golang.org/genai"

	"github.com/BTreeMap/OTAI/internal/escalation"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// generator is the part of the Gemini SDK used by GeminiCompleter.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*gemini.Content, config *gemini.GenerateContentConfig) (*gemini.GenerateContentResponse, error)
}

// GeminiCompleter asks Gemini for structured replies where the escalation
// flag is a JSON field instead of an in-band marker.
type GeminiCompleter struct {
	models      generator
	model       string
	temperature float32
}

// GeminiOpts holds configuration for the Gemini completer.
type GeminiOpts struct {
	APIKey      string
	Model       string
	Temperature float32
}

// GeminiOption modifies GeminiOpts.
type GeminiOption func(*GeminiOpts)

// WithGeminiAPIKey sets the Gemini API key.
func WithGeminiAPIKey(key string) GeminiOption {
	return func(o *GeminiOpts) { o.APIKey = key }
}

// WithGeminiModel sets the Gemini model name.
func WithGeminiModel(model string) GeminiOption {
	return func(o *GeminiOpts) { o.Model = model }
}

// WithGeminiTemperature sets the sampling temperature.
func WithGeminiTemperature(t float32) GeminiOption {
	return func(o *GeminiOpts) { o.Temperature = t }
}

// NewGeminiCompleter creates a completer backed by the Gemini API.
func NewGeminiCompleter(ctx context.Context, opts ...GeminiOption) (*GeminiCompleter, error) {
	cfg := GeminiOpts{Model: DefaultGeminiModel, Temperature: 0.7}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: Gemini API key is required", ErrNotConfigured)
	}
	client, err := gemini.NewClient(ctx, &gemini.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: gemini.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	slog.Debug("GeminiCompleter.New: client created", "model", cfg.Model)
	return newGeminiCompleter(client.Models, cfg.Model, cfg.Temperature), nil
}

func newGeminiCompleter(models generator, model string, temperature float32) *GeminiCompleter {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiCompleter{models: models, model: model, temperature: temperature}
}

var replySchema = &gemini.Schema{
	Type: gemini.TypeObject,
	Properties: map[string]*gemini.Schema{
		"text":     {Type: gemini.TypeString, Description: "Svaret som visas för användaren."},
		"escalate": {Type: gemini.TypeBoolean, Description: "Sant när svaret föreslår en remiss."},
	},
	Required: []string{"text", "escalate"},
}

// Complete implements Completer.
func (g *GeminiCompleter) Complete(ctx context.Context, prompt Prompt) (Reply, error) {
	contents := make([]*gemini.Content, 0, len(prompt.History)+1)
	for _, t := range prompt.History {
		role := gemini.Role(gemini.RoleModel)
		if t.FromUser {
			role = gemini.RoleUser
		}
		contents = append(contents, gemini.NewContentFromText(t.Content, role))
	}
	contents = append(contents, gemini.NewContentFromText(prompt.Message, gemini.RoleUser))

	temperature := g.temperature
	config := &gemini.GenerateContentConfig{
		SystemInstruction: gemini.NewContentFromText(prompt.System+"\n\n"+jsonInstruction, gemini.RoleUser),
		Temperature:       &temperature,
		ResponseMIMEType:  "application/json",
		ResponseSchema:    replySchema,
	}

	slog.Debug("GeminiCompleter.Complete: sending request", "model", g.model, "turns", len(contents), "phase", prompt.Phase.String())
	resp, err := g.models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Reply{}, ctxErr
		}
		slog.Error("GeminiCompleter.Complete: request failed", "error", err, "model", g.model)
		return Reply{}, classify(err, geminiStatus(err))
	}
	if resp == nil {
		return Reply{}, ErrEmptyResponse
	}
	return decodeReply(resp.Text())
}

// decodeReply parses a structured reply, falling back to marker parsing when
// the model answered in plain text.
func decodeReply(raw string) (Reply, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Reply{}, ErrEmptyResponse
	}
	var r Reply
	if err := json.Unmarshal([]byte(raw), &r); err == nil && strings.TrimSpace(r.Text) != "" {
		// The model may still emit the marker inside the text field.
		parsed := escalation.ParseAssistantReply(r.Text)
		parsed.Escalate = parsed.Escalate || r.Escalate
		return parsed, nil
	}
	slog.Warn("GeminiCompleter.Complete: reply was not structured, parsing as text")
	return escalation.ParseAssistantReply(raw), nil
}

// geminiStatus reads the HTTP status from SDK errors, which carry APIError
// by value or by pointer.
func geminiStatus(err error) int {
	var apiErr gemini.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *gemini.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code
	}
	return 0
}
