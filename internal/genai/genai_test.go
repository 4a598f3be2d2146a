package genai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	gemini "google.golang.org/genai"

	"github.com/BTreeMap/OTAI/internal/models"
	"github.com/BTreeMap/OTAI/internal/phase"
)

// mockChat implements chatCompleter for testing.
type mockChat struct {
	resp   *openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
}

func (m *mockChat) New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	m.params = body
	return m.resp, m.err
}

func chatReply(content string) *openai.ChatCompletion {
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

// mockGenerator implements generator for testing.
type mockGenerator struct {
	text     string
	err      error
	contents []*gemini.Content
	config   *gemini.GenerateContentConfig
}

func (m *mockGenerator) GenerateContent(ctx context.Context, model string, contents []*gemini.Content, config *gemini.GenerateContentConfig) (*gemini.GenerateContentResponse, error) {
	m.contents, m.config = contents, config
	if m.err != nil {
		return nil, m.err
	}
	return &gemini.GenerateContentResponse{
		Candidates: []*gemini.Candidate{
			{Content: &gemini.Content{Role: string(gemini.RoleModel), Parts: []*gemini.Part{{Text: m.text}}}},
		},
	}, nil
}

func samplePrompt() Prompt {
	return Prompt{
		System:  "system",
		Phase:   phase.Deepening,
		History: []Turn{{FromUser: true, Content: "Jag är trött"}, {FromUser: false, Content: "Berätta mer"}},
		Message: "Jag orkar inte laga mat",
	}
}

func TestBuildPrompt_KeepsLastTenAndSkipsSystem(t *testing.T) {
	anna := models.User{ID: "u1", Name: "Anna"}
	now := time.Now()
	var history []models.Message
	for i := 0; i < 12; i++ {
		history = append(history, models.NewHumanMessage(anna, string(rune('a'+i)), now))
	}
	history = append(history, models.NewSystemMessage("fel", now))

	p := BuildPrompt(DefaultSystemPrompt, phase.Advisory, history, "ny")
	if len(p.History) != HistoryLimit {
		t.Fatalf("expected %d turns, got %d", HistoryLimit, len(p.History))
	}
	if p.History[0].Content != "c" {
		t.Errorf("expected oldest kept turn 'c', got %q", p.History[0].Content)
	}
	for _, turn := range p.History {
		if turn.Content == "fel" {
			t.Error("system messages must not be sent to the model")
		}
	}
	if !strings.Contains(p.System, "SAMTALSFAS: RÅDGIVNING") {
		t.Error("expected phase guidance in system prompt")
	}
	if p.Message != "ny" {
		t.Errorf("expected message 'ny', got %q", p.Message)
	}
}

func TestPromptText(t *testing.T) {
	text := samplePrompt().Text()
	for _, want := range []string{"system", "user: Jag är trött", "model: Berätta mer", "Jag orkar inte laga mat"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected prompt text to contain %q", want)
		}
	}
}

func TestOpenAICompleter_ParsesMarker(t *testing.T) {
	chat := &mockChat{resp: chatReply("Du kan behöva hjälpmedel. [ESKALERING_FÖRESLAGEN]")}
	c := newOpenAICompleter(chat, "", 0.5)

	reply, err := c.Complete(context.Background(), samplePrompt())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !reply.Escalate {
		t.Error("expected escalation")
	}
	if reply.Text != "Du kan behöva hjälpmedel." {
		t.Errorf("unexpected text %q", reply.Text)
	}
	if len(chat.params.Messages) != 4 {
		t.Errorf("expected system + 2 history + user = 4 messages, got %d", len(chat.params.Messages))
	}
	if chat.params.Model != openai.ChatModelGPT4oMini {
		t.Errorf("expected default model, got %q", chat.params.Model)
	}
}

func TestOpenAICompleter_EmptyChoices(t *testing.T) {
	c := newOpenAICompleter(&mockChat{resp: &openai.ChatCompletion{}}, "gpt-test", 0)
	_, err := c.Complete(context.Background(), samplePrompt())
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestOpenAICompleter_ClassifiesErrors(t *testing.T) {
	c := newOpenAICompleter(&mockChat{err: errors.New("Incorrect API key provided")}, "", 0)
	_, err := c.Complete(context.Background(), samplePrompt())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestOpenAICompleter_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newOpenAICompleter(&mockChat{err: errors.New("request aborted")}, "", 0)
	_, err := c.Complete(ctx, samplePrompt())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewCompleters_RequireKey(t *testing.T) {
	if _, err := NewOpenAICompleter(); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured from OpenAI, got %v", err)
	}
	if _, err := NewGeminiCompleter(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured from Gemini, got %v", err)
	}
}

func TestGeminiCompleter_StructuredReply(t *testing.T) {
	gen := &mockGenerator{text: `{"text":"Prova en duschpall.","escalate":true}`}
	c := newGeminiCompleter(gen, "", 0.7)

	reply, err := c.Complete(context.Background(), samplePrompt())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if reply.Text != "Prova en duschpall." || !reply.Escalate {
		t.Errorf("unexpected reply %+v", reply)
	}
	if len(gen.contents) != 3 {
		t.Errorf("expected 3 contents, got %d", len(gen.contents))
	}
	if gen.contents[1].Role != string(gemini.RoleModel) {
		t.Errorf("expected assistant turn mapped to model role, got %q", gen.contents[1].Role)
	}
	if gen.config.ResponseMIMEType != "application/json" || gen.config.ResponseSchema == nil {
		t.Error("expected structured output config")
	}
}

func TestGeminiCompleter_PlainTextFallback(t *testing.T) {
	gen := &mockGenerator{text: "Ta pauser. [ESKALERING_FÖRESLAGEN]"}
	reply, err := newGeminiCompleter(gen, "m", 0).Complete(context.Background(), samplePrompt())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if reply.Text != "Ta pauser." || !reply.Escalate {
		t.Errorf("unexpected reply %+v", reply)
	}
}

func TestGeminiCompleter_EmptyText(t *testing.T) {
	_, err := newGeminiCompleter(&mockGenerator{text: "  "}, "m", 0).Complete(context.Background(), samplePrompt())
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestGeminiCompleter_APIErrorStatus(t *testing.T) {
	gen := &mockGenerator{err: &gemini.APIError{Code: 429, Message: "Resource has been exhausted", Status: "RESOURCE_EXHAUSTED"}}
	_, err := newGeminiCompleter(gen, "m", 0).Complete(context.Background(), samplePrompt())
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestGeminiCompleter_APIErrorValueStatus(t *testing.T) {
	gen := &mockGenerator{err: fmt.Errorf("generate: %w", gemini.APIError{Code: 403, Message: "Caller lacks access", Status: "FORBIDDEN"})}
	_, err := newGeminiCompleter(gen, "m", 0).Complete(context.Background(), samplePrompt())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if got := geminiStatus(gemini.APIError{Code: 401}); got != 401 {
		t.Errorf("expected status 401, got %d", got)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		want   error
	}{
		{"status 401", errors.New("nope"), 401, ErrUnauthorized},
		{"api key text", errors.New("API_KEY_INVALID"), 0, ErrUnauthorized},
		{"quota text", errors.New("quota exceeded"), 0, ErrRateLimited},
		{"status 403", errors.New("forbidden"), 403, ErrPermissionDenied},
		{"permission text", errors.New("permission denied for project"), 0, ErrPermissionDenied},
		{"other", errors.New("connection reset"), 0, ErrUnavailable},
		{"already classified", ErrEmptyResponse, 500, ErrEmptyResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(tc.err, tc.status)
			if !errors.Is(got, tc.want) {
				t.Errorf("classify(%v, %d) = %v, want %v", tc.err, tc.status, got, tc.want)
			}
		})
	}
}

func TestUserMessage(t *testing.T) {
	if got := UserMessage(classify(errors.New("quota"), 0)); !strings.HasPrefix(got, "API-kvoten är överskriden") {
		t.Errorf("unexpected rate limit message %q", got)
	}
	if got := UserMessage(classify(errors.New("connection reset"), 0)); got != "Kunde inte få svar från AI-assistenten: connection reset" {
		t.Errorf("unexpected generic message %q", got)
	}
	if got := ErrorClass(context.DeadlineExceeded); got != "timeout" {
		t.Errorf("expected timeout class, got %q", got)
	}
}

func TestMockCompleter(t *testing.T) {
	m := NewMockCompleter("först", "sedan [ESKALERING_FÖRESLAGEN]")
	ctx := context.Background()

	r1, _ := m.Complete(ctx, samplePrompt())
	r2, _ := m.Complete(ctx, samplePrompt())
	r3, _ := m.Complete(ctx, samplePrompt())
	if r1.Text != "först" || r1.Escalate {
		t.Errorf("unexpected first reply %+v", r1)
	}
	if r2.Text != "sedan" || !r2.Escalate {
		t.Errorf("unexpected second reply %+v", r2)
	}
	if r3 != r2 {
		t.Errorf("expected last reply to repeat, got %+v", r3)
	}
	if m.Calls() != 3 {
		t.Errorf("expected 3 calls, got %d", m.Calls())
	}
}
