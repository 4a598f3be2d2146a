// Package flow orchestrates one conversation turn: it records the user's
// message, asks the AI collaborator for a reply in the right conversation
// phase, and feeds the escalation signal into the referral workflow.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BTreeMap/OTAI/internal/genai"
	"github.com/BTreeMap/OTAI/internal/metrics"
	"github.com/BTreeMap/OTAI/internal/models"
	"github.com/BTreeMap/OTAI/internal/phase"
)

// DefaultAITimeout bounds a single completion call.
const DefaultAITimeout = 60 * time.Second

// User-facing texts appended as system messages.
const (
	NotConfiguredMessage = "AI-assistenten är inte konfigurerad. Lägg till en API-nyckel i .env-filen och starta om."
	errorMessagePrefix   = "Ursäkta, något gick fel: "
	emptyMessageText     = "Skriv ett meddelande."
)

// Sessions is the part of the session manager used by the flow.
type Sessions interface {
	GetActiveSession(ctx context.Context, userID string) (*models.ChatSession, error)
	SaveActiveSession(ctx context.Context, userID string, messages []models.Message) (*models.ChatSession, error)
	StartNewConversation(ctx context.Context, userID string) error
	ResumeArchivedSession(ctx context.Context, userID, sessionID string) (*models.ChatSession, error)
}

// Escalations is the part of the escalation tracker used by the flow.
type Escalations interface {
	Suggest(ctx context.Context, userID string) error
	ShowReferralAffordance(ctx context.Context, userID string) (bool, error)
	Reset(ctx context.Context, userID string) error
}

// MessageLog is the legacy append-only per-user message log.
type MessageLog interface {
	AppendMessage(ctx context.Context, userID string, msg models.Message) error
}

// Turn is the result of one SendMessage call.
type Turn struct {
	Session             *models.ChatSession `json:"session"`
	Reply               string              `json:"reply,omitempty"`
	Notice              string              `json:"notice,omitempty"`
	Phase               phase.Phase         `json:"phase"`
	EscalationSuggested bool                `json:"escalation_suggested"`
	ShowReferral        bool                `json:"show_referral"`
}

// ConversationFlow handles user messages for every user.
type ConversationFlow struct {
	sessions         Sessions
	escalations      Escalations
	log              MessageLog
	completer        genai.Completer
	systemPrompt     string
	systemPromptFile string
	aiTimeout        time.Duration
	now              func() time.Time
	metrics          *metrics.Metrics
}

// Option configures a ConversationFlow.
type Option func(*ConversationFlow)

// WithCompleter sets the AI collaborator. Without one every message is
// answered with NotConfiguredMessage.
func WithCompleter(c genai.Completer) Option {
	return func(f *ConversationFlow) { f.completer = c }
}

// WithSystemPrompt replaces the built-in system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(f *ConversationFlow) {
		if strings.TrimSpace(prompt) != "" {
			f.systemPrompt = prompt
		}
	}
}

// WithSystemPromptFile sets a file LoadSystemPrompt reads the system prompt from.
func WithSystemPromptFile(path string) Option {
	return func(f *ConversationFlow) { f.systemPromptFile = path }
}

// WithAITimeout bounds each completion call.
func WithAITimeout(d time.Duration) Option {
	return func(f *ConversationFlow) {
		if d > 0 {
			f.aiTimeout = d
		}
	}
}

// WithMessageLog also appends every message to the legacy message log.
func WithMessageLog(l MessageLog) Option {
	return func(f *ConversationFlow) { f.log = l }
}

// WithClock overrides time.Now for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(f *ConversationFlow) { f.now = now }
}

// WithMetrics records completion outcomes and escalations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *ConversationFlow) { f.metrics = m }
}

// NewConversationFlow creates a conversation flow.
func NewConversationFlow(sessions Sessions, escalations Escalations, opts ...Option) *ConversationFlow {
	f := &ConversationFlow{
		sessions:     sessions,
		escalations:  escalations,
		systemPrompt: genai.DefaultSystemPrompt,
		aiTimeout:    DefaultAITimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	slog.Debug("ConversationFlow.New: created", "hasCompleter", f.completer != nil, "aiTimeout", f.aiTimeout)
	return f
}

// LoadSystemPrompt reads the system prompt from the configured file. With
// no file configured the built-in prompt is kept.
func (f *ConversationFlow) LoadSystemPrompt() error {
	if f.systemPromptFile == "" {
		return nil
	}
	content, err := os.ReadFile(f.systemPromptFile)
	if err != nil {
		slog.Error("ConversationFlow.LoadSystemPrompt: failed to read system prompt file", "file", f.systemPromptFile, "error", err)
		return fmt.Errorf("failed to read system prompt file: %w", err)
	}
	prompt := strings.TrimSpace(string(content))
	if prompt == "" {
		return fmt.Errorf("system prompt file is empty: %s", f.systemPromptFile)
	}
	f.systemPrompt = prompt
	slog.Info("ConversationFlow.LoadSystemPrompt: system prompt loaded", "file", f.systemPromptFile, "length", len(prompt))
	return nil
}

// SendMessage records text from user, obtains the assistant reply and
// returns the updated session. AI failures do not fail the call; they are
// recorded in the session as a system message. Without an AI nothing is
// stored and the turn carries NotConfiguredMessage as its notice.
func (f *ConversationFlow) SendMessage(ctx context.Context, user models.User, text string) (*Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, models.NewValidationError(models.ErrEmptyMessage, "content", emptyMessageText)
	}

	current, err := f.sessions.GetActiveSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active session: %w", err)
	}
	var history []models.Message
	if current != nil {
		history = current.Messages
	}
	p := phase.ForNextMessage(history)

	if f.completer == nil {
		slog.Warn("ConversationFlow.SendMessage: AI not configured", "userID", user.ID)
		f.metrics.AICompletion(genai.ErrorClass(genai.ErrNotConfigured))
		return &Turn{Session: current, Phase: p, Notice: NotConfiguredMessage}, nil
	}

	userMsg := models.NewHumanMessage(user, text, f.now())
	if _, err := f.sessions.SaveActiveSession(ctx, user.ID, appendMessage(history, userMsg)); err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}
	f.appendLog(ctx, user.ID, userMsg)

	turn := &Turn{Phase: p}
	var reply models.Message

	prompt := genai.BuildPrompt(f.systemPrompt, p, history, text)
	aiCtx, cancel := context.WithTimeout(ctx, f.aiTimeout)
	result, err := f.completer.Complete(aiCtx, prompt)
	cancel()
	f.metrics.AICompletion(genai.ErrorClass(err))

	if err != nil {
		slog.Error("ConversationFlow.SendMessage: completion failed", "userID", user.ID, "phase", p, "error", err)
		reply = models.NewSystemMessage(errorMessagePrefix+genai.UserMessage(err), f.now())
	} else {
		slog.Debug("ConversationFlow.SendMessage: completion received", "userID", user.ID, "phase", p, "escalate", result.Escalate, "length", len(result.Text))
		reply = models.NewAssistantMessage(result.Text, f.now())
		turn.Reply = result.Text
		turn.EscalationSuggested = result.Escalate
	}

	// The request may have been cancelled while waiting for the reply; the
	// user's message is already stored, so the reply is stored too.
	bookkeeping := context.WithoutCancel(ctx)

	if turn.EscalationSuggested {
		if err := f.escalations.Suggest(bookkeeping, user.ID); err != nil {
			slog.Error("ConversationFlow.SendMessage: failed to record escalation", "userID", user.ID, "error", err)
		} else {
			f.metrics.EscalationSuggested()
		}
	}

	// Re-read so concurrent turns for the same user are not overwritten.
	latest, err := f.sessions.GetActiveSession(bookkeeping, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload active session: %w", err)
	}
	var messages []models.Message
	if latest != nil {
		messages = latest.Messages
	}
	saved, err := f.sessions.SaveActiveSession(bookkeeping, user.ID, appendMessage(messages, reply))
	if err != nil {
		return nil, fmt.Errorf("failed to save reply: %w", err)
	}
	f.appendLog(bookkeeping, user.ID, reply)
	turn.Session = saved

	show, err := f.escalations.ShowReferralAffordance(bookkeeping, user.ID)
	if err != nil {
		slog.Warn("ConversationFlow.SendMessage: failed to read escalation state", "userID", user.ID, "error", err)
	}
	turn.ShowReferral = show
	return turn, nil
}

// History returns the user's active session, or nil.
func (f *ConversationFlow) History(ctx context.Context, userID string) (*models.ChatSession, error) {
	return f.sessions.GetActiveSession(ctx, userID)
}

// NewConversation archives the active session and starts over. A pending
// referral suggestion belongs to the old conversation and is withdrawn.
func (f *ConversationFlow) NewConversation(ctx context.Context, userID string) error {
	if err := f.sessions.StartNewConversation(ctx, userID); err != nil {
		return err
	}
	f.withdrawSuggestion(ctx, userID)
	slog.Info("ConversationFlow.NewConversation: started", "userID", userID)
	return nil
}

// ResumeArchived makes an archived conversation active again.
func (f *ConversationFlow) ResumeArchived(ctx context.Context, userID, sessionID string) (*models.ChatSession, error) {
	s, err := f.sessions.ResumeArchivedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	f.withdrawSuggestion(ctx, userID)
	return s, nil
}

func (f *ConversationFlow) withdrawSuggestion(ctx context.Context, userID string) {
	show, err := f.escalations.ShowReferralAffordance(ctx, userID)
	if err != nil || !show {
		return
	}
	if err := f.escalations.Reset(ctx, userID); err != nil {
		slog.Warn("ConversationFlow: failed to withdraw referral suggestion", "userID", userID, "error", err)
	}
}

func (f *ConversationFlow) appendLog(ctx context.Context, userID string, msg models.Message) {
	if f.log == nil {
		return
	}
	if err := f.log.AppendMessage(ctx, userID, msg); err != nil {
		slog.Warn("ConversationFlow: failed to append to message log", "userID", userID, "error", err)
	}
}

func appendMessage(messages []models.Message, msg models.Message) []models.Message {
	out := make([]models.Message, 0, len(messages)+1)
	out = append(out, messages...)
	return append(out, msg)
}
