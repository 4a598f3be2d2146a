// Package genai provides the AI completion collaborators used by OTAI
// conversations: Gemini, OpenAI and a mock.
package genai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/BTreeMap/OTAI/internal/escalation"
)

// Reply is an assistant reply with the escalation signal separated from
// the displayable text.
type Reply = escalation.Reply

// Completer produces an assistant reply for a prompt. Implementations must
// return once ctx is done.
type Completer interface {
	Complete(ctx context.Context, prompt Prompt) (Reply, error)
}

// Error classes returned (wrapped) by completers.
var (
	ErrNotConfigured    = errors.New("AI provider not configured")
	ErrUnauthorized     = errors.New("AI provider rejected the API key")
	ErrPermissionDenied = errors.New("AI provider denied permission")
	ErrRateLimited      = errors.New("AI provider quota exceeded")
	ErrUnavailable      = errors.New("AI provider unavailable")
	ErrEmptyResponse    = errors.New("AI provider returned no content")
)

// classify wraps err with the matching error class. status is the HTTP
// status of the failed call, or 0 when unknown.
func classify(err error, status int) error {
	if err == nil {
		return nil
	}
	for _, class := range []error{ErrNotConfigured, ErrUnauthorized, ErrPermissionDenied, ErrRateLimited, ErrUnavailable, ErrEmptyResponse} {
		if errors.Is(err, class) {
			return err
		}
	}
	msg := err.Error()
	switch {
	case status == 401 || strings.Contains(msg, "API_KEY") || strings.Contains(msg, "API key"):
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	case status == 429 || strings.Contains(msg, "quota") || strings.Contains(msg, "429"):
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	case status == 403 || strings.Contains(msg, "403") || strings.Contains(msg, "permission"):
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}

// ErrorClass returns a short label for metrics.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrEmptyResponse):
		return "empty"
	default:
		return "unavailable"
	}
}

// UserMessage translates a completion error into the text shown to the user.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotConfigured):
		return "AI-assistenten är inte konfigurerad. Kontakta support."
	case errors.Is(err, ErrUnauthorized):
		return "API-nyckeln är ogiltig. Kontrollera API-nyckeln i .env-filen."
	case errors.Is(err, ErrRateLimited):
		return "API-kvoten är överskriden. Försök igen senare eller kontakta support."
	case errors.Is(err, ErrPermissionDenied):
		return "API-nyckeln har inte rätt behörigheter. Kontrollera att nyckeln är aktiverad för Generative Language API."
	case errors.Is(err, context.DeadlineExceeded):
		return "Kunde inte få svar från AI-assistenten: tidsgränsen överskreds"
	default:
		return "Kunde inte få svar från AI-assistenten: " + errorText(err)
	}
}

// errorText drops the class prefix added by classify.
func errorText(err error) string {
	if err == nil {
		return "okänt fel"
	}
	msg := err.Error()
	for _, class := range []error{ErrUnavailable, ErrEmptyResponse} {
		msg = strings.TrimPrefix(msg, class.Error()+": ")
	}
	return msg
}
