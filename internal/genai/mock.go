package genai

import (
	"context"
	"sync"

	"github.com/BTreeMap/OTAI/internal/escalation"
)

// MockCompleter is a Completer for tests and local runs. It returns the
// configured replies in order and repeats the last one.
type MockCompleter struct {
	mu       sync.Mutex
	replies  []string
	Err      error
	Prompts  []Prompt
	Response func(ctx context.Context, prompt Prompt) (Reply, error)
}

// NewMockCompleter returns a mock that answers with replies. Each reply is
// parsed for the escalation marker.
func NewMockCompleter(replies ...string) *MockCompleter {
	return &MockCompleter{replies: replies}
}

// Complete implements Completer.
func (m *MockCompleter) Complete(ctx context.Context, prompt Prompt) (Reply, error) {
	m.mu.Lock()
	m.Prompts = append(m.Prompts, prompt)
	fn, err := m.Response, m.Err
	var raw string
	if len(m.replies) > 0 {
		raw = m.replies[0]
		if len(m.replies) > 1 {
			m.replies = m.replies[1:]
		}
	}
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, prompt)
	}
	if err != nil {
		return Reply{}, err
	}
	if raw == "" {
		raw = "Tack för ditt meddelande. Berätta gärna mer."
	}
	return escalation.ParseAssistantReply(raw), nil
}

// Calls returns how many prompts the mock has received.
func (m *MockCompleter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Prompts)
}
