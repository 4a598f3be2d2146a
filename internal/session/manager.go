// Package session manages the lifecycle of chat sessions: one active
// session per user, idle expiry into a most-recent-first archive, and the
// explicit new-conversation and resume flows.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/OTAI/internal/metrics"
	"github.com/BTreeMap/OTAI/internal/models"
)

// DefaultIdleTimeout is how long a session may sit without activity before
// it is archived on the next read.
const DefaultIdleTimeout = 3 * time.Hour

// Repository is the storage the manager needs.
type Repository interface {
	ActiveSession(ctx context.Context, userID string) (*models.ChatSession, error)
	PutActiveSession(ctx context.Context, userID string, s models.ChatSession) error
	DeleteActiveSession(ctx context.Context, userID string) error
	ActiveSessionUserIDs(ctx context.Context) ([]string, error)
	ArchivedSessions(ctx context.Context, userID string) ([]models.ChatSession, error)
	PutArchivedSessions(ctx context.Context, userID string, sessions []models.ChatSession) error
}

// Clock returns the current time.
type Clock func() time.Time

// Manager implements the session lifecycle. Calls for the same user are
// serialized; calls for different users run concurrently.
type Manager struct {
	repo        Repository
	idleTimeout time.Duration
	now         Clock
	metrics     *metrics.Metrics
	locks       *keyedMutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithIdleTimeout overrides DefaultIdleTimeout. Non-positive values are ignored.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.idleTimeout = d
		}
	}
}

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.now = c
		}
	}
}

// WithMetrics enables archive counters.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// NewManager creates a session manager over repo.
func NewManager(repo Repository, opts ...Option) *Manager {
	m := &Manager{
		repo:        repo,
		idleTimeout: DefaultIdleTimeout,
		now:         time.Now,
		locks:       newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IdleTimeout returns the configured idle threshold.
func (m *Manager) IdleTimeout() time.Duration {
	return m.idleTimeout
}

// GetActiveSession returns the user's active session, or nil when there is
// none. A session idle for longer than the idle timeout is archived and the
// slot cleared before nil is returned.
func (m *Manager) GetActiveSession(ctx context.Context, userID string) (*models.ChatSession, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()
	return m.activeLocked(ctx, userID)
}

func (m *Manager) activeLocked(ctx context.Context, userID string) (*models.ChatSession, error) {
	s, err := m.repo.ActiveSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nil
	}

	idle := m.now().Sub(s.LastActivityAt)
	if idle <= m.idleTimeout {
		return s, nil
	}

	slog.Info("SessionManager.GetActiveSession: archiving idle session", "userID", userID, "sessionID", s.ID, "idle", idle.Round(time.Second))
	if err := m.archiveOnce(ctx, userID, *s); err != nil {
		return nil, err
	}
	if err := m.repo.DeleteActiveSession(ctx, userID); err != nil {
		return nil, err
	}
	m.metrics.SessionArchived(metrics.ReasonIdle)
	return nil, nil
}

// archiveOnce prepends s unless the archive already holds a session with
// the same id. That covers a previous expiry that archived s but failed to
// clear the slot.
func (m *Manager) archiveOnce(ctx context.Context, userID string, s models.ChatSession) error {
	archive, err := m.repo.ArchivedSessions(ctx, userID)
	if err != nil {
		return err
	}
	for _, a := range archive {
		if a.ID == s.ID {
			slog.Warn("SessionManager.archiveOnce: session already archived", "userID", userID, "sessionID", s.ID)
			return nil
		}
	}
	return m.repo.PutArchivedSessions(ctx, userID, prepend(archive, s))
}

// SaveActiveSession stores messages as the user's active session. An
// existing live session keeps its id, creation time and title; otherwise a
// new session is started with a title derived from messages.
func (m *Manager) SaveActiveSession(ctx context.Context, userID string, messages []models.Message) (*models.ChatSession, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()
	return m.saveLocked(ctx, userID, messages)
}

func (m *Manager) saveLocked(ctx context.Context, userID string, messages []models.Message) (*models.ChatSession, error) {
	existing, err := m.activeLocked(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	s := models.ChatSession{
		UserID:   userID,
		Messages: append([]models.Message(nil), messages...),
	}
	if existing != nil {
		s.ID = existing.ID
		s.CreatedAt = existing.CreatedAt
		s.Title = existing.Title
	} else {
		s.ID = uuid.NewString()
		s.CreatedAt = now
		s.Title = DeriveTitle(messages)
		slog.Debug("SessionManager.SaveActiveSession: starting session", "userID", userID, "sessionID", s.ID)
	}
	s.LastActivityAt = now
	if s.LastActivityAt.Before(s.CreatedAt) {
		s.LastActivityAt = s.CreatedAt
	}

	if err := m.repo.PutActiveSession(ctx, userID, s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ArchiveSession prepends session to the user's archive. It does not check
// for duplicates.
func (m *Manager) ArchiveSession(ctx context.Context, userID string, s models.ChatSession) error {
	unlock := m.locks.Lock(userID)
	defer unlock()
	archive, err := m.repo.ArchivedSessions(ctx, userID)
	if err != nil {
		return err
	}
	return m.repo.PutArchivedSessions(ctx, userID, prepend(archive, s))
}

// ClearActiveSession empties the user's active slot without archiving.
func (m *Manager) ClearActiveSession(ctx context.Context, userID string) error {
	unlock := m.locks.Lock(userID)
	defer unlock()
	return m.repo.DeleteActiveSession(ctx, userID)
}

// GetArchivedSessions returns the user's archive, most recent first.
func (m *Manager) GetArchivedSessions(ctx context.Context, userID string) ([]models.ChatSession, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()
	return m.repo.ArchivedSessions(ctx, userID)
}

// LoadArchivedSession returns one archived session, or nil if it does not exist.
func (m *Manager) LoadArchivedSession(ctx context.Context, sessionID, userID string) (*models.ChatSession, error) {
	archive, err := m.GetArchivedSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, s := range archive {
		if s.ID == sessionID {
			s := s
			return &s, nil
		}
	}
	return nil, nil
}

// DeleteArchivedSession removes a session from the user's archive. Unknown
// ids are a no-op.
func (m *Manager) DeleteArchivedSession(ctx context.Context, sessionID, userID string) error {
	unlock := m.locks.Lock(userID)
	defer unlock()
	archive, err := m.repo.ArchivedSessions(ctx, userID)
	if err != nil {
		return err
	}
	kept := make([]models.ChatSession, 0, len(archive))
	for _, s := range archive {
		if s.ID != sessionID {
			kept = append(kept, s)
		}
	}
	if len(kept) == len(archive) {
		return nil
	}
	slog.Debug("SessionManager.DeleteArchivedSession: removed", "userID", userID, "sessionID", sessionID)
	return m.repo.PutArchivedSessions(ctx, userID, kept)
}

// StartNewConversation archives the active session if it has any messages
// and clears the slot.
func (m *Manager) StartNewConversation(ctx context.Context, userID string) error {
	unlock := m.locks.Lock(userID)
	defer unlock()
	return m.archiveCurrentLocked(ctx, userID, metrics.ReasonNewConversation)
}

func (m *Manager) archiveCurrentLocked(ctx context.Context, userID, reason string) error {
	current, err := m.activeLocked(ctx, userID)
	if err != nil {
		return err
	}
	if current == nil {
		return nil
	}
	if len(current.Messages) > 0 {
		if err := m.archiveOnce(ctx, userID, *current); err != nil {
			return err
		}
		m.metrics.SessionArchived(reason)
		slog.Info("SessionManager: archived active session", "userID", userID, "sessionID", current.ID, "reason", reason)
	}
	return m.repo.DeleteActiveSession(ctx, userID)
}

// ResumeArchivedSession continues an archived conversation. The current
// active session is archived, then the archived transcript is saved as a
// fresh active session. The archived copy stays in the history.
func (m *Manager) ResumeArchivedSession(ctx context.Context, userID, sessionID string) (*models.ChatSession, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	archive, err := m.repo.ArchivedSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	var target *models.ChatSession
	for i := range archive {
		if archive[i].ID == sessionID {
			target = &archive[i]
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, sessionID)
	}
	messages := append([]models.Message(nil), target.Messages...)

	if err := m.archiveCurrentLocked(ctx, userID, metrics.ReasonResume); err != nil {
		return nil, err
	}
	return m.saveLocked(ctx, userID, messages)
}

func prepend(archive []models.ChatSession, s models.ChatSession) []models.ChatSession {
	out := make([]models.ChatSession, 0, len(archive)+1)
	out = append(out, s)
	return append(out, archive...)
}
