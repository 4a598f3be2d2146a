package session

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically reads every active session so idle ones are
// archived even when their user never comes back. It goes through
// GetActiveSession, so expiry has a single code path.
type Sweeper struct {
	manager  *Manager
	repo     Repository
	interval time.Duration
}

// NewSweeper creates a sweeper. A non-positive interval defaults to one minute.
func NewSweeper(m *Manager, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{manager: m, repo: m.repo, interval: interval}
}

// Run starts the sweep loop. It blocks until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	slog.Info("Sweeper.Run: starting session sweeper", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Sweeper.Run: stopping")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep checks every active session once and returns how many were archived.
func (s *Sweeper) Sweep(ctx context.Context) int {
	userIDs, err := s.repo.ActiveSessionUserIDs(ctx)
	if err != nil {
		slog.Error("Sweeper.Sweep: listing active sessions failed", "error", err)
		return 0
	}

	archived := 0
	for _, userID := range userIDs {
		if ctx.Err() != nil {
			break
		}
		before, err := s.repo.ActiveSession(ctx, userID)
		if err != nil || before == nil {
			continue
		}
		after, err := s.manager.GetActiveSession(ctx, userID)
		if err != nil {
			slog.Error("Sweeper.Sweep: expiry check failed", "userID", userID, "error", err)
			continue
		}
		if after == nil {
			archived++
		}
	}
	if archived > 0 {
		slog.Info("Sweeper.Sweep: archived idle sessions", "count", archived)
	}
	return archived
}
