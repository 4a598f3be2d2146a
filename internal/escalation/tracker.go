package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/OTAI/internal/models"
)

// Repository persists escalation records.
type Repository interface {
	EscalationState(ctx context.Context, userID string) (*models.EscalationRecord, error)
	PutEscalationState(ctx context.Context, rec models.EscalationRecord) error
}

// Tracker is the per-user escalation state machine:
//
//	none -> suggested -> referral_open -> {referral_sent, referral_failed}
//	referral_failed -> referral_open
//
// A new marker moves any settled state back to suggested.
type Tracker struct {
	repo Repository
	now  func() time.Time
}

// NewTracker creates a tracker backed by repo.
func NewTracker(repo Repository) *Tracker {
	slog.Debug("Creating escalation Tracker")
	return &Tracker{repo: repo, now: time.Now}
}

// Current returns the user's escalation state. Users without a record are
// in EscalationNone.
func (t *Tracker) Current(ctx context.Context, userID string) (models.EscalationState, error) {
	rec, err := t.repo.EscalationState(ctx, userID)
	if err != nil {
		slog.Error("Tracker.Current: read failed", "userID", userID, "error", err)
		return "", err
	}
	if rec == nil || rec.State == "" {
		return models.EscalationNone, nil
	}
	return rec.State, nil
}

// ShowReferralAffordance reports whether the "create referral" action
// should be offered. It is only offered while an escalation is suggested.
func (t *Tracker) ShowReferralAffordance(ctx context.Context, userID string) (bool, error) {
	state, err := t.Current(ctx, userID)
	if err != nil {
		return false, err
	}
	return state == models.EscalationSuggested, nil
}

// Suggest records an escalation marker from an assistant reply. It is a
// no-op while a suggestion or an open referral is pending.
func (t *Tracker) Suggest(ctx context.Context, userID string) error {
	state, err := t.Current(ctx, userID)
	if err != nil {
		return err
	}
	switch state {
	case models.EscalationSuggested, models.EscalationReferralOpen:
		return nil
	default:
		return t.set(ctx, userID, state, models.EscalationSuggested)
	}
}

// OpenReferral records that the user opened the referral form. Allowed from
// suggested and, as a retry, from referral_failed.
func (t *Tracker) OpenReferral(ctx context.Context, userID string) error {
	state, err := t.Current(ctx, userID)
	if err != nil {
		return err
	}
	switch state {
	case models.EscalationReferralOpen:
		return nil
	case models.EscalationSuggested, models.EscalationReferralFailed:
		return t.set(ctx, userID, state, models.EscalationReferralOpen)
	default:
		slog.Debug("Tracker.OpenReferral: rejected", "userID", userID, "state", state)
		return fmt.Errorf("%w: cannot open referral from %s", models.ErrInvalidTransition, state)
	}
}

// RecordOutcome stores the result of a submission attempt. Either outcome
// hides the referral affordance until a new marker arrives.
func (t *Tracker) RecordOutcome(ctx context.Context, userID string, sent bool) error {
	state, err := t.Current(ctx, userID)
	if err != nil {
		return err
	}
	next := models.EscalationReferralFailed
	if sent {
		next = models.EscalationReferralSent
	}
	return t.set(ctx, userID, state, next)
}

// Reset returns the user to EscalationNone.
func (t *Tracker) Reset(ctx context.Context, userID string) error {
	state, err := t.Current(ctx, userID)
	if err != nil {
		return err
	}
	if state == models.EscalationNone {
		return nil
	}
	return t.set(ctx, userID, state, models.EscalationNone)
}

func (t *Tracker) set(ctx context.Context, userID string, from, to models.EscalationState) error {
	rec := models.EscalationRecord{UserID: userID, State: to, UpdatedAt: t.now()}
	if err := t.repo.PutEscalationState(ctx, rec); err != nil {
		slog.Error("Tracker.set: save failed", "userID", userID, "from", from, "to", to, "error", err)
		return err
	}
	slog.Debug("Tracker.set: transitioned", "userID", userID, "from", from, "to", to)
	return nil
}
