// Package referral validates referral forms and drives their submission:
// draft -> submitted -> {sent, failed}, with failed referrals retryable.
package referral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/OTAI/internal/delivery"
	"github.com/BTreeMap/OTAI/internal/metrics"
	"github.com/BTreeMap/OTAI/internal/models"
	"github.com/BTreeMap/OTAI/internal/summary"
)

// DefaultDeliveryTimeout bounds one delivery attempt.
const DefaultDeliveryTimeout = 30 * time.Second

// Messages appended to the active session after a submission attempt.
const (
	SentMessage          = "✅ Din remiss har skickats till vårt team av legitimerade arbetsterapeuter. De kommer att kontakta dig inom kort."
	FailedFallback       = "Kunde inte skicka remissen. Den har sparats som utkast."
	failedPrefix         = "❌ "
	interruptedMessage   = "Leveransen avbröts innan den slutfördes."
	cancelledMessage     = "Leveransen avbröts. Remissen är sparad och kan skickas igen."
	deliveryPanicMessage = "Ett oväntat fel uppstod vid leveransen. Remissen är sparad och kan skickas igen."
)

// Repository stores referral forms.
type Repository interface {
	Referrals(ctx context.Context) ([]models.ReferralForm, error)
	ReferralByID(ctx context.Context, id string) (*models.ReferralForm, error)
	SaveReferral(ctx context.Context, ref models.ReferralForm) error
	ReferralsByUser(ctx context.Context, userID string) ([]models.ReferralForm, error)
	DeleteReferral(ctx context.Context, id string) error
}

// Sessions is the part of the session manager the service writes outcome
// messages through.
type Sessions interface {
	GetActiveSession(ctx context.Context, userID string) (*models.ChatSession, error)
	SaveActiveSession(ctx context.Context, userID string, messages []models.Message) (*models.ChatSession, error)
}

// Tracker is the escalation state machine.
type Tracker interface {
	OpenReferral(ctx context.Context, userID string) error
	RecordOutcome(ctx context.Context, userID string, sent bool) error
}

// Outcome is the result of a submission attempt.
type Outcome struct {
	Referral models.ReferralForm `json:"referral"`
	Sent     bool                `json:"sent"`
	Message  string              `json:"message"`
}

// DraftInput is what the user fills in on the referral form.
type DraftInput struct {
	PatientInfo     models.PatientInfo `json:"patient_info"`
	Challenges      models.Challenges  `json:"challenges"`
	Needs           models.Needs       `json:"needs"`
	Urgency         models.Urgency     `json:"urgency"`
	UrgencyReason   string             `json:"urgency_reason,omitempty"`
	AdditionalNotes string             `json:"additional_notes,omitempty"`
	ConsentGiven    bool               `json:"consent_given"`
}

// Service coordinates referral persistence, delivery and bookkeeping.
type Service struct {
	repo      Repository
	sessions  Sessions
	tracker   Tracker
	deliverer delivery.Deliverer
	timeout   time.Duration
	now       func() time.Time
	metrics   *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithDeliveryTimeout overrides DefaultDeliveryTimeout. Non-positive values are ignored.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMetrics enables referral outcome counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService creates a referral service.
func NewService(repo Repository, sessions Sessions, tracker Tracker, deliverer delivery.Deliverer, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		sessions:  sessions,
		tracker:   tracker,
		deliverer: deliverer,
		timeout:   DefaultDeliveryTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewDraft builds an unsaved draft owned by userID.
func (s *Service) NewDraft(userID string, in DraftInput) models.ReferralForm {
	now := s.now()
	return models.ReferralForm{
		ID:              uuid.NewString(),
		UserID:          userID,
		CreatedAt:       now,
		UpdatedAt:       now,
		Status:          models.ReferralStatusDraft,
		PatientInfo:     in.PatientInfo,
		Challenges:      in.Challenges,
		Needs:           in.Needs,
		Urgency:         in.Urgency,
		UrgencyReason:   in.UrgencyReason,
		AdditionalNotes: in.AdditionalNotes,
		ConsentGiven:    in.ConsentGiven,
	}
}

// Open records that the user opened the referral form.
func (s *Service) Open(ctx context.Context, userID string) error {
	return s.tracker.OpenReferral(ctx, userID)
}

// Submit validates form, saves it as submitted, delivers it and records the
// outcome. A validation error leaves nothing changed. Delivery failures are
// not errors: they produce an Outcome with Sent false and a failed referral
// that can be retried.
func (s *Service) Submit(ctx context.Context, user models.User, form models.ReferralForm) (Outcome, error) {
	if form.UserID == "" {
		form.UserID = user.ID
	}
	if form.UserID != user.ID {
		return Outcome{}, fmt.Errorf("%w: referral belongs to another user", models.ErrReferralNotFound)
	}
	if form.Status == "" {
		form.Status = models.ReferralStatusDraft
	}
	if err := Validate(form); err != nil {
		slog.Debug("ReferralService.Submit: rejected", "userID", user.ID, "error", err)
		s.metrics.ReferralOutcome(metrics.OutcomeRejected)
		return Outcome{}, err
	}
	if form.Status != models.ReferralStatusDraft {
		return Outcome{}, fmt.Errorf("%w: referral is %s", models.ErrInvalidTransition, form.Status)
	}
	if err := s.tracker.OpenReferral(ctx, user.ID); err != nil {
		return Outcome{}, err
	}

	if form.ConversationSummary.IsEmpty() {
		active, err := s.sessions.GetActiveSession(ctx, user.ID)
		if err != nil {
			return Outcome{}, err
		}
		var msgs []models.Message
		if active != nil {
			msgs = active.Messages
		}
		form.ConversationSummary = summary.Summarize(msgs, user.Name)
	}

	now := s.now()
	if form.ID == "" {
		form.ID = uuid.NewString()
	}
	if form.CreatedAt.IsZero() {
		form.CreatedAt = now
	}
	if form.ConsentTimestamp == nil {
		form.ConsentTimestamp = &now
	}
	form.Status = models.ReferralStatusSubmitted
	form.UpdatedAt = now
	form.LastError = ""
	if err := s.repo.SaveReferral(ctx, form); err != nil {
		slog.Error("ReferralService.Submit: save failed", "referralID", form.ID, "error", err)
		return Outcome{}, err
	}
	slog.Info("ReferralService.Submit: referral submitted", "userID", user.ID, "referralID", form.ID, "urgency", form.Urgency)

	return s.deliverAndRecord(ctx, user.ID, form)
}

// Retry resubmits a failed referral.
func (s *Service) Retry(ctx context.Context, userID, referralID string) (Outcome, error) {
	ref, err := s.Get(ctx, userID, referralID)
	if err != nil {
		return Outcome{}, err
	}
	if ref.Status != models.ReferralStatusFailed {
		return Outcome{}, fmt.Errorf("%w: only failed referrals can be retried, referral is %s", models.ErrInvalidTransition, ref.Status)
	}
	// The failed referral itself authorizes the retry, whatever the
	// conversation's escalation state is now.
	if err := s.tracker.OpenReferral(ctx, userID); err != nil && !errors.Is(err, models.ErrInvalidTransition) {
		return Outcome{}, err
	}

	ref.Status = models.ReferralStatusSubmitted
	ref.LastError = ""
	ref.UpdatedAt = s.now()
	if err := s.repo.SaveReferral(ctx, *ref); err != nil {
		return Outcome{}, err
	}
	slog.Info("ReferralService.Retry: referral resubmitted", "userID", userID, "referralID", ref.ID)
	return s.deliverAndRecord(ctx, userID, *ref)
}

// deliverAndRecord runs the delivery attempt and persists its outcome. The
// outcome is written even when ctx is cancelled, so a submitted referral
// always settles as sent or failed.
func (s *Service) deliverAndRecord(ctx context.Context, userID string, form models.ReferralForm) (Outcome, error) {
	res := s.deliver(ctx, form)

	bctx := context.WithoutCancel(ctx)
	form.UpdatedAt = s.now()
	var text string
	if res.Success {
		form.Status = models.ReferralStatusSent
		form.LastError = ""
		text = SentMessage
		s.metrics.ReferralOutcome(metrics.OutcomeSent)
	} else {
		form.Status = models.ReferralStatusFailed
		form.LastError = res.Error
		reason := res.Error
		if reason == "" {
			reason = FailedFallback
		}
		text = failedPrefix + reason
		s.metrics.ReferralOutcome(metrics.OutcomeFailed)
	}

	if err := s.repo.SaveReferral(bctx, form); err != nil {
		slog.Error("ReferralService.deliverAndRecord: saving outcome failed", "referralID", form.ID, "status", form.Status, "error", err)
		return Outcome{}, err
	}
	if err := s.appendSystemMessage(bctx, userID, text); err != nil {
		slog.Error("ReferralService.deliverAndRecord: appending outcome message failed", "userID", userID, "error", err)
	}
	if err := s.tracker.RecordOutcome(bctx, userID, res.Success); err != nil {
		slog.Error("ReferralService.deliverAndRecord: recording escalation outcome failed", "userID", userID, "error", err)
	}

	slog.Info("ReferralService: delivery finished", "referralID", form.ID, "status", form.Status)
	return Outcome{Referral: form, Sent: res.Success, Message: text}, nil
}

// deliver calls the deliverer under the delivery timeout. Panics become a
// failed result.
func (s *Service) deliver(ctx context.Context, form models.ReferralForm) (res delivery.Result) {
	dctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("ReferralService.deliver: deliverer panicked", "referralID", form.ID, "panic", r)
			res = delivery.Failed(deliveryPanicMessage)
		}
	}()

	res = s.deliverer.Deliver(dctx, form)
	if !res.Success && res.Error == "" && ctx.Err() != nil {
		res.Error = cancelledMessage
	}
	return res
}

func (s *Service) appendSystemMessage(ctx context.Context, userID, text string) error {
	active, err := s.sessions.GetActiveSession(ctx, userID)
	if err != nil {
		return err
	}
	var msgs []models.Message
	if active != nil {
		msgs = append(msgs, active.Messages...)
	}
	msgs = append(msgs, models.NewSystemMessage(text, s.now()))
	_, err = s.sessions.SaveActiveSession(ctx, userID, msgs)
	return err
}

// RecoverInterrupted marks referrals left in submitted by a previous
// process as failed so they can be retried. It returns how many were
// recovered.
func (s *Service) RecoverInterrupted(ctx context.Context) (int, error) {
	refs, err := s.repo.Referrals(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ref := range refs {
		if ref.Status != models.ReferralStatusSubmitted {
			continue
		}
		ref.Status = models.ReferralStatusFailed
		ref.LastError = interruptedMessage
		ref.UpdatedAt = s.now()
		if err := s.repo.SaveReferral(ctx, ref); err != nil {
			return n, err
		}
		if err := s.tracker.RecordOutcome(ctx, ref.UserID, false); err != nil {
			slog.Warn("ReferralService.RecoverInterrupted: escalation update failed", "userID", ref.UserID, "error", err)
		}
		n++
	}
	if n > 0 {
		slog.Info("ReferralService.RecoverInterrupted: marked interrupted referrals as failed", "count", n)
	}
	return n, nil
}

// ListForUser returns the user's referrals.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]models.ReferralForm, error) {
	return s.repo.ReferralsByUser(ctx, userID)
}

// Get returns one of the user's referrals.
func (s *Service) Get(ctx context.Context, userID, referralID string) (*models.ReferralForm, error) {
	ref, err := s.repo.ReferralByID(ctx, referralID)
	if err != nil {
		return nil, err
	}
	if ref == nil || ref.UserID != userID {
		return nil, fmt.Errorf("%w: %s", models.ErrReferralNotFound, referralID)
	}
	return ref, nil
}

// Delete removes one of the user's referrals. Unknown ids are a no-op.
func (s *Service) Delete(ctx context.Context, userID, referralID string) error {
	ref, err := s.repo.ReferralByID(ctx, referralID)
	if err != nil {
		return err
	}
	if ref == nil || ref.UserID != userID {
		return nil
	}
	slog.Info("ReferralService.Delete: referral deleted", "userID", userID, "referralID", referralID)
	return s.repo.DeleteReferral(ctx, referralID)
}
