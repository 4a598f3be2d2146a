package delivery

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/OTAI/internal/models"
)

// LogDeliverer is used when no delivery channel is configured. It logs the
// referral id and always fails, so the referral stays retryable.
type LogDeliverer struct{}

var _ Deliverer = LogDeliverer{}

func (LogDeliverer) Deliver(ctx context.Context, referral models.ReferralForm) Result {
	slog.Warn("LogDeliverer.Deliver: delivery not configured, referral kept for retry", "referralID", referral.ID, "urgency", referral.Urgency)
	return Failed(NotConfiguredMessage)
}
