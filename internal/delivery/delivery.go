// Package delivery sends submitted referrals to the occupational therapist
// team.
package delivery

import (
	"context"

	"github.com/BTreeMap/OTAI/internal/models"
)

// NotConfiguredMessage is the failure reason reported when no delivery
// channel is set up.
const NotConfiguredMessage = "Email-tjänsten är inte konfigurerad. Kontakta support."

// Result is the outcome of one delivery attempt. Error is a user-facing
// reason and may be empty on failure.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Deliverer hands a referral to an external channel. Implementations must
// return promptly once ctx is done.
type Deliverer interface {
	Deliver(ctx context.Context, referral models.ReferralForm) Result
}

// Failed builds a failed result with reason.
func Failed(reason string) Result {
	return Result{Success: false, Error: reason}
}

// Succeeded builds a successful result.
func Succeeded() Result {
	return Result{Success: true}
}
