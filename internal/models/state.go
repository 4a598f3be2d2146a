// Package models defines escalation state structures for OTAI conversations.
package models

import "time"

// EscalationState is where a user's conversation stands in the referral workflow.
type EscalationState string

const (
	EscalationNone           EscalationState = "none"
	EscalationSuggested      EscalationState = "suggested"
	EscalationReferralOpen   EscalationState = "referral_open"
	EscalationReferralSent   EscalationState = "referral_sent"
	EscalationReferralFailed EscalationState = "referral_failed"
)

// EscalationRecord is the persisted escalation state of one user.
type EscalationRecord struct {
	UserID    string          `json:"user_id"`
	State     EscalationState `json:"state"`
	UpdatedAt time.Time       `json:"updated_at"`
}
