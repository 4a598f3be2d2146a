package models

import "time"

// ReferralStatus is the lifecycle state of a referral form.
type ReferralStatus string

const (
	// ReferralStatusDraft is a form that has not been submitted yet.
	ReferralStatusDraft ReferralStatus = "draft"
	// ReferralStatusSubmitted is persisted before the delivery attempt.
	ReferralStatusSubmitted ReferralStatus = "submitted"
	// ReferralStatusSent means the delivery collaborator reported success.
	ReferralStatusSent ReferralStatus = "sent"
	// ReferralStatusFailed means delivery failed; the referral may be resubmitted.
	ReferralStatusFailed ReferralStatus = "failed"
)

// CanTransitionTo reports whether a referral may move from s to next.
// Transitions only run forward: draft -> submitted -> {sent, failed},
// and failed -> submitted for a retry.
func (s ReferralStatus) CanTransitionTo(next ReferralStatus) bool {
	switch s {
	case ReferralStatusDraft:
		return next == ReferralStatusSubmitted
	case ReferralStatusSubmitted:
		return next == ReferralStatusSent || next == ReferralStatusFailed
	case ReferralStatusFailed:
		return next == ReferralStatusSubmitted
	default:
		return false
	}
}

// Urgency is how soon the patient needs to be contacted.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// IsValidUrgency checks if the given urgency is supported.
func IsValidUrgency(u Urgency) bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
		return true
	default:
		return false
	}
}

// PatientInfo holds the contact details entered in the referral form.
type PatientInfo struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Age     string `json:"age,omitempty"`
	Address string `json:"address,omitempty"`
}

// Challenges describes what the patient struggles with.
type Challenges struct {
	Primary   string   `json:"primary"`
	Secondary []string `json:"secondary,omitempty"`
	Duration  string   `json:"duration,omitempty"`
	Impact    string   `json:"impact"`
}

// Needs lists the kinds of help the patient asks for.
type Needs struct {
	PhysicalAids     bool     `json:"physical_aids"`
	PhysicalAidsList []string `json:"physical_aids_list,omitempty"`
	HomeVisit        bool     `json:"home_visit"`
	WorkplaceVisit   bool     `json:"workplace_visit"`
	FollowUp         bool     `json:"follow_up"`
	Other            string   `json:"other,omitempty"`
}

// ConversationSummary is computed once at submission time from the active session.
type ConversationSummary struct {
	MessageCount       int      `json:"message_count"`
	MainTopics         []string `json:"main_topics"`
	AISuggestionsTried []string `json:"ai_suggestions_tried"`
	ConversationText   string   `json:"conversation_text,omitempty"`
}

// IsEmpty reports whether no summary has been computed yet.
func (s ConversationSummary) IsEmpty() bool {
	return s.MessageCount == 0 && s.ConversationText == "" && len(s.MainTopics) == 0 && len(s.AISuggestionsTried) == 0
}

// ReferralForm is a structured handoff to a licensed occupational therapist.
type ReferralForm struct {
	ID                  string              `json:"id"`
	UserID              string              `json:"user_id"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
	Status              ReferralStatus      `json:"status"`
	PatientInfo         PatientInfo         `json:"patient_info"`
	Challenges          Challenges          `json:"challenges"`
	ConversationSummary ConversationSummary `json:"conversation_summary"`
	Needs               Needs               `json:"needs"`
	Urgency             Urgency             `json:"urgency"`
	UrgencyReason       string              `json:"urgency_reason,omitempty"`
	AdditionalNotes     string              `json:"additional_notes,omitempty"`
	ConsentGiven        bool                `json:"consent_given"`
	ConsentTimestamp    *time.Time          `json:"consent_timestamp,omitempty"`
	LastError           string              `json:"last_error,omitempty"` // delivery failure reason, if any
}
