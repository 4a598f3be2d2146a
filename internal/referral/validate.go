package referral

import (
	"strings"

	"github.com/BTreeMap/OTAI/internal/models"
)

// ConsentMessage is shown when the consent box was not ticked.
const ConsentMessage = "Du måste godkänna behandling av personuppgifter för att skicka remissen."

type requiredField struct {
	name  string
	label string
	value func(models.ReferralForm) string
}

var requiredFields = []requiredField{
	{"patient_info.name", "namn", func(f models.ReferralForm) string { return f.PatientInfo.Name }},
	{"patient_info.email", "e-postadress", func(f models.ReferralForm) string { return f.PatientInfo.Email }},
	{"patient_info.phone", "telefonnummer", func(f models.ReferralForm) string { return f.PatientInfo.Phone }},
	{"challenges.primary", "huvudsaklig utmaning", func(f models.ReferralForm) string { return f.Challenges.Primary }},
	{"challenges.impact", "påverkan på vardagen", func(f models.ReferralForm) string { return f.Challenges.Impact }},
}

// Validate checks the preconditions for leaving draft: consent, required
// fields, and a known urgency. It returns a *models.ValidationError.
func Validate(form models.ReferralForm) error {
	if !form.ConsentGiven {
		return models.NewValidationError(models.ErrConsentRequired, "consent_given", ConsentMessage)
	}
	for _, f := range requiredFields {
		if strings.TrimSpace(f.value(form)) == "" {
			return models.NewValidationError(models.ErrMissingField, f.name, "Fyll i "+f.label+".")
		}
	}
	if !models.IsValidUrgency(form.Urgency) {
		return models.NewValidationError(models.ErrInvalidUrgency, "urgency", "Välj hur brådskande ärendet är.")
	}
	return nil
}
