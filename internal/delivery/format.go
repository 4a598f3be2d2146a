package delivery

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
	"unicode/utf8"

	"github.com/BTreeMap/OTAI/internal/models"
)

const (
	maxConversationRunes = 5000
	truncationNote       = "\n\n[Konversationen är trunkerad på grund av längd. Fullständig konversation finns i OTAI-systemet.]"
	notGiven             = "Ej angivet"
)

var stockholm = loadStockholm()

func loadStockholm() *time.Location {
	loc, err := time.LoadLocation("Europe/Stockholm")
	if err != nil {
		return time.UTC
	}
	return loc
}

// UrgencyLabel returns the Swedish label used for u in referral texts.
func UrgencyLabel(u models.Urgency) string {
	switch u {
	case models.UrgencyLow:
		return "Låg (2-4 veckor)"
	case models.UrgencyMedium:
		return "Medel (1-2 veckor)"
	case models.UrgencyHigh:
		return "Hög (inom några dagar)"
	default:
		return "Ej angiven"
	}
}

// Subject is the one-line heading of a referral.
func Subject(r models.ReferralForm) string {
	return fmt.Sprintf("Ny Remiss: %s (%s)", r.PatientInfo.Name, UrgencyLabel(r.Urgency))
}

// TruncateConversation limits a transcript to 5000 characters and appends
// a note when anything was cut.
func TruncateConversation(text string) string {
	if utf8.RuneCountInString(text) <= maxConversationRunes {
		return text
	}
	return string([]rune(text)[:maxConversationRunes]) + truncationNote
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "JA"
	}
	return "NEJ"
}

func formatTime(t time.Time) string {
	return t.In(stockholm).Format("2006-01-02 15:04:05")
}

// EmailBody renders the plain-text referral sent to the therapist team.
func EmailBody(r models.ReferralForm) string {
	var b strings.Builder
	p, c, n, s := r.PatientInfo, r.Challenges, r.Needs, r.ConversationSummary

	b.WriteString("NY REMISS FRÅN OTAI\n===================\n\n")

	b.WriteString("PATIENTINFORMATION\n------------------\n")
	fmt.Fprintf(&b, "Namn: %s\n", p.Name)
	fmt.Fprintf(&b, "E-post: %s\n", p.Email)
	fmt.Fprintf(&b, "Telefon: %s\n", p.Phone)
	fmt.Fprintf(&b, "Ålder: %s\n", orDefault(p.Age, notGiven))
	fmt.Fprintf(&b, "Adress: %s\n\n", orDefault(p.Address, notGiven))

	b.WriteString("UTMANINGAR\n----------\n")
	fmt.Fprintf(&b, "Huvudsaklig utmaning:\n%s\n\n", c.Primary)
	fmt.Fprintf(&b, "Varaktighet: %s\n\n", orDefault(c.Duration, notGiven))
	fmt.Fprintf(&b, "Påverkan på vardagen:\n%s\n\n", c.Impact)
	if len(c.Secondary) > 0 {
		b.WriteString("Sekundära utmaningar:\n")
		for _, sec := range c.Secondary {
			fmt.Fprintf(&b, "- %s\n", sec)
		}
		b.WriteString("\n")
	}

	b.WriteString("BEHOV\n-----\n")
	fmt.Fprintf(&b, "Fysiska hjälpmedel: %s\n", yesNo(n.PhysicalAids))
	if len(n.PhysicalAidsList) > 0 {
		fmt.Fprintf(&b, "  - %s\n", strings.Join(n.PhysicalAidsList, ", "))
	}
	fmt.Fprintf(&b, "Hembesök: %s\n", yesNo(n.HomeVisit))
	fmt.Fprintf(&b, "Arbetsplatsbesök: %s\n", yesNo(n.WorkplaceVisit))
	fmt.Fprintf(&b, "Uppföljning: %s\n", yesNo(n.FollowUp))
	if n.Other != "" {
		fmt.Fprintf(&b, "Övrigt: %s\n", n.Other)
	}
	b.WriteString("\n")

	b.WriteString("BRÅDSKANDE\n----------\n")
	fmt.Fprintf(&b, "Nivå: %s\n", UrgencyLabel(r.Urgency))
	if r.UrgencyReason != "" {
		fmt.Fprintf(&b, "Anledning: %s\n", r.UrgencyReason)
	}
	b.WriteString("\n")

	b.WriteString("KONVERSATION MED OTAI\n---------------------\n")
	fmt.Fprintf(&b, "Antal meddelanden: %d\n", s.MessageCount)
	fmt.Fprintf(&b, "Huvudämnen: %s\n", orDefault(strings.Join(s.MainTopics, ", "), "Inga identifierade"))
	fmt.Fprintf(&b, "AI-förslag som prövats: %s\n\n", orDefault(strings.Join(s.AISuggestionsTried, ", "), "Inga"))
	fmt.Fprintf(&b, "Fullständig konversation:\n%s\n\n", TruncateConversation(s.ConversationText))

	if r.AdditionalNotes != "" {
		fmt.Fprintf(&b, "YTTERLIGARE KOMMENTARER\n-----------------------\n%s\n\n", r.AdditionalNotes)
	}

	b.WriteString("METADATA\n--------\n")
	fmt.Fprintf(&b, "Remiss-ID: %s\n", r.ID)
	fmt.Fprintf(&b, "Skapad: %s\n", formatTime(r.CreatedAt))
	consent := "Nej"
	if r.ConsentGiven {
		consent = "Ja"
	}
	if r.ConsentTimestamp != nil {
		consent += " (" + formatTime(*r.ConsentTimestamp) + ")"
	}
	fmt.Fprintf(&b, "Samtycke givet: %s\n", consent)

	return b.String()
}

// NotificationText is the short message variant for SMS-sized channels.
// It carries contact details and urgency; the full transcript stays in
// the system.
func NotificationText(r models.ReferralForm) string {
	var b strings.Builder
	b.WriteString(Subject(r))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Telefon: %s\nE-post: %s\n", r.PatientInfo.Phone, r.PatientInfo.Email)
	fmt.Fprintf(&b, "Utmaning: %s\n", r.Challenges.Primary)
	if len(r.ConversationSummary.MainTopics) > 0 {
		fmt.Fprintf(&b, "Huvudämnen: %s\n", strings.Join(r.ConversationSummary.MainTopics, ", "))
	}
	fmt.Fprintf(&b, "Remiss-ID: %s", r.ID)
	return b.String()
}
