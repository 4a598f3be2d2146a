// Package phase derives the conversation phase from how many messages the
// user has written. The phase shapes how the assistant is prompted.
package phase

import "github.com/BTreeMap/OTAI/internal/models"

// Phase is a stage of the conversation.
type Phase string

const (
	Exploratory Phase = "exploratory"
	Deepening   Phase = "deepening"
	Advisory    Phase = "advisory"
)

// Classify maps a count of user messages, including the one about to be
// sent, to a phase. Negative counts are treated as zero.
func Classify(userMessageCount int) Phase {
	switch {
	case userMessageCount <= 2:
		return Exploratory
	case userMessageCount <= 5:
		return Deepening
	default:
		return Advisory
	}
}

// CountHumanMessages counts the messages written by a user.
func CountHumanMessages(messages []models.Message) int {
	n := 0
	for _, m := range messages {
		if m.Role.Kind == models.RoleHuman {
			n++
		}
	}
	return n
}

// ForNextMessage returns the phase for a new user message sent after history.
func ForNextMessage(history []models.Message) Phase {
	return Classify(CountHumanMessages(history) + 1)
}

// Guidance returns the prompt paragraph that steers the assistant in phase p.
func (p Phase) Guidance() string {
	switch p {
	case Deepening:
		return `SAMTALSFAS: FÖRDJUPNING
Du har en grundläggande bild av situationen. Ge 2-4 konkreta, praktiska strategier som passar användarens vardag och fråga hur de fungerar.`
	case Advisory:
		return `SAMTALSFAS: RÅDGIVNING
Sammanfatta det ni har pratat om och de förslag som redan getts. Överväg om situationen behöver en legitimerad arbetsterapeut och föreslå i så fall en remiss.`
	default:
		return `SAMTALSFAS: UTFORSKANDE
Ställ öppna följdfrågor för att förstå användarens situation, vardag och vad som är svårast just nu innan du ger råd.`
	}
}

// String implements fmt.Stringer.
func (p Phase) String() string {
	return string(p)
}
