package genai

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/OTAI/internal/escalation"
	"github.com/BTreeMap/OTAI/internal/models"
	"github.com/BTreeMap/OTAI/internal/phase"
)

// HistoryLimit is how many earlier messages are sent with each prompt.
const HistoryLimit = 10

// DefaultSystemPrompt describes the assistant's role and when it should
// suggest a referral.
const DefaultSystemPrompt = `Du är OTAI, en AI-assistent för arbetsterapi och rehabilitering.

DIN ROLL:
- Du gör en första bedömning innan legitimerade arbetsterapeuter tar över.
- Du ger praktiska, konkreta råd om dagliga aktiviteter, ergonomi, hjälpmedel, kognitiva strategier och aktivitetsbalans.
- Du är empatisk och lättförståelig, och tydlig med att du är en AI som inte ersätter en legitimerad arbetsterapeut.

KOMMUNIKATION:
- Svara alltid på svenska.
- Ge 2-4 konkreta förslag per svar och ställ följdfrågor när du behöver veta mer.
- Hänvisa till läkare eller arbetsterapeut vid medicinska frågor eller allvarliga problem.

FÖRESLÅ REMISS TILL LEGITIMERAD ARBETSTERAPEUT NÄR:
1. Användaren behöver fysiska hjälpmedel.
2. Situationen kräver ett personligt besök i hemmet eller på arbetsplatsen.
3. Det behövs uppföljning och kontinuerlig kontakt.
4. Användaren uttrycker att råden inte räcker.
5. Fallet kräver samordning med andra vårdinstanser.
6. Flera meddelanden har gått utan tydlig förbättring.

När du föreslår en remiss, fråga om användaren vill att du skapar en remiss till vårt team.`

// Turn is one earlier message in a prompt.
type Turn struct {
	FromUser bool
	Content  string
}

// Prompt is everything a completer needs for one reply.
type Prompt struct {
	System  string
	Phase   phase.Phase
	History []Turn
	Message string
}

// BuildPrompt assembles a prompt from the system prompt, the phase guidance,
// the last HistoryLimit messages and the new user message. System messages
// are not part of the model's view of the conversation.
func BuildPrompt(systemPrompt string, p phase.Phase, history []models.Message, userMessage string) Prompt {
	var turns []Turn
	for _, m := range history {
		switch m.Role.Kind {
		case models.RoleHuman:
			turns = append(turns, Turn{FromUser: true, Content: m.Content})
		case models.RoleAssistant:
			turns = append(turns, Turn{FromUser: false, Content: m.Content})
		case models.RoleSystem:
		}
	}
	if len(turns) > HistoryLimit {
		turns = turns[len(turns)-HistoryLimit:]
	}
	return Prompt{
		System:  strings.TrimSpace(systemPrompt) + "\n\n" + p.Guidance(),
		Phase:   p,
		History: turns,
		Message: userMessage,
	}
}

// markerInstruction asks a plain-text model to flag escalation in-band.
var markerInstruction = fmt.Sprintf("MÄRK DITT SVAR MED %s i slutet av meddelandet när du föreslår en remiss.", escalation.Marker)

// jsonInstruction asks a structured-output model to flag escalation in a field.
const jsonInstruction = `Svara som JSON med fälten "text" (ditt svar till användaren) och "escalate" (true när du föreslår en remiss, annars false).`

// Text renders the prompt as one plain-text document.
func (p Prompt) Text() string {
	var b strings.Builder
	b.WriteString(p.System)
	b.WriteString("\n\nTIDIGARE KONVERSATION:\n")
	for _, t := range p.History {
		role := "model"
		if t.FromUser {
			role = "user"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, t.Content)
	}
	b.WriteString("\nNYTT MEDDELANDE FRÅN ANVÄNDARE:\n")
	b.WriteString(p.Message)
	b.WriteString("\n\nSvara nu som OTAI, den arbetsterapeutiska AI-assistenten:")
	return b.String()
}
