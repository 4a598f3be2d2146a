// Package escalation tracks whether a conversation should be handed to a
// licensed occupational therapist, and parses the escalation marker that
// models without structured output append to their replies.
package escalation

import (
	"regexp"
	"strings"
)

// Marker is the control token a plain-text reply ends with when the
// assistant suggests a referral.
const Marker = "[ESKALERING_FÖRESLAGEN]"

var markerPattern = regexp.MustCompile(`\s*` + regexp.QuoteMeta(Marker))

// Reply is an assistant reply split into displayable text and the
// escalation signal.
type Reply struct {
	Text     string `json:"text"`
	Escalate bool   `json:"escalate"`
}

// ParseAssistantReply removes every marker occurrence from text and reports
// whether one was present.
func ParseAssistantReply(text string) Reply {
	if !strings.Contains(text, Marker) {
		return Reply{Text: strings.TrimSpace(text)}
	}
	return Reply{
		Text:     strings.TrimSpace(markerPattern.ReplaceAllString(text, "")),
		Escalate: true,
	}
}
