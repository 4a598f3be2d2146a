package session

import (
	"strings"
	"unicode/utf8"

	"github.com/BTreeMap/OTAI/internal/models"
)

// FallbackTitle is used when no message can name the session.
const FallbackTitle = "Ny konversation"

const maxTitleRunes = 50

// DeriveTitle names a session after the trimmed content of its first
// non-assistant message, truncated to 50 characters plus "...". Only a
// session without such a message gets FallbackTitle.
func DeriveTitle(messages []models.Message) string {
	for _, msg := range messages {
		if msg.Role.Kind == models.RoleAssistant {
			continue
		}
		content := strings.TrimSpace(msg.Content)
		if utf8.RuneCountInString(content) <= maxTitleRunes {
			return content
		}
		return string([]rune(content)[:maxTitleRunes]) + "..."
	}
	return FallbackTitle
}
