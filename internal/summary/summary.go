// Package summary extracts a lightweight summary of a conversation for
// referral records using fixed keyword vocabularies.
package summary

import (
	"sort"
	"strings"

	"github.com/BTreeMap/OTAI/internal/models"
)

type keywordRule struct {
	keywords []string
	label    string
}

var topicRules = []keywordRule{
	{[]string{"medicin"}, "Medicinhantering"},
	{[]string{"smärta", "ont"}, "Smärthantering"},
	{[]string{"städ", "hushåll"}, "Hushållsaktiviteter"},
	{[]string{"koncentration", "minne"}, "Kognitiva svårigheter"},
	{[]string{"ergonomi", "arbete"}, "Arbetsmiljö"},
}

var suggestionRules = []keywordRule{
	{[]string{"rutiner"}, "Skapa rutiner"},
	{[]string{"påminnelse"}, "Använda påminnelser"},
	{[]string{"anpassning"}, "Miljöanpassningar"},
	{[]string{"pauser"}, "Ta regelbundna pauser"},
}

func (r keywordRule) matches(lowered string) bool {
	for _, kw := range r.keywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

// ExtractTopics returns the set of topics mentioned anywhere in messages,
// sorted alphabetically.
func ExtractTopics(messages []models.Message) []string {
	seen := make(map[string]bool)
	for _, m := range messages {
		content := strings.ToLower(m.Content)
		for _, rule := range topicRules {
			if rule.matches(content) {
				seen[rule.label] = true
			}
		}
	}
	topics := make([]string, 0, len(seen))
	for t := range seen {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// ExtractSuggestions returns the suggestions found in assistant messages in
// order of appearance. Repeated suggestions are kept.
func ExtractSuggestions(messages []models.Message) []string {
	suggestions := []string{}
	for _, m := range messages {
		if m.Role.Kind != models.RoleAssistant {
			continue
		}
		content := strings.ToLower(m.Content)
		for _, rule := range suggestionRules {
			if rule.matches(content) {
				suggestions = append(suggestions, rule.label)
			}
		}
	}
	return suggestions
}

// ConversationText renders messages as "speaker: content" paragraphs.
// userName labels human messages whose role carries no name.
func ConversationText(messages []models.Message, userName string) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, speaker(m.Role, userName)+": "+m.Content)
	}
	return strings.Join(parts, "\n\n")
}

func speaker(r models.Role, userName string) string {
	switch r.Kind {
	case models.RoleAssistant:
		return "OTAI"
	case models.RoleSystem:
		return "System"
	default:
		if r.User != nil && r.User.Name != "" {
			return r.User.Name
		}
		return userName
	}
}

// Summarize builds the conversation summary stored on a referral.
func Summarize(messages []models.Message, userName string) models.ConversationSummary {
	return models.ConversationSummary{
		MessageCount:       len(messages),
		MainTopics:         ExtractTopics(messages),
		AISuggestionsTried: ExtractSuggestions(messages),
		ConversationText:   ConversationText(messages, userName),
	}
}
