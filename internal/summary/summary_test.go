package summary

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/BTreeMap/OTAI/internal/models"
)

var (
	now  = time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	anna = models.User{ID: "u1", Name: "Anna", UserType: models.UserTypePatient}
)

func TestExtractTopicsIsASortedSet(t *testing.T) {
	msgs := []models.Message{
		models.NewHumanMessage(anna, "Jag har ont i ryggen när jag städar", now),
		models.NewAssistantMessage("Smärta vid hushållsarbete är vanligt", now),
		models.NewHumanMessage(anna, "Och jag glömmer min medicin", now),
	}
	want := []string{"Arbetsmiljö", "Hushållsaktiviteter", "Medicinhantering", "Smärthantering"}
	if diff := cmp.Diff(want, ExtractTopics(msgs)); diff != "" {
		t.Errorf("topics mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractTopicsEmpty(t *testing.T) {
	assert.Empty(t, ExtractTopics(nil))
	assert.Empty(t, ExtractTopics([]models.Message{models.NewHumanMessage(anna, "Hej", now)}))
}

func TestExtractSuggestionsOnlyFromAssistantInOrder(t *testing.T) {
	msgs := []models.Message{
		models.NewHumanMessage(anna, "Jag har försökt med rutiner", now),
		models.NewAssistantMessage("Ta pauser och skapa rutiner", now),
		models.NewSystemMessage("påminnelse", now),
		models.NewAssistantMessage("Fler rutiner och en påminnelse i telefonen", now),
	}
	want := []string{"Skapa rutiner", "Ta regelbundna pauser", "Skapa rutiner", "Använda påminnelser"}
	assert.Equal(t, want, ExtractSuggestions(msgs))
}

func TestSummarize(t *testing.T) {
	msgs := []models.Message{
		models.NewAssistantMessage("Hej! Hur kan jag hjälpa?", now),
		models.NewHumanMessage(anna, "Koncentration på arbete", now),
		models.NewSystemMessage("Ursäkta, något gick fel: timeout", now),
	}
	got := Summarize(msgs, "Fallback")

	assert.Equal(t, 3, got.MessageCount)
	assert.Equal(t, []string{"Arbetsmiljö", "Kognitiva svårigheter"}, got.MainTopics)
	assert.Empty(t, got.AISuggestionsTried)
	assert.Equal(t,
		"OTAI: Hej! Hur kan jag hjälpa?\n\nAnna: Koncentration på arbete\n\nSystem: Ursäkta, något gick fel: timeout",
		got.ConversationText)
}

func TestConversationTextFallsBackToUserName(t *testing.T) {
	msg := models.Message{Role: models.Role{Kind: models.RoleHuman, User: &models.User{ID: "u1"}}, Content: "hej"}
	assert.Equal(t, "Anna: hej", ConversationText([]models.Message{msg}, "Anna"))
}
