package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/OTAI/internal/models"
	"github.com/BTreeMap/OTAI/internal/store"
)

func newRepo(t *testing.T) (*Repository, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	return New(st), st
}

func TestUsersUpsertAndLookup(t *testing.T) {
	ctx := context.Background()
	r, _ := newRepo(t)

	anna := models.User{ID: "u1", Email: "Anna@Example.com", Name: "Anna", UserType: models.UserTypePatient}
	require.NoError(t, r.SaveUser(ctx, anna))
	require.NoError(t, r.SaveUser(ctx, models.User{ID: "u2", Email: "b@example.com", Name: "Bo", UserType: models.UserTypeProvider}))

	anna.Name = "Anna K"
	require.NoError(t, r.SaveUser(ctx, anna))

	users, err := r.AllUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "Anna K", users[0].Name)

	found, err := r.FindUserByEmail(ctx, "  anna@example.COM ")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "u1", found.ID)

	missing, err := r.UserByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCurrentUser(t *testing.T) {
	ctx := context.Background()
	r, _ := newRepo(t)

	u, err := r.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Nil(t, u)

	require.NoError(t, r.SaveCurrentUser(ctx, models.User{ID: "u1", Email: "a@x", Name: "A", UserType: models.UserTypePatient}))
	u, err = r.CurrentUser(ctx)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "u1", u.ID)

	require.NoError(t, r.ClearCurrentUser(ctx))
	u, err = r.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestMalformedValueIsTreatedAsAbsent(t *testing.T) {
	ctx := context.Background()
	r, st := newRepo(t)

	require.NoError(t, st.Set(ctx, KeySessions, "{not json"))
	require.NoError(t, st.Set(ctx, KeyActiveSessionPrefix+"u1", "garbage"))

	archive, err := r.ArchivedSessions(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, archive)

	active, err := r.ActiveSession(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, active)

	// Writing over a corrupt document replaces it.
	require.NoError(t, r.PutArchivedSessions(ctx, "u1", []models.ChatSession{{ID: "s1", UserID: "u1"}}))
	archive, err = r.ArchivedSessions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, archive, 1)
}

func TestActiveSessionSlots(t *testing.T) {
	ctx := context.Background()
	r, _ := newRepo(t)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	s := models.ChatSession{
		ID:             "s1",
		UserID:         "u1",
		Messages:       []models.Message{models.NewAssistantMessage("Hej", now)},
		CreatedAt:      now,
		LastActivityAt: now,
		Title:          "Ny konversation",
	}
	require.NoError(t, r.PutActiveSession(ctx, "u1", s))
	require.NoError(t, r.PutActiveSession(ctx, "u2", models.ChatSession{ID: "s2", UserID: "u2"}))

	got, err := r.ActiveSession(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	if diff := cmp.Diff(s, *got); diff != "" {
		t.Errorf("active session mismatch (-want +got):\n%s", diff)
	}

	ids, err := r.ActiveSessionUserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, ids)

	require.NoError(t, r.DeleteActiveSession(ctx, "u1"))
	got, err = r.ActiveSession(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestArchivesArePerUser(t *testing.T) {
	ctx := context.Background()
	r, _ := newRepo(t)

	require.NoError(t, r.PutArchivedSessions(ctx, "u1", []models.ChatSession{{ID: "a"}}))
	require.NoError(t, r.PutArchivedSessions(ctx, "u2", []models.ChatSession{{ID: "b"}, {ID: "c"}}))

	u1, err := r.ArchivedSessions(ctx, "u1")
	require.NoError(t, err)
	u2, err := r.ArchivedSessions(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, u1, 1)
	assert.Len(t, u2, 2)

	require.NoError(t, r.PutArchivedSessions(ctx, "u1", nil))
	u1, err = r.ArchivedSessions(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, u1)
}

func TestLegacyMessageLog(t *testing.T) {
	ctx := context.Background()
	r, _ := newRepo(t)
	now := time.Now()

	require.NoError(t, r.AppendMessage(ctx, "u1", models.NewAssistantMessage("a", now)))
	require.NoError(t, r.AppendMessage(ctx, "u1", models.NewAssistantMessage("b", now)))
	require.NoError(t, r.AppendMessage(ctx, "u2", models.NewAssistantMessage("c", now)))

	msgs, err := r.Messages(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].Content)
	assert.Equal(t, "b", msgs[1].Content)

	counts, err := r.MessageCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"u1": 2, "u2": 1}, counts)

	require.NoError(t, r.ClearMessages(ctx, "u1"))
	msgs, err = r.Messages(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestReferralCRUD(t *testing.T) {
	ctx := context.Background()
	r, _ := newRepo(t)

	require.NoError(t, r.SaveReferral(ctx, models.ReferralForm{ID: "r1", UserID: "u1", Status: models.ReferralStatusDraft}))
	require.NoError(t, r.SaveReferral(ctx, models.ReferralForm{ID: "r2", UserID: "u2", Status: models.ReferralStatusDraft}))

	require.NoError(t, r.UpdateReferralStatus(ctx, "r1", models.ReferralStatusSubmitted, ""))
	got, err := r.ReferralByID(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.ReferralStatusSubmitted, got.Status)

	err = r.UpdateReferralStatus(ctx, "missing", models.ReferralStatusSent, "")
	assert.True(t, errors.Is(err, models.ErrReferralNotFound))

	mine, err := r.ReferralsByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "r1", mine[0].ID)

	require.NoError(t, r.DeleteReferral(ctx, "r1"))
	require.NoError(t, r.DeleteReferral(ctx, "r1"))
	all, err := r.Referrals(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "r2", all[0].ID)
}

func TestEscalationStateAndClearAll(t *testing.T) {
	ctx := context.Background()
	r, st := newRepo(t)

	rec, err := r.EscalationState(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, r.PutEscalationState(ctx, models.EscalationRecord{UserID: "u1", State: models.EscalationSuggested}))
	rec, err = r.EscalationState(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.EscalationSuggested, rec.State)

	require.NoError(t, st.Set(ctx, "unrelated", "keep"))
	require.NoError(t, r.ClearAllData(ctx))

	keys, err := st.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"unrelated"}, keys)
}

// slowStore delays reads like a database round trip would.
type slowStore struct {
	*store.InMemoryStore
	delay time.Duration
}

func (s *slowStore) Get(ctx context.Context, key string) (string, bool, error) {
	time.Sleep(s.delay)
	return s.InMemoryStore.Get(ctx, key)
}

func TestConcurrentWritesAcrossUsers(t *testing.T) {
	ctx := context.Background()
	r := New(&slowStore{InMemoryStore: store.NewInMemoryStore(), delay: 2 * time.Millisecond})

	const users = 20
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := fmt.Sprintf("u%d", i)
			assert.NoError(t, r.SaveReferral(ctx, models.ReferralForm{ID: fmt.Sprintf("ref-%d", i), UserID: userID, Status: models.ReferralStatusDraft}))
			assert.NoError(t, r.PutArchivedSessions(ctx, userID, []models.ChatSession{{ID: "s-" + userID, UserID: userID}}))
			assert.NoError(t, r.AppendMessage(ctx, userID, models.NewSystemMessage("hej", time.Now())))
		}(i)
	}
	wg.Wait()

	refs, err := r.Referrals(ctx)
	require.NoError(t, err)
	assert.Len(t, refs, users)

	counts, err := r.MessageCounts(ctx)
	require.NoError(t, err)
	assert.Len(t, counts, users)

	for i := 0; i < users; i++ {
		archive, err := r.ArchivedSessions(ctx, fmt.Sprintf("u%d", i))
		require.NoError(t, err)
		assert.Len(t, archive, 1)
	}
}
