// Package repository provides typed load/save of OTAI entities on top of a
// key-value store.
//
// Values are JSON documents. A value that fails to decode is logged and
// treated as absent; backend I/O errors are returned to the caller.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/BTreeMap/OTAI/internal/models"
	"github.com/BTreeMap/OTAI/internal/store"
)

// Storage keys. The otai_ prefix keeps compatibility with data written by
// earlier versions of the application.
const (
	KeyCurrentUser         = "otai_current_user"
	KeyUsers               = "otai_users"
	KeyMessages            = "otai_messages"
	KeySessions            = "otai_sessions"
	KeyReferrals           = "otai_referrals"
	KeyActiveSessionPrefix = "otai_active_session_"
	KeyEscalationPrefix    = "otai_escalation_"
)

// Repository reads and writes entities through a store.Store.
//
// The users, messages, sessions and referrals keys each hold data for every
// user, so their read-modify-write updates are serialized by mu.
type Repository struct {
	st store.Store
	mu sync.Mutex
}

// New creates a repository over st.
func New(st store.Store) *Repository {
	return &Repository{st: st}
}

func activeSessionKey(userID string) string {
	return KeyActiveSessionPrefix + userID
}

func escalationKey(userID string) string {
	return KeyEscalationPrefix + userID
}

// loadJSON decodes the value at key into a T. found is false when the key
// is missing or its value is malformed.
func loadJSON[T any](ctx context.Context, st store.Store, key string) (T, bool, error) {
	var zero T
	raw, found, err := st.Get(ctx, key)
	if err != nil {
		return zero, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if !found || raw == "" {
		return zero, false, nil
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		slog.Warn("Repository.load: malformed value ignored", "key", key, "error", err)
		return zero, false, nil
	}
	return v, true, nil
}

func saveJSON(ctx context.Context, st store.Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := st.Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// CurrentUser returns the signed-in user, or nil when nobody is signed in.
func (r *Repository) CurrentUser(ctx context.Context) (*models.User, error) {
	u, found, err := loadJSON[models.User](ctx, r.st, KeyCurrentUser)
	if err != nil || !found {
		return nil, err
	}
	return &u, nil
}

// SaveCurrentUser marks u as the signed-in user.
func (r *Repository) SaveCurrentUser(ctx context.Context, u models.User) error {
	return saveJSON(ctx, r.st, KeyCurrentUser, u)
}

// ClearCurrentUser signs the current user out.
func (r *Repository) ClearCurrentUser(ctx context.Context) error {
	return r.st.Delete(ctx, KeyCurrentUser)
}

// AllUsers returns every registered user in registration order.
func (r *Repository) AllUsers(ctx context.Context) ([]models.User, error) {
	users, _, err := loadJSON[[]models.User](ctx, r.st, KeyUsers)
	return users, err
}

// SaveUser inserts u or replaces the user with the same id.
func (r *Repository) SaveUser(ctx context.Context, u models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	users, err := r.AllUsers(ctx)
	if err != nil {
		return err
	}
	replaced := false
	for i := range users {
		if users[i].ID == u.ID {
			users[i] = u
			replaced = true
			break
		}
	}
	if !replaced {
		users = append(users, u)
	}
	return saveJSON(ctx, r.st, KeyUsers, users)
}

// FindUserByEmail looks a user up by email, ignoring case and surrounding
// whitespace. It returns nil when no user matches.
func (r *Repository) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	users, err := r.AllUsers(ctx)
	if err != nil {
		return nil, err
	}
	want := strings.ToLower(strings.TrimSpace(email))
	for _, u := range users {
		if strings.ToLower(strings.TrimSpace(u.Email)) == want {
			u := u
			return &u, nil
		}
	}
	return nil, nil
}

// UserByID returns the user with id, or nil.
func (r *Repository) UserByID(ctx context.Context, id string) (*models.User, error) {
	users, err := r.AllUsers(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.ID == id {
			u := u
			return &u, nil
		}
	}
	return nil, nil
}

// Messages returns the legacy per-user message log.
func (r *Repository) Messages(ctx context.Context, userID string) ([]models.Message, error) {
	all, _, err := loadJSON[map[string][]models.Message](ctx, r.st, KeyMessages)
	if err != nil {
		return nil, err
	}
	return all[userID], nil
}

// MessageCounts returns the number of logged messages per user.
func (r *Repository) MessageCounts(ctx context.Context) (map[string]int, error) {
	all, _, err := loadJSON[map[string][]models.Message](ctx, r.st, KeyMessages)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(all))
	for id, msgs := range all {
		counts[id] = len(msgs)
	}
	return counts, nil
}

// AppendMessage adds msg to the end of the user's legacy message log.
func (r *Repository) AppendMessage(ctx context.Context, userID string, msg models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	all, _, err := loadJSON[map[string][]models.Message](ctx, r.st, KeyMessages)
	if err != nil {
		return err
	}
	if all == nil {
		all = make(map[string][]models.Message)
	}
	all[userID] = append(all[userID], msg)
	return saveJSON(ctx, r.st, KeyMessages, all)
}

// ClearMessages removes the user's legacy message log.
func (r *Repository) ClearMessages(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	all, found, err := loadJSON[map[string][]models.Message](ctx, r.st, KeyMessages)
	if err != nil || !found {
		return err
	}
	if _, ok := all[userID]; !ok {
		return nil
	}
	delete(all, userID)
	return saveJSON(ctx, r.st, KeyMessages, all)
}

// ActiveSession returns the raw active-session slot of a user without any
// expiry check, or nil when the slot is empty.
func (r *Repository) ActiveSession(ctx context.Context, userID string) (*models.ChatSession, error) {
	s, found, err := loadJSON[models.ChatSession](ctx, r.st, activeSessionKey(userID))
	if err != nil || !found {
		return nil, err
	}
	return &s, nil
}

// PutActiveSession overwrites the user's active-session slot.
func (r *Repository) PutActiveSession(ctx context.Context, userID string, s models.ChatSession) error {
	return saveJSON(ctx, r.st, activeSessionKey(userID), s)
}

// DeleteActiveSession empties the user's active-session slot.
func (r *Repository) DeleteActiveSession(ctx context.Context, userID string) error {
	if err := r.st.Delete(ctx, activeSessionKey(userID)); err != nil {
		return fmt.Errorf("failed to delete active session of %s: %w", userID, err)
	}
	return nil
}

// ActiveSessionUserIDs lists the users that currently have an active-session slot.
func (r *Repository) ActiveSessionUserIDs(ctx context.Context) ([]string, error) {
	keys, err := r.st.Keys(ctx, KeyActiveSessionPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, KeyActiveSessionPrefix))
	}
	return ids, nil
}

// ArchivedSessions returns the user's archive, most recent first.
func (r *Repository) ArchivedSessions(ctx context.Context, userID string) ([]models.ChatSession, error) {
	all, _, err := loadJSON[map[string][]models.ChatSession](ctx, r.st, KeySessions)
	if err != nil {
		return nil, err
	}
	return all[userID], nil
}

// PutArchivedSessions replaces the user's archive.
func (r *Repository) PutArchivedSessions(ctx context.Context, userID string, sessions []models.ChatSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	all, _, err := loadJSON[map[string][]models.ChatSession](ctx, r.st, KeySessions)
	if err != nil {
		return err
	}
	if all == nil {
		all = make(map[string][]models.ChatSession)
	}
	if len(sessions) == 0 {
		delete(all, userID)
	} else {
		all[userID] = sessions
	}
	return saveJSON(ctx, r.st, KeySessions, all)
}

// Referrals returns every stored referral.
func (r *Repository) Referrals(ctx context.Context) ([]models.ReferralForm, error) {
	refs, _, err := loadJSON[[]models.ReferralForm](ctx, r.st, KeyReferrals)
	return refs, err
}

// ReferralByID returns the referral with id, or nil.
func (r *Repository) ReferralByID(ctx context.Context, id string) (*models.ReferralForm, error) {
	refs, err := r.Referrals(ctx)
	if err != nil {
		return nil, err
	}
	for _, ref := range refs {
		if ref.ID == id {
			ref := ref
			return &ref, nil
		}
	}
	return nil, nil
}

// SaveReferral inserts ref or replaces the referral with the same id.
func (r *Repository) SaveReferral(ctx context.Context, ref models.ReferralForm) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveReferral(ctx, ref)
}

func (r *Repository) saveReferral(ctx context.Context, ref models.ReferralForm) error {
	refs, err := r.Referrals(ctx)
	if err != nil {
		return err
	}
	replaced := false
	for i := range refs {
		if refs[i].ID == ref.ID {
			refs[i] = ref
			replaced = true
			break
		}
	}
	if !replaced {
		refs = append(refs, ref)
	}
	return saveJSON(ctx, r.st, KeyReferrals, refs)
}

// UpdateReferralStatus sets the status and failure reason of a stored
// referral. It returns models.ErrReferralNotFound when id is unknown.
func (r *Repository) UpdateReferralStatus(ctx context.Context, id string, status models.ReferralStatus, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref, err := r.ReferralByID(ctx, id)
	if err != nil {
		return err
	}
	if ref == nil {
		return fmt.Errorf("%w: %s", models.ErrReferralNotFound, id)
	}
	ref.Status = status
	ref.LastError = lastError
	return r.saveReferral(ctx, *ref)
}

// ReferralsByUser returns the referrals created by userID.
func (r *Repository) ReferralsByUser(ctx context.Context, userID string) ([]models.ReferralForm, error) {
	refs, err := r.Referrals(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.ReferralForm
	for _, ref := range refs {
		if ref.UserID == userID {
			out = append(out, ref)
		}
	}
	return out, nil
}

// DeleteReferral removes the referral with id. Unknown ids are a no-op.
func (r *Repository) DeleteReferral(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	refs, err := r.Referrals(ctx)
	if err != nil {
		return err
	}
	kept := refs[:0]
	for _, ref := range refs {
		if ref.ID != id {
			kept = append(kept, ref)
		}
	}
	if len(kept) == len(refs) {
		return nil
	}
	return saveJSON(ctx, r.st, KeyReferrals, kept)
}

// EscalationState returns the user's escalation record, or nil when none is stored.
func (r *Repository) EscalationState(ctx context.Context, userID string) (*models.EscalationRecord, error) {
	rec, found, err := loadJSON[models.EscalationRecord](ctx, r.st, escalationKey(userID))
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

// PutEscalationState stores the user's escalation record.
func (r *Repository) PutEscalationState(ctx context.Context, rec models.EscalationRecord) error {
	return saveJSON(ctx, r.st, escalationKey(rec.UserID), rec)
}

// ClearAllData removes every OTAI key from the store.
func (r *Repository) ClearAllData(ctx context.Context) error {
	keys, err := r.st.Keys(ctx, "otai_")
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}
	for _, k := range keys {
		if err := r.st.Delete(ctx, k); err != nil {
			return fmt.Errorf("failed to delete %s: %w", k, err)
		}
	}
	slog.Info("Repository.ClearAllData: cleared", "keys", len(keys))
	return nil
}
