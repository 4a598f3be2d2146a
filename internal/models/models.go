// Package models defines the core data structures for OTAI.
//
// It includes users, chat messages and sessions, referral forms and the
// API response envelope, which are shared across modules.
package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UserType distinguishes patients from care providers.
type UserType string

const (
	// UserTypePatient is a person seeking advice.
	UserTypePatient UserType = "patient"
	// UserTypeProvider is a care professional browsing conversations.
	UserTypeProvider UserType = "provider"
)

// IsValidUserType checks if the given user type is supported.
func IsValidUserType(ut UserType) bool {
	switch ut {
	case UserTypePatient, UserTypeProvider:
		return true
	default:
		return false
	}
}

// User is a self-asserted identity. It is immutable after sign-up.
type User struct {
	ID       string   `json:"id"`
	Email    string   `json:"email"`
	Name     string   `json:"name"`
	UserType UserType `json:"user_type"`
}

// RoleKind tags the author of a message.
type RoleKind string

const (
	// RoleHuman marks a message written by a User.
	RoleHuman RoleKind = "human"
	// RoleAssistant marks a message produced by the AI assistant.
	RoleAssistant RoleKind = "assistant"
	// RoleSystem marks a message produced by OTAI itself (errors, confirmations).
	RoleSystem RoleKind = "system"
)

// Role is the author of a message. User is set only when Kind is RoleHuman.
type Role struct {
	Kind RoleKind
	User *User
}

// HumanRole returns the role for a message sent by u.
func HumanRole(u User) Role {
	return Role{Kind: RoleHuman, User: &u}
}

// AssistantRole returns the role for assistant messages.
func AssistantRole() Role {
	return Role{Kind: RoleAssistant}
}

// SystemRole returns the role for system messages.
func SystemRole() Role {
	return Role{Kind: RoleSystem}
}

type roleJSON struct {
	Kind RoleKind `json:"kind"`
	User *User    `json:"user,omitempty"`
}

// MarshalJSON encodes the role as {"kind": ..., "user": ...}.
func (r Role) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case RoleHuman:
		if r.User == nil {
			return nil, fmt.Errorf("human role without user")
		}
		return json.Marshal(roleJSON{Kind: r.Kind, User: r.User})
	case RoleAssistant, RoleSystem:
		return json.Marshal(roleJSON{Kind: r.Kind})
	default:
		return nil, fmt.Errorf("unknown role kind %q", r.Kind)
	}
}

// Legacy author ids of assistant and system messages stored as bare users.
const (
	legacyAssistantID = "otai"
	legacySystemID    = "system"
)

type legacyRoleUser struct {
	ID             string   `json:"id"`
	Email          string   `json:"email"`
	Name           string   `json:"name"`
	UserType       UserType `json:"user_type"`
	LegacyUserType UserType `json:"userType"`
}

// UnmarshalJSON accepts the tagged object form, the bare strings
// "assistant" and "system", and a bare user object. A bare user with id
// "otai" is the assistant and one with id "system" is the system.
func (r *Role) UnmarshalJSON(data []byte) error {
	var tag string
	if err := json.Unmarshal(data, &tag); err == nil {
		switch RoleKind(tag) {
		case RoleAssistant, RoleSystem:
			*r = Role{Kind: RoleKind(tag)}
			return nil
		default:
			return fmt.Errorf("unknown role tag %q", tag)
		}
	}

	var raw roleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Kind == "" {
		return r.unmarshalLegacyUser(data)
	}
	switch raw.Kind {
	case RoleHuman:
		if raw.User == nil {
			return fmt.Errorf("human role without user")
		}
		*r = Role{Kind: RoleHuman, User: raw.User}
	case RoleAssistant, RoleSystem:
		*r = Role{Kind: raw.Kind}
	default:
		return fmt.Errorf("unknown role kind %q", raw.Kind)
	}
	return nil
}

func (r *Role) unmarshalLegacyUser(data []byte) error {
	var u legacyRoleUser
	if err := json.Unmarshal(data, &u); err != nil {
		return err
	}
	switch u.ID {
	case "":
		return fmt.Errorf("unknown role kind %q", "")
	case legacyAssistantID:
		*r = Role{Kind: RoleAssistant}
	case legacySystemID:
		*r = Role{Kind: RoleSystem}
	default:
		userType := u.UserType
		if userType == "" {
			userType = u.LegacyUserType
		}
		*r = HumanRole(User{ID: u.ID, Email: u.Email, Name: u.Name, UserType: userType})
	}
	return nil
}

// Message is a single chat message. Messages are immutable; their order in
// a session is insertion order, Timestamp is informational only.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewHumanMessage creates a message authored by u.
func NewHumanMessage(u User, content string, now time.Time) Message {
	return Message{ID: uuid.NewString(), Role: HumanRole(u), Content: content, Timestamp: now}
}

// NewAssistantMessage creates a message authored by the assistant.
func NewAssistantMessage(content string, now time.Time) Message {
	return Message{ID: uuid.NewString(), Role: AssistantRole(), Content: content, Timestamp: now}
}

// NewSystemMessage creates a system-authored message.
func NewSystemMessage(content string, now time.Time) Message {
	return Message{ID: uuid.NewString(), Role: SystemRole(), Content: content, Timestamp: now}
}

// ChatSession is a conversation owned by one user. At most one session per
// user is active; archived sessions are never mutated.
type ChatSession struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Messages       []Message `json:"messages"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Title          string    `json:"title"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
