// Package account implements self-asserted sign-up and sign-in. There are no
// passwords: a user is identified by the email address they give.
package account

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/BTreeMap/OTAI/internal/models"
)

// User-facing messages for account errors.
const (
	EmailTakenMessage   = "En användare med denna e-post finns redan"
	UserNotFoundMessage = "Användaren finns inte. Skapa ett konto först."
)

// Repository is the persistence the account service needs.
type Repository interface {
	CurrentUser(ctx context.Context) (*models.User, error)
	SaveCurrentUser(ctx context.Context, u models.User) error
	ClearCurrentUser(ctx context.Context) error
	SaveUser(ctx context.Context, u models.User) error
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// Service manages users and the signed-in user.
type Service struct {
	repo Repository
	// mu serializes sign-ups so the uniqueness check and insert are atomic.
	mu sync.Mutex
}

// NewService creates an account service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// SignUp registers a new user and signs them in. Emails are unique ignoring
// case and surrounding whitespace.
func (s *Service) SignUp(ctx context.Context, email, name string, userType models.UserType) (*models.User, error) {
	email = strings.TrimSpace(email)
	name = strings.TrimSpace(name)
	switch {
	case email == "":
		return nil, models.NewValidationError(models.ErrEmptyEmail, "email", "Fyll i e-postadress.")
	case name == "":
		return nil, models.NewValidationError(models.ErrEmptyName, "name", "Fyll i namn.")
	case !models.IsValidUserType(userType):
		return nil, models.NewValidationError(models.ErrInvalidUserType, "user_type", "Välj patient eller vårdgivare.")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.repo.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if existing != nil {
		return nil, models.NewValidationError(models.ErrEmailTaken, "email", EmailTakenMessage)
	}

	u := models.User{ID: uuid.NewString(), Email: email, Name: name, UserType: userType}
	if err := s.repo.SaveUser(ctx, u); err != nil {
		return nil, fmt.Errorf("failed to save user: %w", err)
	}
	if err := s.repo.SaveCurrentUser(ctx, u); err != nil {
		return nil, fmt.Errorf("failed to save current user: %w", err)
	}
	slog.Info("AccountService.SignUp: user registered", "userID", u.ID, "userType", u.UserType)
	return &u, nil
}

// SignIn makes the user with email the current user.
func (s *Service) SignIn(ctx context.Context, email string) (*models.User, error) {
	u, err := s.repo.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if u == nil {
		return nil, models.NewValidationError(models.ErrUserNotFound, "email", UserNotFoundMessage)
	}
	if err := s.repo.SaveCurrentUser(ctx, *u); err != nil {
		return nil, fmt.Errorf("failed to save current user: %w", err)
	}
	slog.Debug("AccountService.SignIn: signed in", "userID", u.ID)
	return u, nil
}

// SignOut clears the current user. Sessions and referrals are kept.
func (s *Service) SignOut(ctx context.Context) error {
	return s.repo.ClearCurrentUser(ctx)
}

// Current returns the signed-in user, or nil.
func (s *Service) Current(ctx context.Context) (*models.User, error) {
	return s.repo.CurrentUser(ctx)
}
