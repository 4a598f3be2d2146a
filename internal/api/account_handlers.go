package api

import (
	"log/slog"
	"net/http"

	"github.com/BTreeMap/OTAI/internal/models"
)

type signUpRequest struct {
	Email    string          `json:"email"`
	Name     string          `json:"name"`
	UserType models.UserType `json:"user_type"`
}

type signInRequest struct {
	Email string `json:"email"`
}

// userOverview is one row of the provider overview.
type userOverview struct {
	User         models.User `json:"user"`
	MessageCount int         `json:"message_count"`
}

// signUpHandler handles POST /users
func (s *Server) signUpHandler(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserType == "" {
		req.UserType = models.UserTypePatient
	}
	u, err := s.Accounts.SignUp(r.Context(), req.Email, req.Name, req.UserType)
	if err != nil {
		writeError(w, "signUpHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.Success(u))
}

// signInHandler handles POST /signin
func (s *Server) signInHandler(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	u, err := s.Accounts.SignIn(r.Context(), req.Email)
	if err != nil {
		writeError(w, "signInHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(u))
}

// signOutHandler handles POST /signout
func (s *Server) signOutHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.Accounts.SignOut(r.Context()); err != nil {
		writeError(w, "signOutHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Utloggad", nil))
}

// statusHandler handles GET /status
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	current, err := s.Accounts.Current(r.Context())
	if err != nil {
		writeError(w, "statusHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"current_user":  current,
		"ai_configured": s.AIConfigured,
	}))
}

// listUsersHandler handles GET /users, the provider overview of users and
// how many messages each has logged.
func (s *Server) listUsersHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	users, err := s.Repo.AllUsers(ctx)
	if err != nil {
		writeError(w, "listUsersHandler", err)
		return
	}
	counts, err := s.Repo.MessageCounts(ctx)
	if err != nil {
		writeError(w, "listUsersHandler", err)
		return
	}
	overview := make([]userOverview, 0, len(users))
	for _, u := range users {
		overview = append(overview, userOverview{User: u, MessageCount: counts[u.ID]})
	}
	slog.Debug("listUsersHandler: listed users", "count", len(overview))
	writeJSONResponse(w, http.StatusOK, models.Success(overview))
}
