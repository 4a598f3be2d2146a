package api

import (
	"fmt"
	"net/http"

	"github.com/BTreeMap/OTAI/internal/models"
)

type sendMessageRequest struct {
	Content string `json:"content"`
}

// activeSessionHandler handles GET /users/{userID}/session. A user with no
// active session gets a null result.
func (s *Server) activeSessionHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := s.userFromPath(w, r)
	if !ok {
		return
	}
	session, err := s.Flow.History(r.Context(), u.ID)
	if err != nil {
		writeError(w, "activeSessionHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(session))
}

// sendMessageHandler handles POST /users/{userID}/messages
func (s *Server) sendMessageHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := s.userFromPath(w, r)
	if !ok {
		return
	}
	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	turn, err := s.Flow.SendMessage(r.Context(), *u, req.Content)
	if err != nil {
		writeError(w, "sendMessageHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(turn))
}

// newConversationHandler handles POST /users/{userID}/conversations
func (s *Server) newConversationHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := s.userFromPath(w, r)
	if !ok {
		return
	}
	if err := s.Flow.NewConversation(r.Context(), u.ID); err != nil {
		writeError(w, "newConversationHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Ny konversation startad", nil))
}

// archiveHandler handles GET /users/{userID}/archive, newest first.
func (s *Server) archiveHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := s.userFromPath(w, r)
	if !ok {
		return
	}
	archive, err := s.Sessions.GetArchivedSessions(r.Context(), u.ID)
	if err != nil {
		writeError(w, "archiveHandler", err)
		return
	}
	if archive == nil {
		archive = []models.ChatSession{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(archive))
}

// archivedSessionHandler handles GET /users/{userID}/archive/{sessionID}
func (s *Server) archivedSessionHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := s.userFromPath(w, r)
	if !ok {
		return
	}
	sessionID := r.PathValue("sessionID")
	session, err := s.Sessions.LoadArchivedSession(r.Context(), sessionID, u.ID)
	if err != nil {
		writeError(w, "archivedSessionHandler", err)
		return
	}
	if session == nil {
		writeError(w, "archivedSessionHandler", fmt.Errorf("%w: %s", models.ErrSessionNotFound, sessionID))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(session))
}

// deleteArchivedSessionHandler handles DELETE /users/{userID}/archive/{sessionID}.
// Deleting an unknown session succeeds.
func (s *Server) deleteArchivedSessionHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := s.userFromPath(w, r)
	if !ok {
		return
	}
	if err := s.Sessions.DeleteArchivedSession(r.Context(), r.PathValue("sessionID"), u.ID); err != nil {
		writeError(w, "deleteArchivedSessionHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Konversationen har tagits bort", nil))
}

// resumeSessionHandler handles POST /users/{userID}/archive/{sessionID}/resume
func (s *Server) resumeSessionHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := s.userFromPath(w, r)
	if !ok {
		return
	}
	session, err := s.Flow.ResumeArchived(r.Context(), u.ID, r.PathValue("sessionID"))
	if err != nil {
		writeError(w, "resumeSessionHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(session))
}
