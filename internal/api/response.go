package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/OTAI/internal/models"
)

// maxBodyBytes limits request bodies.
const maxBodyBytes = 1 << 20

// User-facing texts for errors that carry no message of their own.
const (
	internalErrorMessage = "Ett internt fel uppstod. Försök igen senare."
	notFoundMessage      = "Hittades inte."
	conflictMessage      = "Åtgärden är inte tillåten just nu."
	invalidJSONMessage   = "Ogiltig JSON."
)

// Pre-marshaled fallback so a response can always be written.
var fallbackErrorResponse []byte

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error(internalErrorMessage))
	if err != nil {
		panic(fmt.Sprintf("failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse marshals response before writing any header, so an
// encoding failure still yields a well-formed 500.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// writeError maps err onto a status code and a user-facing message.
func writeError(w http.ResponseWriter, op string, err error) {
	status, message := classifyError(err)
	if status == http.StatusInternalServerError {
		slog.Error(op+": request failed", "error", err)
	} else {
		slog.Debug(op+": request rejected", "status", status, "error", err)
	}
	writeJSONResponse(w, status, models.Error(message))
}

func classifyError(err error) (int, string) {
	message := func(fallback string) string {
		if models.IsValidationError(err) {
			return models.UserMessage(err)
		}
		return fallback
	}
	switch {
	case errors.Is(err, models.ErrUserNotFound),
		errors.Is(err, models.ErrSessionNotFound),
		errors.Is(err, models.ErrReferralNotFound):
		return http.StatusNotFound, message(notFoundMessage)
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict, message(conflictMessage)
	case models.IsValidationError(err):
		return http.StatusBadRequest, models.UserMessage(err)
	default:
		return http.StatusInternalServerError, internalErrorMessage
	}
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		slog.Warn("Server.decodeJSON: invalid JSON", "path", r.URL.Path, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(invalidJSONMessage))
		return false
	}
	return true
}
