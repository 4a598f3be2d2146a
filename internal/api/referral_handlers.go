package api

import (
	"net/http"

	"github.com/BTreeMap/OTAI/internal/models"
	"github.com/BTreeMap/OTAI/internal/referral"
)

type escalationStatus struct {
	State        models.EscalationState `json:"state"`
	ShowReferral bool                   `json:"show_referral"`
}

func (s *Server) currentEscalation(r *http.Request, userID string) (*escalationStatus, error) {
	state, err := s.Tracker.Current(r.Context(), userID)
	if err != nil {
		return nil, err
	}
	return &escalationStatus{State: state, ShowReferral: state == models.EscalationSuggested}, nil
}

// escalationHandler handles GET /users/{userID}/escalation
func (s *Server) escalationHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := s.userFromPath(w, r)
	if !ok {
		return
	}
	status, err := s.currentEscalation(r, u.ID)
	if err != nil {
		writeError(w, "escalationHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(status))
}

// openReferralHandler handles POST /users/{userID}/referrals/open
func (s *Server) openReferralHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := s.userFromPath(w, r)
	if !ok {
		return
	}
	if err := s.Referrals.Open(r.Context(), u.ID); err != nil {
		writeError(w, "openReferralHandler", err)
		return
	}
	status, err := s.currentEscalation(r, u.ID)
	if err != nil {
		writeError(w, "openReferralHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(status))
}

// submitReferralHandler handles POST /users/{userID}/referrals. A sent
// referral answers 201; a saved but undelivered one answers 202 and can be
// retried.
func (s *Server) submitReferralHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := s.userFromPath(w, r)
	if !ok {
		return
	}
	var in referral.DraftInput
	if !decodeJSON(w, r, &in) {
		return
	}
	out, err := s.Referrals.Submit(r.Context(), *u, s.Referrals.NewDraft(u.ID, in))
	if err != nil {
		writeError(w, "submitReferralHandler", err)
		return
	}
	writeOutcome(w, out)
}

// listReferralsHandler handles GET /users/{userID}/referrals
func (s *Server) listReferralsHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := s.userFromPath(w, r)
	if !ok {
		return
	}
	refs, err := s.Referrals.ListForUser(r.Context(), u.ID)
	if err != nil {
		writeError(w, "listReferralsHandler", err)
		return
	}
	if refs == nil {
		refs = []models.ReferralForm{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(refs))
}

// retryReferralHandler handles POST /users/{userID}/referrals/{referralID}/retry
func (s *Server) retryReferralHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := s.userFromPath(w, r)
	if !ok {
		return
	}
	out, err := s.Referrals.Retry(r.Context(), u.ID, r.PathValue("referralID"))
	if err != nil {
		writeError(w, "retryReferralHandler", err)
		return
	}
	writeOutcome(w, out)
}

// deleteReferralHandler handles DELETE /users/{userID}/referrals/{referralID}
func (s *Server) deleteReferralHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := s.userFromPath(w, r)
	if !ok {
		return
	}
	if err := s.Referrals.Delete(r.Context(), u.ID, r.PathValue("referralID")); err != nil {
		writeError(w, "deleteReferralHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Remissen har tagits bort", nil))
}

func writeOutcome(w http.ResponseWriter, out referral.Outcome) {
	status := http.StatusCreated
	if !out.Sent {
		status = http.StatusAccepted
	}
	writeJSONResponse(w, status, models.SuccessWithMessage(out.Message, out))
}
