// Package testutil provides common test utilities and helpers for OTAI tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BTreeMap/OTAI/internal/account"
	"github.com/BTreeMap/OTAI/internal/api"
	"github.com/BTreeMap/OTAI/internal/delivery"
	"github.com/BTreeMap/OTAI/internal/escalation"
	"github.com/BTreeMap/OTAI/internal/flow"
	"github.com/BTreeMap/OTAI/internal/genai"
	"github.com/BTreeMap/OTAI/internal/metrics"
	"github.com/BTreeMap/OTAI/internal/models"
	"github.com/BTreeMap/OTAI/internal/referral"
	"github.com/BTreeMap/OTAI/internal/repository"
	"github.com/BTreeMap/OTAI/internal/session"
	"github.com/BTreeMap/OTAI/internal/store"
)

// TestEnv is an API server wired to in-memory dependencies, with the mock
// collaborators exposed so tests can script them.
type TestEnv struct {
	Server    *api.Server
	Handler   http.Handler
	Repo      *repository.Repository
	Sessions  *session.Manager
	Tracker   *escalation.Tracker
	Completer *genai.MockCompleter
	Deliverer *delivery.MockDeliverer
	Metrics   *metrics.Metrics
}

// NewTestServer creates a test API server with in-memory dependencies. The
// AI mock answers with replies in order.
func NewTestServer(replies ...string) *TestEnv {
	repo := repository.New(store.NewInMemoryStore())
	m := metrics.New()
	sessions := session.NewManager(repo, session.WithMetrics(m))
	tracker := escalation.NewTracker(repo)
	completer := genai.NewMockCompleter(replies...)
	deliverer := delivery.NewMockDeliverer()

	convo := flow.NewConversationFlow(sessions, tracker,
		flow.WithCompleter(completer),
		flow.WithMessageLog(repo),
		flow.WithMetrics(m),
		flow.WithAITimeout(5*time.Second))
	referrals := referral.NewService(repo, sessions, tracker, deliverer,
		referral.WithMetrics(m),
		referral.WithDeliveryTimeout(5*time.Second))

	server := api.NewServer(api.Deps{
		Repo:         repo,
		Accounts:     account.NewService(repo),
		Sessions:     sessions,
		Flow:         convo,
		Tracker:      tracker,
		Referrals:    referrals,
		Metrics:      m,
		AIConfigured: true,
	})
	return &TestEnv{
		Server:    server,
		Handler:   server.Handler(),
		Repo:      repo,
		Sessions:  sessions,
		Tracker:   tracker,
		Completer: completer,
		Deliverer: deliverer,
		Metrics:   m,
	}
}

// Do sends a request with an optional JSON body through the handler.
func (e *TestEnv) Do(t testing.TB, method, url string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	e.Handler.ServeHTTP(rr, CreateHTTPRequest(t, method, url, body))
	return rr
}

// SignUp registers a patient through the API and returns it.
func (e *TestEnv) SignUp(t testing.TB, email, name string) models.User {
	t.Helper()
	rr := e.Do(t, http.MethodPost, "/users", map[string]string{"email": email, "name": name})
	AssertHTTPStatus(t, http.StatusCreated, rr.Code, "sign up")
	var u models.User
	DecodeResult(t, rr, &u)
	return u
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes the envelope and validates the status field.
func AssertJSONResponse(t testing.TB, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s' (message %v)", expectedStatus, status, response["message"])
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// DecodeResult unmarshals the envelope's result field into target.
func DecodeResult(t testing.TB, rr *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	var envelope struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	MustUnmarshalJSON(t, rr.Body.Bytes(), &envelope)
	if len(envelope.Result) == 0 {
		t.Fatalf("response has no result (status %s, message %q)", envelope.Status, envelope.Message)
	}
	MustUnmarshalJSON(t, envelope.Result, target)
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t testing.TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, url, reqBody)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t testing.TB, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t testing.TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
