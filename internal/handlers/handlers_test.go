package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/face-auth/internal/auth"
	"github.com/example/face-auth/internal/biometric"
	"github.com/example/face-auth/internal/config"
	"github.com/example/face-auth/internal/logging"
	"github.com/example/face-auth/internal/repository"
	"github.com/example/face-auth/internal/store"
	"github.com/example/face-auth/internal/usecase"
)

const testJWTSecret = "test-secret"

type stubService struct {
	registerUser string
	record       *store.Record
	err          error
	hasFacial    bool
	session      *usecase.Session
}

func (s *stubService) Register(ctx context.Context, userID string, values []float32) (*store.Record, error) {
	s.registerUser = userID
	if s.err != nil {
		return nil, s.err
	}
	return &store.Record{UserID: userID, Descriptor: values, EnrolledAt: time.Now()}, nil
}

func (s *stubService) Descriptor(ctx context.Context, userID string) (*store.Record, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.record, nil
}

func (s *stubService) HasFacial(ctx context.Context, email string) (bool, error) {
	return s.hasFacial, s.err
}

func (s *stubService) LoginFacial(ctx context.Context, email string, values []float32) (*usecase.Session, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.session, nil
}

func (s *stubService) LoginPassword(ctx context.Context, email, password string) (*usecase.Session, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.session, nil
}

func (s *stubService) GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error) {
	return &usecase.MetricsSummary{TotalRequests: 2, AcceptedRequests: 1, AcceptanceRate: 0.5}, s.err
}

func newTestRouter(t *testing.T, svc Service) (*gin.Engine, *auth.Issuer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	issuer, err := auth.NewIssuer(config.JWTConfig{Secret: testJWTSecret, TTL: time.Hour})
	if err != nil {
		t.Fatalf("failed to build issuer: %v", err)
	}
	router := gin.New()
	RegisterRoutes(router, svc, auth.JWTMiddleware(issuer))
	return router, issuer
}

func doJSON(t *testing.T, router *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", auth.BearerToken(token))
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func buildTestToken(t *testing.T, issuer *auth.Issuer, subject string) string {
	t.Helper()
	token, _, err := issuer.Issue(subject)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func TestRegisterRequiresBearerToken(t *testing.T) {
	router, _ := newTestRouter(t, &stubService{})

	resp := doJSON(t, router, http.MethodPost, "/facial/register", "", descriptorRequest{Descriptor: []float32{1}})
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, resp.Code)
	}
}

func TestRegisterUsesTokenSubject(t *testing.T) {
	svc := &stubService{}
	router, issuer := newTestRouter(t, svc)

	resp := doJSON(t, router, http.MethodPost, "/facial/register", buildTestToken(t, issuer, "user-123"), descriptorRequest{Descriptor: []float32{0.1, 0.2}})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, resp.Code, resp.Body.String())
	}
	if svc.registerUser != "user-123" {
		t.Fatalf("expected subject user-123, got %q", svc.registerUser)
	}
}

func TestRegisterRejectsLargeBody(t *testing.T) {
	router, issuer := newTestRouter(t, &stubService{})

	body := `{"descriptor":[` + strings.Repeat("0.123456,", MaxBodySize/9+1) + `0]}`
	req := httptest.NewRequest(http.MethodPost, "/facial/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", auth.BearerToken(buildTestToken(t, issuer, "user-123")))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
}

func TestDescriptorNotEnrolledIs404(t *testing.T) {
	router, issuer := newTestRouter(t, &stubService{err: store.ErrNotFound})

	resp := doJSON(t, router, http.MethodGet, "/facial/descriptor", buildTestToken(t, issuer, "user-123"), nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.Code)
	}
}

func TestLoginFacialSuccess(t *testing.T) {
	svc := &stubService{session: &usecase.Session{
		Token:     "tok",
		ExpiresAt: time.Now().Add(time.Hour),
		User:      &repository.User{ID: "u1", Email: "teacher@example.com", PasswordHash: "secret-hash"},
	}}
	router, _ := newTestRouter(t, svc)

	resp := doJSON(t, router, http.MethodPost, "/auth/login-facial", "", facialLoginRequest{Email: "teacher@example.com", Descriptor: []float32{1}})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	var payload struct {
		Success bool                `json:"success"`
		Token   string              `json:"token"`
		User    usecase.UserSummary `json:"user"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !payload.Success || payload.Token != "tok" || payload.User.ID != "u1" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if strings.Contains(resp.Body.String(), "secret-hash") {
		t.Fatalf("password hash leaked in response")
	}
}

func TestLoginFacialErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		reason string
	}{
		{err: usecase.ErrNoEnrollment, status: http.StatusUnauthorized, reason: usecase.ReasonNoEnrollment},
		{err: usecase.ErrDescriptorMismatch, status: http.StatusUnauthorized, reason: usecase.ReasonDescriptorMismatch},
		{err: usecase.ErrLockedOut, status: http.StatusTooManyRequests, reason: usecase.ReasonLockedOut},
		{err: usecase.ErrMissingIdentity, status: http.StatusBadRequest},
		{err: biometric.ErrInvalidShape, status: http.StatusBadRequest},
		{err: errors.New("pq: connection refused"), status: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		router, _ := newTestRouter(t, &stubService{err: tc.err})
		resp := doJSON(t, router, http.MethodPost, "/auth/login-facial", "", facialLoginRequest{Email: "a@example.com", Descriptor: []float32{1}})
		if resp.Code != tc.status {
			t.Fatalf("%v: expected status %d, got %d", tc.err, tc.status, resp.Code)
		}
		if tc.reason != "" && !strings.Contains(resp.Body.String(), `"reason":"`+tc.reason+`"`) {
			t.Fatalf("%v: expected reason %q in %s", tc.err, tc.reason, resp.Body.String())
		}
		if strings.Contains(resp.Body.String(), "pq:") || strings.Contains(resp.Body.String(), "distance") {
			t.Fatalf("%v: internal detail leaked: %s", tc.err, resp.Body.String())
		}
	}
}

func TestOperationErrorsMapToServerStatus(t *testing.T) {
	cases := []struct {
		err        error
		status     int
		retryAfter string
	}{
		{err: logging.NewOperationError("repository.find_enrollment", "req-7", context.DeadlineExceeded), status: http.StatusServiceUnavailable, retryAfter: "1"},
		{err: logging.NewOperationError("usecase.save_event", "req-7", errors.New("pq: disk full")), status: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		router, _ := newTestRouter(t, &stubService{err: tc.err})
		resp := doJSON(t, router, http.MethodPost, "/auth/login-facial", "", facialLoginRequest{Email: "a@example.com", Descriptor: []float32{1}})
		if resp.Code != tc.status {
			t.Fatalf("%v: expected status %d, got %d", tc.err, tc.status, resp.Code)
		}
		if got := resp.Header().Get("Retry-After"); got != tc.retryAfter {
			t.Fatalf("%v: expected Retry-After %q, got %q", tc.err, tc.retryAfter, got)
		}
		var body map[string]string
		if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["request_id"] != "req-7" {
			t.Fatalf("%v: expected request id in %s", tc.err, resp.Body.String())
		}
		if strings.Contains(resp.Body.String(), "pq:") || strings.Contains(resp.Body.String(), "repository.") {
			t.Fatalf("%v: internal detail leaked: %s", tc.err, resp.Body.String())
		}
	}
}

func TestCheckFacial(t *testing.T) {
	router, _ := newTestRouter(t, &stubService{hasFacial: true})

	resp := doJSON(t, router, http.MethodPost, "/auth/check-facial", "", checkFacialRequest{Email: "a@example.com"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	if strings.TrimSpace(resp.Body.String()) != `{"hasFacial":true}` {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
}

func TestInvalidJSONIsBadRequest(t *testing.T) {
	router, _ := newTestRouter(t, &stubService{})

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
}

func TestMetricsRequiresAuth(t *testing.T) {
	router, issuer := newTestRouter(t, &stubService{})

	if resp := doJSON(t, router, http.MethodGet, "/facial/metrics", "", nil); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, resp.Code)
	}
	resp := doJSON(t, router, http.MethodGet, "/facial/metrics", buildTestToken(t, issuer, "admin"), nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
}
