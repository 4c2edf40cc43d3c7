// Package apiclient calls the face-auth HTTP API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/example/face-auth/internal/biometric"
)

var (
	ErrNoEnrollment        = errors.New("facial login not set up for this account")
	ErrDescriptorMismatch  = errors.New("face did not match")
	ErrLockedOut           = errors.New("too many failed attempts")
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrNotEnrolled         = errors.New("no enrollment for user")
	ErrUnauthorized        = errors.New("not signed in")
	ErrDescriptorRejected  = errors.New("descriptor rejected")
	ErrDuplicateEnrollment = errors.New("face already registered to another account")
)

// Rejection reason codes returned by the login endpoints.
const (
	reasonNoEnrollment       = "no_enrollment"
	reasonDescriptorMismatch = "descriptor_mismatch"
	reasonLockedOut          = "locked_out"
	reasonInvalidCredentials = "invalid_credentials"
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Reason  string
	Message string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("request failed with status %d (%s): %s", e.Status, e.Reason, e.Message)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.Status, e.Message)
}

// User is the account returned with a session.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// Session is a successful login.
type Session struct {
	Success   bool   `json:"success"`
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	User      User   `json:"user"`
}

// Enrollment is the signed-in user's reference descriptor.
type Enrollment struct {
	Descriptor []float32 `json:"descriptor"`
	EnrolledAt string    `json:"enrolled_at"`
}

// Metrics mirrors the facial metrics summary.
type Metrics struct {
	TotalRequests    int64   `json:"total_requests"`
	AcceptedRequests int64   `json:"accepted_requests"`
	AcceptanceRate   float64 `json:"acceptance_rate"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
}

// Client talks to one API base URL.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for baseURL. A nil httpClient uses a 30s timeout client.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), http: httpClient}
}

// Login signs in with a password.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	body := map[string]string{"email": email, "password": password}
	return doRequestJSON[Session](ctx, c, http.MethodPost, "/auth/login", "", body)
}

// LoginFacial submits a captured descriptor for server-side verification.
func (c *Client) LoginFacial(ctx context.Context, email string, d biometric.Descriptor) (*Session, error) {
	body := map[string]interface{}{"email": email, "descriptor": []float32(d)}
	return doRequestJSON[Session](ctx, c, http.MethodPost, "/auth/login-facial", "", body)
}

// CheckFacial reports whether email can use facial login.
func (c *Client) CheckFacial(ctx context.Context, email string) (bool, error) {
	resp, err := doRequestJSON[struct {
		HasFacial bool `json:"hasFacial"`
	}](ctx, c, http.MethodPost, "/auth/check-facial", "", map[string]string{"email": email})
	if err != nil {
		return false, err
	}
	return resp.HasFacial, nil
}

// Register enrolls d for the user owning token.
func (c *Client) Register(ctx context.Context, token string, d biometric.Descriptor) error {
	body := map[string]interface{}{"descriptor": []float32(d)}
	_, err := doRequestJSON[struct{}](ctx, c, http.MethodPost, "/facial/register", token, body)
	return err
}

// Descriptor fetches the reference descriptor of the user owning token.
func (c *Client) Descriptor(ctx context.Context, token string) (*Enrollment, error) {
	return doRequestJSON[Enrollment](ctx, c, http.MethodGet, "/facial/descriptor", token, nil)
}

// Metrics fetches the facial verification metrics.
func (c *Client) Metrics(ctx context.Context, token string) (*Metrics, error) {
	return doRequestJSON[Metrics](ctx, c, http.MethodGet, "/facial/metrics", token, nil)
}

func doRequestJSON[T any](ctx context.Context, c *Client, method, endpoint, token string, requestBody any) (*T, error) {
	var bodyReader io.Reader
	if requestBody != nil {
		jsonBody, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("could not marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if requestBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classify(resp.StatusCode, endpoint, body)
	}

	var result T
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("could not unmarshal response: %w", err)
	}
	return &result, nil
}

// classify turns an error response into an *APIError wrapped by the
// matching sentinel.
func classify(status int, endpoint string, body []byte) error {
	var payload struct {
		Reason string `json:"reason"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error == "" {
		payload.Error = strings.TrimSpace(string(body))
	}
	apiErr := &APIError{Status: status, Reason: payload.Reason, Message: payload.Error}

	var sentinel error
	switch {
	case payload.Reason == reasonNoEnrollment:
		sentinel = ErrNoEnrollment
	case payload.Reason == reasonDescriptorMismatch:
		sentinel = ErrDescriptorMismatch
	case payload.Reason == reasonLockedOut:
		sentinel = ErrLockedOut
	case payload.Reason == reasonInvalidCredentials:
		sentinel = ErrInvalidCredentials
	case status == http.StatusNotFound && endpoint == "/facial/descriptor":
		sentinel = ErrNotEnrolled
	case status == http.StatusUnauthorized:
		sentinel = ErrUnauthorized
	case status == http.StatusConflict:
		sentinel = ErrDuplicateEnrollment
	case status == http.StatusBadRequest && endpoint == "/facial/register":
		sentinel = ErrDescriptorRejected
	default:
		return apiErr
	}
	return fmt.Errorf("%w: %w", sentinel, apiErr)
}
