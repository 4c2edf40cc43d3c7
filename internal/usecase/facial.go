package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/face-auth/internal/biometric"
	"github.com/example/face-auth/internal/lockout"
	"github.com/example/face-auth/internal/logging"
	"github.com/example/face-auth/internal/repository"
	"github.com/example/face-auth/internal/store"
)

var (
	// ErrMissingIdentity means no claimed email accompanied a login attempt.
	ErrMissingIdentity = errors.New("claimed identity required")
	// ErrNoEnrollment means facial login is unavailable for the claimed account.
	ErrNoEnrollment = errors.New("facial login not set up for this account")
	// ErrDescriptorMismatch means the captured face did not match the reference.
	ErrDescriptorMismatch = errors.New("face did not match")
	// ErrLockedOut means too many failed facial attempts for the claimed account.
	ErrLockedOut = errors.New("too many failed attempts")
	// ErrInvalidCredentials means a password login failed.
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// Rejection reasons stored in verification events.
const (
	ReasonNoEnrollment       = "no_enrollment"
	ReasonDescriptorMismatch = "descriptor_mismatch"
	ReasonLockedOut          = "locked_out"
	ReasonInvalidCredentials = "invalid_credentials"
)

// UserRepository defines the account lookups needed by the use cases.
type UserRepository interface {
	CreateUser(ctx context.Context, user *repository.User) error
	FindUserByEmail(ctx context.Context, email string) (*repository.User, error)
	FindUserByID(ctx context.Context, id string) (*repository.User, error)
}

// EventRepository persists verification decisions.
type EventRepository interface {
	SaveEvent(ctx context.Context, event *repository.VerificationEvent) error
	AggregateMetrics(ctx context.Context, method string) (*repository.MetricsAggregation, error)
}

// DescriptorStore is the reference descriptor storage.
type DescriptorStore interface {
	Enroll(ctx context.Context, userID string, d biometric.Descriptor) (*store.Record, error)
	FetchRecord(ctx context.Context, userID string) (*store.Record, error)
	Exists(ctx context.Context, userID string) (bool, error)
	Dimension() int
}

// TokenIssuer issues session tokens.
type TokenIssuer interface {
	Issue(userID string) (string, time.Time, error)
}

// Session is the result of an accepted login, identical for every method.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      *repository.User
}

// FacialUseCase owns enrollment and the authoritative server-side verification.
type FacialUseCase struct {
	users       UserRepository
	events      EventRepository
	descriptors DescriptorStore
	matcher     biometric.Matcher
	limiter     lockout.Limiter
	tokens      TokenIssuer
	logger      *zap.Logger
	nowFunc     func() time.Time
}

// NewFacialUseCase constructs the use case. A nil limiter disables lockout.
func NewFacialUseCase(users UserRepository, events EventRepository, descriptors DescriptorStore, matcher biometric.Matcher, limiter lockout.Limiter, tokens TokenIssuer, logger *zap.Logger) *FacialUseCase {
	if limiter == nil {
		limiter = lockout.Disabled{}
	}
	return &FacialUseCase{
		users:       users,
		events:      events,
		descriptors: descriptors,
		matcher:     matcher,
		limiter:     limiter,
		tokens:      tokens,
		logger:      logger.Named("facial_usecase"),
		nowFunc:     func() time.Time { return time.Now().UTC() },
	}
}

// Register enrolls values as the reference descriptor of the authenticated user.
func (uc *FacialUseCase) Register(ctx context.Context, userID string, values []float32) (*store.Record, error) {
	if userID == "" {
		return nil, store.ErrUnauthenticated
	}
	d, err := biometric.New(values, uc.descriptors.Dimension())
	if err != nil {
		uc.logger.Warn("rejected malformed descriptor", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	if _, err := uc.users.FindUserByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			uc.logger.Warn("enrollment for unknown account", zap.String("user_id", userID))
			return nil, store.ErrUnauthenticated
		}
		return nil, err
	}
	rec, err := uc.descriptors.Enroll(ctx, userID, d)
	if err != nil {
		return nil, err
	}
	uc.logger.Info("face enrolled", zap.String("user_id", userID))
	return rec, nil
}

// Descriptor returns the reference record of the authenticated user.
func (uc *FacialUseCase) Descriptor(ctx context.Context, userID string) (*store.Record, error) {
	if userID == "" {
		return nil, store.ErrUnauthenticated
	}
	return uc.descriptors.FetchRecord(ctx, userID)
}

// HasFacial reports whether email belongs to an account with an enrollment.
// Unknown accounts report false.
func (uc *FacialUseCase) HasFacial(ctx context.Context, email string) (bool, error) {
	if repository.NormalizeEmail(email) == "" {
		return false, ErrMissingIdentity
	}
	user, err := uc.users.FindUserByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return uc.descriptors.Exists(ctx, user.ID)
}

// LoginFacial fetches the claimed account's reference descriptor, matches the
// captured one against it and issues a session on acceptance. The distance
// never leaves this method.
func (uc *FacialUseCase) LoginFacial(ctx context.Context, email string, values []float32) (*Session, error) {
	requestID := uuid.NewString()
	started := uc.nowFunc()
	opLogger := logging.WithOperation(uc.logger, "usecase.login_facial", requestID)

	email = repository.NormalizeEmail(email)
	if email == "" {
		return nil, ErrMissingIdentity
	}
	candidate, err := biometric.New(values, uc.descriptors.Dimension())
	if err != nil {
		opLogger.Warn("rejected malformed descriptor", zap.Error(err))
		return nil, err
	}

	allowed, err := uc.limiter.Acquire(ctx, email, requestID)
	if err != nil {
		opLogger.Error("lockout check failed", zap.Error(err))
		return nil, err
	}
	if !allowed {
		opLogger.Warn("facial login locked out")
		return nil, uc.reject(ctx, requestID, "", repository.MethodFacial, ReasonLockedOut, started, ErrLockedOut)
	}
	// The reservation stays counted only for a failed match.
	keep := false
	defer func() {
		if keep {
			return
		}
		if err := uc.limiter.Release(context.WithoutCancel(ctx), email, requestID); err != nil {
			opLogger.Warn("failed to release lockout reservation", zap.Error(err))
		}
	}()

	// Fetching
	user, err := uc.users.FindUserByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		opLogger.Info("facial login for unknown account")
		return nil, uc.reject(ctx, requestID, "", repository.MethodFacial, ReasonNoEnrollment, started, ErrNoEnrollment)
	}
	if err != nil {
		return nil, err
	}
	rec, err := uc.descriptors.FetchRecord(ctx, user.ID)
	if errors.Is(err, store.ErrNotFound) {
		opLogger.Info("facial login without enrollment", zap.String("user_id", user.ID))
		return nil, uc.reject(ctx, requestID, user.ID, repository.MethodFacial, ReasonNoEnrollment, started, ErrNoEnrollment)
	}
	if err != nil {
		return nil, err
	}

	// Matching
	decision, err := uc.matcher.Match(rec.Descriptor, candidate)
	if err != nil {
		opLogger.Error("stored descriptor incompatible with candidate", zap.String("user_id", user.ID), zap.Error(err))
		return nil, err
	}
	opLogger.Debug("match decision",
		zap.String("user_id", user.ID),
		zap.Float64("distance", decision.Distance),
		zap.Float64("threshold", decision.Threshold))

	if !decision.Accepted {
		keep = true
		opLogger.Info("facial login rejected", zap.String("user_id", user.ID))
		return nil, uc.reject(ctx, requestID, user.ID, repository.MethodFacial, ReasonDescriptorMismatch, started, ErrDescriptorMismatch)
	}

	keep = true
	if err := uc.limiter.Reset(ctx, email); err != nil {
		opLogger.Warn("failed to reset lockout counter", zap.Error(err))
	}
	session, err := uc.accept(ctx, requestID, user, repository.MethodFacial, started)
	if err != nil {
		return nil, err
	}
	opLogger.Info("facial login accepted", zap.String("user_id", user.ID))
	return session, nil
}

func (uc *FacialUseCase) accept(ctx context.Context, requestID string, user *repository.User, method string, started time.Time) (*Session, error) {
	token, expires, err := uc.tokens.Issue(user.ID)
	if err != nil {
		return nil, logging.NewOperationError("usecase.issue_token", requestID, err)
	}
	if err := uc.record(ctx, requestID, user.ID, method, repository.OutcomeAccepted, "", started); err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: expires, User: user}, nil
}

// reject records the rejection and returns outcome, or the persistence error.
func (uc *FacialUseCase) reject(ctx context.Context, requestID, userID, method, reason string, started time.Time, outcome error) error {
	if err := uc.record(ctx, requestID, userID, method, repository.OutcomeRejected, reason, started); err != nil {
		return err
	}
	return outcome
}

func (uc *FacialUseCase) record(ctx context.Context, requestID, userID, method, outcome, reason string, started time.Time) error {
	event := &repository.VerificationEvent{
		RequestID: requestID,
		UserID:    userID,
		Method:    method,
		Outcome:   outcome,
		Reason:    reason,
		LatencyMs: uc.nowFunc().Sub(started).Milliseconds(),
		CreatedAt: uc.nowFunc(),
	}
	if err := uc.events.SaveEvent(ctx, event); err != nil {
		opErr := &logging.OperationError{Operation: "usecase.save_event", RequestID: requestID, Transient: logging.IsTransient(err), Err: err}
		uc.logger.Error("failed to persist verification event", opErr.Fields()...)
		return opErr
	}
	return nil
}

// UserSummary is the public view of an account.
type UserSummary struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// Summarize strips private fields from user.
func Summarize(user *repository.User) UserSummary {
	if user == nil {
		return UserSummary{}
	}
	return UserSummary{ID: user.ID, Email: user.Email, Name: user.Name, Role: user.Role}
}

