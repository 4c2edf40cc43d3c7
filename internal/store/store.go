// Package store keeps at most one reference descriptor per user.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-auth/internal/biometric"
	"github.com/example/face-auth/internal/repository"
)

var (
	// ErrNotFound means the user never enrolled: facial login is unavailable
	// for the account.
	ErrNotFound = errors.New("no enrollment for user")
	// ErrUnauthenticated means the caller identity could not be established.
	ErrUnauthenticated = errors.New("caller identity not established")
	// ErrDuplicateFace means another account already enrolled a matching face.
	ErrDuplicateFace = errors.New("face already enrolled by another account")
)

// Repository is the persistence the store needs.
type Repository interface {
	UpsertEnrollment(ctx context.Context, e *repository.Enrollment) error
	FindEnrollment(ctx context.Context, userID string) (*repository.Enrollment, error)
	CountEnrollments(ctx context.Context, userID string) (int64, error)
	ListEnrollments(ctx context.Context) ([]repository.Enrollment, error)
}

// Record is a user's current reference descriptor.
type Record struct {
	UserID     string
	Descriptor biometric.Descriptor
	EnrolledAt time.Time
}

// Options tunes a Store.
type Options struct {
	Dimension int
	// Threshold is the match threshold used for the duplicate-face check.
	Threshold float64
	// RejectDuplicates turns the duplicate-face warning into ErrDuplicateFace.
	RejectDuplicates bool
}

// Store validates and persists enrollment records.
type Store struct {
	repo    Repository
	opts    Options
	index   *DuplicateIndex
	logger  *zap.Logger
	nowFunc func() time.Time
}

// New constructs a Store. Call Warm to load existing enrollments into the
// duplicate index.
func New(repo Repository, opts Options, logger *zap.Logger) *Store {
	if opts.Dimension <= 0 {
		opts.Dimension = biometric.DefaultDimension
	}
	if opts.Threshold <= 0 {
		opts.Threshold = biometric.DefaultThreshold
	}
	return &Store{
		repo:    repo,
		opts:    opts,
		index:   NewDuplicateIndex(),
		logger:  logger.Named("descriptor_store"),
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// Dimension returns the descriptor length the store accepts.
func (s *Store) Dimension() int {
	return s.opts.Dimension
}

// Warm loads every stored enrollment into the duplicate index.
func (s *Store) Warm(ctx context.Context) error {
	rows, err := s.repo.ListEnrollments(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		d, err := biometric.Decode(row.Descriptor, s.opts.Dimension)
		if err != nil {
			s.logger.Warn("skipping stored descriptor with unexpected shape",
				zap.String("user_id", row.UserID), zap.Error(err))
			continue
		}
		s.index.Upsert(row.UserID, d)
	}
	s.logger.Info("duplicate index warmed", zap.Int("enrollments", s.index.Len()))
	return nil
}

// Enroll stores d as the reference descriptor of userID, replacing any
// earlier one.
func (s *Store) Enroll(ctx context.Context, userID string, d biometric.Descriptor) (*Record, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	if d.Dim() != s.opts.Dimension {
		return nil, fmt.Errorf("%w: got %d values, want %d", biometric.ErrInvalidShape, d.Dim(), s.opts.Dimension)
	}
	if err := s.checkDuplicate(userID, d); err != nil {
		return nil, err
	}

	raw, err := d.MarshalBinary()
	if err != nil {
		return nil, err
	}
	row := &repository.Enrollment{
		UserID:     userID,
		Descriptor: raw,
		Dimension:  d.Dim(),
		EnrolledAt: s.nowFunc(),
	}
	if err := s.repo.UpsertEnrollment(ctx, row); err != nil {
		return nil, err
	}
	s.index.Upsert(userID, d)

	return &Record{UserID: userID, Descriptor: append(biometric.Descriptor(nil), d...), EnrolledAt: row.EnrolledAt}, nil
}

// Fetch returns the reference descriptor of userID or ErrNotFound.
func (s *Store) Fetch(ctx context.Context, userID string) (biometric.Descriptor, error) {
	rec, err := s.FetchRecord(ctx, userID)
	if err != nil {
		return nil, err
	}
	return rec.Descriptor, nil
}

// FetchRecord is Fetch with the enrollment timestamp.
func (s *Store) FetchRecord(ctx context.Context, userID string) (*Record, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrNotFound
	}
	row, err := s.repo.FindEnrollment(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d, err := biometric.Decode(row.Descriptor, s.opts.Dimension)
	if err != nil {
		return nil, err
	}
	return &Record{UserID: row.UserID, Descriptor: d, EnrolledAt: row.EnrolledAt}, nil
}

// Exists reports whether userID has an enrollment.
func (s *Store) Exists(ctx context.Context, userID string) (bool, error) {
	n, err := s.repo.CountEnrollments(ctx, userID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) checkDuplicate(userID string, d biometric.Descriptor) error {
	other, distance, ok := s.index.NearestOther(userID, d)
	if !ok || !biometric.Decide(distance, s.opts.Threshold).Accepted {
		return nil
	}
	s.logger.Warn("descriptor matches another enrolled account",
		zap.String("user_id", userID),
		zap.String("other_user_id", other),
		zap.Bool("rejected", s.opts.RejectDuplicates))
	if s.opts.RejectDuplicates {
		return ErrDuplicateFace
	}
	return nil
}
