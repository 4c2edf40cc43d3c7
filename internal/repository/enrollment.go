package repository

import (
	"context"
	"time"

	"gorm.io/gorm/clause"
)

// Enrollment stores the single reference descriptor of a user as
// little-endian float32 bytes.
type Enrollment struct {
	UserID     string    `gorm:"column:user_id;primaryKey;size:64"`
	Descriptor []byte    `gorm:"column:descriptor;not null"`
	Dimension  int       `gorm:"column:dimension;not null"`
	EnrolledAt time.Time `gorm:"column:enrolled_at;not null"`
}

// TableName overrides the default table name.
func (Enrollment) TableName() string {
	return "enrollments"
}

// UpsertEnrollment writes the enrollment, replacing any previous row for the
// same user in a single statement.
func (r *Repository) UpsertEnrollment(ctx context.Context, e *Enrollment) error {
	return r.executeWithRetry(ctx, "repository.upsert_enrollment", e.UserID, func() error {
		return r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"descriptor", "dimension", "enrolled_at"}),
		}).Create(e).Error
	})
}

// FindEnrollment returns the enrollment of userID or ErrNotFound.
func (r *Repository) FindEnrollment(ctx context.Context, userID string) (*Enrollment, error) {
	var e Enrollment
	err := r.executeWithRetry(ctx, "repository.find_enrollment", userID, func() error {
		return r.db.WithContext(ctx).First(&e, "user_id = ?", userID).Error
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CountEnrollments returns how many rows exist for userID.
func (r *Repository) CountEnrollments(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := r.executeWithRetry(ctx, "repository.count_enrollments", userID, func() error {
		return r.db.WithContext(ctx).Model(&Enrollment{}).Where("user_id = ?", userID).Count(&n).Error
	})
	return n, err
}

// ListEnrollments returns every enrollment, used to warm the duplicate index.
func (r *Repository) ListEnrollments(ctx context.Context) ([]Enrollment, error) {
	var out []Enrollment
	err := r.executeWithRetry(ctx, "repository.list_enrollments", "", func() error {
		return r.db.WithContext(ctx).Order("user_id").Find(&out).Error
	})
	return out, err
}
