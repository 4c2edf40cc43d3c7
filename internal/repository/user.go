package repository

import (
	"context"
	"strings"
	"time"
)

// User is an account that can authenticate with a password or a face.
type User struct {
	ID           string    `gorm:"primaryKey;size:36"`
	Email        string    `gorm:"column:email;uniqueIndex;size:255;not null"`
	Name         string    `gorm:"column:name;size:255"`
	Role         string    `gorm:"column:role;size:32"`
	PasswordHash string    `gorm:"column:password_hash;size:100"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (User) TableName() string {
	return "users"
}

// NormalizeEmail lower-cases and trims an email for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser inserts a new user.
func (r *Repository) CreateUser(ctx context.Context, user *User) error {
	user.Email = NormalizeEmail(user.Email)
	return r.executeWithRetry(ctx, "repository.create_user", "", func() error {
		return r.db.WithContext(ctx).Create(user).Error
	})
}

// FindUserByEmail returns the user owning email or ErrNotFound.
func (r *Repository) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := r.executeWithRetry(ctx, "repository.find_user_by_email", "", func() error {
		return r.db.WithContext(ctx).First(&user, "email = ?", NormalizeEmail(email)).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindUserByID returns the user with id or ErrNotFound.
func (r *Repository) FindUserByID(ctx context.Context, id string) (*User, error) {
	var user User
	err := r.executeWithRetry(ctx, "repository.find_user_by_id", "", func() error {
		return r.db.WithContext(ctx).First(&user, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}
