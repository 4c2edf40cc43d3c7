package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/face-auth/internal/logging"
	"github.com/example/face-auth/internal/repository"
)

// NewUser is the input for CreateUser.
type NewUser struct {
	Email    string
	Name     string
	Role     string
	Password string
}

// CreateUser stores a new account with a bcrypt password hash.
func (uc *FacialUseCase) CreateUser(ctx context.Context, in NewUser) (*repository.User, error) {
	email := repository.NormalizeEmail(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("invalid email %q", in.Email)
	}
	if len(in.Password) < 8 {
		return nil, errors.New("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	role := in.Role
	if role == "" {
		role = "teacher"
	}
	user := &repository.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(in.Name),
		Role:         role,
		PasswordHash: string(hash),
		CreatedAt:    uc.nowFunc(),
	}
	if err := uc.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	uc.logger.Info("user created", zap.String("user_id", user.ID), zap.String("role", role))
	return user, nil
}

// LoginPassword checks a password and issues the same session a facial
// login would.
func (uc *FacialUseCase) LoginPassword(ctx context.Context, email, password string) (*Session, error) {
	requestID := uuid.NewString()
	started := uc.nowFunc()
	opLogger := logging.WithOperation(uc.logger, "usecase.login_password", requestID)

	if repository.NormalizeEmail(email) == "" {
		return nil, ErrMissingIdentity
	}
	user, err := uc.users.FindUserByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, uc.reject(ctx, requestID, "", repository.MethodPassword, ReasonInvalidCredentials, started, ErrInvalidCredentials)
	}
	if err != nil {
		return nil, err
	}
	if user.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		opLogger.Info("password login rejected", zap.String("user_id", user.ID))
		return nil, uc.reject(ctx, requestID, user.ID, repository.MethodPassword, ReasonInvalidCredentials, started, ErrInvalidCredentials)
	}
	return uc.accept(ctx, requestID, user, repository.MethodPassword, started)
}
