package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/face-auth/internal/apiclient"
	"github.com/example/face-auth/internal/biometric"
	"github.com/example/face-auth/internal/flow"
)

// apiEnroller stores descriptors through the HTTP API for a signed-in user.
type apiEnroller struct {
	client *apiclient.Client
	token  string
}

func (e apiEnroller) Enroll(ctx context.Context, d biometric.Descriptor) error {
	err := e.client.Register(ctx, e.token, d)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apiclient.ErrDescriptorRejected),
		errors.Is(err, apiclient.ErrUnauthorized),
		errors.Is(err, apiclient.ErrDuplicateEnrollment):
		return fmt.Errorf("%w: %w", flow.ErrStoreRejected, err)
	default:
		return err
	}
}

// apiAuthenticator submits descriptors to the facial login endpoint.
type apiAuthenticator struct {
	client *apiclient.Client
}

func (a apiAuthenticator) Verify(ctx context.Context, email string, d biometric.Descriptor) (string, error) {
	session, err := a.client.LoginFacial(ctx, email, d)
	switch {
	case err == nil:
		return session.Token, nil
	case errors.Is(err, apiclient.ErrNoEnrollment):
		return "", fmt.Errorf("%w: %w", flow.ErrNoEnrollment, err)
	case errors.Is(err, apiclient.ErrDescriptorMismatch):
		return "", fmt.Errorf("%w: %w", flow.ErrDescriptorMismatch, err)
	case errors.Is(err, apiclient.ErrLockedOut):
		return "", fmt.Errorf("%w: %w", flow.ErrLockedOut, err)
	default:
		return "", err
	}
}
