package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/face-auth/internal/biometric"
	"github.com/example/face-auth/internal/repository"
	"github.com/example/face-auth/internal/usecase"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage accounts",
}

var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create an account with a password",
	Long: `Create an account. The password is read from --password or, when the
flag is empty, from the FACE_AUTH_PASSWORD environment variable.`,
	RunE: runUserAdd,
}

func init() {
	userAddCmd.Flags().String("email", "", "Account email (required)")
	userAddCmd.Flags().String("name", "", "Display name")
	userAddCmd.Flags().String("role", "teacher", "Account role")
	userAddCmd.Flags().String("password", "", "Account password")
	_ = userAddCmd.MarkFlagRequired("email")

	userCmd.AddCommand(userAddCmd)
	rootCmd.AddCommand(userCmd)
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	password := mustGetString(cmd, "password")
	if password == "" {
		password = os.Getenv("FACE_AUTH_PASSWORD")
	}
	if password == "" {
		return errors.New("a password is required (--password or FACE_AUTH_PASSWORD)")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	db, err := repository.Open(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	repo := repository.New(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		return err
	}

	// Only the account operations are used here.
	uc := usecase.NewFacialUseCase(repo, repo, nil, biometric.NewMatcher(cfg.Face.Threshold), nil, nil, logger)
	user, err := uc.CreateUser(ctx, usecase.NewUser{
		Email:    mustGetString(cmd, "email"),
		Name:     mustGetString(cmd, "name"),
		Role:     mustGetString(cmd, "role"),
		Password: password,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created user %s (%s)\n", user.Email, user.ID)
	return nil
}
