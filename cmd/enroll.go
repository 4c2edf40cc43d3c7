package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/face-auth/internal/apiclient"
	"github.com/example/face-auth/internal/camera"
	"github.com/example/face-auth/internal/flow"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enroll your face for facial login",
	Long: `Sign in with a password, capture a face from the camera source and
store it as the account's reference descriptor. Enrolling again replaces
the previous descriptor. The password comes from --password or
FACE_AUTH_PASSWORD.`,
	RunE: runEnroll,
}

func init() {
	addCaptureFlags(enrollCmd)
	enrollCmd.Flags().String("password", "", "Account password")
	rootCmd.AddCommand(enrollCmd)
}

func runEnroll(cmd *cobra.Command, args []string) error {
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

	ctx, cancel := captureContext(cmd)
	defer cancel()

	client := apiclient.New(cfg.APIBaseURL, nil)
	session, err := client.Login(ctx, mustGetString(cmd, "email"), password)
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}

	cache, err := newModelCache(cfg, logger)
	if err != nil {
		return err
	}
	defer cache.Close() //nolint:errcheck

	f := flow.NewEnrollment(cache, camera.Files{Path: mustGetString(cmd, "camera")},
		apiEnroller{client: client, token: session.Token},
		flow.Options{IdleTimeout: cfg.Capture.IdleTimeout}, logger)
	defer f.Reset()

	if err := f.Start(ctx); err != nil {
		return err
	}
	state, err := captureLoop(ctx, cmd, f, mustGetBool(cmd, "yes"), mustGetInt(cmd, "attempts"))
	if err != nil {
		return err
	}
	if state != flow.Enrolled {
		return fmt.Errorf("enrollment ended in state %s", state)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Enrolled %s\n", session.User.Email)
	return nil
}
