package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/face-auth/internal/apiclient"
	"github.com/example/face-auth/internal/camera"
	"github.com/example/face-auth/internal/flow"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with your face",
	Long: `Capture a face from the camera source and let the API verify it
against the account's enrolled descriptor. Prints the session token on
success.`,
	RunE: runLogin,
}

func init() {
	addCaptureFlags(loginCmd)
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := captureContext(cmd)
	defer cancel()

	email := mustGetString(cmd, "email")
	client := apiclient.New(cfg.APIBaseURL, nil)
	hasFacial, err := client.CheckFacial(ctx, email)
	if err != nil {
		return err
	}
	if !hasFacial {
		fmt.Fprintln(cmd.OutOrStdout(), flow.MsgNoEnrollment)
		return flow.ErrNoEnrollment
	}

	cache, err := newModelCache(cfg, logger)
	if err != nil {
		return err
	}
	defer cache.Close() //nolint:errcheck

	f := flow.NewVerification(cache, camera.Files{Path: mustGetString(cmd, "camera")},
		apiAuthenticator{client: client},
		flow.Options{IdleTimeout: cfg.Capture.IdleTimeout}, logger)
	defer f.Reset()

	if err := f.Start(ctx, email); err != nil {
		return err
	}
	state, err := captureLoop(ctx, cmd, f, mustGetBool(cmd, "yes"), mustGetInt(cmd, "attempts"))
	switch {
	case state == flow.Accepted:
		fmt.Fprintln(cmd.OutOrStdout(), f.Token())
		return nil
	case state == flow.Rejected:
		return fmt.Errorf("login rejected (%s)", f.Reason())
	case err != nil:
		return err
	default:
		return errors.New("login did not complete")
	}
}
