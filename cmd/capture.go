package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/face-auth/internal/config"
	"github.com/example/face-auth/internal/extractor"
	"github.com/example/face-auth/internal/flow"
)

// capturer is the part of a flow the capture loop drives.
type capturer interface {
	Capture(ctx context.Context) (flow.State, error)
	Message() string
}

func addCaptureFlags(cmd *cobra.Command) {
	cmd.Flags().String("email", "", "Account email (required)")
	cmd.Flags().String("camera", "", "Image file or directory of frames used as the camera (required)")
	cmd.Flags().Bool("yes", false, "Capture without waiting for Enter")
	cmd.Flags().Int("attempts", 5, "Maximum captures before giving up")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("camera")
}

// captureContext is cancelled on SIGINT/SIGTERM so flows release the camera.
func captureContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func newModelCache(cfg *config.Config, logger *zap.Logger) (*extractor.Cache, error) {
	sources, err := modelSources(cfg.Capture, cfg.Face.Dimension, logger, true)
	if err != nil {
		return nil, err
	}
	return extractor.NewCache(sources, logger), nil
}

// captureLoop triggers captures until the flow leaves the camera states or
// attempts run out. Without auto it waits for Enter before each capture.
func captureLoop(ctx context.Context, cmd *cobra.Command, f capturer, auto bool, attempts int) (flow.State, error) {
	out := cmd.OutOrStdout()
	in := bufio.NewScanner(cmd.InOrStdin())
	fmt.Fprintln(out, f.Message())

	for i := 0; i < attempts; i++ {
		if !auto {
			fmt.Fprint(out, "Press Enter to capture...")
			if !in.Scan() {
				if err := in.Err(); err != nil {
					return flow.Failed, err
				}
				return flow.Idle, flow.ErrCancelled
			}
		}
		state, err := f.Capture(ctx)
		if msg := f.Message(); msg != "" {
			fmt.Fprintln(out, msg)
		}
		if state != flow.CameraActive {
			return state, err
		}
	}
	return flow.CameraActive, fmt.Errorf("no usable capture after %d attempts", attempts)
}
