package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/face-auth/internal/config"
	"github.com/example/face-auth/internal/logging"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "face-auth",
	Short: "Face descriptor enrollment and verification",
	Long: `face-auth enrolls a reference face descriptor per account and verifies
login attempts against it. It runs the HTTP API (serve), hosts a face model
over gRPC (extractor serve) and drives enrollment and facial login from a
camera source (enroll, login).`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before reading the environment")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	config.LoadDotEnv(envFile)
}

// setup loads the configuration and builds the logger every command uses.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
