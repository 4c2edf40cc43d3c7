package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/example/face-auth/internal/extractor"
	"github.com/example/face-auth/internal/extractrpc"
)

var extractorCmd = &cobra.Command{
	Use:   "extractor",
	Short: "Face model extractor commands",
}

var extractorServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Host the face model over gRPC",
	Long: `Load the face model from MODEL_SOURCES (dir: or http(s):// entries) and
serve descriptor extraction on EXTRACTOR_ADDR. Capture clients point a
grpc:// model source at this address.`,
	RunE: runExtractorServe,
}

func init() {
	extractorCmd.AddCommand(extractorServeCmd)
	rootCmd.AddCommand(extractorCmd)
}

func runExtractorServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sources, err := modelSources(cfg.Capture, cfg.Face.Dimension, logger, false)
	if err != nil {
		return err
	}
	cache := extractor.NewCache(sources, logger)
	defer cache.Close() //nolint:errcheck

	model, err := cache.Load(ctx)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", cfg.Capture.ExtractorAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Capture.ExtractorAddr, err)
	}
	srv := grpc.NewServer()
	extractrpc.RegisterExtractorServer(srv, extractrpc.NewServer(model, logger))

	return serveGRPC(ctx, srv, lis, logger)
}

func serveGRPC(ctx context.Context, srv *grpc.Server, lis net.Listener, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(lis)
	}()
	logger.Info("extractor listening", zap.String("addr", lis.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("received shutdown signal")
		srv.GracefulStop()
		return <-errCh
	}
}
