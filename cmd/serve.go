package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/face-auth/internal/auth"
	"github.com/example/face-auth/internal/biometric"
	"github.com/example/face-auth/internal/config"
	"github.com/example/face-auth/internal/handlers"
	"github.com/example/face-auth/internal/lockout"
	"github.com/example/face-auth/internal/repository"
	"github.com/example/face-auth/internal/store"
	"github.com/example/face-auth/internal/usecase"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the face-auth HTTP API: facial enrollment, descriptor fetch,
facial and password login, and verification metrics.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if err := cfg.RequireJWTSecret(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db, err := repository.Open(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	repo := repository.New(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		defer redisCancel()
		redisClient, err = initRedis(redisCtx, cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}
	limiter := lockout.New(cfg.Lockout, redisClient, logger)

	issuer, err := auth.NewIssuer(cfg.JWT)
	if err != nil {
		return err
	}

	descriptors := store.New(repo, store.Options{
		Dimension:        cfg.Face.Dimension,
		Threshold:        cfg.Face.Threshold,
		RejectDuplicates: cfg.Face.RejectDuplicates,
	}, logger)
	if err := descriptors.Warm(ctx); err != nil {
		logger.Warn("duplicate index warm-up failed", zap.Error(err))
	}

	uc := usecase.NewFacialUseCase(repo, repo, descriptors, biometric.NewMatcher(cfg.Face.Threshold), limiter, issuer, logger)

	router := newRouter(uc, auth.JWTMiddleware(issuer), cfg.CORSOrigins, logger)
	lis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
	}

	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("face-auth API listening",
		zap.String("addr", lis.Addr().String()),
		zap.String("db_driver", cfg.Database.Driver),
		zap.Float64("match_threshold", cfg.Face.Threshold),
		zap.Int("lockout_max_attempts", cfg.Lockout.MaxAttempts))
	server := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	return serveHTTP(sigCtx, server, lis, cfg.ShutdownTimeout, logger)
}

// newRouter mounts the API with recovery, request logging and CORS.
func newRouter(uc handlers.Service, authMiddleware gin.HandlerFunc, origins []string, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestLogger(logger), cors.New(corsConfig(origins)))
	handlers.RegisterRoutes(r, uc, authMiddleware)
	return r
}

func initRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	c.AllowHeaders = append(c.AllowHeaders, "Authorization")
	for _, o := range origins {
		if o == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	c.AllowOrigins = origins
	if len(origins) == 0 {
		c.AllowAllOrigins = true
	}
	return c
}

// serveHTTP serves on lis until ctx is done, then lets in-flight requests
// finish within shutdownTimeout.
func serveHTTP(ctx context.Context, server *http.Server, lis net.Listener, shutdownTimeout time.Duration, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down API", zap.Duration("timeout", shutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
