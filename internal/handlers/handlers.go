package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/face-auth/internal/auth"
	"github.com/example/face-auth/internal/biometric"
	"github.com/example/face-auth/internal/logging"
	"github.com/example/face-auth/internal/store"
	"github.com/example/face-auth/internal/usecase"
)

// MaxBodySize bounds JSON request bodies. A 128-value descriptor is a few KB.
const MaxBodySize = 64 << 10

// Service is the use case surface the routes depend on.
type Service interface {
	Register(ctx context.Context, userID string, values []float32) (*store.Record, error)
	Descriptor(ctx context.Context, userID string) (*store.Record, error)
	HasFacial(ctx context.Context, email string) (bool, error)
	LoginFacial(ctx context.Context, email string, values []float32) (*usecase.Session, error)
	LoginPassword(ctx context.Context, email, password string) (*usecase.Session, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

type descriptorRequest struct {
	Descriptor []float32 `json:"descriptor"`
}

type facialLoginRequest struct {
	Email      string    `json:"email"`
	Descriptor []float32 `json:"descriptor"`
}

type checkFacialRequest struct {
	Email string `json:"email"`
}

type passwordLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc Service, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	facial := router.Group("/facial", authMiddleware)
	facial.POST("/register", func(c *gin.Context) {
		var req descriptorRequest
		if !bindJSON(c, &req) {
			return
		}
		userID, _ := auth.GetUserID(c.Request.Context())
		rec, err := uc.Register(c.Request.Context(), userID, req.Descriptor)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":     true,
			"enrolled_at": rec.EnrolledAt.Format(time.RFC3339),
		})
	})

	facial.GET("/descriptor", func(c *gin.Context) {
		userID, _ := auth.GetUserID(c.Request.Context())
		rec, err := uc.Descriptor(c.Request.Context(), userID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"descriptor":  []float32(rec.Descriptor),
			"enrolled_at": rec.EnrolledAt.Format(time.RFC3339),
		})
	})

	facial.GET("/metrics", func(c *gin.Context) {
		summary, err := uc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	router.POST("/auth/login-facial", func(c *gin.Context) {
		var req facialLoginRequest
		if !bindJSON(c, &req) {
			return
		}
		session, err := uc.LoginFacial(c.Request.Context(), req.Email, req.Descriptor)
		if err != nil {
			writeError(c, err)
			return
		}
		writeSession(c, session)
	})

	router.POST("/auth/check-facial", func(c *gin.Context) {
		var req checkFacialRequest
		if !bindJSON(c, &req) {
			return
		}
		ok, err := uc.HasFacial(c.Request.Context(), req.Email)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"hasFacial": ok})
	})

	router.POST("/auth/login", func(c *gin.Context) {
		var req passwordLoginRequest
		if !bindJSON(c, &req) {
			return
		}
		session, err := uc.LoginPassword(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			writeError(c, err)
			return
		}
		writeSession(c, session)
	})
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodySize)
	if err := c.ShouldBindJSON(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return false
	}
	return true
}

func writeSession(c *gin.Context, session *usecase.Session) {
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"token":      session.Token,
		"expires_at": session.ExpiresAt.UTC().Format(time.RFC3339),
		"user":       usecase.Summarize(session.User),
	})
}

// writeError maps domain errors to user-safe responses. Anything unknown is
// an internal error and its text is not exposed.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, usecase.ErrMissingIdentity):
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
	case errors.Is(err, biometric.ErrInvalidShape), errors.Is(err, biometric.ErrDimensionMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid face descriptor"})
	case errors.Is(err, store.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "facial login not set up for this account"})
	case errors.Is(err, store.ErrDuplicateFace):
		c.JSON(http.StatusConflict, gin.H{"error": "this face is already registered to another account"})
	case errors.Is(err, usecase.ErrNoEnrollment):
		rejected(c, http.StatusUnauthorized, usecase.ReasonNoEnrollment, "facial login not set up for this account, use your password")
	case errors.Is(err, usecase.ErrDescriptorMismatch):
		rejected(c, http.StatusUnauthorized, usecase.ReasonDescriptorMismatch, "face not recognised, try again")
	case errors.Is(err, usecase.ErrLockedOut):
		rejected(c, http.StatusTooManyRequests, usecase.ReasonLockedOut, "too many failed attempts, try again later")
	case errors.Is(err, usecase.ErrInvalidCredentials):
		rejected(c, http.StatusUnauthorized, usecase.ReasonInvalidCredentials, "invalid email or password")
	default:
		_ = c.Error(err)
		opErr, ok := logging.AsOperationError(err)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		status, message := http.StatusInternalServerError, "internal error"
		if opErr.Transient {
			status, message = http.StatusServiceUnavailable, "service temporarily unavailable, try again"
			c.Header("Retry-After", "1")
		}
		body := gin.H{"error": message}
		if opErr.RequestID != "" {
			body["request_id"] = opErr.RequestID
		}
		c.JSON(status, body)
	}
}

func rejected(c *gin.Context, status int, reason, message string) {
	c.JSON(status, gin.H{"success": false, "reason": reason, "error": message})
}
