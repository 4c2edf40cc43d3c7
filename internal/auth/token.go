package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/face-auth/internal/config"
)

var (
	ErrMissingSecret = errors.New("missing JWT secret")
	ErrInvalidToken  = errors.New("invalid token")
)

// Issuer signs and validates HS256 session tokens. Facial and password
// logins receive the same token shape.
type Issuer struct {
	secret   []byte
	audience string
	ttl      time.Duration
	nowFunc  func() time.Time
}

// NewIssuer builds an Issuer from the JWT settings.
func NewIssuer(cfg config.JWTConfig) (*Issuer, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, ErrMissingSecret
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{
		secret:   []byte(secret),
		audience: strings.TrimSpace(cfg.Audience),
		ttl:      ttl,
		nowFunc:  time.Now,
	}, nil
}

// Issue returns a signed token whose subject is userID.
func (i *Issuer) Issue(userID string) (string, time.Time, error) {
	now := i.nowFunc()
	expires := now.Add(i.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	if i.audience != "" {
		claims.Audience = jwt.ClaimStrings{i.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Validate checks signature, expiry and audience and returns the subject.
func (i *Issuer) Validate(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.nowFunc),
	}
	if i.audience != "" {
		opts = append(opts, jwt.WithAudience(i.audience))
	}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", errors.New("missing subject")
	}
	return claims.Subject, nil
}
