// Package auth - jwt.go signs and verifies session tokens. A session token
// names the user and the organization they are acting in, so every tenant
// request carries its tenant without a database round trip.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// Issuer is the iss claim of every session token.
	Issuer = "crm"

	// DefaultSessionTTL applies when the caller passes a zero lifetime.
	DefaultSessionTTL = 24 * time.Hour

	secretEnv       = "CRM_JWT_SECRET"
	minSecretLength = 32
)

// ErrInvalidToken is returned for any token that fails signature, issuer,
// expiry or shape checks. Callers never need the underlying reason.
var ErrInvalidToken = errors.New("invalid session token")

var secret struct {
	once  sync.Once
	value []byte
	err   error
}

// Claims is the session token payload.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	// OrganizationID is the active organization; empty means the user's oldest membership.
	OrganizationID string `json:"org,omitempty"`
	jwt.RegisteredClaims
}

// devMode mirrors config.IsDevMode; config imports auth indirectly.
func devMode() bool {
	switch os.Getenv("DEV_MODE") {
	case "true", "1":
		return true
	}
	return os.Getenv("GIN_MODE") == "debug"
}

func loadSecret() {
	s := os.Getenv(secretEnv)
	switch {
	case s != "":
		if len(s) < minSecretLength {
			slog.Warn("session secret is shorter than recommended", "env", secretEnv, "min_length", minSecretLength)
		}
		secret.value = []byte(s)
	case devMode():
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			secret.err = fmt.Errorf("generate development secret: %w", err)
			return
		}
		secret.value = []byte(hex.EncodeToString(buf))
		slog.Warn(secretEnv + " not set, using a random development secret; sessions will not survive restarts")
	default:
		secret.err = fmt.Errorf("%s is required outside development mode (generate one with: openssl rand -hex 32)", secretEnv)
	}
}

// ValidateJWTSecret resolves the signing secret once. Call it at startup so a
// missing secret fails the process instead of the first login.
func ValidateJWTSecret() error {
	secret.once.Do(loadSecret)
	return secret.err
}

func signingKey() ([]byte, error) {
	if err := ValidateJWTSecret(); err != nil {
		return nil, err
	}
	return secret.value, nil
}

// GenerateJWT issues a session token for userID acting in orgID.
func GenerateJWT(userID, email, orgID string, ttl time.Duration) (string, error) {
	key, err := signingKey()
	if err != nil {
		return "", err
	}
	if ttl == 0 {
		ttl = DefaultSessionTTL
	}

	now := time.Now()
	claims := &Claims{
		UserID:         userID,
		Email:          email,
		OrganizationID: orgID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// ValidateJWT verifies tokenString and returns its claims.
func ValidateJWT(tokenString string) (*Claims, error) {
	key, err := signingKey()
	if err != nil {
		return nil, err
	}

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
