// Package auth implements the signed-token primitives: compact HS256 tokens
// minted and verified with a single shared secret. Two token types exist —
// "session" tokens carried as bearer credentials, and one-time "state" tokens
// that bind an OAuth round-trip to the caller origin that started it.
// Verification fails closed: malformed structure, wrong signing method, bad
// signature, wrong token type, or an expired claim all yield an error.
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
	// TokenTypeSession marks long-lived bearer tokens bound to a user
	TokenTypeSession = "session"
	// TokenTypeState marks short-lived one-time OAuth state tokens
	TokenTypeState = "state"

	issuer = "blueprint-hub"
)

var (
	// ErrWrongTokenType is returned when a structurally valid token carries the
	// wrong type claim (e.g. a state token presented as a bearer credential).
	ErrWrongTokenType = errors.New("auth: wrong token type")
)

var (
	signingSecret     string
	signingSecretOnce sync.Once
	signingSecretErr  error
)

// SessionClaims is the payload of a session token
type SessionClaims struct {
	UserID    string `json:"user_id"`
	Handle    string `json:"handle"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// StateClaims is the payload of a one-time OAuth state token
type StateClaims struct {
	Origin    string `json:"origin"`
	Nonce     string `json:"nonce"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

func isDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	ginMode := os.Getenv("GIN_MODE")
	return devMode == "true" || devMode == "1" || ginMode == "debug"
}

func generateRandomSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to a less secure but functional secret
		return fmt.Sprintf("dev-fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// ValidateSigningSecret checks that the shared signing secret is configured.
// In production this fails if BPH_SIGNING_SECRET is not set. In dev mode it
// generates a random secret and logs a warning. Call at application startup.
func ValidateSigningSecret() error {
	signingSecretOnce.Do(func() {
		secret := os.Getenv("BPH_SIGNING_SECRET")

		if secret == "" {
			if isDevMode() {
				signingSecret = generateRandomSecret()
				slog.Warn("BPH_SIGNING_SECRET not set; using auto-generated secret for development")
				slog.Warn("sessions will not survive restarts; set BPH_SIGNING_SECRET for persistent sessions")
			} else {
				signingSecretErr = errors.New("BPH_SIGNING_SECRET environment variable is required in production; " +
					"generate one with: openssl rand -hex 32")
			}
			return
		}

		if len(secret) < 32 {
			slog.Warn("BPH_SIGNING_SECRET is shorter than the recommended 32 characters")
		}

		signingSecret = secret
	})

	return signingSecretErr
}

func getSigningSecret() string {
	if signingSecret == "" {
		if err := ValidateSigningSecret(); err != nil {
			panic(err)
		}
	}
	return signingSecret
}

// MintSessionToken creates a signed session token bound to a user id and handle
func MintSessionToken(userID, handle string, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = 7 * 24 * time.Hour
	}

	claims := &SessionClaims{
		UserID:    userID,
		Handle:    handle,
		TokenType: TokenTypeSession,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    issuer,
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(getSigningSecret()))
}

// MintStateToken creates a short-lived state token binding the caller origin
// and a fresh random nonce. The nonce makes every state token unique so a
// captured authorization URL cannot be replayed after its window closes.
func MintStateToken(origin string, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = 10 * time.Minute
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate state nonce: %w", err)
	}

	claims := &StateClaims{
		Origin:    origin,
		Nonce:     hex.EncodeToString(nonce),
		TokenType: TokenTypeState,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(getSigningSecret()))
}

// ParseSessionToken parses and verifies a session token
func ParseSessionToken(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	if err := parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeSession {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

// ParseStateToken parses and verifies an OAuth state token
func ParseStateToken(tokenString string) (*StateClaims, error) {
	claims := &StateClaims{}
	if err := parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeState {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

func parse(tokenString string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(getSigningSecret()), nil
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("invalid token")
	}
	return nil
}
