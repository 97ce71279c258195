package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretLen is the shortest HMAC secret accepted for agent tokens.
const MinSecretLen = 32

// clockSkew is the leeway applied to exp/nbf/iat checks.
const clockSkew = 2 * time.Minute

var (
	ErrSecretTooShort = fmt.Errorf("auth: jwt secret must be at least %d bytes", MinSecretLen)
	ErrInvalidToken   = errors.New("auth: invalid token")
	ErrExpiredToken   = errors.New("auth: token expired")
)

// AgentClaims are carried by tokens minted for agents. Subject is the agent name.
type AgentClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// scopeIngest is the only scope the batch endpoint accepts.
const scopeIngest = "ingest"

type agentKey struct{}

// Verifier validates HS256 agent tokens.
type Verifier struct {
	key []byte
	now func() time.Time
}

// NewVerifier returns a Verifier for secret.
func NewVerifier(secret string) (*Verifier, error) {
	if len(secret) < MinSecretLen {
		return nil, ErrSecretTooShort
	}
	return &Verifier{key: []byte(secret), now: time.Now}, nil
}

// Mint signs a token for agent valid for ttl. A zero ttl mints a token without expiry.
func (v *Verifier) Mint(agent string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := AgentClaims{
		Scope: scopeIngest,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  agent,
			IssuedAt: jwt.NewNumericDate(now),
			ID:       uuid.NewString(),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.key)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning its claims.
func (v *Verifier) Verify(token string) (*AgentClaims, error) {
	now := v.now()
	claims := &AgentClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return v.key, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !parsed.Valid || claims.Scope != scopeIngest || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Middleware rejects requests whose bearer token does not verify. The agent
// name from a valid token is stored on the request context.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := bearerToken(r)
		if !ok {
			unauthorized(w)
			return
		}
		claims, err := v.Verify(tok)
		if err != nil {
			slog.Debug("auth: rejected token",
				"path", r.URL.Path, "remote_addr", r.RemoteAddr, "error", err)
			unauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), agentKey{}, claims.Subject)))
	})
}

// AgentFrom returns the agent name set by Verifier.Middleware, if any.
func AgentFrom(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(agentKey{}).(string)
	return s, ok
}
