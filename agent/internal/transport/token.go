package transport

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// TokenSource supplies the bearer credential for an attempt. Implementations
// are owned by the credential-refresh side; the transport only reads.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed credential.
type StaticToken string

// Token returns the fixed value.
func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

// EnvToken reads the named environment variable on every call.
type EnvToken string

// Token returns the variable's current value; an unset variable is an error.
func (e EnvToken) Token(context.Context) (string, error) {
	v, ok := os.LookupEnv(string(e))
	if !ok {
		return "", fmt.Errorf("token env %s is not set", string(e))
	}
	return v, nil
}

// FileToken reads a token file on every call, so a refresher that rewrites
// the file is picked up by the next attempt.
type FileToken string

// Token returns the file content with surrounding whitespace trimmed.
func (f FileToken) Token(context.Context) (string, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
