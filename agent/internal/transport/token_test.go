package transport

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianstack/pulse/agent/internal/config"
)

func TestStaticToken(t *testing.T) {
	tok, err := StaticToken("abc").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)
}

func TestEnvToken(t *testing.T) {
	t.Setenv("PULSE_TEST_TOKEN", "first")
	src := EnvToken("PULSE_TEST_TOKEN")

	tok, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", tok)

	t.Setenv("PULSE_TEST_TOKEN", "rotated")
	tok, err = src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rotated", tok)

	_, err = EnvToken("PULSE_TEST_TOKEN_MISSING").Token(context.Background())
	assert.Error(t, err)
}

func TestFileToken_RereadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("one\n"), 0o600))
	src := FileToken(path)

	tok, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "one", tok)

	require.NoError(t, os.WriteFile(path, []byte("two"), 0o600))
	tok, err = src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "two", tok)

	_, err = FileToken(filepath.Join(t.TempDir(), "missing")).Token(context.Background())
	assert.Error(t, err)
}

func TestTokenSourceFor(t *testing.T) {
	assert.Nil(t, TokenSourceFor(config.AuthConfig{Mode: "none"}))
	assert.Nil(t, TokenSourceFor(config.AuthConfig{Mode: "apikey"}))
	assert.Equal(t, FileToken("/tok"), TokenSourceFor(config.AuthConfig{Mode: "bearer", TokenFile: "/tok", TokenEnv: "X"}))
	assert.Equal(t, EnvToken("X"), TokenSourceFor(config.AuthConfig{Mode: "bearer", TokenEnv: "X"}))
}
