package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	// Only the agent section is present; the server section falls back to defaults.
	p := writeConfig(t, `agent:
  collector_url: "http://localhost:8080/v1/batches"
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != DefaultHTTPPort {
		t.Errorf("http_port: got %d, want %d", cfg.Server.HTTPPort, DefaultHTTPPort)
	}
	if cfg.Server.Dedup.TTL != DefaultDedupTTL {
		t.Errorf("dedup.ttl: got %v, want %v", cfg.Server.Dedup.TTL, DefaultDedupTTL)
	}
	if cfg.Server.Dedup.Recent != DefaultRecentRecords {
		t.Errorf("dedup.recent: got %d, want %d", cfg.Server.Dedup.Recent, DefaultRecentRecords)
	}
	if cfg.Server.Stream.Interval != DefaultStreamInterval {
		t.Errorf("stream.interval: got %v, want %v", cfg.Server.Stream.Interval, DefaultStreamInterval)
	}
	if cfg.Server.MaxBatchBytes != DefaultMaxBatchBytes {
		t.Errorf("max_batch_bytes: got %d, want %d", cfg.Server.MaxBatchBytes, DefaultMaxBatchBytes)
	}
	if cfg.Server.Level() != slog.LevelInfo {
		t.Errorf("level: got %v, want info", cfg.Server.Level())
	}
}

func TestLoad_FullServer(t *testing.T) {
	p := writeConfig(t, `server:
  http_port: 9091
  log_level: debug
  auth:
    mode: bearer
    token_env: PULSE_COLLECTOR_TOKEN
  dedup:
    ttl: 30m
    recent: 50
  stream:
    interval: 1s
  alerts:
    rules:
      - name: high-duplicates
        condition: "duplicate_pct > 20"
        severity: warning
        cooldown: 5m
    webhooks:
      - type: slack
        url_env: SLACK_URL
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := cfg.Server
	if s.HTTPPort != 9091 {
		t.Errorf("http_port: got %d, want 9091", s.HTTPPort)
	}
	if s.Level() != slog.LevelDebug {
		t.Errorf("level: got %v, want debug", s.Level())
	}
	if s.Auth.Mode != "bearer" || s.Auth.TokenEnv != "PULSE_COLLECTOR_TOKEN" {
		t.Errorf("auth: got %+v", s.Auth)
	}
	if s.Dedup.TTL != 30*time.Minute || s.Dedup.Recent != 50 {
		t.Errorf("dedup: got %+v", s.Dedup)
	}
	if s.Stream.Interval != time.Second {
		t.Errorf("stream.interval: got %v, want 1s", s.Stream.Interval)
	}
	if len(s.Alerts.Rules) != 1 || s.Alerts.Rules[0].Cooldown != 5*time.Minute {
		t.Errorf("alerts.rules: got %+v", s.Alerts.Rules)
	}
	if len(s.Alerts.Webhooks) != 1 || s.Alerts.Webhooks[0].Type != "slack" {
		t.Errorf("alerts.webhooks: got %+v", s.Alerts.Webhooks)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"port out of range": `server:
  http_port: 70000
`,
		"unknown auth mode": `server:
  auth:
    mode: apikey
`,
		"bearer without token env": `server:
  auth:
    mode: bearer
`,
		"jwt without secret env": `server:
  auth:
    mode: jwt
`,
		"negative dedup ttl": `server:
  dedup:
    ttl: -1s
`,
		"zero stream interval": `server:
  stream:
    interval: 0s
`,
		"zero max batch bytes": `server:
  max_batch_bytes: 0
`,
		"bad log level": `server:
  log_level: verbose
`,
		"rule without condition": `server:
  alerts:
    rules:
      - name: r1
`,
		"unknown webhook type": `server:
  alerts:
    webhooks:
      - type: pagerduty
        url_env: PD_URL
`,
		"bad yaml": `server: [`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Fatal("Load: expected error, got nil")
			}
		})
	}
}

func TestLoad_JWTMode(t *testing.T) {
	cfg, err := Load(writeConfig(t, `server:
  auth:
    mode: jwt
    token_env: PULSE_JWT_SECRET
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Auth.Mode != "jwt" || cfg.Server.Auth.TokenEnv != "PULSE_JWT_SECRET" {
		t.Errorf("auth: got %+v", cfg.Server.Auth)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load: expected error for missing file")
	}
}

func TestAuthConfig_Token(t *testing.T) {
	t.Setenv("TEST_COLLECTOR_TOKEN", "s3cret")
	a := AuthConfig{Mode: "bearer", TokenEnv: "TEST_COLLECTOR_TOKEN"}
	if got := a.Token(); got != "s3cret" {
		t.Errorf("Token: got %q, want s3cret", got)
	}
	if got := (AuthConfig{}).Token(); got != "" {
		t.Errorf("Token with no env: got %q, want empty", got)
	}
}

func TestWebhookConfig_URL(t *testing.T) {
	t.Setenv("TEST_HOOK_URL", "https://hooks.example.com/x")
	w := WebhookConfig{Type: "http", URLEnv: "TEST_HOOK_URL"}
	if got := w.URL(); got != "https://hooks.example.com/x" {
		t.Errorf("URL: got %q", got)
	}
}
