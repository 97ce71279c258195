package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/obsidianstack/pulse/server/internal/config"
)

const deliveryTimeout = 10 * time.Second

// target is a webhook with its URL resolved and its payload format chosen.
type target struct {
	kind    string
	url     string
	payload func(*Alert) any
}

// resolveTargets reads each webhook URL from the environment once. Targets
// whose variable is unset are dropped with a warning.
func resolveTargets(hooks []config.WebhookConfig) []target {
	out := make([]target, 0, len(hooks))
	for _, h := range hooks {
		url := h.URL()
		if url == "" {
			slog.Warn("alerts: webhook url variable is empty, target disabled",
				"type", h.Type, "url_env", h.URLEnv)
			continue
		}
		var fn func(*Alert) any
		switch h.Type {
		case "slack":
			fn = slackPayload
		case "teams":
			fn = teamsPayload
		default:
			fn = genericPayload
		}
		out = append(out, target{kind: h.Type, url: url, payload: fn})
	}
	return out
}

// notify posts a to every target. Failures are logged per target.
func (e *Engine) notify(a *Alert) {
	for _, t := range e.targets {
		if err := e.post(t.url, t.payload(a)); err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", t.kind, "rule", a.RuleName, "state", a.State, "err", err)
			continue
		}
		slog.Debug("alerts: webhook delivered", "type", t.kind, "rule", a.RuleName, "state", a.State)
	}
}

func (e *Engine) post(url string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("webhook answered %s", resp.Status)
	}
	return nil
}

func genericPayload(a *Alert) any {
	return map[string]any{"event": "alert." + a.State, "alert": a}
}

func slackPayload(a *Alert) any {
	return map[string]string{"text": fmt.Sprintf("*%s* %s", label(a), a.Message)}
}

func teamsPayload(a *Alert) any {
	return map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": color(a),
		"summary":    a.RuleName,
		"title":      fmt.Sprintf("Pulse collector %s: %s", a.State, a.RuleName),
		"text":       a.Message,
	}
}

func label(a *Alert) string {
	if a.State == StateResolved {
		return "[RESOLVED]"
	}
	switch a.Severity {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	}
	return "[INFO]"
}

func color(a *Alert) string {
	if a.State == StateResolved {
		return "107C10"
	}
	switch a.Severity {
	case "critical":
		return "D13438"
	case "warning":
		return "FFB900"
	}
	return "0078D4"
}
