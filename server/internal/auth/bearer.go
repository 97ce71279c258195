package auth

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// Bearer returns HTTP middleware that enforces bearer token authentication.
//
// Behaviour:
//   - If mode != "bearer" or token == "", all requests are allowed (pass-through).
//   - Otherwise the Authorization header must be "Bearer <token>".
//   - A missing, malformed, or incorrect token returns 401 with a JSON body.
//
// Agents treat 401 as retryable and re-read their credential on the next
// attempt, so a rotated token is picked up without dropping the batch.
func Bearer(mode, token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if mode != "bearer" || token == "" {
			return next
		}
		want := []byte(token)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := bearerToken(r)
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				slog.Debug("auth: rejected request",
					"path", r.URL.Path, "remote_addr", r.RemoteAddr, "has_token", ok)
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the token from an "Authorization: Bearer <token>" header.
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, tok, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="pulse"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "invalid bearer token"}) //nolint:errcheck
}
