package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/obsidianstack/pulse/agent/internal/config"
)

// NewHTTPClient builds the *http.Client used to reach the collector, with the
// request timeout, TLS options and non-bearer auth modes from cfg applied.
// Bearer tokens are added per attempt by the Transport instead (see
// TokenSourceFor) so rotation is observed between retries.
func NewHTTPClient(cfg config.AgentConfig) (*http.Client, error) {
	return ClientFor(cfg.Auth, cfg.TLS, cfg.RequestTimeout)
}

// ClientFor builds an *http.Client for any endpoint the agent talks to, with
// the same TLS and non-bearer auth handling as the collector client.
func ClientFor(auth config.AuthConfig, opts config.TLSConfig, timeout time.Duration) (*http.Client, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // user-configured
	}

	if auth.Mode == "mtls" {
		if err := loadMTLS(tlsCfg, auth); err != nil {
			return nil, fmt.Errorf("transport: build mtls config: %w", err)
		}
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.TLSClientConfig = tlsCfg

	return &http.Client{
		Transport: &authRoundTripper{base: base, auth: auth},
		Timeout:   timeout,
	}, nil
}

// TokenSourceFor returns the bearer TokenSource for auth, or nil when the
// mode is not bearer.
func TokenSourceFor(auth config.AuthConfig) TokenSource {
	if auth.Mode != "bearer" {
		return nil
	}
	if auth.TokenFile != "" {
		return FileToken(auth.TokenFile)
	}
	return EnvToken(auth.TokenEnv)
}

// authRoundTripper injects API key or basic credentials into every request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Key())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}

// loadMTLS adds the client certificate and optional CA pool to tlsCfg.
func loadMTLS(tlsCfg *tls.Config, auth config.AuthConfig) error {
	cert, err := tls.LoadX509KeyPair(auth.CertFile, auth.KeyFile)
	if err != nil {
		return fmt.Errorf("load client cert: %w", err)
	}
	tlsCfg.Certificates = []tls.Certificate{cert}

	if auth.CAFile != "" {
		caPEM, err := os.ReadFile(auth.CAFile)
		if err != nil {
			return fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return fmt.Errorf("no valid certs in ca file %q", auth.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	return nil
}
