package security

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"
)

const (
	dialTimeout = 10 * time.Second

	// expiringWithin marks a certificate as "expiring".
	expiringWithin = 30 * 24 * time.Hour
)

// ErrNotTLS is returned by Check for endpoints that are not https.
var ErrNotTLS = errors.New("security: endpoint is not https")

// CertStatus describes the leaf certificate presented by an endpoint.
type CertStatus struct {
	Endpoint string
	Status   string // valid | expiring | expired
	DaysLeft float64
	NotAfter time.Time
	Issuer   string
}

// Check dials the TLS endpoint and returns the status of its leaf certificate.
//
// Non-https endpoints return ErrNotTLS; there is no certificate to inspect.
// Uses a 10-second dial timeout so a slow or unreachable host does not block
// the caller indefinitely.
func Check(ctx context.Context, endpoint string, insecureSkipVerify bool) (*CertStatus, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("security: parse endpoint: %w", err)
	}
	if u.Scheme != "https" {
		return nil, ErrNotTLS
	}

	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		// No explicit port in the URL; append the HTTPS default.
		host = net.JoinHostPort(host, "443")
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			InsecureSkipVerify: insecureSkipVerify, //nolint:gosec // user-configured
		},
	}

	netConn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		return nil, fmt.Errorf("security: dial %s: %w", host, err)
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peerCerts := conn.ConnectionState().PeerCertificates
	if len(peerCerts) == 0 {
		return nil, fmt.Errorf("security: %s presented no certificate", host)
	}

	leaf := peerCerts[0]
	left := time.Until(leaf.NotAfter)

	cs := &CertStatus{
		Endpoint: endpoint,
		DaysLeft: left.Hours() / 24,
		NotAfter: leaf.NotAfter.UTC(),
		Issuer:   leaf.Issuer.CommonName,
	}
	switch {
	case left <= 0:
		cs.Status = "expired"
	case left <= expiringWithin:
		cs.Status = "expiring"
	default:
		cs.Status = "valid"
	}
	return cs, nil
}

// Monitor checks endpoint immediately and then every interval until ctx is
// cancelled, passing each result's DaysLeft to report. Expiring and expired
// certificates are logged as warnings; failed checks are logged and skipped.
// Monitor returns at once for non-https endpoints.
func Monitor(ctx context.Context, endpoint string, insecureSkipVerify bool, interval time.Duration, report func(daysLeft float64)) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		cs, err := Check(ctx, endpoint, insecureSkipVerify)
		switch {
		case errors.Is(err, ErrNotTLS):
			return
		case err != nil:
			if ctx.Err() == nil {
				slog.Warn("security: certificate check failed", "endpoint", endpoint, "err", err)
			}
		default:
			report(cs.DaysLeft)
			if cs.Status != "valid" {
				slog.Warn("security: collector certificate "+cs.Status,
					"endpoint", endpoint,
					"days_left", int(cs.DaysLeft),
					"not_after", cs.NotAfter.Format(time.RFC3339),
					"issuer", cs.Issuer,
				)
			} else {
				slog.Debug("security: collector certificate valid",
					"endpoint", endpoint, "days_left", int(cs.DaysLeft))
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
