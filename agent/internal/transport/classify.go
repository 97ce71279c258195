package transport

import "net/http"

// Fault classifies the result of a single exchange with the collector.
type Fault int

const (
	// FaultNone is a 2xx response.
	FaultNone Fault = iota
	// FaultClient is any non-2xx status that retrying cannot fix (400, 403, 404, ...).
	FaultClient
	// FaultAuth is a 401; the credential may be rotated before the next attempt.
	FaultAuth
	// FaultRateLimited is a 429.
	FaultRateLimited
	// FaultServer is any 5xx.
	FaultServer
	// FaultNetwork means no response was received at all.
	FaultNetwork
)

// Classify maps an HTTP status code to a Fault. It never returns FaultNetwork.
func Classify(status int) Fault {
	switch {
	case status >= 200 && status < 300:
		return FaultNone
	case status >= http.StatusInternalServerError:
		return FaultServer
	case status == http.StatusUnauthorized:
		return FaultAuth
	case status == http.StatusTooManyRequests:
		return FaultRateLimited
	default:
		return FaultClient
	}
}

// Retryable reports whether another attempt may succeed.
func (f Fault) Retryable() bool {
	switch f {
	case FaultServer, FaultAuth, FaultRateLimited, FaultNetwork:
		return true
	}
	return false
}

// Retryable reports whether a response with the given status is retry-eligible.
func Retryable(status int) bool {
	return Classify(status).Retryable()
}

func (f Fault) String() string {
	switch f {
	case FaultNone:
		return "ok"
	case FaultClient:
		return "client"
	case FaultAuth:
		return "auth"
	case FaultRateLimited:
		return "rate_limited"
	case FaultServer:
		return "server"
	case FaultNetwork:
		return "network"
	default:
		return "unknown"
	}
}
