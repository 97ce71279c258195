// Package transport delivers event batches to the collector over HTTP.
//
// Transport.Send performs one logical delivery with bounded retries:
// MaxRetries+1 attempts, waiting InitialDelay*Multiplier^(n-1) before retry n
// (1s, 2s, 4s with the defaults). Connection-level failures and responses
// classified as retryable (5xx, 401, 429) consume retries; 2xx and every
// other status return immediately. When retries run out on a retryable status
// the last response is returned as an Outcome rather than an error; only
// network exhaustion (ErrNetwork) and a cancelled backoff wait
// (ErrInterrupted) are reported as a *DeliveryError.
//
// The transport holds no per-call state and is safe for concurrent use.
// Credentials come from a TokenSource that is consulted on every attempt, so
// a token rotated by an external refresher after a 401 is used on the retry.
//
// Breaker wraps any Sender with a sony/gobreaker circuit breaker;
// NewHTTPClient builds the *http.Client (timeouts, mTLS, API key or basic
// auth) that the transport uses as its Exchanger.
package transport
