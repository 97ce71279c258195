// Package security watches the TLS certificate of the collector endpoint.
// Check reports the leaf certificate's expiry; Monitor repeats the check and
// feeds the days left into the agent's metrics so an expiring certificate is
// visible before deliveries start failing.
package security
