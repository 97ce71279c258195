// Package scraper turns Prometheus-format endpoints into event records.
//
// Each configured source is polled on its own interval. Every metric family
// in the exposition (or only those listed in the source's metrics filter)
// becomes one record of type "metric" with the fields source, metric, kind,
// value and series, which is appended to the agent's buffer like any event
// posted by a local producer.
//
// Authentication (mTLS, API key, basic) comes from the client built by
// transport.ClientFor; bearer tokens are read per request.
package scraper
