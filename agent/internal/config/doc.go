// Package config loads and watches the agent configuration file (config.yaml).
//
// Top-level types:
//   - Config{Agent}: the full tree parsed from YAML
//   - AgentConfig: collector_url, listen_addr, log_level, batch_size,
//     flush_interval, request_timeout, retry, breaker, auth, tls,
//     cert_check_interval, sources
//   - SourceConfig: one polled Prometheus-format endpoint
//   - AuthConfig: mode (bearer|apikey|basic|mtls|none); secrets are never
//     stored in the file, only the env var or file that holds them
//
// Load(path) reads the YAML file, applies defaults (batch of 10, 30s flush,
// 3 retries from 1s doubling), then validates with go-playground/validator
// struct tags plus the auth-mode rules the tags cannot express.
//
// Watch(ctx, path, onChange) uses fsnotify on the file's directory and calls
// onChange with the newly parsed Config, so atomic-save editors that rename a
// temp file over the original are seen too.
package config
