// Package config loads the collector configuration from the `server:` section
// of a YAML file.
//
// Defaults are applied before parsing, then the result is checked with
// validator struct tags plus a few cross-field rules (a bearer mode needs a
// token_env). Secrets are never stored in the file; they are read from the
// environment variables the file names.
package config
