// Package configstore provides helpers for persisting miner configuration in
// an XDG-compliant location. The config file carries extractor thresholds,
// output preferences, daemon settings, and redaction seeds; redaction values
// may reference environment variables which are expanded at load time.
package configstore
