// Package config loads and validates tracker configuration from YAML.
//
// Files may reference environment variables with ${VAR} syntax; they
// are expanded before parsing. Omitted fields receive the defaults in
// defaults.go.
package config
