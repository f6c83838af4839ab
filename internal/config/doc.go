// Package config loads, validates, and normalizes trackweave configuration
// from TOML. All consumers receive a fully expanded Config; path expansion
// and defaulting never leak past Load.
package config
