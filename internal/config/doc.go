// Package config loads loopauth configuration.
//
// Configuration lives in a single YAML file, by default
// ~/.config/loopauth/config.yaml. A missing file yields the defaults from
// GetDefaultConfig; values present in the file override them, and a
// registrations list in the file replaces the built-in table entirely.
//
//	provider: id.example.com
//	scope: identify
//	timeout: 5m
//	registrations:
//	  - clientId: my-client-55189
//	    port: 55189
//	  - clientId: my-client-60434
//	    port: 60434
//
// Command-line flags are applied by the cmd package after loading and before
// Validate.
package config
