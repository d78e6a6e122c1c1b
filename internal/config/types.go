package config

import (
	"time"

	"loopauth/internal/capture"
)

// Config is the top-level configuration structure for loopauth.
type Config struct {
	// Provider is the identity provider host or base URL.
	Provider string `yaml:"provider"`
	// Scope is the single scope requested on every authorization.
	Scope string `yaml:"scope"`
	// CallbackHost is the host name used in redirect URIs (default: localhost).
	CallbackHost string `yaml:"callbackHost,omitempty"`
	// Timeout bounds how long a login waits for the browser. Zero disables it.
	Timeout time.Duration `yaml:"timeout,omitempty"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel,omitempty"`
	// Registrations replaces the built-in client table when set.
	Registrations capture.Registrations `yaml:"registrations,omitempty"`
}

// CaptureOptions converts the configuration into session options. The
// opener and verifier are left to the caller.
func (c Config) CaptureOptions() capture.Options {
	return capture.Options{
		Provider:      c.Provider,
		Scope:         c.Scope,
		Registrations: c.Registrations,
		CallbackHost:  c.CallbackHost,
		Timeout:       c.Timeout,
	}
}
