package config

import (
	"time"

	"loopauth/internal/capture"
)

const (
	// DefaultScope is requested when no scope is configured.
	DefaultScope = "identify"

	// DefaultTimeout bounds a login when no timeout is configured.
	DefaultTimeout = 5 * time.Minute
)

// DefaultRegistrations is the built-in client table. Each client id is
// accepted by the provider only with its own redirect port, so order here is
// the order ports are tried.
var DefaultRegistrations = capture.Registrations{
	{ClientID: "loopauth-desktop-55189", Port: 55189},
	{ClientID: "loopauth-desktop-60434", Port: 60434},
	{ClientID: "loopauth-desktop-61873", Port: 61873},
}

// GetDefaultConfig returns the default configuration. The provider has no
// default and must come from the config file or a flag.
func GetDefaultConfig() Config {
	regs := make(capture.Registrations, len(DefaultRegistrations))
	copy(regs, DefaultRegistrations)

	return Config{
		Scope:         DefaultScope,
		CallbackHost:  capture.DefaultCallbackHost,
		Timeout:       DefaultTimeout,
		LogLevel:      "warn",
		Registrations: regs,
	}
}
