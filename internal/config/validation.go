package config

import (
	"errors"

	"loopauth/internal/capture"
	"loopauth/pkg/logging"
)

// Validate checks that the configuration can start a session.
func (c Config) Validate() error {
	if c.Provider == "" {
		return &ConfigurationError{ErrorType: "validation", Field: "provider", Message: "an identity provider must be set (config file or --provider)"}
	}
	if _, err := capture.AuthorizeEndpoint(c.Provider); err != nil {
		return &ConfigurationError{ErrorType: "validation", Field: "provider", Message: err.Error()}
	}
	if c.Timeout < 0 {
		return &ConfigurationError{ErrorType: "validation", Field: "timeout", Message: "must not be negative"}
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return &ConfigurationError{ErrorType: "validation", Field: "logLevel", Message: err.Error()}
	}
	if err := c.Registrations.Validate(); err != nil {
		return &ConfigurationError{ErrorType: "validation", Field: "registrations", Message: unwrapMessage(err)}
	}
	return nil
}

// unwrapMessage drops the generic capture prefix so the message reads well
// after the field name.
func unwrapMessage(err error) string {
	msg := err.Error()
	prefix := capture.ErrConfiguration.Error() + ": "
	if errors.Is(err, capture.ErrConfiguration) && len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}
