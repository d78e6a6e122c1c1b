package config

import (
	"fmt"
)

// ConfigurationError describes a problem with a configuration file or value.
type ConfigurationError struct {
	FilePath  string // File that caused the error, empty for flag values
	Field     string // Offending field, if known
	ErrorType string // parse, io or validation
	Message   string
}

// Error implements the error interface
func (ce *ConfigurationError) Error() string {
	where := ce.FilePath
	if where == "" {
		where = "configuration"
	}
	if ce.Field != "" {
		return fmt.Sprintf("%s: %s error in %s: %s", where, ce.ErrorType, ce.Field, ce.Message)
	}
	return fmt.Sprintf("%s: %s error: %s", where, ce.ErrorType, ce.Message)
}
