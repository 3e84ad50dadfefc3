package config

import (
	"errors"
	"fmt"
)

// ErrFileNotFound indicates an explicitly named config file doesn't exist.
var ErrFileNotFound = errors.New("config file not found")

// ValidationError reports one invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
