package role

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownRole  = errors.New("unknown role")
	ErrNotQualified = errors.New("package does not qualify for role")
	ErrNotAvailable = errors.New("role not available")
)

// ParseError is a malformed role definition
type ParseError struct {
	Path    string
	Message string
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}
