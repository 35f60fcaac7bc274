package domain

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration   = errors.New("configuration error")
	ErrEmbedding       = errors.New("embedding failed")
	ErrRetrieval       = errors.New("retrieval failed")
	ErrSynthesis       = errors.New("synthesis failed")
	ErrFilterParse     = errors.New("filter parse failed")
	ErrInvalidInput    = errors.New("invalid input")
	ErrSessionNotFound = errors.New("session not found")
	ErrConflict        = errors.New("concurrent update conflict")
	ErrTemporary       = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
