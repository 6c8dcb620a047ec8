package sugar

import (
	"context"
	"errors"
	"fmt"

	"lpsugar/internal/store"
)

var (
	// ErrNotFound means the index or address has no corresponding entity.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument means the request is structurally invalid.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUpstreamUnavailable means the entity store could not be reached.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

func invalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// mapStoreError translates store errors into the query error taxonomy.
func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrUpstreamUnavailable):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, store.ErrUnavailable):
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	default:
		return err
	}
}

func retryable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable)
}
