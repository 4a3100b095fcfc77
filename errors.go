package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/medconnect/authcore/refresh"
	"github.com/medconnect/authcore/store"
)

var (
	// ErrUnauthorized covers bad credentials, unknown, expired or revoked
	// refresh tokens and revoked access tokens. The cause is never exposed.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUnavailable means a dependency is failing or its breaker is open.
	// Callers should retry later.
	ErrUnavailable = errors.New("temporarily unavailable")
	// ErrConfig wraps every construction-time configuration failure.
	ErrConfig = errors.New("invalid configuration")
	// ErrInvariant reports internal state that should be impossible.
	ErrInvariant = errors.New("invariant violated")
	// ErrBuilderUsed is returned by a second call to Build.
	ErrBuilderUsed = errors.New("builder already used")
)

// classify maps component errors onto the public taxonomy. Context errors
// pass through so callers can tell their own cancellation apart.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, refresh.ErrInvariant):
		return fmt.Errorf("%w: %v", ErrInvariant, err)
	case errors.Is(err, refresh.ErrDenied), errors.Is(err, store.ErrNotFound):
		return ErrUnauthorized
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrUnavailable):
		return err
	default:
		// store.ErrUnavailable, breaker.ErrOpen and anything unexpected.
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
