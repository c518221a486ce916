package domain

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors
var (
	ErrGameNotFound       = errors.New("game not found")
	ErrStatNotFound       = errors.New("stat not found")
	ErrAliasNotFound      = errors.New("player alias not found")
	ErrPlayerNotFound     = errors.New("player not found")
	ErrPlayerStatNotFound = errors.New("player has no value for this stat yet")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInternalError      = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrGameNotFound) ||
		errors.Is(err, ErrStatNotFound) ||
		errors.Is(err, ErrAliasNotFound) ||
		errors.Is(err, ErrPlayerNotFound) ||
		errors.Is(err, ErrPlayerStatNotFound)
}

// BoundDirection names which bound a rejected mutation crossed
type BoundDirection string

const (
	BoundLow  BoundDirection = "low"
	BoundHigh BoundDirection = "high"
)

// RateLimitedError rejects a mutation arriving inside the stat's
// per-player update window. No state is written.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("stat was updated too recently, retry in %s", e.RetryAfter.Round(time.Second))
}

// ChangeTooLargeError rejects a delta whose magnitude exceeds the stat's
// max change.
type ChangeTooLargeError struct {
	Max float64
}

func (e *ChangeTooLargeError) Error() string {
	return fmt.Sprintf("change exceeds max change of %g", e.Max)
}

// OutOfBoundsError rejects a mutation whose resulting value would cross a
// configured bound.
type OutOfBoundsError struct {
	Bound     float64
	Direction BoundDirection
}

func (e *OutOfBoundsError) Error() string {
	if e.Direction == BoundLow {
		return fmt.Sprintf("resulting value would be below the minimum of %g", e.Bound)
	}
	return fmt.Sprintf("resulting value would be above the maximum of %g", e.Bound)
}

// IsValidationError reports whether err is a user-correctable rejection of
// a mutation, as opposed to an infrastructure failure.
func IsValidationError(err error) bool {
	var rl *RateLimitedError
	var ctl *ChangeTooLargeError
	var oob *OutOfBoundsError
	return errors.Is(err, ErrInvalidRequest) ||
		errors.As(err, &rl) || errors.As(err, &ctl) || errors.As(err, &oob)
}
