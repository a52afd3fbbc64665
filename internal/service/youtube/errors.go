package youtube

import (
	"errors"
	"fmt"
)

var (
	// ErrQuotaExhausted is matched by the error returned once every retry failed.
	ErrQuotaExhausted = errors.New("all API keys failed or quota exceeded")

	// ErrChannelNotFound is returned when the upstream service has no such channel.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrNoUploadsCollection is returned when a channel exposes no uploads playlist.
	ErrNoUploadsCollection = errors.New("channel has no uploads collection")

	// ErrTooManyIDs is returned when a details call is given more than MaxIDsPerCall ids.
	ErrTooManyIDs = errors.New("too many ids for one call")
)

// QuotaExhaustedError reports that a call failed on every attempt.
type QuotaExhaustedError struct {
	Operation string
	Attempts  int
	Last      error
}

func (e *QuotaExhaustedError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("%s: %s after %d attempts", e.Operation, ErrQuotaExhausted, e.Attempts)
	}
	return fmt.Sprintf("%s: %s after %d attempts: %v", e.Operation, ErrQuotaExhausted, e.Attempts, e.Last)
}

// Is makes errors.Is(err, ErrQuotaExhausted) succeed.
func (e *QuotaExhaustedError) Is(target error) bool {
	return target == ErrQuotaExhausted
}

func (e *QuotaExhaustedError) Unwrap() error {
	return e.Last
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as terminal: the executor returns it without rotating or retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	var pe *permanentError
	if errors.As(err, &pe) {
		return err
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
