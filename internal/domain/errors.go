package domain

import "errors"

var (
	// ErrTestNotFound indicates the test definition could not be loaded.
	ErrTestNotFound = errors.New("test not found")
	// ErrPaymentRequired is returned when a paid test is started without access.
	ErrPaymentRequired = errors.New("payment required for this test")
	// ErrAttemptLimitExceeded is returned when a single-attempt test already
	// has a finished attempt for the user.
	ErrAttemptLimitExceeded = errors.New("attempt limit exceeded")
	// ErrAttemptNotFound is returned when an attempt ID is unknown.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrAttemptExpired rejects answer writes arriving after the deadline.
	ErrAttemptExpired = errors.New("attempt deadline passed")
	// ErrAlreadySubmitted is returned when an attempt is already in a
	// terminal state; callers should fetch the existing result.
	ErrAlreadySubmitted = errors.New("attempt already submitted")
)
