package tracereplay

import "errors"

var (
	// ErrInvalidConfig is returned when the replay configuration is unusable.
	ErrInvalidConfig = errors.New("invalid replay config")
	// ErrVerification is returned when a replay breaks a pipeline invariant.
	ErrVerification = errors.New("replay verification failed")
)
