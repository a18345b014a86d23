package service

import "errors"

// Sentinel error kinds for this package.
var (
	ErrStopped = errors.New("service already stopped")
)
