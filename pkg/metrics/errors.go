package metrics

import (
	"errors"
)

// Sentinel kinds for metrics errors.
var (
	ErrManagerNil = errors.New("metrics manager is nil")
)
