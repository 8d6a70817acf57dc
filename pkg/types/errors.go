package types

import "errors"

// ErrInvalidExposureData is returned when an exposure sample is missing or malformed.
var ErrInvalidExposureData = errors.New("invalid exposure data")
