package space

import "errors"

var (
	// ErrUnsupportedSpace means a space variant outside the closed set
	// (Box, Discrete, Tuple, Dict, MultiBinary, MultiDiscrete).
	ErrUnsupportedSpace = errors.New("unsupported space kind")

	// ErrValueOutOfRange means a value has the right shape but violates the
	// bounds of its space. Values are never clamped.
	ErrValueOutOfRange = errors.New("value out of range")

	// ErrMalformedEncoding means a value or flat vector does not have the
	// shape its space requires.
	ErrMalformedEncoding = errors.New("malformed encoding")
)
