package types

import "errors"

// Trace model errors
var (
	// ErrUnknownOpKind is returned when a trace token is neither R nor W
	ErrUnknownOpKind = errors.New("unknown operation kind")
)
