package replay

import (
	"fmt"
	"time"

	"github.com/arkilian/nodeplace/internal/directio"
	nperrors "github.com/arkilian/nodeplace/internal/errors"
	"github.com/arkilian/nodeplace/pkg/types"
)

// ErrorPolicy decides what happens when a measured operation fails.
type ErrorPolicy string

const (
	// PolicyContinue logs and counts the failure, then moves on.
	PolicyContinue ErrorPolicy = "continue"

	// PolicyAbort stops the run and returns the failure.
	PolicyAbort ErrorPolicy = "abort"
)

// ParseErrorPolicy validates a policy name.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch p := ErrorPolicy(s); p {
	case PolicyContinue, PolicyAbort:
		return p, nil
	default:
		return "", nperrors.Newf(nperrors.ErrCategoryConfig, nperrors.CodeInvalidConfig,
			"unknown error policy %q (want %q or %q)", s, PolicyContinue, PolicyAbort)
	}
}

// Options configures an Engine.
type Options struct {
	// NodeSize is the size of one node transfer in bytes
	NodeSize int64

	// ChunkSize is the size of one pollution read in bytes
	ChunkSize int64

	// Alignment is the start-address alignment of the I/O buffers
	Alignment int

	// PolluteInterval is the number of executed operations, failed ones
	// included, between cache pollutions; 0 disables pollution
	PolluteInterval int

	// PolluteReads is the number of chunk reads per pollution
	PolluteReads int

	// ErrorPolicy handles failed measured operations
	ErrorPolicy ErrorPolicy

	// Verify checks that reads of nodes written earlier in the run return
	// the written pattern
	Verify bool

	// ProgressInterval logs progress every N trace operations; 0 disables
	ProgressInterval int64

	// OnOperation is called after every measured operation with its
	// sequence number in the trace, its latency and the running total
	OnOperation func(seq int64, op types.Operation, elapsed, total time.Duration)

	// OnPollute is called after every pollution with the number of
	// executed operations so far
	OnPollute func(executed int64)
}

// DefaultOptions returns the settings of the original measurements: 32 KiB
// nodes, 4 KiB chunks, and 100000 chunk reads after every 100 operations.
func DefaultOptions() Options {
	return Options{
		NodeSize:         32 * 1024,
		ChunkSize:        4 * 1024,
		Alignment:        directio.DefaultAlignment,
		PolluteInterval:  100,
		PolluteReads:     100000,
		ErrorPolicy:      PolicyContinue,
		ProgressInterval: 100000,
	}
}

// Validate checks the options.
func (o *Options) Validate() error {
	switch {
	case o.NodeSize <= 0:
		return optionErr("node size must be positive, got %d", o.NodeSize)
	case o.ChunkSize <= 0:
		return optionErr("chunk size must be positive, got %d", o.ChunkSize)
	case o.Alignment <= 0:
		return optionErr("alignment must be positive, got %d", o.Alignment)
	case o.NodeSize%int64(o.Alignment) != 0:
		return optionErr("node size %d is not a multiple of alignment %d", o.NodeSize, o.Alignment)
	case o.ChunkSize%int64(o.Alignment) != 0:
		return optionErr("chunk size %d is not a multiple of alignment %d", o.ChunkSize, o.Alignment)
	case o.PolluteInterval < 0:
		return optionErr("pollute interval must not be negative, got %d", o.PolluteInterval)
	case o.PolluteInterval > 0 && o.PolluteReads < 1:
		return optionErr("pollute reads must be positive when pollution is enabled, got %d", o.PolluteReads)
	case o.ProgressInterval < 0:
		return optionErr("progress interval must not be negative, got %d", o.ProgressInterval)
	}
	if _, err := ParseErrorPolicy(string(o.ErrorPolicy)); err != nil {
		return err
	}
	return nil
}

func optionErr(format string, args ...interface{}) error {
	return nperrors.New(nperrors.ErrCategoryConfig, nperrors.CodeInvalidConfig, fmt.Sprintf(format, args...))
}
