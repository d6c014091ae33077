// Package replay executes a trace against a target device, timing every
// node access and periodically polluting device caches between accesses.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/arkilian/nodeplace/internal/directio"
	nperrors "github.com/arkilian/nodeplace/internal/errors"
	"github.com/arkilian/nodeplace/internal/layout"
	"github.com/arkilian/nodeplace/internal/observability"
	"github.com/arkilian/nodeplace/pkg/types"
)

// Device is a file or block device addressed by positioned I/O.
// directio.File implements it.
type Device interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Sync() error
	Size() (int64, error)
	Close() error
}

// OpSource yields trace operations in order and io.EOF after the last one.
type OpSource interface {
	Next() (types.Operation, error)
}

// Latency series recorded by the engine.
const (
	SeriesRead  = "read"
	SeriesWrite = "write"
	SeriesGood  = "good"
	SeriesBad   = "bad"
)

// Result summarizes one replay.
type Result struct {
	// Operations is the number of trace operations consumed
	Operations int64 `json:"operations"`

	// Measured is the number of timed operations
	Measured int64 `json:"measured"`
	Reads    int64 `json:"reads"`
	Writes   int64 `json:"writes"`

	// Skipped counts operations on unmapped nodes
	Skipped int64 `json:"skipped"`

	// Errored counts failed operations
	Errored int64 `json:"errored"`

	Pollutions    int64 `json:"pollutions"`
	PolluteErrors int64 `json:"pollute_errors"`

	VerifyChecked    int64 `json:"verify_checked"`
	VerifyMismatches int64 `json:"verify_mismatches"`

	// Total is the summed latency of measured operations
	Total time.Duration `json:"total"`

	// Wall is the elapsed time of the whole run including pollution
	Wall time.Duration `json:"wall"`

	Latency []observability.Summary `json:"latency"`
}

// TotalMicros returns the summed latency in microseconds.
func (r *Result) TotalMicros() int64 {
	return r.Total.Microseconds()
}

// Series returns the latency summary for key.
func (r *Result) Series(key string) (observability.Summary, bool) {
	for _, s := range r.Latency {
		if s.Key == key {
			return s, true
		}
	}
	return observability.Summary{Key: key}, false
}

// Engine replays traces against one target with one mapping.
type Engine struct {
	target   Device
	mapping  *layout.Mapping
	opts     Options
	nodeBuf  *directio.Buffer
	chunkBuf *directio.Buffer
	polluter *polluter
	stats    *observability.LatencyStats
}

// NewEngine validates the devices against the mapping and allocates the
// aligned node and chunk buffers. The engine does not own the devices.
func NewEngine(target, pollute Device, mapping *layout.Mapping, opts Options) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	targetSize, err := target.Size()
	if err != nil {
		return nil, nperrors.NewResourceError(nperrors.CodeOpenFailed, "failed to size target", err)
	}
	if need := requiredSize(mapping, opts.NodeSize); targetSize < need {
		return nil, nperrors.NewResourceError(nperrors.CodeDeviceTooSmall,
			fmt.Sprintf("target holds %d bytes but the mapping reaches %d", targetSize, need), nil)
	}

	var polluteSize int64
	if opts.PolluteInterval > 0 {
		polluteSize, err = pollute.Size()
		if err != nil {
			return nil, nperrors.NewResourceError(nperrors.CodeOpenFailed, "failed to size pollute file", err)
		}
		if polluteSize < opts.ChunkSize {
			return nil, nperrors.NewResourceError(nperrors.CodeDeviceTooSmall,
				fmt.Sprintf("pollute file holds %d bytes, less than one %d-byte chunk", polluteSize, opts.ChunkSize), nil)
		}
	}

	nodeBuf, err := directio.NewBuffer(int(opts.NodeSize), opts.Alignment)
	if err != nil {
		return nil, err
	}
	chunkBuf, err := directio.NewBuffer(int(opts.ChunkSize), opts.Alignment)
	if err != nil {
		nodeBuf.Close()
		return nil, err
	}

	return &Engine{
		target:   target,
		mapping:  mapping,
		opts:     opts,
		nodeBuf:  nodeBuf,
		chunkBuf: chunkBuf,
		polluter: newPolluter(pollute, chunkBuf.Bytes(), polluteSize),
		stats:    observability.NewLatencyStats(),
	}, nil
}

// requiredSize returns the end of the furthest mapped node.
func requiredSize(m *layout.Mapping, nodeSize int64) int64 {
	var need int64
	for node := 0; node < m.NumNodes(); node++ {
		if off, ok := m.ByteOffset(node); ok && off+nodeSize > need {
			need = off + nodeSize
		}
	}
	return need
}

// Stats returns the latency series accumulated so far.
func (e *Engine) Stats() *observability.LatencyStats {
	return e.stats
}

// Run replays src until it is exhausted, ctx is cancelled, or an operation
// fails under the abort policy. The partial result is returned with any
// error.
func (e *Engine) Run(ctx context.Context, src OpSource) (*Result, error) {
	res := &Result{}
	written := make(map[int]struct{})
	started := time.Now()
	sincePollute := 0

	finish := func() {
		res.Wall = time.Since(started)
		res.Latency = e.stats.Summaries()
	}

	for {
		if err := ctx.Err(); err != nil {
			finish()
			return res, err
		}

		op, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			finish()
			return res, err
		}
		res.Operations++
		seq := res.Operations

		if e.opts.ProgressInterval > 0 && seq%e.opts.ProgressInterval == 0 {
			log.Printf("replay: %d operations, %d measured, %d skipped, total %v",
				seq, res.Measured, res.Skipped, res.Total)
		}

		off, ok := e.mapping.ByteOffset(op.Node)
		if !ok {
			res.Skipped++
			continue
		}

		buf := e.nodeBuf.Bytes()
		if op.Kind == types.OpWrite {
			FillPattern(buf, op.Node)
		}

		elapsed, err := e.execute(op, buf, off)
		if err != nil {
			res.Errored++
			delete(written, op.Node)
			if e.opts.ErrorPolicy == PolicyAbort {
				finish()
				return res, err
			}
			log.Printf("replay: operation %d (%s at %d) failed: %v", seq, op, off, err)
			if err := e.countTowardPollution(&sincePollute, res); err != nil {
				finish()
				return res, err
			}
			continue
		}

		res.Measured++
		res.Total += elapsed
		class := e.mapping.Class(op.Node).String()
		if op.Kind == types.OpRead {
			res.Reads++
			e.stats.Record(SeriesRead, elapsed)
		} else {
			res.Writes++
			e.stats.Record(SeriesWrite, elapsed)
			written[op.Node] = struct{}{}
		}
		e.stats.Record(class, elapsed)

		if e.opts.Verify && op.Kind == types.OpRead {
			if _, ok := written[op.Node]; ok {
				res.VerifyChecked++
				if !CheckPattern(buf, op.Node) {
					res.VerifyMismatches++
					log.Printf("replay: operation %d: node %d at %d does not hold its written pattern", seq, op.Node, off)
				}
			}
		}

		if e.opts.OnOperation != nil {
			e.opts.OnOperation(seq, op, elapsed, res.Total)
		}

		if err := e.countTowardPollution(&sincePollute, res); err != nil {
			finish()
			return res, err
		}
	}

	finish()
	log.Printf("replay: done: %d operations, %d measured, %d skipped, %d failed, %d pollutions, total %d us",
		res.Operations, res.Measured, res.Skipped, res.Errored, res.Pollutions, res.TotalMicros())
	return res, nil
}

// execute performs one timed node transfer. The timed region covers the
// transfer and the sync that makes it durable.
func (e *Engine) execute(op types.Operation, buf []byte, off int64) (time.Duration, error) {
	start := time.Now()

	var err error
	if op.Kind == types.OpRead {
		_, err = e.target.ReadAt(buf, off)
	} else {
		_, err = e.target.WriteAt(buf, off)
	}
	if err != nil {
		code := nperrors.CodeReadFailed
		if op.Kind == types.OpWrite {
			code = nperrors.CodeWriteFailed
		}
		if errors.Is(err, directio.ErrShortTransfer) {
			code = nperrors.CodeShortTransfer
		}
		return 0, nperrors.NewIOError(code, fmt.Sprintf("%s of node %d at %d failed", kindName(op.Kind), op.Node, off), err)
	}

	if err := e.target.Sync(); err != nil {
		return 0, nperrors.NewIOError(nperrors.CodeSyncFailed, fmt.Sprintf("sync after node %d failed", op.Node), err)
	}

	return time.Since(start), nil
}

// countTowardPollution counts one executed operation, failed or not, and
// pollutes the cache when the interval is reached.
func (e *Engine) countTowardPollution(since *int, res *Result) error {
	if e.opts.PolluteInterval <= 0 {
		return nil
	}
	*since++
	if *since < e.opts.PolluteInterval {
		return nil
	}
	*since = 0
	return e.pollute(res)
}

func (e *Engine) pollute(res *Result) error {
	err := e.polluter.run(e.opts.PolluteReads)
	if err != nil {
		err = nperrors.NewIOError(nperrors.CodeReadFailed, "cache pollution failed", err)
		if e.opts.ErrorPolicy == PolicyAbort {
			return err
		}
		res.PolluteErrors++
		log.Printf("replay: %v", err)
	}
	res.Pollutions++
	if e.opts.OnPollute != nil {
		e.opts.OnPollute(res.Measured + res.Errored)
	}
	return nil
}

func kindName(k types.OpKind) string {
	if k == types.OpWrite {
		return "write"
	}
	return "read"
}

// Close releases the I/O buffers.
func (e *Engine) Close() error {
	var firstErr error
	if err := e.nodeBuf.Close(); err != nil {
		firstErr = err
	}
	if err := e.chunkBuf.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
