package workload

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	nperrors "github.com/arkilian/nodeplace/internal/errors"
	"github.com/arkilian/nodeplace/pkg/types"
)

// Writer encodes a trace in the text format:
//
//	<numNodes>
//	<numPopularNodes>
//	<popularNodeId>   (numPopularNodes lines)
//	<R|W> <nodeId>    (one line per operation)
type Writer struct {
	w      *bufio.Writer
	header bool
	ops    int64
	buf    []byte
}

// NewWriter returns a Writer that buffers output to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w:   bufio.NewWriterSize(w, 256*1024),
		buf: make([]byte, 0, 32),
	}
}

// WriteHeader writes the node count and the popular node list.
// It must be called exactly once, before any operation.
func (w *Writer) WriteHeader(h *types.TraceHeader) error {
	if w.header {
		return fmt.Errorf("trace header already written")
	}
	w.header = true

	if err := w.writeInt(int64(h.NumNodes)); err != nil {
		return err
	}
	if err := w.writeInt(int64(len(h.PopularNodes))); err != nil {
		return err
	}
	for _, id := range h.PopularNodes {
		if err := w.writeInt(int64(id)); err != nil {
			return err
		}
	}
	return nil
}

// WriteOp appends one operation line.
func (w *Writer) WriteOp(op types.Operation) error {
	if !w.header {
		return fmt.Errorf("trace operation written before header")
	}
	w.buf = append(w.buf[:0], byte(op.Kind), ' ')
	w.buf = strconv.AppendInt(w.buf, int64(op.Node), 10)
	w.buf = append(w.buf, '\n')
	if _, err := w.w.Write(w.buf); err != nil {
		return err
	}
	w.ops++
	return nil
}

// Ops returns the number of operations written so far.
func (w *Writer) Ops() int64 {
	return w.ops
}

// Flush writes any buffered data to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

func (w *Writer) writeInt(v int64) error {
	w.buf = strconv.AppendInt(w.buf[:0], v, 10)
	w.buf = append(w.buf, '\n')
	_, err := w.w.Write(w.buf)
	return err
}

// Reader decodes a trace. The header is parsed by NewReader; operations are
// streamed by Next.
type Reader struct {
	sc     *bufio.Scanner
	header types.TraceHeader
	line   int
}

// NewReader parses the trace header from r.
func NewReader(r io.Reader) (*Reader, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	tr := &Reader{sc: sc}
	if err := tr.readHeader(); err != nil {
		return nil, err
	}
	return tr, nil
}

// Header returns the parsed header.
func (r *Reader) Header() *types.TraceHeader {
	return &r.header
}

// Line returns the number of lines consumed so far.
func (r *Reader) Line() int {
	return r.line
}

func (r *Reader) readHeader() error {
	numNodes, err := r.headerInt("node count")
	if err != nil {
		return err
	}
	if numNodes < 1 {
		return r.headerErr(fmt.Sprintf("node count must be positive, got %d", numNodes), nil)
	}

	numPopular, err := r.headerInt("popular node count")
	if err != nil {
		return err
	}
	if numPopular < 0 || numPopular > numNodes {
		return r.headerErr(fmt.Sprintf("popular node count %d outside [0, %d]", numPopular, numNodes), nil)
	}

	popular := make([]int, 0, numPopular)
	seen := make(map[int]struct{}, numPopular)
	for i := 0; i < numPopular; i++ {
		id, ok, err := r.nextInt("popular node id")
		if err != nil {
			return err
		}
		if !ok {
			return r.headerErr(fmt.Sprintf("not enough popular nodes: declared %d, found %d", numPopular, i), nil)
		}
		if id < 0 || id >= numNodes {
			return r.headerErr(fmt.Sprintf("popular node %d outside [0, %d)", id, numNodes), nil)
		}
		if _, dup := seen[id]; dup {
			return r.headerErr(fmt.Sprintf("popular node %d listed twice", id), nil)
		}
		seen[id] = struct{}{}
		popular = append(popular, id)
	}

	r.header = types.TraceHeader{
		NumNodes:     numNodes,
		PopularNodes: popular,
	}
	return nil
}

// headerInt reads a required header integer.
func (r *Reader) headerInt(what string) (int, error) {
	v, ok, err := r.nextInt(what)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, r.headerErr(fmt.Sprintf("trace ended before %s", what), nil)
	}
	return v, nil
}

// nextInt reads the next non-blank line as an integer; ok is false at end
// of input.
func (r *Reader) nextInt(what string) (int, bool, error) {
	text, ok, err := r.nextLine()
	if err != nil {
		return 0, false, r.headerErr("failed to read trace", err)
	}
	if !ok {
		return 0, false, nil
	}
	v, err := strconv.Atoi(text)
	if err != nil {
		return 0, false, r.headerErr(fmt.Sprintf("invalid %s %q", what, text), err)
	}
	return v, true, nil
}

func (r *Reader) headerErr(msg string, cause error) error {
	return nperrors.NewTraceError(nperrors.CodeMalformedHeader,
		fmt.Sprintf("line %d: %s", r.line, msg), cause)
}

// nextLine returns the next non-blank line, trimmed.
func (r *Reader) nextLine() (string, bool, error) {
	for r.sc.Scan() {
		r.line++
		text := strings.TrimSpace(r.sc.Text())
		if text != "" {
			return text, true, nil
		}
	}
	return "", false, r.sc.Err()
}

// Next returns the next operation, or io.EOF after the last one.
func (r *Reader) Next() (types.Operation, error) {
	text, ok, err := r.nextLine()
	if err != nil {
		return types.Operation{}, nperrors.NewTraceError(nperrors.CodeMalformedOperation,
			fmt.Sprintf("line %d: failed to read trace", r.line), err)
	}
	if !ok {
		return types.Operation{}, io.EOF
	}

	fields := strings.Fields(text)
	if len(fields) != 2 {
		return types.Operation{}, r.opErr(fmt.Sprintf("expected \"<R|W> <node>\", got %q", text), nil)
	}
	kind, err := types.ParseOpKind(fields[0])
	if err != nil {
		return types.Operation{}, r.opErr("invalid operation kind", err)
	}
	node, err := strconv.Atoi(fields[1])
	if err != nil {
		return types.Operation{}, r.opErr(fmt.Sprintf("invalid node id %q", fields[1]), err)
	}
	if !r.header.Contains(node) {
		return types.Operation{}, r.opErr(fmt.Sprintf("node %d outside [0, %d)", node, r.header.NumNodes), nil)
	}

	return types.Operation{Kind: kind, Node: node}, nil
}

func (r *Reader) opErr(msg string, cause error) error {
	return nperrors.NewTraceError(nperrors.CodeMalformedOperation,
		fmt.Sprintf("line %d: %s", r.line, msg), cause)
}

// ReadAll drains the remaining operations.
func (r *Reader) ReadAll() ([]types.Operation, error) {
	var ops []types.Operation
	for {
		op, err := r.Next()
		if err == io.EOF {
			return ops, nil
		}
		if err != nil {
			return ops, err
		}
		ops = append(ops, op)
	}
}
