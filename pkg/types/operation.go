// Package types provides the shared data model for nodeplace traces.
package types

import "fmt"

// OpKind is the kind of a single node access in a trace.
type OpKind byte

const (
	// OpRead reads one full node from the device.
	OpRead OpKind = 'R'

	// OpWrite writes one full node to the device.
	OpWrite OpKind = 'W'
)

// String returns the one-letter trace token for the kind.
func (k OpKind) String() string {
	switch k {
	case OpRead, OpWrite:
		return string(rune(k))
	default:
		return fmt.Sprintf("OpKind(%d)", byte(k))
	}
}

// Valid reports whether k is a known operation kind.
func (k OpKind) Valid() bool {
	return k == OpRead || k == OpWrite
}

// ParseOpKind converts a trace token into an OpKind.
func ParseOpKind(s string) (OpKind, error) {
	if len(s) != 1 || !OpKind(s[0]).Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownOpKind, s)
	}
	return OpKind(s[0]), nil
}

// Operation is a single timed access against one logical tree node.
type Operation struct {
	// Kind is either OpRead or OpWrite
	Kind OpKind `json:"kind"`

	// Node is the logical node id in [0, numNodes)
	Node int `json:"node"`
}

// Read returns a read operation for node.
func Read(node int) Operation {
	return Operation{Kind: OpRead, Node: node}
}

// Write returns a write operation for node.
func Write(node int) Operation {
	return Operation{Kind: OpWrite, Node: node}
}

// String formats the operation the way it appears in a trace file.
func (o Operation) String() string {
	return fmt.Sprintf("%s %d", o.Kind, o.Node)
}
