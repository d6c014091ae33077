package replay

import "encoding/binary"

const patternSeed = 0x9e3779b97f4a7c15

// FillPattern stamps buf with a pattern derived from node, so a later read
// can tell which node's data sits at an offset.
func FillPattern(buf []byte, node int) {
	base := uint64(node+1) * patternSeed
	for i := 0; i+8 <= len(buf); i += 8 {
		binary.LittleEndian.PutUint64(buf[i:], base+uint64(i))
	}
}

// CheckPattern reports whether buf holds the pattern of node.
func CheckPattern(buf []byte, node int) bool {
	base := uint64(node+1) * patternSeed
	for i := 0; i+8 <= len(buf); i += 8 {
		if binary.LittleEndian.Uint64(buf[i:]) != base+uint64(i) {
			return false
		}
	}
	return true
}
