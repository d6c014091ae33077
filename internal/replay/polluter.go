package replay

import "fmt"

// polluter evicts device caches by streaming chunk-sized reads through a
// separate device, wrapping at its end.
type polluter struct {
	dev  Device
	buf  []byte
	size int64
	pos  int64
}

func newPolluter(dev Device, buf []byte, size int64) *polluter {
	return &polluter{dev: dev, buf: buf, size: size}
}

// run issues reads chunk reads and then syncs the device.
func (p *polluter) run(reads int) error {
	chunk := int64(len(p.buf))
	for i := 0; i < reads; i++ {
		if p.pos+chunk > p.size {
			p.pos = 0
		}
		if _, err := p.dev.ReadAt(p.buf, p.pos); err != nil {
			return fmt.Errorf("pollute read %d at %d: %w", i, p.pos, err)
		}
		p.pos += chunk
	}
	return p.dev.Sync()
}
