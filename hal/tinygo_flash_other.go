//go:build tinygo && baremetal && !(rp2040 || rp2350)

package hal

type noFlash struct{}

func newRP2Flash() Flash { return noFlash{} }

func (noFlash) SizeBytes() uint32 { return 0 }

func (noFlash) ReadAt(p []byte, off uint32) (int, error) {
	_ = p
	_ = off
	return 0, ErrNotImplemented
}
