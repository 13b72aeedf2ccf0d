//go:build !tinygo

package hal

import (
	"fmt"
	"os"
)

// hostFlash exposes an image file as read-only flash.
type hostFlash struct {
	data  []byte
	close func() error
}

func newHostFlash(path string) (*hostFlash, error) {
	data, closeFn, err := mapFile(path)
	if err != nil {
		return nil, fmt.Errorf("open image %q: %w", path, err)
	}
	return &hostFlash{data: data, close: closeFn}, nil
}

func (f *hostFlash) SizeBytes() uint32 { return uint32(len(f.data)) }

func (f *hostFlash) ReadAt(p []byte, off uint32) (int, error) {
	if uint64(off) >= uint64(len(f.data)) {
		return 0, fmt.Errorf("flash read at %d: %w", off, os.ErrInvalid)
	}
	return copy(p, f.data[off:]), nil
}

// Close releases the mapping.
func (f *hostFlash) Close() error {
	if f.close == nil {
		return nil
	}
	err := f.close()
	f.close = nil
	f.data = nil
	return err
}

type missingFlash struct {
	err error
}

func (missingFlash) SizeBytes() uint32 { return 0 }

func (f missingFlash) ReadAt(p []byte, off uint32) (int, error) {
	_ = p
	_ = off
	return 0, f.err
}
