//go:build !tinygo

package hal

import (
	"image/color"
	"sync"
)

// hostFramebuffer is double buffered: callers draw into the back buffer
// and Present publishes it to the window, which may read concurrently.
type hostFramebuffer struct {
	width  int
	height int
	stride int
	back   []byte

	mu    sync.Mutex
	front []byte
}

func newHostFramebuffer(width, height int) *hostFramebuffer {
	stride := width * 2
	return &hostFramebuffer{
		width:  width,
		height: height,
		stride: stride,
		back:   make([]byte, stride*height),
		front:  make([]byte, stride*height),
	}
}

func (f *hostFramebuffer) Width() int          { return f.width }
func (f *hostFramebuffer) Height() int         { return f.height }
func (f *hostFramebuffer) Format() PixelFormat { return PixelFormatRGB565 }
func (f *hostFramebuffer) StrideBytes() int    { return f.stride }
func (f *hostFramebuffer) Buffer() []byte      { return f.back }

func (f *hostFramebuffer) ClearRGB(r, g, b uint8) {
	p := RGB565(color.RGBA{R: r, G: g, B: b})
	for i := 0; i+1 < len(f.back); i += 2 {
		f.back[i], f.back[i+1] = byte(p), byte(p>>8)
	}
}

func (f *hostFramebuffer) Present() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy(f.front, f.back)
	return nil
}

// toRGBA converts the presented frame into dst, 4 bytes per pixel.
func (f *hostFramebuffer) toRGBA(dst []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, j := 0, 0; i+1 < len(f.front) && j+3 < len(dst); i, j = i+2, j+4 {
		c := RGBA(uint16(f.front[i]) | uint16(f.front[i+1])<<8)
		dst[j], dst[j+1], dst[j+2], dst[j+3] = c.R, c.G, c.B, c.A
	}
}
