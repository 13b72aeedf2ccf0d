package app

import (
	"image/color"

	"keel/hal"

	"tinygo.org/x/drivers"
)

// fbDisplay draws into a horizontal band of a framebuffer. Rows are
// relative to the band's top edge.
type fbDisplay struct {
	fb     hal.Framebuffer
	top    int
	height int
}

var _ drivers.Displayer = (*fbDisplay)(nil)

func newFBDisplay(fb hal.Framebuffer) *fbDisplay {
	return &fbDisplay{fb: fb, height: fb.Height()}
}

// band returns a display covering rows [top, top+height) of d.
func (d *fbDisplay) band(top, height int) *fbDisplay {
	top = clampInt(top, 0, d.height)
	height = clampInt(height, 0, d.height-top)
	return &fbDisplay{fb: d.fb, top: d.top + top, height: height}
}

func (d *fbDisplay) Size() (x, y int16) {
	return int16(d.fb.Width()), int16(d.height)
}

func (d *fbDisplay) SetPixel(x, y int16, c color.RGBA) {
	if d.fb.Format() != hal.PixelFormatRGB565 {
		return
	}
	ix, iy := int(x), int(y)
	if ix < 0 || ix >= d.fb.Width() || iy < 0 || iy >= d.height {
		return
	}
	buf := d.fb.Buffer()
	off := (d.top+iy)*d.fb.StrideBytes() + ix*2
	if off < 0 || off+1 >= len(buf) {
		return
	}
	pixel := hal.RGB565(c)
	buf[off] = byte(pixel)
	buf[off+1] = byte(pixel >> 8)
}

// Display is a no-op: the frame is presented once everything is drawn.
func (d *fbDisplay) Display() error { return nil }

func (d *fbDisplay) FillRectangle(x, y, width, height int16, c color.RGBA) error {
	if d.fb.Format() != hal.PixelFormatRGB565 {
		return nil
	}
	buf := d.fb.Buffer()
	w := d.fb.Width()

	x0 := clampInt(int(x), 0, w)
	y0 := clampInt(int(y), 0, d.height)
	x1 := clampInt(int(x)+int(width), 0, w)
	y1 := clampInt(int(y)+int(height), 0, d.height)
	if x0 >= x1 || y0 >= y1 {
		return nil
	}

	pixel := hal.RGB565(c)
	lo, hi := byte(pixel), byte(pixel>>8)
	stride := d.fb.StrideBytes()
	for py := y0; py < y1; py++ {
		row := (d.top + py) * stride
		for px := x0; px < x1; px++ {
			off := row + px*2
			if off+1 >= len(buf) {
				break
			}
			buf[off] = lo
			buf[off+1] = hi
		}
	}
	return nil
}

func (d *fbDisplay) clear(c color.RGBA) {
	_ = d.FillRectangle(0, 0, int16(d.fb.Width()), int16(d.height), c)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
