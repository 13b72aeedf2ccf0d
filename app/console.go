package app

import (
	"fmt"
	"image/color"
	"sync"

	"keel/hal"

	"tinygo.org/x/drivers"
	"tinygo.org/x/tinyfont/proggy"
	"tinygo.org/x/tinyterm"
)

const (
	fontHeight = 10
	fontOffset = 6
)

var font = &proggy.TinySZ8pt7b

// console is an off-screen surface with a scroll register, the way display
// controllers with hardware scrolling expose one. A terminal draws into it
// and blit copies it, rotated by the scroll line, onto the monitor.
type console struct {
	w, h   int
	pix    []uint16
	scroll int
}

func newConsole(w, h int) *console {
	return &console{w: w, h: h, pix: make([]uint16, w*h)}
}

func (c *console) Size() (x, y int16) { return int16(c.w), int16(c.h) }

func (c *console) SetPixel(x, y int16, col color.RGBA) {
	if x < 0 || int(x) >= c.w || y < 0 || int(y) >= c.h {
		return
	}
	c.pix[int(y)*c.w+int(x)] = hal.RGB565(col)
}

func (c *console) Display() error { return nil }

func (c *console) FillRectangle(x, y, width, height int16, col color.RGBA) error {
	x0 := clampInt(int(x), 0, c.w)
	y0 := clampInt(int(y), 0, c.h)
	x1 := clampInt(int(x)+int(width), 0, c.w)
	y1 := clampInt(int(y)+int(height), 0, c.h)
	p := hal.RGB565(col)
	for py := y0; py < y1; py++ {
		row := c.pix[py*c.w : (py+1)*c.w]
		for px := x0; px < x1; px++ {
			row[px] = p
		}
	}
	return nil
}

func (c *console) SetScroll(line int16) {
	if c.h > 0 {
		c.scroll = ((int(line) % c.h) + c.h) % c.h
	}
}

func (c *console) SetRotation(drivers.Rotation) error { return nil }

// blit copies the visible surface onto d.
func (c *console) blit(d *fbDisplay) {
	buf := d.fb.Buffer()
	stride := d.fb.StrideBytes()
	w := min(c.w, d.fb.Width())
	for y := 0; y < c.h && y < d.height; y++ {
		src := c.pix[((y+c.scroll)%c.h)*c.w:]
		row := (d.top + y) * stride
		for x := 0; x < w; x++ {
			off := row + x*2
			if off+1 >= len(buf) {
				return
			}
			buf[off] = byte(src[x])
			buf[off+1] = byte(src[x] >> 8)
		}
	}
}

// logConsole is a terminal fed with log lines from any goroutine and
// rendered from the display loop.
type logConsole struct {
	mu      sync.Mutex
	pending [][]byte
	dropped int

	surface *console
	term    *tinyterm.Terminal
}

const maxPendingLines = 256

func newLogConsole(w, h int) *logConsole {
	c := &logConsole{surface: newConsole(w, h)}
	c.term = tinyterm.NewTerminal(c.surface)
	c.term.Configure(&tinyterm.Config{
		Font:       font,
		FontHeight: fontHeight,
		FontOffset: fontOffset,
	})
	return c
}

func (c *logConsole) WriteLineString(s string) { c.WriteLineBytes([]byte(s)) }

func (c *logConsole) WriteLineBytes(b []byte) {
	line := make([]byte, 0, len(b)+2)
	line = append(line, '\r', '\n')
	line = append(line, b...)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) >= maxPendingLines {
		c.dropped++
		return
	}
	c.pending = append(c.pending, line)
}

// flush writes the queued lines to the terminal and reports whether the
// surface changed.
func (c *logConsole) flush() bool {
	c.mu.Lock()
	lines, dropped := c.pending, c.dropped
	c.pending, c.dropped = nil, 0
	c.mu.Unlock()

	if dropped > 0 {
		fmt.Fprintf(c.term, "\r\n(%d lines dropped)", dropped)
	}
	for _, l := range lines {
		_, _ = c.term.Write(l)
	}
	return dropped > 0 || len(lines) > 0
}
