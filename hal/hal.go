package hal

import (
	"errors"
	"time"
)

// Logger writes newline-delimited log lines.
type Logger interface {
	WriteLineString(s string)
	WriteLineBytes(b []byte)
}

var ErrNotImplemented = errors.New("not implemented")

// PixelFormat defines the framebuffer pixel encoding.
type PixelFormat uint8

const (
	// PixelFormatRGB565 is 16bpp: rrrrrggggggbbbbb.
	PixelFormatRGB565 PixelFormat = iota + 1
)

// Framebuffer is a simple pixel buffer plus a "present" hook.
type Framebuffer interface {
	Width() int
	Height() int
	Format() PixelFormat
	StrideBytes() int
	Buffer() []byte
	ClearRGB(r, g, b uint8)
	Present() error
}

// Display provides access to the framebuffer (if available).
type Display interface {
	Framebuffer() Framebuffer
}

// Flash provides read access to the non-volatile memory holding the image.
//
// It is intentionally low-level: addresses only.
type Flash interface {
	SizeBytes() uint32
	ReadAt(p []byte, off uint32) (int, error)
}

// TickPeriod is the duration of one kernel tick.
const TickPeriod = time.Millisecond

// Time provides a base tick stream.
//
// The tick duration is platform-defined (1ms on every current platform);
// the kernel counts ticks, timers live above it.
type Time interface {
	Ticks() <-chan uint64
}

// UARTIRQ is the interrupt line raised when console input arrives: bytes on
// UART0 RX or PicoCalc key presses on boards, stdin or text typed into the
// window on the host.
const UARTIRQ uint32 = 16

// Interrupts delivers device interrupt lines as they fire. A line raised
// while the stream is full is dropped; the kernel latches at most one
// pending interrupt per line anyway.
type Interrupts interface {
	Lines() <-chan uint32
}

// HAL provides the only contact point between the OS and the outside world.
type HAL interface {
	Logger() Logger
	Display() Display
	Flash() Flash
	Time() Time
	Interrupts() Interrupts
}
