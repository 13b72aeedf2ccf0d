//go:build !tinygo

package hal

import (
	"fmt"
	"os"
	"sync"
)

const hostImageDefaultPath = "keel.img"

type hostHAL struct {
	logger *hostLogger
	fb     *hostFramebuffer
	t      *hostTime
	irq    *irqLines
	flash  Flash
}

// New returns a host HAL whose flash is the image file named by
// KEEL_IMAGE_PATH (default keel.img).
func New() HAL {
	path := os.Getenv("KEEL_IMAGE_PATH")
	if path == "" {
		path = hostImageDefaultPath
	}
	return NewWithImage(path)
}

// NewWithImage returns a host HAL whose flash is the image file at path.
//
// A missing or unreadable file yields a flash that fails every read, so the
// error surfaces when the kernel loads its table.
func NewWithImage(path string) HAL {
	logger := &hostLogger{w: os.Stdout}
	var flash Flash
	hf, err := newHostFlash(path)
	if err != nil {
		logger.WriteLineString(fmt.Sprintf("hal: flash: %v", err))
		flash = missingFlash{err: err}
	} else {
		flash = hf
	}
	return &hostHAL{
		logger: logger,
		fb:     newHostFramebuffer(320, 320),
		t:      newHostTime(),
		irq:    newIRQLines(16),
		flash:  flash,
	}
}

func (h *hostHAL) Logger() Logger   { return h.logger }
func (h *hostHAL) Display() Display { return hostDisplay{fb: h.fb} }
func (h *hostHAL) Flash() Flash     { return h.flash }
func (h *hostHAL) Time() Time       { return h.t }

func (h *hostHAL) Interrupts() Interrupts { return h.irq }

type hostDisplay struct {
	fb *hostFramebuffer
}

func (d hostDisplay) Framebuffer() Framebuffer { return d.fb }

type hostLogger struct {
	mu sync.Mutex
	w  *os.File
}

func (l *hostLogger) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, s)
}

func (l *hostLogger) WriteLineBytes(b []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Write(b)
	l.w.Write([]byte{'\n'})
}
