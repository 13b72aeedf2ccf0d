//go:build tinygo && baremetal && picocalc

package hal

import (
	"image/color"
	"machine"
)

type picoCalcHAL struct {
	logger *uartLogger
	fb     *picoCalcFramebuffer
	t      *tinyGoTime
	irq    *irqLines
	flash  Flash
}

// New returns the HAL of a Pico/Pico2 on the PicoCalc carrier. The monitor
// draws on the 320x320 ILI9488 panel; the kernel log also goes to UART0
// (GP0 TX / GP1 RX, 115200 8N1). Both UART input and key presses on the
// I2C keyboard raise UARTIRQ.
//
// A panel or keyboard that does not answer at boot is left out: the HAL
// then behaves like a bare Pico.
func New() HAL {
	uart := machine.UART0
	uart.Configure(machine.UARTConfig{
		BaudRate: 115200,
		TX:       machine.GP0,
		RX:       machine.GP1,
	})
	logger := &uartLogger{uart: uart}

	irq := newIRQLines(8)
	go pollUART(uart, irq)
	if kb, err := initI2CKeyboard(); err == nil {
		go kb.run(irq)
	} else {
		logger.WriteLineString("hal: " + err.Error())
	}

	var fb *picoCalcFramebuffer
	if lcd, err := initILI9488(); err == nil {
		fb = newPicoCalcFramebuffer(lcd, 320, 320)
	} else {
		logger.WriteLineString("hal: display: " + err.Error())
	}

	return &picoCalcHAL{
		logger: logger,
		fb:     fb,
		t:      newTinyGoTime(),
		irq:    irq,
		flash:  newRP2Flash(),
	}
}

func (h *picoCalcHAL) Logger() Logger { return h.logger }

func (h *picoCalcHAL) Display() Display {
	if h.fb == nil {
		return nil
	}
	return picoCalcDisplay{fb: h.fb}
}

func (h *picoCalcHAL) Flash() Flash           { return h.flash }
func (h *picoCalcHAL) Time() Time             { return h.t }
func (h *picoCalcHAL) Interrupts() Interrupts { return h.irq }

type picoCalcDisplay struct {
	fb *picoCalcFramebuffer
}

func (d picoCalcDisplay) Framebuffer() Framebuffer { return d.fb }

// picoCalcFramebuffer keeps the frame in RAM as little-endian RGB565;
// Present pushes the whole frame to the panel.
type picoCalcFramebuffer struct {
	w, h int
	buf  []byte
	lcd  *ili9488
}

func newPicoCalcFramebuffer(lcd *ili9488, w, h int) *picoCalcFramebuffer {
	return &picoCalcFramebuffer{w: w, h: h, buf: make([]byte, w*h*2), lcd: lcd}
}

func (f *picoCalcFramebuffer) Width() int          { return f.w }
func (f *picoCalcFramebuffer) Height() int         { return f.h }
func (f *picoCalcFramebuffer) Format() PixelFormat { return PixelFormatRGB565 }
func (f *picoCalcFramebuffer) StrideBytes() int    { return f.w * 2 }
func (f *picoCalcFramebuffer) Buffer() []byte      { return f.buf }

func (f *picoCalcFramebuffer) ClearRGB(r, g, b uint8) {
	p := RGB565(color.RGBA{R: r, G: g, B: b})
	for i := 0; i+1 < len(f.buf); i += 2 {
		f.buf[i], f.buf[i+1] = byte(p), byte(p>>8)
	}
}

func (f *picoCalcFramebuffer) Present() error {
	return f.lcd.blit(f.buf, f.w, f.h)
}
