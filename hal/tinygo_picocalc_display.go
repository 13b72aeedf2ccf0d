//go:build tinygo && baremetal && picocalc

package hal

import (
	"errors"
	"machine"
	"time"
)

// ILI9488 commands.
const (
	ili9488SleepOut   = 0x11
	ili9488InvertOn   = 0x21
	ili9488DisplayOn  = 0x29
	ili9488ColumnAddr = 0x2A
	ili9488PageAddr   = 0x2B
	ili9488MemWrite   = 0x2C
	ili9488MemAccess  = 0x36
	ili9488PixFormat  = 0x3A
	ili9488FrameRate  = 0xB1
	ili9488DispFunc   = 0xB6
	ili9488Power1     = 0xC0
	ili9488Power2     = 0xC1
	ili9488VCOM       = 0xC5
)

// ili9488 drives the PicoCalc panel over SPI1 in 16bpp mode.
type ili9488 struct {
	spi *machine.SPI
	cs  machine.Pin
	dc  machine.Pin
	rst machine.Pin

	tx []byte
}

func initILI9488() (*ili9488, error) {
	if machine.SPI1 == nil {
		return nil, errors.New("SPI1 unavailable")
	}
	err := machine.SPI1.Configure(machine.SPIConfig{
		SCK:       machine.GP10,
		SDO:       machine.GP11,
		SDI:       machine.GP12,
		Frequency: 40_000_000,
	})
	if err != nil {
		return nil, err
	}

	d := &ili9488{
		spi: machine.SPI1,
		cs:  machine.GP13,
		dc:  machine.GP14,
		rst: machine.GP15,
		tx:  make([]byte, 4096),
	}
	for _, p := range []machine.Pin{d.cs, d.dc, d.rst} {
		p.Configure(machine.PinConfig{Mode: machine.PinOutput})
		p.High()
	}

	d.rst.Low()
	time.Sleep(64 * time.Millisecond)
	d.rst.High()
	time.Sleep(140 * time.Millisecond)

	d.cmd(ili9488Power1, 0x17, 0x15)
	d.cmd(ili9488Power2, 0x41)
	d.cmd(ili9488VCOM, 0x00, 0x12, 0x80, 0x40)
	d.cmd(ili9488PixFormat, 0x55)
	d.cmd(ili9488FrameRate, 0xA0, 0x11)
	d.cmd(ili9488DispFunc, 0x02, 0x22, 0x27)
	d.cmd(ili9488InvertOn)
	// Mirrored for the carrier's wiring, BGR panel.
	d.cmd(ili9488MemAccess, 0x40|0x04|0x08)
	d.cmd(ili9488SleepOut)
	time.Sleep(120 * time.Millisecond)
	d.cmd(ili9488DisplayOn)
	return d, nil
}

func (d *ili9488) cmd(c byte, data ...byte) {
	d.cs.Low()
	d.dc.Low()
	d.spi.Tx([]byte{c}, nil)
	d.dc.High()
	if len(data) > 0 {
		d.spi.Tx(data, nil)
	}
	d.cs.High()
}

func (d *ili9488) window(w, h int) {
	x1, y1 := uint16(w-1), uint16(h-1)
	d.cmd(ili9488ColumnAddr, 0, 0, byte(x1>>8), byte(x1))
	d.cmd(ili9488PageAddr, 0, 0, byte(y1>>8), byte(y1))
	d.cmd(ili9488MemWrite)
}

// blit sends a full little-endian RGB565 frame; the panel takes big-endian
// pixels.
func (d *ili9488) blit(frame []byte, w, h int) error {
	size := w * h * 2
	if w <= 0 || h <= 0 || len(frame) < size {
		return errors.New("ili9488: short frame")
	}
	d.window(w, h)

	d.cs.Low()
	d.dc.High()
	chunk := d.tx[:len(d.tx)&^1]
	for off := 0; off < size; {
		n := len(chunk)
		if n > size-off {
			n = size - off
		}
		src := frame[off : off+n]
		for i := 0; i < n; i += 2 {
			chunk[i], chunk[i+1] = src[i+1], src[i]
		}
		d.spi.Tx(chunk[:n], nil)
		off += n
	}
	d.cs.High()
	return nil
}
