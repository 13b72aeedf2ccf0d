//go:build tinygo && baremetal && !picocalc

package hal

import (
	"machine"
)

type tinyGoHAL struct {
	logger *uartLogger
	t      *tinyGoTime
	irq    *irqLines
	flash  Flash
}

// New returns the HAL of a Pico-class board (RP2040/RP2350) without a
// display: the kernel log and the panic hook go to the UART.
//
// UART: UART0 on GP0 (TX) / GP1 (RX), 115200 8N1. Received bytes raise
// UARTIRQ. The image table is read from flash at ImageFlashOffset.
func New() HAL {
	uart := machine.UART0
	uart.Configure(machine.UARTConfig{
		BaudRate: 115200,
		TX:       machine.GP0,
		RX:       machine.GP1,
	})

	irq := newIRQLines(4)
	go pollUART(uart, irq)

	return &tinyGoHAL{
		logger: &uartLogger{uart: uart},
		t:      newTinyGoTime(),
		irq:    irq,
		flash:  newRP2Flash(),
	}
}

func (h *tinyGoHAL) Logger() Logger   { return h.logger }
func (h *tinyGoHAL) Display() Display { return nil }
func (h *tinyGoHAL) Flash() Flash     { return h.flash }
func (h *tinyGoHAL) Time() Time       { return h.t }

func (h *tinyGoHAL) Interrupts() Interrupts { return h.irq }
