//go:build tinygo && baremetal

package hal

import (
	"machine"
	"sync"
	"time"
)

// tinyGoTime counts TickPeriod ticks from a timer goroutine. Like the host
// clock it drops ticks nobody drained.
type tinyGoTime struct {
	ch chan uint64
}

func newTinyGoTime() *tinyGoTime {
	t := &tinyGoTime{ch: make(chan uint64, 16)}
	go t.run()
	return t
}

func (t *tinyGoTime) run() {
	ticker := time.NewTicker(TickPeriod)
	defer ticker.Stop()
	var seq uint64
	for range ticker.C {
		seq++
		select {
		case t.ch <- seq:
		default:
		}
	}
}

func (t *tinyGoTime) Ticks() <-chan uint64 { return t.ch }

// pollUART checks the UART receive buffer every tick. Waiting bytes are
// drained and raise UARTIRQ once.
func pollUART(uart *machine.UART, irq *irqLines) {
	ticker := time.NewTicker(TickPeriod)
	defer ticker.Stop()
	for range ticker.C {
		if uart.Buffered() == 0 {
			continue
		}
		for uart.Buffered() > 0 {
			_, _ = uart.ReadByte()
		}
		irq.raise(UARTIRQ)
	}
}

var crlf = []byte{'\r', '\n'}

// uartLogger writes CRLF-terminated lines. Lines from the kernel, the
// monitor and the panic hook never interleave.
type uartLogger struct {
	mu   sync.Mutex
	uart *machine.UART
}

func (l *uartLogger) WriteLineString(s string) { l.WriteLineBytes([]byte(s)) }

func (l *uartLogger) WriteLineBytes(b []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.uart.Write(b)
	_, _ = l.uart.Write(crlf)
}
