//go:build !tinygo

package hal

import (
	"fmt"
	"io"
	"sync/atomic"
)

// hostSerial is the receive side of the host console UART. Every read that
// returns data raises UARTIRQ.
type hostSerial struct {
	r   io.Reader
	irq *irqLines
	rx  atomic.Uint64
}

func (s *hostSerial) run() {
	buf := make([]byte, 64)
	for {
		n, err := s.r.Read(buf)
		if n > 0 {
			s.rx.Add(uint64(n))
			s.irq.raise(UARTIRQ)
		}
		if err != nil {
			return
		}
	}
}

// AttachSerial feeds r into h's console UART until r returns an error.
func AttachSerial(h HAL, r io.Reader) error {
	hh, ok := h.(*hostHAL)
	if !ok {
		return fmt.Errorf("serial needs the host HAL, got %T", h)
	}
	s := &hostSerial{r: r, irq: hh.irq}
	go s.run()
	return nil
}
