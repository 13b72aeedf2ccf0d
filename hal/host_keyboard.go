//go:build !tinygo && cgo

package hal

import (
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
)

// hostKeyboard makes the window a serial terminal: typed text and Enter
// raise UARTIRQ, at most once per frame.
type hostKeyboard struct {
	irq   *irqLines
	chars []rune
}

func (k *hostKeyboard) poll() {
	k.chars = ebiten.AppendInputChars(k.chars[:0])
	if len(k.chars) > 0 || inpututil.IsKeyJustPressed(ebiten.KeyEnter) {
		k.irq.raise(UARTIRQ)
	}
}
