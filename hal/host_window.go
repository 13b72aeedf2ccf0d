//go:build !tinygo && cgo

package hal

import (
	"fmt"
	"image"

	"keel/internal/buildinfo"

	"github.com/hajimehoshi/ebiten/v2"
)

// RunWindow opens a desktop window that presents the framebuffer of h and
// calls step once per frame. It blocks until the window closes or step
// fails.
func RunWindow(h HAL, newApp func(HAL) func() error) error {
	hh, ok := h.(*hostHAL)
	if !ok {
		return fmt.Errorf("window mode needs the host HAL, got %T", h)
	}
	step := newApp(hh)

	g := &hostGame{h: hh, step: step, kb: &hostKeyboard{irq: hh.irq}}
	ebiten.SetWindowTitle("keel monitor (" + buildinfo.Short() + ")")
	ebiten.SetWindowSize(hh.fb.width*2, hh.fb.height*2)
	ebiten.SetTPS(60)
	return ebiten.RunGame(g)
}

type hostGame struct {
	h     *hostHAL
	img   *image.RGBA
	fbImg *ebiten.Image
	kb    *hostKeyboard
	step  func() error
}

func (g *hostGame) Update() error {
	g.h.t.step(1)
	g.kb.poll()
	if g.step != nil {
		if err := g.step(); err != nil {
			return err
		}
	}
	return nil
}

func (g *hostGame) Draw(screen *ebiten.Image) {
	fb := g.h.fb
	if g.img == nil {
		g.img = image.NewRGBA(image.Rect(0, 0, fb.width, fb.height))
		g.fbImg = ebiten.NewImage(fb.width, fb.height)
	}
	fb.toRGBA(g.img.Pix)
	g.fbImg.WritePixels(g.img.Pix)
	screen.DrawImage(g.fbImg, nil)
}

func (g *hostGame) Layout(outsideWidth, outsideHeight int) (int, int) {
	return g.h.fb.width, g.h.fb.height
}
