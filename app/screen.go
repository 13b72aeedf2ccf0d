package app

import (
	"image/color"
	"unicode/utf8"

	"keel/hal"

	"tinygo.org/x/tinyfont"
)

// bootScreen replaces the display contents with a title and message
// lines, wrapped to the screen width.
func bootScreen(h hal.HAL, title string, lines ...string) {
	disp := h.Display()
	if disp == nil {
		return
	}
	fb := disp.Framebuffer()
	if fb == nil {
		return
	}
	d := newFBDisplay(fb)
	d.clear(color.RGBA{A: 0xFF})

	_, charWidth := tinyfont.LineWidth(font, "0")
	cols := 1
	if charWidth > 0 {
		cols = max(1, fb.Width()/int(charWidth))
	}

	fg := color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}
	y := int16(fontHeight)
	tinyfont.WriteLine(d, font, 0, y, title, fg)
	y += fontHeight
	for _, line := range lines {
		for line != "" && int(y) < fb.Height() {
			var chunk string
			chunk, line = takeRunes(line, cols)
			y += fontHeight
			tinyfont.WriteLine(d, font, 0, y, chunk, fg)
		}
	}
	_ = fb.Present()
}

func takeRunes(s string, n int) (prefix, rest string) {
	i := 0
	for count := 0; i < len(s) && count < n; count++ {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return s[:i], s[i:]
}
