package app

import (
	"fmt"
	"image/color"
	"sync"

	"keel/hal"
	"keel/internal/buildinfo"
	"keel/keelos/abi"
	"keel/keelos/cpu"
	"keel/keelos/kernel"

	"tinygo.org/x/tinyfont"
)

const (
	maxTableRows = 12
	// faultFrames is how long a task panic stays on screen.
	faultFrames = 180
)

var (
	colorBackground = color.RGBA{R: 0x10, G: 0x10, B: 0x18, A: 0xFF}
	colorHeader     = color.RGBA{R: 0x30, G: 0x30, B: 0x60, A: 0xFF}
	colorText       = color.RGBA{R: 0xE0, G: 0xE0, B: 0xE0, A: 0xFF}
	colorRunning    = color.RGBA{R: 0x60, G: 0xF0, B: 0x60, A: 0xFF}
	colorFaulted    = color.RGBA{R: 0xF0, G: 0x50, B: 0x50, A: 0xFF}
	colorDead       = color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xFF}
	colorFaultPanel = color.RGBA{R: 0x80, G: 0x10, B: 0x10, A: 0xFF}
)

// monitor renders the task table and the log console.
type monitor struct {
	fb    hal.Framebuffer
	name  string
	table *fbDisplay
	logs  *fbDisplay
	log   *logConsole

	mu         sync.Mutex
	fault      *cpu.PanicInfo
	faultUntil uint64
	frames     uint64
}

func newMonitor(fb hal.Framebuffer, name string) *monitor {
	screen := newFBDisplay(fb)
	tableHeight := (maxTableRows + 2) * fontHeight
	m := &monitor{
		fb:    fb,
		name:  name,
		table: screen.band(0, tableHeight),
		logs:  screen.band(tableHeight, fb.Height()-tableHeight),
	}
	m.log = newLogConsole(fb.Width(), m.logs.height)
	return m
}

// showPanic puts a task panic on screen for a while. It may be called
// from any goroutine.
func (m *monitor) showPanic(info cpu.PanicInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = &info
	m.faultUntil = m.frames + faultFrames
}

func (m *monitor) render(s cpu.Snapshot, hostTicks uint64) error {
	m.mu.Lock()
	m.frames++
	fault := m.fault
	if fault != nil && m.frames >= m.faultUntil {
		m.fault, fault = nil, nil
	}
	m.mu.Unlock()

	m.table.clear(colorBackground)
	_ = m.table.FillRectangle(0, 0, int16(m.fb.Width()), fontHeight, colorHeader)
	header := fmt.Sprintf("keel %s %s  t=%d sw=%d", m.name, buildinfo.Short(), s.Now, s.Switches)
	if hostTicks > 0 {
		header += fmt.Sprintf(" host=%d", hostTicks)
	}
	m.text(m.table, 0, header, colorText)

	for i, t := range s.Tasks {
		if i == maxTableRows {
			m.text(m.table, i+1, fmt.Sprintf("... %d more", len(s.Tasks)-i), colorText)
			break
		}
		m.text(m.table, i+1, taskRow(t, t.Index == s.Current), stateColor(t.State))
	}

	if fault != nil {
		row := maxTableRows + 1
		_ = m.table.FillRectangle(0, int16(row*fontHeight), int16(m.fb.Width()), fontHeight, colorFaultPanel)
		m.text(m.table, row, fmt.Sprintf("panic in %s: %v", fault.Name, fault.Value), colorText)
	}

	m.log.flush()
	m.log.surface.blit(m.logs)
	return m.fb.Present()
}

func (m *monitor) text(d *fbDisplay, row int, s string, c color.RGBA) {
	tinyfont.WriteLine(d, font, 2, int16(row*fontHeight+fontOffset+1), s, c)
}

func taskRow(t kernel.TaskStatus, current bool) string {
	mark := ' '
	if current {
		mark = '*'
	}
	row := fmt.Sprintf("%c%-2d %-10.10s %-8s p%-3d g%-4d f%d", mark, t.Index, t.Name, t.State, t.Priority, t.Generation, t.Faults)
	if t.Faults > 0 {
		row += " " + t.LastFault.String()
	}
	return row
}

func stateColor(s abi.TaskState) color.RGBA {
	switch s {
	case abi.StateRunning:
		return colorRunning
	case abi.StateFaulted:
		return colorFaulted
	case abi.StateDead, abi.StateStopped:
		return colorDead
	default:
		return colorText
	}
}
