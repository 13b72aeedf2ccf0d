// Package app boots keel from the image in flash and runs it behind the
// monitor display.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"keel/hal"
	"keel/keelos/cpu"
	"keel/keelos/image"
	"keel/keelos/tasks"
)

// Config tunes the runtime.
type Config struct {
	// CyclesPerTick clocks the kernel from executed cycles on a HAL
	// without a tick source.
	CyclesPerTick uint64
}

type system struct {
	m   *cpu.Machine
	img *image.Image
	mon *monitor

	hostTicks   atomic.Uint64
	droppedIRQs atomic.Uint64

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// New boots the image with the default config and returns the per-frame
// step function.
func New(h hal.HAL) func() error {
	return NewWithConfig(h, Config{})
}

// NewWithConfig boots the image in h's flash. The returned step function
// redraws the monitor; it fails once the machine has stopped, or
// straight away when the image could not be booted.
func NewWithConfig(h hal.HAL, cfg Config) func() error {
	s, err := newSystem(h, cfg)
	if err != nil {
		if l := h.Logger(); l != nil {
			l.WriteLineString("keel: boot: " + err.Error())
		}
		bootScreen(h, "keel: boot failed", err.Error())
		return func() error { return err }
	}
	return s.step
}

// Run boots the image and redraws the monitor forever (TinyGo/native
// entrypoint).
func Run(h hal.HAL) {
	step := New(h)
	for {
		if err := step(); err != nil {
			select {}
		}
		time.Sleep(time.Second / 30)
	}
}

func newSystem(h hal.HAL, cfg Config) (*system, error) {
	bootScreen(h, "keel", "reading image")
	img, err := image.ReadFlash(h.Flash())
	if err != nil {
		return nil, err
	}
	if err := img.Validate(); err != nil {
		return nil, fmt.Errorf("image %s: %w", img.Name, err)
	}

	s := &system{img: img, done: make(chan struct{})}
	out := h.Logger()
	if out == nil {
		out = teeLogger{}
	}
	if d := h.Display(); d != nil {
		if fb := d.Framebuffer(); fb != nil && fb.Buffer() != nil {
			s.mon = newMonitor(fb, img.Name)
			out = teeLogger{out, s.mon.log}
		}
	}

	mcfg := cpu.Config{
		Programs:      tasks.Programs(out),
		Logger:        out,
		CyclesPerTick: cfg.CyclesPerTick,
	}
	var hostTicks <-chan uint64
	if t := h.Time(); t != nil {
		hostTicks = t.Ticks()
	}
	var ticks chan uint64
	if hostTicks != nil {
		ticks = make(chan uint64, 64)
		mcfg.Ticks = ticks
	}
	s.m, err = cpu.New(img, mcfg)
	if err != nil {
		return nil, err
	}
	installPanicHandler(out, s.mon)
	out.WriteLineString(fmt.Sprintf("keel: booting %s: %d tasks, %d regions", img.Name, len(img.Tasks), len(img.Regions)))

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer s.m.Close()
		return s.m.Run(ctx)
	})
	if hostTicks != nil {
		g.Go(func() error { return s.pumpTicks(ctx, hostTicks, ticks) })
	}
	if irq := h.Interrupts(); irq != nil {
		lines := irq.Lines()
		g.Go(func() error { return s.pumpInterrupts(ctx, lines) })
	}
	go func() {
		s.err = g.Wait()
		close(s.done)
	}()
	return s, nil
}

// pumpTicks forwards the HAL tick stream to the machine. Ticks the
// machine has not taken yet are dropped.
func (s *system) pumpTicks(ctx context.Context, in <-chan uint64, out chan<- uint64) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case seq, ok := <-in:
			if !ok {
				return nil
			}
			s.hostTicks.Store(seq)
			select {
			case out <- seq:
			default:
			}
		}
	}
}

// pumpInterrupts raises device interrupt lines on the machine.
func (s *system) pumpInterrupts(ctx context.Context, in <-chan uint32) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-in:
			if !ok {
				return nil
			}
			if !s.m.Interrupt(line) {
				s.droppedIRQs.Add(1)
			}
		}
	}
}

func (s *system) step() error {
	select {
	case <-s.done:
		if s.err == nil || errors.Is(s.err, context.Canceled) {
			return errStopped
		}
		return s.err
	default:
	}
	if s.mon == nil {
		return nil
	}
	return s.mon.render(s.m.Snapshot(), s.hostTicks.Load())
}

func (s *system) stop() {
	s.cancel()
	<-s.done
}

var errStopped = errors.New("machine stopped")

type teeLogger []hal.Logger

func (t teeLogger) WriteLineString(s string) {
	for _, l := range t {
		l.WriteLineString(s)
	}
}

func (t teeLogger) WriteLineBytes(b []byte) {
	for _, l := range t {
		l.WriteLineBytes(b)
	}
}
