// Package cpu runs task programs against a kernel on a simulated processor.
//
// Every task program runs on its own goroutine, its hart, but only the hart of
// the kernel's Running task ever executes: a hart runs until it traps (a
// syscall, a load or store, a spin, an idle wait, a panic or a return) and
// then parks until the machine resumes it. Harts of tasks that the kernel
// restarts are torn down and started again from the top of their program.
package cpu

import (
	"errors"
	"fmt"
	"sync"

	"keel/hal"
	"keel/keelos/abi"
	"keel/keelos/image"
	"keel/keelos/kernel"
	"keel/keelos/userlib"
)

var ErrMissingProgram = errors.New("no program for task")

// DefaultCyclesPerTick is used when Config.CyclesPerTick is zero.
const DefaultCyclesPerTick = 1000

// Config selects the programs and the clock of a Machine.
type Config struct {
	// Programs maps program names to code.
	Programs map[string]userlib.Program
	// CyclesPerTick converts executed cycles into kernel ticks when Ticks
	// is nil.
	CyclesPerTick uint64
	// Ticks, when set, drives the kernel tick from an external clock.
	// Idle waits then block until a tick or an interrupt arrives.
	Ticks  <-chan uint64
	Logger hal.Logger
}

// Machine couples a kernel, its memory and protection unit, and the harts
// running task code. Step, Run and Close must be called from one goroutine;
// Interrupt and Snapshot may be called from any.
type Machine struct {
	img *image.Image
	k   *kernel.Kernel
	ram *hal.RAM
	mpu *hal.SoftMPU
	log hal.Logger

	programs []userlib.Program
	infos    []userlib.TaskInfo
	harts    []*hart

	events chan event
	irqs   chan uint32
	ticks  <-chan uint64

	perTick  uint64
	cycles   uint64
	nextTick uint64
	steps    uint64
	waiting  bool

	snapMu sync.Mutex
	snap   Snapshot
}

// New builds the machine for img. Every task must have a program.
func New(img *image.Image, cfg Config) (*Machine, error) {
	m := &Machine{
		img:      img,
		log:      cfg.Logger,
		programs: make([]userlib.Program, len(img.Tasks)),
		infos:    make([]userlib.TaskInfo, len(img.Tasks)),
		harts:    make([]*hart, len(img.Tasks)),
		events:   make(chan event),
		irqs:     make(chan uint32, 64),
		ticks:    cfg.Ticks,
		perTick:  cfg.CyclesPerTick,
	}
	if m.perTick == 0 {
		m.perTick = DefaultCyclesPerTick
	}
	m.nextTick = m.perTick

	peers := make(map[string]abi.TaskIndex, len(img.Tasks))
	for i := range img.Tasks {
		peers[img.Tasks[i].Name] = abi.TaskIndex(i)
	}
	var missing []error
	for i := range img.Tasks {
		t := &img.Tasks[i]
		prog, ok := cfg.Programs[t.ProgramName()]
		if !ok {
			missing = append(missing, fmt.Errorf("task %s: program %q: %w", t.Name, t.ProgramName(), ErrMissingProgram))
			continue
		}
		ram, _ := img.PrimaryRAM(i)
		m.programs[i] = prog
		m.infos[i] = userlib.TaskInfo{
			Index:         abi.TaskIndex(i),
			Name:          t.Name,
			RAM:           ram,
			Notifications: t.Notifications,
			Peers:         peers,
		}
	}
	if err := errors.Join(missing...); err != nil {
		return nil, err
	}

	m.ram = hal.NewRAM(img.AllRegions())
	m.mpu = hal.NewSoftMPU(int(img.MPUSlots), img.Target == image.TargetARMv7M)
	m.k = kernel.New(img, m.mpu, m.ram, cfg.Logger)
	m.publish()
	return m, nil
}

// Kernel returns the kernel. It may only be used between steps, from the
// goroutine driving the machine.
func (m *Machine) Kernel() *kernel.Kernel { return m.k }

// RAM returns the simulated address space.
func (m *Machine) RAM() *hal.RAM { return m.ram }

// MPU returns the protection unit.
func (m *Machine) MPU() *hal.SoftMPU { return m.mpu }

// Interrupt raises an interrupt line. It reports false when too many
// interrupts are already queued.
func (m *Machine) Interrupt(line uint32) bool {
	select {
	case m.irqs <- line:
		return true
	default:
		return false
	}
}

func (m *Machine) logf(format string, args ...any) {
	if m.log == nil {
		return
	}
	m.log.WriteLineString("cpu: " + fmt.Sprintf(format, args...))
}
