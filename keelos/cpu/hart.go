package cpu

import (
	"runtime"

	"keel/keelos/abi"
	"keel/keelos/userlib"
)

type eventKind uint8

const (
	evSyscall eventKind = iota
	evLoad
	evStore
	evSpin
	evIdle
	evPanic
	evExit
)

type event struct {
	hart   *hart
	kind   eventKind
	regs   *abi.Regs
	addr   uint32
	buf    []byte
	cycles uint32
	value  any
	stack  []byte
}

// hart is the execution context of one incarnation of a task. It implements
// userlib.Port.
type hart struct {
	m           *Machine
	index       abi.TaskIndex
	incarnation uint32

	resume chan bool
	done   chan struct{}
	killed bool
	// regs receives the kernel's results when the hart resumes after a
	// syscall.
	regs *abi.Regs
}

func (m *Machine) spawn(i abi.TaskIndex) *hart {
	h := &hart{
		m:           m,
		index:       i,
		incarnation: m.k.Incarnation(i),
		resume:      make(chan bool),
		done:        make(chan struct{}),
	}
	m.harts[i] = h
	go h.run(m.programs[i], userlib.New(h, m.infos[i]))
	return h
}

func (h *hart) run(prog userlib.Program, sys *userlib.Sys) {
	defer close(h.done)
	defer func() {
		if v := recover(); v != nil {
			h.trap(event{kind: evPanic, value: v, stack: captureStack()})
		}
	}()
	prog(sys)
	h.trap(event{kind: evExit})
}

// trap hands the CPU back to the machine and waits to be resumed. A killed
// hart unwinds its goroutine instead.
func (h *hart) trap(ev event) {
	if h.killed {
		runtime.Goexit()
	}
	ev.hart = h
	h.m.events <- ev
	if kill := <-h.resume; kill {
		runtime.Goexit()
	}
}

// kill unwinds a parked hart and waits for its goroutine to finish.
func (h *hart) kill() {
	h.killed = true
	h.resume <- true
	<-h.done
}

func (h *hart) Syscall(r *abi.Regs) { h.trap(event{kind: evSyscall, regs: r}) }

func (h *hart) Load(addr uint32, p []byte) { h.trap(event{kind: evLoad, addr: addr, buf: p}) }

func (h *hart) Store(addr uint32, p []byte) { h.trap(event{kind: evStore, addr: addr, buf: p}) }

func (h *hart) Spin(cycles uint32) { h.trap(event{kind: evSpin, cycles: cycles}) }

func (h *hart) Idle() { h.trap(event{kind: evIdle}) }
