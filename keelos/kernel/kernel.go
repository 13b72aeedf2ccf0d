// Package kernel is the privileged core: the task table, the scheduler, the
// rendezvous IPC transport, the memory protection configurator and the fault
// policy, all driven through the trap gateway.
//
// A Kernel is single-threaded. Every entry point (Syscall, Fault, Tick,
// Interrupt) runs to completion and leaves exactly one task Running.
package kernel

import (
	"fmt"

	"keel/hal"
	"keel/keelos/abi"
	"keel/keelos/image"
)

// Memory is the privileged view of the address space. The kernel uses it to
// move message bytes between tasks and to restore task RAM on restart.
type Memory interface {
	Read(addr uint32, p []byte) error
	Write(addr uint32, p []byte) error
	Reset(r abi.Region)
}

type irqState struct {
	image.IRQ
	enabled bool
	pending bool
}

// Kernel owns the task table built from an image.
type Kernel struct {
	img *image.Image
	mpu hal.ProtectionUnit
	mem Memory
	log hal.Logger

	tasks   []task
	current abi.TaskIndex
	irqs    []irqState

	now      uint64
	arrivals uint64
	switches uint64
}

// New builds the task table from img and selects the first task to run. The
// image must have passed Validate.
func New(img *image.Image, mpu hal.ProtectionUnit, mem Memory, log hal.Logger) *Kernel {
	k := &Kernel{
		img:   img,
		mpu:   mpu,
		mem:   mem,
		log:   log,
		tasks: make([]task, len(img.Tasks)),
		irqs:  make([]irqState, len(img.IRQs)),
	}
	for i := range img.Tasks {
		t := &k.tasks[i]
		t.desc = &img.Tasks[i]
		t.index = abi.TaskIndex(i)
		t.regions = img.TaskRegions(i)
		t.state = abi.StateStopped
		if t.desc.Start {
			t.state = abi.StateRunnable
		}
	}
	for i, q := range img.IRQs {
		k.irqs[i] = irqState{IRQ: q, enabled: true}
	}

	k.current = abi.TaskIndex(img.Idle)
	next := k.pick(false)
	k.tasks[next].state = abi.StateRunning
	k.current = next
	k.configureMPU(next)
	k.logf("booted %q: %d tasks, first %s", img.Name, len(k.tasks), k.tasks[next].desc.Name)
	return k
}

// Image returns the table the kernel was built from.
func (k *Kernel) Image() *image.Image { return k.img }

// NumTasks returns the size of the task table.
func (k *Kernel) NumTasks() int { return len(k.tasks) }

// Current returns the index of the Running task.
func (k *Kernel) Current() abi.TaskIndex { return k.current }

// Now returns the tick count.
func (k *Kernel) Now() uint64 { return k.now }

// Switches counts context switches since boot.
func (k *Kernel) Switches() uint64 { return k.switches }

// Regs returns the saved registers of task i. For the Running task these
// hold the results of its last syscall.
func (k *Kernel) Regs(i abi.TaskIndex) abi.Regs { return k.tasks[i].regs }

// Incarnation changes every time the context of task i is reset.
func (k *Kernel) Incarnation(i abi.TaskIndex) uint32 { return k.tasks[i].incarnation }

// State returns the scheduling state of task i.
func (k *Kernel) State(i abi.TaskIndex) abi.TaskState { return k.tasks[i].state }

// TaskID returns the current identity of task i.
func (k *Kernel) TaskID(i abi.TaskIndex) abi.TaskID { return k.tasks[i].id() }

// TaskStatus is a read-only view of one task slot.
type TaskStatus struct {
	Index       abi.TaskIndex
	Name        string
	Priority    uint8
	State       abi.TaskState
	Generation  abi.Generation
	Faults      uint32
	LastFault   abi.FaultInfo
	Notes       uint32
	Blocked     abi.TaskID
	Incarnation uint32
}

// Status returns the status of every task.
func (k *Kernel) Status() []TaskStatus {
	out := make([]TaskStatus, len(k.tasks))
	for i := range k.tasks {
		t := &k.tasks[i]
		st := TaskStatus{
			Index:       t.index,
			Name:        t.desc.Name,
			Priority:    t.desc.Priority,
			State:       t.state,
			Generation:  t.gen,
			Faults:      t.faults,
			LastFault:   t.fault,
			Notes:       t.notes,
			Blocked:     abi.AnySender,
			Incarnation: t.incarnation,
		}
		switch t.state {
		case abi.StateInSend, abi.StateInReply:
			st.Blocked = k.tasks[t.peer].id()
		case abi.StateInRecv:
			st.Blocked = t.recvFrom
		}
		out[i] = st
	}
	return out
}

func (k *Kernel) logf(format string, args ...any) {
	if k.log == nil {
		return
	}
	k.log.WriteLineString("kernel: " + fmt.Sprintf(format, args...))
}
