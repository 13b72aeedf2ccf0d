package cpu

import (
	"context"

	"keel/keelos/abi"
	"keel/keelos/kernel"
)

// syscallCycles is what a trap into the kernel costs.
const syscallCycles = 10

// Step resumes the Running task until its next trap and handles it. It
// reports false, without running anything, while the CPU waits for an
// interrupt or an external tick.
func (m *Machine) Step() bool {
	if m.pollInputs() {
		m.waiting = false
	}
	if m.waiting {
		return false
	}
	m.reap()

	cur := m.k.Current()
	h := m.harts[cur]
	if h == nil {
		h = m.spawn(cur)
	} else {
		if h.regs != nil {
			*h.regs = m.k.Regs(cur)
			h.regs = nil
		}
		h.resume <- false
	}
	m.handle(<-m.events)
	m.steps++
	m.publish()
	return true
}

// Run steps the machine until ctx is done, sleeping while the CPU waits
// for an interrupt.
func (m *Machine) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.Step() {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line := <-m.irqs:
			m.k.Interrupt(line)
		case _, ok := <-m.ticks:
			if !ok {
				m.ticks = nil
			} else {
				m.k.Tick()
			}
		}
		m.waiting = false
	}
}

// RunSteps steps the machine at most n times and returns how many steps
// ran. It stops early when the CPU starts waiting.
func (m *Machine) RunSteps(n int) int {
	for i := 0; i < n; i++ {
		if !m.Step() {
			return i
		}
	}
	return n
}

// Close tears down every hart.
func (m *Machine) Close() {
	for i, h := range m.harts {
		if h != nil {
			h.kill()
			m.harts[i] = nil
		}
	}
}

// reap kills the harts whose task was reset or can no longer run.
func (m *Machine) reap() {
	for i, h := range m.harts {
		if h == nil {
			continue
		}
		idx := abi.TaskIndex(i)
		switch m.k.State(idx) {
		case abi.StateFaulted, abi.StateDead, abi.StateStopped:
		default:
			if m.k.Incarnation(idx) == h.incarnation {
				continue
			}
		}
		h.kill()
		m.harts[i] = nil
	}
}

func (m *Machine) handle(ev event) {
	h := ev.hart
	switch ev.kind {
	case evSyscall:
		h.regs = ev.regs
		m.k.Syscall(*ev.regs)
		m.charge(syscallCycles)
	case evLoad:
		m.access(ev, abi.AttrRead)
	case evStore:
		m.access(ev, abi.AttrWrite)
	case evSpin:
		m.charge(uint64(ev.cycles))
	case evIdle:
		m.idle()
	case evPanic:
		info := classify(ev.value)
		name := m.img.Tasks[h.index].Name
		m.logf("task %s: %v", name, ev.value)
		m.k.Fault(info)
		notifyPanic(PanicInfo{Task: h.index, Name: name, Value: ev.value, Stack: ev.stack, Fault: info})
	case evExit:
		m.k.Fault(abi.FaultInfo{Kind: abi.FaultExit})
	}
}

func (m *Machine) access(ev event, need abi.RegionAttr) {
	n := uint32(len(ev.buf))
	if n == 0 {
		return
	}
	if !m.mpu.Permits(ev.addr, n, need) {
		m.k.Fault(abi.FaultInfo{Kind: abi.FaultMemory, Addr: ev.addr})
		return
	}
	var err error
	if need == abi.AttrWrite {
		err = m.ram.Write(ev.addr, ev.buf)
	} else {
		err = m.ram.Read(ev.addr, ev.buf)
	}
	if err != nil {
		m.logf("%v", err)
		m.k.Fault(abi.FaultInfo{Kind: abi.FaultMemory, Addr: ev.addr})
		return
	}
	m.charge(1)
}

// charge accounts executed cycles. Without an external clock, every
// CyclesPerTick cycles make a kernel tick.
func (m *Machine) charge(c uint64) {
	m.cycles += c
	if m.ticks != nil {
		return
	}
	for m.cycles >= m.nextTick {
		m.nextTick += m.perTick
		m.k.Tick()
	}
}

// idle waits for the next interrupt. With the virtual clock the wait ends
// at the next tick.
func (m *Machine) idle() {
	if m.pollInputs() {
		return
	}
	if m.ticks != nil {
		m.waiting = true
		return
	}
	m.charge(m.nextTick - m.cycles)
}

// pollInputs delivers queued interrupts and external ticks. It reports
// whether anything arrived.
func (m *Machine) pollInputs() bool {
	got := false
	for {
		select {
		case line := <-m.irqs:
			m.k.Interrupt(line)
			got = true
			continue
		default:
		}
		if m.ticks == nil {
			return got
		}
		select {
		case _, ok := <-m.ticks:
			if !ok {
				m.ticks = nil
				return got
			}
			m.k.Tick()
			got = true
		default:
			return got
		}
	}
}

// Snapshot is a consistent view of the machine between two steps.
type Snapshot struct {
	Now      uint64
	Cycles   uint64
	Steps    uint64
	Switches uint64
	Current  abi.TaskIndex
	Waiting  bool
	Tasks    []kernel.TaskStatus
	MPU      []abi.Region
}

func (m *Machine) publish() {
	s := Snapshot{
		Now:      m.k.Now(),
		Cycles:   m.cycles,
		Steps:    m.steps,
		Switches: m.k.Switches(),
		Current:  m.k.Current(),
		Waiting:  m.waiting,
		Tasks:    m.k.Status(),
		MPU:      m.mpu.Programmed(),
	}
	m.snapMu.Lock()
	m.snap = s
	m.snapMu.Unlock()
}

// Snapshot returns the state published after the last step.
func (m *Machine) Snapshot() Snapshot {
	m.snapMu.Lock()
	defer m.snapMu.Unlock()
	return m.snap
}
