package kernel

import (
	"keel/keelos/abi"
)

// post sets notification bits on t and wakes it when a blocked receive
// is waiting for them.
func (k *Kernel) post(t *task, bits uint32) {
	t.notes |= bits
	if t.wantsNotes() {
		k.deliverNotes(t)
	}
}

func (k *Kernel) deliverNotes(t *task) {
	bits := t.notes & t.recvMask
	t.notes &^= bits
	t.complete(abi.ResponseOK, uint32(abi.KernelID), bits, 0, 0, 0)
}

func (k *Kernel) sysPost(t *task) {
	target := abi.TaskID(t.regs[0])
	bits := t.regs[1]
	dst, ok := k.taskArg(t, target)
	if !ok {
		return
	}
	if dst.state == abi.StateDead || dst.gen != target.Generation() {
		t.complete(abi.DeadCode(dst.gen))
		return
	}
	t.complete(abi.ResponseOK)
	k.post(dst, bits)
}

// Interrupt enters the kernel for a hardware interrupt line. The line is
// masked and its notification posted to the owning task, which re-enables
// it with irq_control. A line that fires while masked is latched.
func (k *Kernel) Interrupt(line uint32) {
	q := k.irq(line)
	if q == nil {
		k.logf("spurious irq %d", line)
		return
	}
	if !q.enabled {
		q.pending = true
		return
	}
	q.enabled = false
	k.post(&k.tasks[q.Task], q.Bits)
	k.reschedule(false)
}

func (k *Kernel) irq(line uint32) *irqState {
	for i := range k.irqs {
		if k.irqs[i].Line == line {
			return &k.irqs[i]
		}
	}
	return nil
}

func (k *Kernel) sysIRQControl(t *task) {
	bits, enable := t.regs[0], t.regs[1] != 0
	for i := range k.irqs {
		q := &k.irqs[i]
		if abi.TaskIndex(q.Task) != t.index || q.Bits&bits == 0 {
			continue
		}
		switch {
		case !enable:
			q.enabled = false
		case q.pending:
			q.pending = false
			k.post(t, q.Bits)
		default:
			q.enabled = true
		}
	}
}

// IRQEnabled reports whether line is bound and unmasked.
func (k *Kernel) IRQEnabled(line uint32) bool {
	q := k.irq(line)
	return q != nil && q.enabled
}
