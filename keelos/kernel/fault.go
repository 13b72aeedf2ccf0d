package kernel

import (
	"errors"
	"fmt"

	"keel/keelos/abi"
	"keel/keelos/image"
)

var ErrTaskDead = errors.New("task is dead")

func (k *Kernel) faultUsage(t *task, u abi.UsageError) {
	k.fault(t, abi.FaultInfo{Kind: abi.FaultUsage, Usage: u})
}

// fault stops t. Its generation moves on at once, so every exchange it was
// party to resolves with the dead code of the new generation. Restartable
// tasks wait in Faulted for the supervisor; without a live one (or when
// the supervisor itself faulted) they are restarted on the spot.
func (k *Kernel) fault(t *task, info abi.FaultInfo) {
	if t.state == abi.StateFaulted || t.state == abi.StateDead {
		return
	}
	info.Prior = t.state
	t.fault = info
	t.faults++
	t.gen++
	t.timer = timer{}
	k.logf("task %s faulted: %s", t.desc.Name, info)
	k.releasePeers(t)

	if t.desc.Policy == image.RestartSingleShot {
		t.state = abi.StateDead
		k.logf("task %s is dead", t.desc.Name)
		if int(t.index) == k.img.Supervisor {
			// Nobody is left to restart tasks already waiting.
			for i := range k.tasks {
				if o := &k.tasks[i]; o.state == abi.StateFaulted {
					k.reset(o, true)
				}
			}
		}
	} else {
		t.state = abi.StateFaulted
		if !k.supervised(t) || int(t.index) == k.img.Idle {
			k.reset(t, true)
			return
		}
	}
	if k.supervised(t) {
		k.post(&k.tasks[k.img.Supervisor], k.img.SupervisorBits)
	}
}

// supervised reports whether a live supervisor other than t will see its
// faults.
func (k *Kernel) supervised(t *task) bool {
	sup := k.img.Supervisor
	if sup == image.NoSupervisor || sup == int(t.index) {
		return false
	}
	return k.tasks[sup].state != abi.StateDead
}

// releasePeers completes every IPC waiting on t with its dead code.
func (k *Kernel) releasePeers(t *task) {
	code := abi.DeadCode(t.gen)
	for i := range k.tasks {
		o := &k.tasks[i]
		if o == t {
			continue
		}
		switch o.state {
		case abi.StateInSend, abi.StateInReply:
			if o.peer == t.index {
				o.complete(code, 0)
			}
		case abi.StateInRecv:
			if o.recvFrom != abi.AnySender && o.recvFrom != abi.KernelID && o.recvFrom.Index() == t.index {
				o.complete(code, uint32(t.id()))
			}
		}
	}
}

// reset returns t to its boot context: registers, notifications, timer,
// watchdog, interrupt masks and the contents of its private writable
// regions. A new incarnation tells the CPU to start its program afresh.
func (k *Kernel) reset(t *task, start bool) {
	t.regs = abi.Regs{}
	t.notes = 0
	t.timer = timer{}
	t.sinceTrap = 0
	t.recvFrom, t.recvMask = 0, 0
	t.incarnation++
	for _, r := range t.regions {
		if r.Attr&abi.AttrWrite != 0 && r.Attr&(abi.AttrShared|abi.AttrDevice) == 0 {
			k.mem.Reset(r)
		}
	}
	for i := range k.irqs {
		if abi.TaskIndex(k.irqs[i].Task) == t.index {
			k.irqs[i].enabled, k.irqs[i].pending = true, false
		}
	}
	t.state = abi.StateStopped
	if start {
		t.state = abi.StateRunnable
	}
	k.logf("task %s restarted at generation %d", t.desc.Name, t.gen)
}

// restart resets task i. A live task gets a new generation first, exactly
// as if it had faulted, so its peers are released; a Faulted task already
// has one.
func (k *Kernel) restart(i abi.TaskIndex, start bool) error {
	t := &k.tasks[i]
	switch t.state {
	case abi.StateDead:
		return fmt.Errorf("restart %s: %w", t.desc.Name, ErrTaskDead)
	case abi.StateFaulted, abi.StateStopped:
	default:
		t.gen++
		k.releasePeers(t)
	}
	k.reset(t, start)
	return nil
}

// Restart resets task i from outside any task, as the monitor does.
func (k *Kernel) Restart(i abi.TaskIndex, start bool) error {
	if int(i) >= len(k.tasks) {
		return fmt.Errorf("restart %d: no such task", i)
	}
	if err := k.restart(i, start); err != nil {
		return err
	}
	k.reschedule(false)
	return nil
}

// Inject faults task i from outside any task.
func (k *Kernel) Inject(i abi.TaskIndex, info abi.FaultInfo) error {
	if int(i) >= len(k.tasks) {
		return fmt.Errorf("inject %d: no such task", i)
	}
	k.fault(&k.tasks[i], info)
	k.reschedule(false)
	return nil
}
