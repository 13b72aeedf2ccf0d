package kernel

import (
	"keel/keelos/abi"
)

// Tick enters the kernel for the periodic timer. It fires due task timers,
// charges the Running task against its watchdog and rotates the CPU among
// equal priority tasks.
func (k *Kernel) Tick() {
	k.now++
	for i := range k.tasks {
		t := &k.tasks[i]
		if t.timer.enabled && t.timer.deadline <= k.now {
			t.timer.enabled = false
			k.post(t, t.timer.bits)
		}
	}

	if cur := &k.tasks[k.current]; cur.state == abi.StateRunning && cur.desc.Watchdog > 0 {
		cur.sinceTrap++
		if cur.sinceTrap >= cur.desc.Watchdog {
			k.fault(cur, abi.FaultInfo{Kind: abi.FaultTimeout})
		}
	}
	k.reschedule(true)
}

func (k *Kernel) sysSetTimer(t *task) {
	r := &t.regs
	enable := r[0] != 0
	deadline := uint64(r[1]) | uint64(r[2])<<32
	t.timer = timer{enabled: enable, deadline: deadline, bits: r[3]}
	if enable && deadline <= k.now {
		t.timer.enabled = false
		k.post(t, r[3])
	}
}

func (k *Kernel) sysGetTimer(t *task) {
	var enabled uint32
	if t.timer.enabled {
		enabled = 1
	}
	t.complete(
		uint32(k.now), uint32(k.now>>32),
		enabled,
		uint32(t.timer.deadline), uint32(t.timer.deadline>>32),
		t.timer.bits,
	)
}
