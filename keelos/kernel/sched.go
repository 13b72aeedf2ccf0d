package kernel

import "keel/keelos/abi"

// pick returns the highest priority runnable task. The scan starts at the
// current slot, so the current task keeps the CPU against equal priority
// peers; with rotate it starts one past it, which round-robins equals on a
// timer tick.
func (k *Kernel) pick(rotate bool) abi.TaskIndex {
	n := len(k.tasks)
	start := int(k.current)
	if rotate {
		start = (start + 1) % n
	}
	best := -1
	for i := 0; i < n; i++ {
		j := (start + i) % n
		t := &k.tasks[j]
		if !t.runnable() {
			continue
		}
		if best < 0 || t.desc.Priority < k.tasks[best].desc.Priority {
			best = j
		}
	}
	if best < 0 {
		// Unreachable with a valid image: the idle task never blocks.
		return abi.TaskIndex(k.img.Idle)
	}
	return abi.TaskIndex(best)
}

// reschedule settles the Running task after a kernel entry and reprograms
// protection when it changes.
func (k *Kernel) reschedule(rotate bool) {
	next := k.pick(rotate)
	if cur := &k.tasks[k.current]; cur.state == abi.StateRunning && next != k.current {
		cur.state = abi.StateRunnable
	}
	k.tasks[next].state = abi.StateRunning
	if next == k.current {
		return
	}
	k.current = next
	k.switches++
	k.configureMPU(next)
}
