package kernel

import (
	"keel/keelos/abi"
	"keel/keelos/image"
)

type timer struct {
	enabled  bool
	deadline uint64
	bits     uint32
}

type task struct {
	desc    *image.Task
	index   abi.TaskIndex
	regions []abi.Region

	gen   abi.Generation
	state abi.TaskState
	regs  abi.Regs

	// peer is the task this one waits on in InSend and InReply.
	peer abi.TaskIndex
	// arrival orders senders queued on the same target.
	arrival  uint64
	recvFrom abi.TaskID
	recvMask uint32

	notes uint32
	timer timer

	fault       abi.FaultInfo
	faults      uint32
	incarnation uint32
	// sinceTrap counts ticks spent Running since the last syscall.
	sinceTrap uint32
}

func (t *task) id() abi.TaskID { return abi.NewTaskID(t.index, t.gen) }

func (t *task) runnable() bool {
	return t.state == abi.StateRunnable || t.state == abi.StateRunning
}

// canAccess reports whether [addr, addr+n) lies inside one of the task's own
// regions with the needed permissions. Empty ranges are always accessible.
func (t *task) canAccess(addr, n uint32, need abi.RegionAttr) bool {
	if n == 0 {
		return true
	}
	for _, r := range t.regions {
		if r.Contains(addr, n) && r.Attr.Permits(need) {
			return true
		}
	}
	return false
}

// accepts reports whether a blocked receive of t takes a message from s.
func (t *task) accepts(s *task) bool {
	if t.state != abi.StateInRecv {
		return false
	}
	return t.recvFrom == abi.AnySender || t.recvFrom == s.id()
}

// wantsNotes reports whether a blocked receive of t is satisfied by its
// pending notifications.
func (t *task) wantsNotes() bool {
	if t.state != abi.StateInRecv || t.notes&t.recvMask == 0 {
		return false
	}
	return t.recvFrom == abi.AnySender || t.recvFrom == abi.KernelID
}

// complete stores syscall results in the saved context and makes t
// runnable again.
func (t *task) complete(results ...uint32) {
	copy(t.regs[:], results)
	t.state = abi.StateRunnable
}
