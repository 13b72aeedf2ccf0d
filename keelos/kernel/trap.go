package kernel

import (
	"keel/keelos/abi"
)

var syscalls = [...]func(*Kernel, *task){
	abi.SysSend:          (*Kernel).sysSend,
	abi.SysRecv:          (*Kernel).sysRecv,
	abi.SysReply:         (*Kernel).sysReply,
	abi.SysSetTimer:      (*Kernel).sysSetTimer,
	abi.SysGetTimer:      (*Kernel).sysGetTimer,
	abi.SysBorrowRead:    (*Kernel).sysBorrowRead,
	abi.SysBorrowWrite:   (*Kernel).sysBorrowWrite,
	abi.SysBorrowInfo:    (*Kernel).sysBorrowInfo,
	abi.SysIRQControl:    (*Kernel).sysIRQControl,
	abi.SysPanic:         (*Kernel).sysPanic,
	abi.SysRefreshTaskID: (*Kernel).sysRefreshTaskID,
	abi.SysPost:          (*Kernel).sysPost,
	abi.SysReplyFault:    (*Kernel).sysReplyFault,
}

// Syscall enters the kernel from the Running task with its trapped
// registers. Arguments are checked against the caller's own regions before
// any memory is touched; on return the Running task's saved registers hold
// its results.
func (k *Kernel) Syscall(regs abi.Regs) {
	t := &k.tasks[k.current]
	t.regs = regs
	t.sinceTrap = 0

	num := regs.Sysnum()
	switch {
	case !num.Valid():
		k.faultUsage(t, abi.UsageBadSyscall)
	case int(t.index) == k.img.Idle && (num == abi.SysSend || num == abi.SysRecv):
		// The idle task must stay runnable.
		k.faultUsage(t, abi.UsageBadSyscall)
	default:
		syscalls[num](k, t)
	}
	k.reschedule(false)
}

// Fault records a processor-detected fault of the Running task: a memory
// access the protection unit refused, an arithmetic or other trap, or the
// task program exiting.
func (k *Kernel) Fault(info abi.FaultInfo) {
	k.fault(&k.tasks[k.current], info)
	k.reschedule(false)
}

// Access checks an unprivileged access of the Running task against its
// regions. It is the fallback for CPUs without a protection unit.
func (k *Kernel) Access(addr, n uint32, need abi.RegionAttr) bool {
	return k.tasks[k.current].canAccess(addr, n, need)
}

func (k *Kernel) sysPanic(t *task) {
	addr, n := t.regs[0], min(t.regs[1], 128)
	msg := "(unreadable message)"
	if t.canAccess(addr, n, abi.AttrRead) {
		buf := make([]byte, n)
		if k.mem.Read(addr, buf) == nil {
			msg = string(buf)
		}
	}
	k.logf("task %s panicked: %s", t.desc.Name, msg)
	k.fault(t, abi.FaultInfo{Kind: abi.FaultPanic})
}

func (k *Kernel) sysRefreshTaskID(t *task) {
	s, ok := k.taskArg(t, abi.TaskID(t.regs[0]))
	if !ok {
		return
	}
	t.complete(uint32(s.id()))
}

// taskArg resolves the index of id, faulting t when it is out of range.
func (k *Kernel) taskArg(t *task, id abi.TaskID) (*task, bool) {
	i := int(id.Index())
	if i >= len(k.tasks) {
		k.faultUsage(t, abi.UsageBadTaskIndex)
		return nil, false
	}
	return &k.tasks[i], true
}

// copyMem moves n bytes between two already validated task ranges.
func (k *Kernel) copyMem(dst, src, n uint32) bool {
	if n == 0 {
		return true
	}
	buf := make([]byte, n)
	if err := k.mem.Read(src, buf); err != nil {
		k.logf("copy from %#08x: %v", src, err)
		return false
	}
	if err := k.mem.Write(dst, buf); err != nil {
		k.logf("copy to %#08x: %v", dst, err)
		return false
	}
	return true
}
