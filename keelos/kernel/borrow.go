package kernel

import (
	"encoding/binary"

	"keel/keelos/abi"
)

// lease reads descriptor i of the lease table s offered with its send.
func (k *Kernel) lease(s *task, i uint32) (attr abi.LeaseAttr, base, n uint32, err error) {
	var desc [abi.LeaseDescSize]byte
	if err := k.mem.Read(s.regs[6]+i*abi.LeaseDescSize, desc[:]); err != nil {
		return 0, 0, 0, err
	}
	return abi.LeaseAttr(binary.LittleEndian.Uint32(desc[0:4])),
		binary.LittleEndian.Uint32(desc[4:8]),
		binary.LittleEndian.Uint32(desc[8:12]),
		nil
}

type borrowed struct {
	attr abi.LeaseAttr
	base uint32
	len  uint32
}

// borrowArg resolves the lease named by r0 (sender) and r1 (index) for t,
// which must be serving that sender. A sender restarted since the message
// was received yields its dead code instead.
func (k *Kernel) borrowArg(t *task) (borrowed, bool) {
	sender := abi.TaskID(t.regs[0])
	s, ok := k.taskArg(t, sender)
	if !ok {
		return borrowed{}, false
	}
	if s.gen != sender.Generation() {
		t.complete(abi.DeadCode(s.gen), 0, 0)
		return borrowed{}, false
	}
	if s.state != abi.StateInReply || s.peer != t.index {
		k.faultUsage(t, abi.UsageNotInReply)
		return borrowed{}, false
	}
	i := t.regs[1]
	if i >= s.regs[7] {
		k.faultUsage(t, abi.UsageBadLease)
		return borrowed{}, false
	}
	attr, base, n, err := k.lease(s, i)
	if err != nil {
		k.faultUsage(t, abi.UsageBadLease)
		return borrowed{}, false
	}
	return borrowed{attr: attr, base: base, len: n}, true
}

func (k *Kernel) sysBorrowRead(t *task) {
	off, dst, n := t.regs[2], t.regs[3], t.regs[4]
	l, ok := k.borrowArg(t)
	if !ok {
		return
	}
	if l.attr&abi.LeaseRead == 0 || off > l.len {
		k.faultUsage(t, abi.UsageBadLease)
		return
	}
	if !t.canAccess(dst, n, abi.AttrWrite) {
		k.faultUsage(t, abi.UsageBadBuffer)
		return
	}
	cnt := min(n, l.len-off)
	k.copyMem(dst, l.base+off, cnt)
	t.complete(abi.ResponseOK, cnt)
}

func (k *Kernel) sysBorrowWrite(t *task) {
	off, src, n := t.regs[2], t.regs[3], t.regs[4]
	l, ok := k.borrowArg(t)
	if !ok {
		return
	}
	if l.attr&abi.LeaseWrite == 0 || off > l.len {
		k.faultUsage(t, abi.UsageBadLease)
		return
	}
	if !t.canAccess(src, n, abi.AttrRead) {
		k.faultUsage(t, abi.UsageBadBuffer)
		return
	}
	cnt := min(n, l.len-off)
	k.copyMem(l.base+off, src, cnt)
	t.complete(abi.ResponseOK, cnt)
}

func (k *Kernel) sysBorrowInfo(t *task) {
	l, ok := k.borrowArg(t)
	if !ok {
		return
	}
	t.complete(abi.ResponseOK, uint32(l.attr), l.len)
}
