package kernel

import (
	"keel/keelos/abi"
)

func (k *Kernel) sysSend(t *task) {
	r := &t.regs
	target := abi.TaskID(r[0])
	msgAddr, msgLen := r[2], r[3]
	replyAddr, replyLen := r[4], r[5]
	leaseAddr, leaseCount := r[6], r[7]

	if msgLen > abi.MaxMessage {
		k.faultUsage(t, abi.UsageMessageTooLarge)
		return
	}
	if !t.canAccess(msgAddr, msgLen, abi.AttrRead) || !t.canAccess(replyAddr, replyLen, abi.AttrWrite) {
		k.faultUsage(t, abi.UsageBadBuffer)
		return
	}
	if leaseCount > abi.MaxLeases || !t.canAccess(leaseAddr, leaseCount*abi.LeaseDescSize, abi.AttrRead) {
		k.faultUsage(t, abi.UsageBadLease)
		return
	}

	if target == abi.KernelID {
		k.kipc(t)
		return
	}
	dst, ok := k.taskArg(t, target)
	if !ok {
		return
	}
	if dst == t {
		k.faultUsage(t, abi.UsageSendToSelf)
		return
	}
	if !k.validateLeases(t) {
		return
	}
	if dst.state == abi.StateDead || dst.gen != target.Generation() {
		t.complete(abi.DeadCode(dst.gen), 0)
		return
	}

	t.state = abi.StateInSend
	t.peer = dst.index
	k.arrivals++
	t.arrival = k.arrivals
	if dst.accepts(t) {
		k.deliver(dst, t)
	}
}

// validateLeases checks that every lease offered by t lies inside one of its
// own regions with the permissions the lease grants. Any bad lease faults t
// and none is granted.
func (k *Kernel) validateLeases(t *task) bool {
	for i := uint32(0); i < t.regs[7]; i++ {
		attr, base, n, err := k.lease(t, i)
		if err != nil {
			k.faultUsage(t, abi.UsageBadLease)
			return false
		}
		var need abi.RegionAttr
		if attr&abi.LeaseRead != 0 {
			need |= abi.AttrRead
		}
		if attr&abi.LeaseWrite != 0 {
			need |= abi.AttrWrite
		}
		if need == 0 || attr&^(abi.LeaseRead|abi.LeaseWrite) != 0 || !t.canAccess(base, n, need) {
			k.faultUsage(t, abi.UsageBadLease)
			return false
		}
	}
	return true
}

// deliver copies the message of src, which is InSend, into the receive
// buffer of dst and moves src to InReply. A message longer than the buffer
// is truncated; dst learns the full length.
func (k *Kernel) deliver(dst, src *task) {
	sr := &src.regs
	bufAddr, bufLen := dst.regs[0], dst.regs[1]
	n := sr[3]
	k.copyMem(bufAddr, sr[2], min(n, bufLen))

	src.state = abi.StateInReply
	dst.complete(abi.ResponseOK, uint32(src.id()), sr[1], n, sr[5], sr[7])
}

// oldestSender returns the earliest arrived task blocked sending to i.
func (k *Kernel) oldestSender(i abi.TaskIndex) *task {
	var best *task
	for j := range k.tasks {
		s := &k.tasks[j]
		if s.state != abi.StateInSend || s.peer != i {
			continue
		}
		if best == nil || s.arrival < best.arrival {
			best = s
		}
	}
	return best
}

func (k *Kernel) sysRecv(t *task) {
	r := &t.regs
	bufAddr, bufLen := r[0], r[1]
	mask, from := r[2], abi.TaskID(r[3])

	if !t.canAccess(bufAddr, bufLen, abi.AttrWrite) {
		k.faultUsage(t, abi.UsageBadBuffer)
		return
	}
	t.recvMask = mask
	t.recvFrom = from

	switch from {
	case abi.AnySender:
		if s := k.oldestSender(t.index); s != nil {
			k.deliver(t, s)
			return
		}
	case abi.KernelID:
	default:
		s, ok := k.taskArg(t, from)
		if !ok {
			return
		}
		if s == t {
			k.faultUsage(t, abi.UsageSendToSelf)
			return
		}
		if s.state == abi.StateDead || s.gen != from.Generation() {
			t.complete(abi.DeadCode(s.gen), uint32(s.id()))
			return
		}
		if s.state == abi.StateInSend && s.peer == t.index {
			k.deliver(t, s)
			return
		}
		// A closed receive on a task waits for that task only.
		t.state = abi.StateInRecv
		return
	}

	if t.notes&mask != 0 {
		k.deliverNotes(t)
		return
	}
	t.state = abi.StateInRecv
}

func (k *Kernel) sysReply(t *task) {
	r := &t.regs
	sender := abi.TaskID(r[0])
	code, addr, n := r[1], r[2], r[3]

	s, ok := k.taskArg(t, sender)
	if !ok {
		return
	}
	if code >= abi.DeadBase {
		k.faultUsage(t, abi.UsageBadResponse)
		return
	}
	if n > abi.MaxMessage {
		k.faultUsage(t, abi.UsageMessageTooLarge)
		return
	}
	if !t.canAccess(addr, n, abi.AttrRead) {
		k.faultUsage(t, abi.UsageBadBuffer)
		return
	}
	if s.gen != sender.Generation() || s.state != abi.StateInReply || s.peer != t.index {
		// The sender was restarted or already answered; nobody can observe
		// this reply.
		return
	}
	if n > s.regs[5] {
		k.faultUsage(t, abi.UsageReplyTooLarge)
		return
	}
	k.copyMem(s.regs[4], addr, n)
	s.complete(code, n)
}

func (k *Kernel) sysReplyFault(t *task) {
	sender := abi.TaskID(t.regs[0])
	s, ok := k.taskArg(t, sender)
	if !ok {
		return
	}
	if s.gen != sender.Generation() || s.state != abi.StateInReply || s.peer != t.index {
		return
	}
	k.fault(s, abi.FaultInfo{Kind: abi.FaultInjected, Source: t.id(), Reason: t.regs[1]})
}
