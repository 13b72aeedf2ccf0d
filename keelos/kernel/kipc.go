package kernel

import (
	"encoding/binary"

	"keel/keelos/abi"
)

// kipc serves a message sent to the kernel. It answers at once; the caller
// never blocks.
func (k *Kernel) kipc(t *task) {
	r := &t.regs
	op := r[1]
	msg := make([]byte, r[3])
	if err := k.mem.Read(r[2], msg); err != nil {
		k.faultUsage(t, abi.UsageBadBuffer)
		return
	}
	word := func(i int) (uint32, bool) {
		if len(msg) < 4*(i+1) {
			return 0, false
		}
		return binary.LittleEndian.Uint32(msg[4*i:]), true
	}

	code := abi.ResponseOK
	var resp []byte
	switch op {
	case uint32(abi.KipcReadTaskStatus):
		i, ok := word(0)
		switch {
		case !ok:
			code = abi.KipcErrBadMessage
		case int(i) >= len(k.tasks):
			code = abi.KipcErrNoSuchTask
		default:
			s := &k.tasks[i]
			resp = make([]byte, 12)
			binary.LittleEndian.PutUint32(resp[0:4], uint32(s.state))
			binary.LittleEndian.PutUint32(resp[4:8], uint32(s.gen))
			binary.LittleEndian.PutUint32(resp[8:12], s.faults)
		}

	case uint32(abi.KipcFaultInfo):
		i, ok := word(0)
		switch {
		case !ok:
			code = abi.KipcErrBadMessage
		case int(i) >= len(k.tasks):
			code = abi.KipcErrNoSuchTask
		default:
			resp = make([]byte, abi.FaultInfoSize)
			k.tasks[i].fault.Encode(resp)
		}

	case uint32(abi.KipcFindFaulted):
		start, ok := word(0)
		if !ok {
			code = abi.KipcErrBadMessage
			break
		}
		var found uint32
		for i := int(start); i < len(k.tasks); i++ {
			if k.tasks[i].state == abi.StateFaulted {
				found = uint32(i) + 1
				break
			}
		}
		resp = binary.LittleEndian.AppendUint32(nil, found)

	case uint32(abi.KipcRestartTask):
		if int(t.index) != k.img.Supervisor {
			k.faultUsage(t, abi.UsageNotSupervisor)
			return
		}
		i, ok1 := word(0)
		start, ok2 := word(1)
		switch {
		case !ok1 || !ok2:
			code = abi.KipcErrBadMessage
		case int(i) >= len(k.tasks):
			code = abi.KipcErrNoSuchTask
		default:
			if err := k.restart(abi.TaskIndex(i), start != 0); err != nil {
				code = abi.KipcErrTaskDead
			} else if abi.TaskIndex(i) == t.index {
				// The caller was reset; there is no one to answer.
				return
			}
		}

	default:
		k.faultUsage(t, abi.UsageBadKernelMessage)
		return
	}

	if uint32(len(resp)) > r[5] {
		k.faultUsage(t, abi.UsageReplyTooLarge)
		return
	}
	if len(resp) > 0 {
		if err := k.mem.Write(r[4], resp); err != nil {
			k.faultUsage(t, abi.UsageBadBuffer)
			return
		}
	}
	t.complete(code, uint32(len(resp)))
}
