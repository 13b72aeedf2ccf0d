package abi

import (
	"encoding/binary"
	"fmt"
)

// TaskState is the scheduling state of a task slot as seen through kernel
// IPC.
type TaskState uint32

const (
	StateStopped TaskState = iota
	StateRunnable
	StateRunning
	StateInSend
	StateInRecv
	StateInReply
	StateFaulted
	StateDead
)

func (s TaskState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunnable:
		return "runnable"
	case StateRunning:
		return "running"
	case StateInSend:
		return "in_send"
	case StateInRecv:
		return "in_recv"
	case StateInReply:
		return "in_reply"
	case StateFaulted:
		return "faulted"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// FaultKind classifies why a task stopped executing.
type FaultKind uint32

const (
	FaultNone FaultKind = iota
	// FaultMemory: access outside the task's regions. Addr is set.
	FaultMemory
	// FaultUsage: invalid syscall arguments. Usage is set.
	FaultUsage
	// FaultArithmetic: arithmetic trap (e.g. division by zero).
	FaultArithmetic
	// FaultIllegal: any other processor trap.
	FaultIllegal
	// FaultPanic: explicit panic request.
	FaultPanic
	// FaultTimeout: the task ran past its watchdog budget.
	FaultTimeout
	// FaultInjected: a server rejected the task with reply_fault. Source
	// and Reason are set.
	FaultInjected
	// FaultExit: the task's program returned.
	FaultExit
)

func (k FaultKind) String() string {
	switch k {
	case FaultNone:
		return "none"
	case FaultMemory:
		return "memory"
	case FaultUsage:
		return "usage"
	case FaultArithmetic:
		return "arithmetic"
	case FaultIllegal:
		return "illegal"
	case FaultPanic:
		return "panic"
	case FaultTimeout:
		return "timeout"
	case FaultInjected:
		return "injected"
	case FaultExit:
		return "exit"
	default:
		return "unknown"
	}
}

// UsageError is the detail of a FaultUsage fault.
type UsageError uint32

const (
	UsageNone UsageError = iota
	UsageBadSyscall
	UsageBadBuffer
	UsageBadTaskIndex
	UsageBadLease
	UsageMessageTooLarge
	UsageReplyTooLarge
	UsageSendToSelf
	UsageNotInReply
	UsageNotSupervisor
	UsageBadKernelMessage
	UsageBadResponse
)

func (u UsageError) String() string {
	switch u {
	case UsageNone:
		return "none"
	case UsageBadSyscall:
		return "bad_syscall"
	case UsageBadBuffer:
		return "bad_buffer"
	case UsageBadTaskIndex:
		return "bad_task_index"
	case UsageBadLease:
		return "bad_lease"
	case UsageMessageTooLarge:
		return "message_too_large"
	case UsageReplyTooLarge:
		return "reply_too_large"
	case UsageSendToSelf:
		return "send_to_self"
	case UsageNotInReply:
		return "not_in_reply"
	case UsageNotSupervisor:
		return "not_supervisor"
	case UsageBadKernelMessage:
		return "bad_kernel_message"
	case UsageBadResponse:
		return "bad_response"
	default:
		return "unknown"
	}
}

// FaultInfo records the most recent fault of a task.
type FaultInfo struct {
	Kind   FaultKind
	Usage  UsageError
	Addr   uint32
	Source TaskID
	Reason uint32
	// Prior is the state the task was in when it faulted.
	Prior TaskState
}

func (f FaultInfo) String() string {
	switch f.Kind {
	case FaultMemory:
		return fmt.Sprintf("memory fault at %#08x", f.Addr)
	case FaultUsage:
		return fmt.Sprintf("syscall usage: %s", f.Usage)
	case FaultInjected:
		return fmt.Sprintf("faulted by %s, reason %d", f.Source, f.Reason)
	default:
		return f.Kind.String()
	}
}

// FaultInfoSize is the encoded size of FaultInfo.
const FaultInfoSize = 24

// Encode writes f into buf, which must hold FaultInfoSize bytes.
//
// Layout (little-endian): u32 kind, u32 usage, u32 addr, u32 source,
// u32 reason, u32 prior state.
func (f FaultInfo) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(f.Kind))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(f.Usage))
	binary.LittleEndian.PutUint32(buf[8:12], f.Addr)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(f.Source))
	binary.LittleEndian.PutUint32(buf[16:20], f.Reason)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(f.Prior))
}

// DecodeFaultInfo decodes a FaultInfo written by Encode.
func DecodeFaultInfo(buf []byte) (FaultInfo, bool) {
	if len(buf) < FaultInfoSize {
		return FaultInfo{}, false
	}
	return FaultInfo{
		Kind:   FaultKind(binary.LittleEndian.Uint32(buf[0:4])),
		Usage:  UsageError(binary.LittleEndian.Uint32(buf[4:8])),
		Addr:   binary.LittleEndian.Uint32(buf[8:12]),
		Source: TaskID(binary.LittleEndian.Uint32(buf[12:16])),
		Reason: binary.LittleEndian.Uint32(buf[16:20]),
		Prior:  TaskState(binary.LittleEndian.Uint32(buf[20:24])),
	}, true
}
