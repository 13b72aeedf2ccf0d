// Package abi defines the machine-word interface between tasks and the kernel.
//
// Everything here is shared by the kernel, the task runtime library and the
// build-time image tools, so it must stay free of behaviour.
package abi

import "fmt"

// Version is the kernel ABI version checked against app descriptions.
const Version = "0.4.0"

// MaxMessage is the maximum payload size of a message or reply.
const MaxMessage = 256

// MaxLeases is the maximum number of leases attached to one send.
const MaxLeases = 8

// LeaseDescSize is the size in bytes of one lease descriptor in task memory.
//
// Layout (little-endian):
//   - u32: attributes (LeaseAttr)
//   - u32: base address
//   - u32: length
const LeaseDescSize = 12

// TaskReserve is the number of bytes at the base of a task's primary RAM
// region reserved by the task runtime for IPC buffers:
//   - MaxMessage bytes: outgoing message
//   - MaxMessage bytes: incoming message / reply
//   - MaxLeases*LeaseDescSize bytes: lease table
const TaskReserve = 2*MaxMessage + MaxLeases*LeaseDescSize

// TaskIndex is a slot in the task table.
type TaskIndex uint16

// Generation counts restarts of a task slot. It wraps after 65536
// restarts, at which point an ID that old names the live task again.
type Generation uint16

// TaskID names one incarnation of a task slot: low 16 bits index,
// high 16 bits generation.
type TaskID uint32

const (
	// KernelID is the sender of notifications and the target of kernel IPC.
	KernelID TaskID = 0xFFFF
	// AnySender selects an open receive.
	AnySender TaskID = 0xFFFF_FFFF
)

// NewTaskID packs an index and a generation.
func NewTaskID(index TaskIndex, gen Generation) TaskID {
	return TaskID(uint32(index) | uint32(gen)<<16)
}

func (id TaskID) Index() TaskIndex       { return TaskIndex(id & 0xFFFF) }
func (id TaskID) Generation() Generation { return Generation(id >> 16) }

func (id TaskID) String() string {
	switch id {
	case KernelID:
		return "kernel"
	case AnySender:
		return "any"
	}
	return fmt.Sprintf("%d.%d", id.Index(), id.Generation())
}

// Response codes.
//
// Servers may use any code below DeadBase; replying with a higher one is a
// usage fault. Codes at or above DeadBase are produced by the kernel when the peer of an exchange has been restarted or
// is dead; the low 16 bits carry the peer's current generation.
const (
	ResponseOK uint32 = 0
	DeadBase   uint32 = 0xFFFF_0000
)

// DeadCode returns the response code reporting a dead peer at gen.
func DeadCode(gen Generation) uint32 {
	return DeadBase | uint32(gen)
}

// DeadGeneration reports whether code is a dead-peer code and, if so, the
// peer's new generation.
func DeadGeneration(code uint32) (Generation, bool) {
	if code < DeadBase {
		return 0, false
	}
	return Generation(code & 0xFFFF), true
}

// LeaseAttr describes what a lease grants.
type LeaseAttr uint32

const (
	LeaseRead LeaseAttr = 1 << iota
	LeaseWrite
)

func (a LeaseAttr) String() string {
	switch a & (LeaseRead | LeaseWrite) {
	case LeaseRead:
		return "r"
	case LeaseWrite:
		return "w"
	case LeaseRead | LeaseWrite:
		return "rw"
	default:
		return "-"
	}
}

// Kernel IPC operations, sent to KernelID.
const (
	// KipcReadTaskStatus: u32 index -> u32 state, u32 generation, u32 faults.
	KipcReadTaskStatus uint16 = iota + 1
	// KipcFaultInfo: u32 index -> encoded FaultInfo.
	KipcFaultInfo
	// KipcFindFaulted: u32 start index -> u32 index+1 of the next faulted
	// task at or after start, or 0 when none.
	KipcFindFaulted
	// KipcRestartTask: u32 index, u32 start (0/1). Supervisor only.
	KipcRestartTask
)

// Kernel IPC response codes.
const (
	KipcErrBadMessage uint32 = iota + 1
	KipcErrNoSuchTask
	KipcErrTaskDead
)
