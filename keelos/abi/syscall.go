package abi

// Sysnum selects a syscall. It is passed in register SysnumReg.
type Sysnum uint32

const (
	// SysSend: r0 target TaskID, r1 op, r2/r3 message addr/len,
	// r4/r5 reply buffer addr/len, r6/r7 lease table addr/count.
	// Returns r0 response code, r1 reply length.
	SysSend Sysnum = iota
	// SysRecv: r0/r1 buffer addr/len, r2 notification mask, r3 sender
	// (AnySender, KernelID or a TaskID). Returns r0 0 or dead code,
	// r1 sender, r2 op (notification bits when sender is KernelID),
	// r3 message length, r4 reply capacity, r5 lease count.
	SysRecv
	// SysReply: r0 sender, r1 response code, r2/r3 message addr/len.
	SysReply
	// SysSetTimer: r0 enable, r1/r2 deadline lo/hi, r3 notification bits.
	SysSetTimer
	// SysGetTimer: returns r0/r1 now lo/hi, r2 enabled, r3/r4 deadline
	// lo/hi, r5 notification bits.
	SysGetTimer
	// SysBorrowRead: r0 sender, r1 lease index, r2 offset, r3/r4 dest
	// addr/len. Returns r0 0 or dead code, r1 bytes copied.
	SysBorrowRead
	// SysBorrowWrite: r0 sender, r1 lease index, r2 offset, r3/r4 source
	// addr/len. Returns r0 0 or dead code, r1 bytes copied.
	SysBorrowWrite
	// SysBorrowInfo: r0 sender, r1 lease index. Returns r0 0 or dead
	// code, r1 attributes, r2 length.
	SysBorrowInfo
	// SysIRQControl: r0 notification bits, r1 enable.
	SysIRQControl
	// SysPanic: r0/r1 message addr/len. Does not return.
	SysPanic
	// SysRefreshTaskID: r0 TaskID. Returns r0 the TaskID at the slot's
	// current generation.
	SysRefreshTaskID
	// SysPost: r0 target TaskID, r1 bits. Returns r0 0 or dead code.
	SysPost
	// SysReplyFault: r0 sender, r1 reason.
	SysReplyFault

	sysnumCount
)

var sysnumNames = [...]string{
	SysSend:          "send",
	SysRecv:          "recv",
	SysReply:         "reply",
	SysSetTimer:      "set_timer",
	SysGetTimer:      "get_timer",
	SysBorrowRead:    "borrow_read",
	SysBorrowWrite:   "borrow_write",
	SysBorrowInfo:    "borrow_info",
	SysIRQControl:    "irq_control",
	SysPanic:         "panic",
	SysRefreshTaskID: "refresh_task_id",
	SysPost:          "post",
	SysReplyFault:    "reply_fault",
}

func (n Sysnum) String() string {
	if n < sysnumCount {
		return sysnumNames[n]
	}
	return "unknown"
}

// Valid reports whether n names a syscall.
func (n Sysnum) Valid() bool { return n < sysnumCount }

// NumRegs is the number of general registers in a saved context.
const NumRegs = 12

// SysnumReg holds the syscall number on entry.
const SysnumReg = 11

// Regs is the register file saved on every trap.
type Regs [NumRegs]uint32

// Sysnum returns the syscall number held in r.
func (r *Regs) Sysnum() Sysnum { return Sysnum(r[SysnumReg]) }
