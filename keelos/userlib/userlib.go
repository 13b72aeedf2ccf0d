// Package userlib is the task runtime: typed wrappers around the syscall
// ABI. A task program only ever talks to the kernel through a Sys.
//
// IPC buffers live at the base of the task's primary RAM region:
//
//	base+0                  outgoing message
//	base+MaxMessage         incoming message / reply
//	base+2*MaxMessage       lease table
//
// Everything above abi.TaskReserve is free for the program (see Heap).
package userlib

import (
	"encoding/binary"
	"fmt"

	"keel/keelos/abi"
)

// Port is the processor as seen from unprivileged code.
type Port interface {
	// Syscall traps into the kernel; results are written back into r.
	Syscall(r *abi.Regs)
	Load(addr uint32, p []byte)
	Store(addr uint32, p []byte)
	// Spin burns cycles without trapping.
	Spin(cycles uint32)
	// Idle waits for the next interrupt.
	Idle()
}

// TaskInfo describes the task slot a program runs in.
type TaskInfo struct {
	Index         abi.TaskIndex
	Name          string
	RAM           abi.Region
	Notifications []string
	// Peers maps task names to slots.
	Peers map[string]abi.TaskIndex
}

// Program is the code of a task. Returning from it is a fault.
type Program func(sys *Sys)

// Sys is one task's handle on the kernel.
type Sys struct {
	port Port
	info TaskInfo
	brk  uint32
}

// New binds a Sys to a processor port.
func New(port Port, info TaskInfo) *Sys {
	return &Sys{port: port, info: info}
}

func (s *Sys) Info() TaskInfo { return s.info }
func (s *Sys) Name() string   { return s.info.Name }

func (s *Sys) outBuf() uint32   { return s.info.RAM.Base }
func (s *Sys) inBuf() uint32    { return s.info.RAM.Base + abi.MaxMessage }
func (s *Sys) leaseBuf() uint32 { return s.info.RAM.Base + 2*abi.MaxMessage }

// Heap returns the part of the primary RAM region not used for IPC.
func (s *Sys) Heap() abi.Region {
	r := s.info.RAM
	return abi.Region{Base: r.Base + abi.TaskReserve, Size: r.Size - abi.TaskReserve, Attr: r.Attr}
}

// Alloc reserves n bytes of the heap for the life of the task, aligned to
// 4 bytes.
func (s *Sys) Alloc(n uint32) (uint32, bool) {
	h := s.Heap()
	n = (n + 3) &^ 3
	if uint64(s.brk)+uint64(n) > uint64(h.Size) {
		return 0, false
	}
	addr := h.Base + s.brk
	s.brk += n
	return addr, true
}

// Notification returns the bit of the named notification, or 0.
func (s *Sys) Notification(name string) uint32 {
	for i, n := range s.info.Notifications {
		if n == name {
			return 1 << uint(i)
		}
	}
	return 0
}

// Task returns the current identity of the named peer.
func (s *Sys) Task(name string) (abi.TaskID, bool) {
	i, ok := s.info.Peers[name]
	if !ok {
		return 0, false
	}
	return s.RefreshTaskID(abi.NewTaskID(i, 0)), true
}

// PeerName returns the name of the task in slot i.
func (s *Sys) PeerName(i abi.TaskIndex) string {
	for name, j := range s.info.Peers {
		if j == i {
			return name
		}
	}
	return fmt.Sprintf("task%d", i)
}

// Self returns the task's own current identity.
func (s *Sys) Self() abi.TaskID {
	return s.RefreshTaskID(abi.NewTaskID(s.info.Index, 0))
}

func (s *Sys) trap(num abi.Sysnum, args ...uint32) abi.Regs {
	var r abi.Regs
	copy(r[:], args)
	r[abi.SysnumReg] = uint32(num)
	s.port.Syscall(&r)
	return r
}

// Lease offers part of the caller's memory to a server for one exchange.
type Lease struct {
	Attr abi.LeaseAttr
	Addr uint32
	Len  uint32
}

// Send delivers msg to target and waits for the reply, which is copied into
// reply. It returns the response code and the reply length reported by the
// kernel.
func (s *Sys) Send(target abi.TaskID, op uint32, msg, reply []byte, leases ...Lease) (uint32, int) {
	s.port.Store(s.outBuf(), msg[:min(len(msg), abi.MaxMessage)])
	var desc [abi.LeaseDescSize]byte
	for i, l := range leases[:min(len(leases), abi.MaxLeases)] {
		binary.LittleEndian.PutUint32(desc[0:4], uint32(l.Attr))
		binary.LittleEndian.PutUint32(desc[4:8], l.Addr)
		binary.LittleEndian.PutUint32(desc[8:12], l.Len)
		s.port.Store(s.leaseBuf()+uint32(i)*abi.LeaseDescSize, desc[:])
	}
	replyCap := min(len(reply), abi.MaxMessage)
	r := s.trap(abi.SysSend, uint32(target), op,
		s.outBuf(), uint32(len(msg)),
		s.inBuf(), uint32(replyCap),
		s.leaseBuf(), uint32(len(leases)))

	code, n := r[0], int(r[1])
	if _, dead := abi.DeadGeneration(code); !dead && n > 0 {
		s.port.Load(s.inBuf(), reply[:min(n, replyCap)])
	}
	return code, n
}

// Message is the result of a receive.
type Message struct {
	// Code is non-zero when a closed receive named a dead task.
	Code   uint32
	Sender abi.TaskID
	Op     uint32
	// Len is the full length sent; Data holds what fit the buffer.
	Len      int
	Data     []byte
	ReplyCap int
	Leases   int
	// Notifications holds the delivered bits when Sender is abi.KernelID.
	Notifications uint32
}

// IsNotification reports whether m carries notification bits.
func (m Message) IsNotification() bool { return m.Code == 0 && m.Sender == abi.KernelID }

// Recv waits for a message from any task or a notification in mask.
func (s *Sys) Recv(buf []byte, mask uint32) Message {
	return s.RecvFrom(abi.AnySender, buf, mask)
}

// RecvFrom waits for a message from one task, or only for notifications
// when from is abi.KernelID.
func (s *Sys) RecvFrom(from abi.TaskID, buf []byte, mask uint32) Message {
	size := min(len(buf), abi.MaxMessage)
	r := s.trap(abi.SysRecv, s.inBuf(), uint32(size), mask, uint32(from))
	if r[0] != abi.ResponseOK {
		return Message{Code: r[0], Sender: abi.TaskID(r[1])}
	}
	m := Message{Sender: abi.TaskID(r[1])}
	if m.Sender == abi.KernelID {
		m.Notifications = r[2]
		return m
	}
	m.Op = r[2]
	m.Len = int(r[3])
	m.ReplyCap = int(r[4])
	m.Leases = int(r[5])
	m.Data = buf[:min(m.Len, size)]
	if len(m.Data) > 0 {
		s.port.Load(s.inBuf(), m.Data)
	}
	return m
}

// Reply answers a sender blocked on this task.
func (s *Sys) Reply(sender abi.TaskID, code uint32, msg []byte) {
	s.port.Store(s.outBuf(), msg[:min(len(msg), abi.MaxMessage)])
	s.trap(abi.SysReply, uint32(sender), code, s.outBuf(), uint32(len(msg)))
}

// ReplyFault rejects a sender, faulting it with reason.
func (s *Sys) ReplyFault(sender abi.TaskID, reason uint32) {
	s.trap(abi.SysReplyFault, uint32(sender), reason)
}

// Post sets notification bits on target. It returns the dead code when
// target has been restarted.
func (s *Sys) Post(target abi.TaskID, bits uint32) uint32 {
	return s.trap(abi.SysPost, uint32(target), bits)[0]
}

// RefreshTaskID returns id at the slot's current generation.
func (s *Sys) RefreshTaskID(id abi.TaskID) abi.TaskID {
	return abi.TaskID(s.trap(abi.SysRefreshTaskID, uint32(id))[0])
}

// IRQControl unmasks or masks the interrupts bound to bits.
func (s *Sys) IRQControl(bits uint32, enable bool) {
	var e uint32
	if enable {
		e = 1
	}
	s.trap(abi.SysIRQControl, bits, e)
}

// Panic stops the task with a message. It does not return.
func (s *Sys) Panic(msg string) {
	b := []byte(msg)
	b = b[:min(len(b), 128)]
	s.port.Store(s.outBuf(), b)
	s.trap(abi.SysPanic, s.outBuf(), uint32(len(b)))
	panic("userlib: panic syscall returned")
}

func (s *Sys) Load(addr uint32, p []byte)  { s.port.Load(addr, p) }
func (s *Sys) Store(addr uint32, p []byte) { s.port.Store(addr, p) }
func (s *Sys) Spin(cycles uint32)          { s.port.Spin(cycles) }
func (s *Sys) Idle()                       { s.port.Idle() }

// Read32 loads a little-endian word.
func (s *Sys) Read32(addr uint32) uint32 {
	var b [4]byte
	s.port.Load(addr, b[:])
	return binary.LittleEndian.Uint32(b[:])
}

// Write32 stores a little-endian word.
func (s *Sys) Write32(addr, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	s.port.Store(addr, b[:])
}
