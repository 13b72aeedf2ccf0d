package kernel

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"keel/hal"
	"keel/keelos/abi"
	"keel/keelos/image"
)

const (
	ramBase   = 0x2000_0000
	flashBase = 0x0800_0000
	slotSize  = 0x1000

	// Offsets of the test buffers inside each task's RAM.
	offOut    = 0x000
	offReply  = 0x100
	offRecv   = 0x200
	offLeases = 0x300
	offData   = 0x400
)

type taskSpec struct {
	name       string
	prio       uint8
	stopped    bool
	singleShot bool
	watchdog   uint32
	notes      []string
}

// buildImage lays out one RAM and one read-only flash region per task and
// appends an idle task.
func buildImage(supervisor string, specs ...taskSpec) *image.Image {
	img := &image.Image{
		Name:       "test",
		Target:     image.TargetHost,
		MPUSlots:   image.DefaultMPUSlots,
		Supervisor: image.NoSupervisor,
	}
	specs = append(specs, taskSpec{name: "idle", prio: 255})
	for i, s := range specs {
		off := uint32(i) * slotSize
		img.Regions = append(img.Regions,
			image.Region{Name: s.name + "-ram", Region: abi.Region{Base: ramBase + off, Size: slotSize, Attr: abi.AttrRead | abi.AttrWrite}},
			image.Region{Name: s.name + "-flash", Region: abi.Region{Base: flashBase + off, Size: slotSize, Attr: abi.AttrRead | abi.AttrExecute}},
		)
		t := image.Task{
			Name:          s.name,
			Priority:      s.prio,
			Regions:       []uint16{uint16(2 * i), uint16(2*i + 1)},
			Start:         !s.stopped,
			Watchdog:      s.watchdog,
			Notifications: s.notes,
		}
		if s.singleShot {
			t.Policy = image.RestartSingleShot
		}
		if s.name == "idle" {
			t.Idle = true
			img.Idle = i
		}
		img.Tasks = append(img.Tasks, t)
	}
	if supervisor != "" {
		img.Supervisor, _ = img.TaskByName(supervisor)
		img.SupervisorBits = 1
	}
	return img
}

type lineLog struct {
	lines []string
}

func (l *lineLog) WriteLineString(s string) { l.lines = append(l.lines, s) }
func (l *lineLog) WriteLineBytes(b []byte)  { l.lines = append(l.lines, string(b)) }

type harness struct {
	t   *testing.T
	img *image.Image
	k   *Kernel
	ram *hal.RAM
	mpu *hal.SoftMPU
	log *lineLog
}

func newHarness(t *testing.T, img *image.Image) *harness {
	t.Helper()
	require.NoError(t, img.Validate())
	h := &harness{
		t:   t,
		img: img,
		ram: hal.NewRAM(img.AllRegions()),
		mpu: hal.NewSoftMPU(int(img.MPUSlots), false),
		log: &lineLog{},
	}
	h.k = New(img, h.mpu, h.ram, h.log)
	h.check()
	return h
}

// check asserts that exactly one task runs and that the protection unit
// maps exactly its regions.
func (h *harness) check() {
	h.t.Helper()
	running := 0
	for i := 0; i < h.k.NumTasks(); i++ {
		if h.k.State(abi.TaskIndex(i)) == abi.StateRunning {
			running++
			require.Equal(h.t, abi.TaskIndex(i), h.k.Current())
		}
	}
	require.Equal(h.t, 1, running, "running tasks")
	require.Equal(h.t, h.img.TaskRegions(int(h.k.Current())), h.mpu.Programmed())
}

func (h *harness) idx(name string) abi.TaskIndex {
	h.t.Helper()
	i, ok := h.img.TaskByName(name)
	require.True(h.t, ok, "no task %q", name)
	return abi.TaskIndex(i)
}

func (h *harness) id(name string) abi.TaskID { return h.k.TaskID(h.idx(name)) }
func (h *harness) base(name string) uint32 { return ramBase + uint32(h.idx(name))*slotSize }
func (h *harness) state(name string) abi.TaskState { return h.k.State(h.idx(name)) }
func (h *harness) regs(name string) abi.Regs { return h.k.Regs(h.idx(name)) }
func (h *harness) status(name string) TaskStatus { return h.k.Status()[h.idx(name)] }
func (h *harness) current() string { return h.img.Tasks[h.k.Current()].Name }

func (h *harness) write(name string, off uint32, p []byte) {
	h.t.Helper()
	require.NoError(h.t, h.ram.Write(h.base(name)+off, p))
}

func (h *harness) read(name string, off, n uint32) []byte {
	h.t.Helper()
	p := make([]byte, n)
	require.NoError(h.t, h.ram.Read(h.base(name)+off, p))
	return p
}

func (h *harness) syscall(name string, num abi.Sysnum, args ...uint32) {
	h.t.Helper()
	require.Equal(h.t, name, h.current(), "task issuing %s is not running", num)
	var regs abi.Regs
	copy(regs[:], args)
	regs[abi.SysnumReg] = uint32(num)
	h.k.Syscall(regs)
	h.check()
}

type lease struct {
	attr abi.LeaseAttr
	addr uint32
	n    uint32
}

func (h *harness) send(name string, target abi.TaskID, op uint32, msg []byte, leases ...lease) {
	h.t.Helper()
	h.sendCap(name, target, op, msg, abi.MaxMessage, leases...)
}

func (h *harness) sendCap(name string, target abi.TaskID, op uint32, msg []byte, replyCap uint32, leases ...lease) {
	h.t.Helper()
	b := h.base(name)
	h.write(name, offOut, msg)
	for j, l := range leases {
		var desc [abi.LeaseDescSize]byte
		binary.LittleEndian.PutUint32(desc[0:4], uint32(l.attr))
		binary.LittleEndian.PutUint32(desc[4:8], l.addr)
		binary.LittleEndian.PutUint32(desc[8:12], l.n)
		h.write(name, offLeases+uint32(j)*abi.LeaseDescSize, desc[:])
	}
	h.syscall(name, abi.SysSend, uint32(target), op,
		b+offOut, uint32(len(msg)),
		b+offReply, replyCap,
		b+offLeases, uint32(len(leases)))
}

func (h *harness) recv(name string, from abi.TaskID, mask uint32) {
	h.t.Helper()
	h.syscall(name, abi.SysRecv, h.base(name)+offRecv, abi.MaxMessage, mask, uint32(from))
}

func (h *harness) reply(name string, sender abi.TaskID, code uint32, msg []byte) {
	h.t.Helper()
	h.write(name, offOut, msg)
	h.syscall(name, abi.SysReply, uint32(sender), code, h.base(name)+offOut, uint32(len(msg)))
}

// crash makes the named task issue an invalid syscall.
func (h *harness) crash(name string) {
	h.t.Helper()
	h.syscall(name, abi.Sysnum(0x7F))
}

// kipc sends a kernel IPC message of little-endian words.
func (h *harness) kipc(name string, op uint16, words ...uint32) (uint32, []byte) {
	h.t.Helper()
	var msg []byte
	for _, w := range words {
		msg = binary.LittleEndian.AppendUint32(msg, w)
	}
	h.send(name, abi.KernelID, uint32(op), msg)
	r := h.regs(name)
	return r[0], h.read(name, offReply, r[1])
}
