// Package image holds the build-time task table: regions, task descriptors,
// interrupt bindings and fault policy. The table is produced from an app
// description by mkimage, validated once, and trusted by the kernel.
package image

import (
	"keel/keelos/abi"
)

// Target selects the protection hardware an image is laid out for.
type Target uint8

const (
	// TargetHost allows arbitrary region sizes (simulated protection).
	TargetHost Target = iota + 1
	// TargetARMv7M requires regions encodable in an ARMv7-M MPU slot.
	TargetARMv7M
)

func (t Target) String() string {
	switch t {
	case TargetHost:
		return "host"
	case TargetARMv7M:
		return "armv7m"
	default:
		return "unknown"
	}
}

// ParseTarget maps a target name to a Target.
func ParseTarget(s string) (Target, bool) {
	switch s {
	case "host":
		return TargetHost, true
	case "armv7m":
		return TargetARMv7M, true
	default:
		return 0, false
	}
}

// RestartPolicy decides what happens to a task after a fault.
type RestartPolicy uint8

const (
	// RestartAlways: the task may fault and resume indefinitely.
	RestartAlways RestartPolicy = iota
	// RestartSingleShot: the first fault makes the task Dead.
	RestartSingleShot
)

func (p RestartPolicy) String() string {
	switch p {
	case RestartAlways:
		return "restart"
	case RestartSingleShot:
		return "single-shot"
	default:
		return "unknown"
	}
}

// DefaultMPUSlots is the slot count of an ARMv7-M MPU.
const DefaultMPUSlots = 8

// NoSupervisor marks an image without a supervisor task.
const NoSupervisor = -1

// Region is a named entry of the region table.
type Region struct {
	Name string
	abi.Region
}

// Task is a task descriptor.
type Task struct {
	Name string
	// Program names the code run by the task; empty means Name.
	Program  string
	Priority uint8
	// Regions indexes Image.Regions.
	Regions []uint16
	Start   bool
	Idle    bool
	Policy  RestartPolicy
	// Watchdog is the number of ticks the task may run without trapping
	// into the kernel before it is faulted; 0 disables the watchdog.
	Watchdog uint32
	// Notifications names the task's notification bits; entry i is bit i.
	Notifications []string
}

// ProgramName returns the program the task runs.
func (t *Task) ProgramName() string {
	if t.Program != "" {
		return t.Program
	}
	return t.Name
}

// NotificationBit returns the mask of the named notification.
func (t *Task) NotificationBit(name string) (uint32, bool) {
	for i, n := range t.Notifications {
		if n == name {
			return 1 << uint(i), true
		}
	}
	return 0, false
}

// IRQ binds an interrupt line to a task notification.
type IRQ struct {
	Line uint32
	Task uint16
	Bits uint32
}

// Image is the complete build-time table.
type Image struct {
	Name     string
	Target   Target
	MPUSlots uint8
	Regions  []Region
	// KernelRegions indexes Regions; they are never mapped for tasks.
	KernelRegions []uint16
	Tasks         []Task
	IRQs          []IRQ
	// Supervisor is the index of the supervisor task or NoSupervisor.
	Supervisor int
	// SupervisorBits is posted to the supervisor when a task faults.
	SupervisorBits uint32
	Idle           int
}

// TaskRegions returns the regions of task i in slot order.
func (img *Image) TaskRegions(i int) []abi.Region {
	t := &img.Tasks[i]
	out := make([]abi.Region, len(t.Regions))
	for j, ri := range t.Regions {
		out[j] = img.Regions[ri].Region
	}
	return out
}

// PrimaryRAM returns the first writable, non-device region of task i: the
// region whose base holds the task runtime's IPC buffers.
func (img *Image) PrimaryRAM(i int) (abi.Region, bool) {
	for _, ri := range img.Tasks[i].Regions {
		r := img.Regions[ri].Region
		if r.Attr&abi.AttrWrite != 0 && r.Attr&abi.AttrDevice == 0 {
			return r, true
		}
	}
	return abi.Region{}, false
}

// TaskByName returns the index of the named task.
func (img *Image) TaskByName(name string) (int, bool) {
	for i := range img.Tasks {
		if img.Tasks[i].Name == name {
			return i, true
		}
	}
	return 0, false
}

// AllRegions returns every region of the table.
func (img *Image) AllRegions() []abi.Region {
	out := make([]abi.Region, len(img.Regions))
	for i := range img.Regions {
		out[i] = img.Regions[i].Region
	}
	return out
}
