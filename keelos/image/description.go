package image

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"

	"keel/keelos/abi"
)

// Description is the declarative app description, as written in TOML.
//
//	name = "demo"
//	target = "host"
//	kernel-version = ">= 0.4"
//	mpu-slots = 8
//
//	[kernel]
//	regions = ["kernel-ram"]
//
//	[supervisor]
//	task = "supervisor"
//	notification = "fault"
//
//	[region.ping-ram]
//	base = 0x2000_1000
//	size = 0x1000
//	attr = ["read", "write"]
//
//	[task.ping]
//	priority = 3
//	regions = ["ping-ram"]
//	start = true
//	restart = "restart"
//	watchdog = 0
//	notifications = ["timer"]
//	interrupts = { "5" = "timer" }
type Description struct {
	Name          string                 `toml:"name"`
	Target        string                 `toml:"target"`
	KernelVersion string                 `toml:"kernel-version"`
	MPUSlots      int                    `toml:"mpu-slots"`
	Kernel        KernelDescription      `toml:"kernel"`
	Supervisor    *SupervisorDescription `toml:"supervisor"`
	Regions       map[string]RegionDesc  `toml:"region"`
	Tasks         map[string]TaskDesc    `toml:"task"`

	regionOrder []string
	taskOrder   []string
}

type KernelDescription struct {
	Regions []string `toml:"regions"`
}

type SupervisorDescription struct {
	Task         string `toml:"task"`
	Notification string `toml:"notification"`
}

type RegionDesc struct {
	Base   uint32   `toml:"base"`
	Size   uint32   `toml:"size"`
	Attr   []string `toml:"attr"`
	Shared bool     `toml:"shared"`
}

type TaskDesc struct {
	Program       string            `toml:"program"`
	Priority      uint8             `toml:"priority"`
	Regions       []string          `toml:"regions"`
	Start         bool              `toml:"start"`
	Idle          bool              `toml:"idle"`
	Restart       string            `toml:"restart"`
	Watchdog      uint32            `toml:"watchdog"`
	Notifications []string          `toml:"notifications"`
	Interrupts    map[string]string `toml:"interrupts"`
}

// LoadDescription reads and decodes an app description file.
func LoadDescription(path string) (*Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read app description: %w", err)
	}
	d, err := ParseDescription(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// ParseDescription decodes an app description. Unknown keys are errors.
func ParseDescription(data []byte) (*Description, error) {
	var d Description
	md, err := toml.Decode(string(data), &d)
	if err != nil {
		return nil, fmt.Errorf("decode app description: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("decode app description: unknown key %q", undecoded[0].String())
	}

	// Task indices follow declaration order, which maps do not keep.
	for _, key := range md.Keys() {
		if len(key) != 2 {
			continue
		}
		switch key[0] {
		case "task":
			d.taskOrder = append(d.taskOrder, key[1])
		case "region":
			d.regionOrder = append(d.regionOrder, key[1])
		}
	}
	return &d, nil
}

// Build resolves names, checks the kernel version constraint and returns a
// validated image.
func (d *Description) Build() (*Image, error) {
	img := &Image{
		Name:       d.Name,
		MPUSlots:   DefaultMPUSlots,
		Supervisor: NoSupervisor,
		Idle:       -1,
	}

	target := d.Target
	if target == "" {
		target = "host"
	}
	t, ok := ParseTarget(target)
	if !ok {
		return nil, fmt.Errorf("%w: unknown target %q", ErrInvalid, d.Target)
	}
	img.Target = t

	if d.MPUSlots != 0 {
		if d.MPUSlots < 0 || d.MPUSlots > 16 {
			return nil, fmt.Errorf("%w: mpu-slots %d out of range 1..16", ErrInvalid, d.MPUSlots)
		}
		img.MPUSlots = uint8(d.MPUSlots)
	}

	if err := checkKernelVersion(d.KernelVersion); err != nil {
		return nil, err
	}

	regionIndex := make(map[string]uint16, len(d.Regions))
	for _, name := range d.orderedRegions() {
		rd := d.Regions[name]
		attr := abi.RegionAttr(0)
		for _, a := range rd.Attr {
			flag, ok := abi.ParseRegionAttr(a)
			if !ok {
				return nil, fmt.Errorf("%w: region %q: unknown attribute %q", ErrInvalid, name, a)
			}
			attr |= flag
		}
		if rd.Shared {
			attr |= abi.AttrShared
		}
		regionIndex[name] = uint16(len(img.Regions))
		img.Regions = append(img.Regions, Region{
			Name:   name,
			Region: abi.Region{Base: rd.Base, Size: rd.Size, Attr: attr},
		})
	}

	for _, name := range d.Kernel.Regions {
		ri, ok := regionIndex[name]
		if !ok {
			return nil, fmt.Errorf("%w: kernel: unknown region %q", ErrInvalid, name)
		}
		img.KernelRegions = append(img.KernelRegions, ri)
	}

	for _, name := range d.orderedTasks() {
		td := d.Tasks[name]
		task := Task{
			Name:          name,
			Program:       td.Program,
			Priority:      td.Priority,
			Start:         td.Start,
			Idle:          td.Idle,
			Watchdog:      td.Watchdog,
			Notifications: td.Notifications,
		}
		switch td.Restart {
		case "", "restart":
			task.Policy = RestartAlways
		case "single-shot":
			task.Policy = RestartSingleShot
		default:
			return nil, fmt.Errorf("%w: task %q: unknown restart policy %q", ErrInvalid, name, td.Restart)
		}
		for _, rn := range td.Regions {
			ri, ok := regionIndex[rn]
			if !ok {
				return nil, fmt.Errorf("%w: task %q: unknown region %q", ErrInvalid, name, rn)
			}
			task.Regions = append(task.Regions, ri)
		}
		if task.Idle {
			img.Idle = len(img.Tasks)
		}
		img.Tasks = append(img.Tasks, task)
	}

	for i := range img.Tasks {
		td := d.Tasks[img.Tasks[i].Name]
		lines := make([]string, 0, len(td.Interrupts))
		for line := range td.Interrupts {
			lines = append(lines, line)
		}
		sort.Strings(lines)
		for _, line := range lines {
			n, err := strconv.ParseUint(line, 0, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: task %q: bad interrupt line %q", ErrInvalid, img.Tasks[i].Name, line)
			}
			note := td.Interrupts[line]
			bit, ok := img.Tasks[i].NotificationBit(note)
			if !ok {
				return nil, fmt.Errorf("%w: task %q: interrupt %s names unknown notification %q",
					ErrInvalid, img.Tasks[i].Name, line, note)
			}
			img.IRQs = append(img.IRQs, IRQ{Line: uint32(n), Task: uint16(i), Bits: bit})
		}
	}

	if s := d.Supervisor; s != nil {
		idx, ok := img.TaskByName(s.Task)
		if !ok {
			return nil, fmt.Errorf("%w: supervisor: unknown task %q", ErrInvalid, s.Task)
		}
		bit, ok := img.Tasks[idx].NotificationBit(s.Notification)
		if !ok {
			return nil, fmt.Errorf("%w: supervisor: task %q has no notification %q", ErrInvalid, s.Task, s.Notification)
		}
		img.Supervisor = idx
		img.SupervisorBits = bit
	}

	if err := img.Validate(); err != nil {
		return nil, err
	}
	return img, nil
}

func (d *Description) orderedTasks() []string {
	if len(d.taskOrder) == len(d.Tasks) {
		return d.taskOrder
	}
	return sortedKeys(d.Tasks)
}

func (d *Description) orderedRegions() []string {
	if len(d.regionOrder) == len(d.Regions) {
		return d.regionOrder
	}
	return sortedKeys(d.Regions)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func checkKernelVersion(constraint string) error {
	if constraint == "" {
		return nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("%w: kernel-version %q: %w", ErrInvalid, constraint, err)
	}
	v := semver.MustParse(abi.Version)
	if !c.Check(v) {
		return fmt.Errorf("%w: kernel %s does not satisfy %q", ErrInvalid, abi.Version, constraint)
	}
	return nil
}
