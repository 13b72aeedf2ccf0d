package image

import (
	"errors"
	"fmt"

	"keel/hal"
	"keel/keelos/abi"
)

var ErrInvalid = errors.New("invalid image")

const maxTasks = 0xFFFE

// Validate checks every build-time invariant the kernel relies on and
// returns all violations joined together.
func (img *Image) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if img.Name == "" {
		fail("image has no name")
	}
	if img.Target != TargetHost && img.Target != TargetARMv7M {
		fail("unknown target %d", img.Target)
	}
	if img.MPUSlots == 0 || img.MPUSlots > 16 {
		fail("mpu slots %d out of range 1..16", img.MPUSlots)
	}
	if len(img.Tasks) == 0 {
		fail("image has no tasks")
	}
	if len(img.Tasks) > maxTasks {
		fail("%d tasks exceeds %d", len(img.Tasks), maxTasks)
	}

	for i := range img.Regions {
		r := &img.Regions[i]
		if r.Size == 0 {
			fail("region %q: zero size", r.Name)
			continue
		}
		if r.End() > 1<<32 {
			fail("region %q: wraps the address space", r.Name)
		}
		if img.Target == TargetARMv7M {
			if err := hal.CheckARMv7M(r.Region); err != nil {
				fail("region %q: %w", r.Name, err)
			}
		}
	}

	kernelRegion := make(map[uint16]bool, len(img.KernelRegions))
	for _, ri := range img.KernelRegions {
		if int(ri) >= len(img.Regions) {
			fail("kernel region index %d out of range", ri)
			continue
		}
		kernelRegion[ri] = true
	}

	names := make(map[string]bool, len(img.Tasks))
	for i := range img.Tasks {
		t := &img.Tasks[i]
		if t.Name == "" {
			fail("task %d has no name", i)
		}
		if names[t.Name] {
			fail("task %q declared twice", t.Name)
		}
		names[t.Name] = true

		if len(t.Regions) > int(img.MPUSlots) {
			fail("task %q: %d regions exceed %d protection slots", t.Name, len(t.Regions), img.MPUSlots)
		}
		if len(t.Notifications) > 32 {
			fail("task %q: %d notifications exceed 32", t.Name, len(t.Notifications))
		}
		seen := make(map[string]bool, len(t.Notifications))
		for _, n := range t.Notifications {
			if seen[n] {
				fail("task %q: notification %q declared twice", t.Name, n)
			}
			seen[n] = true
		}

		valid := true
		for _, ri := range t.Regions {
			if int(ri) >= len(img.Regions) {
				fail("task %q: region index %d out of range", t.Name, ri)
				valid = false
				continue
			}
			if kernelRegion[ri] {
				fail("task %q: uses kernel region %q", t.Name, img.Regions[ri].Name)
			}
		}
		if !valid {
			continue
		}
		for a := 0; a < len(t.Regions); a++ {
			for b := a + 1; b < len(t.Regions); b++ {
				ra, rb := img.Regions[t.Regions[a]], img.Regions[t.Regions[b]]
				if t.Regions[a] == t.Regions[b] || ra.Overlaps(rb.Region) {
					fail("task %q: regions %q and %q overlap", t.Name, ra.Name, rb.Name)
				}
			}
		}
		ram, ok := img.PrimaryRAM(i)
		switch {
		case !ok:
			fail("task %q: no writable region for IPC buffers", t.Name)
		case ram.Size < abi.TaskReserve:
			fail("task %q: primary RAM of %d bytes below %d", t.Name, ram.Size, abi.TaskReserve)
		}
	}

	errs = append(errs, img.validateSharing(kernelRegion)...)
	errs = append(errs, img.validateRoles()...)

	for i, q := range img.IRQs {
		if int(q.Task) >= len(img.Tasks) {
			fail("irq %d: task index %d out of range", q.Line, q.Task)
		}
		if q.Bits == 0 {
			fail("irq %d: no notification bits", q.Line)
		}
		for _, o := range img.IRQs[:i] {
			if o.Line == q.Line {
				fail("irq %d bound twice", q.Line)
			}
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// validateSharing rejects overlap between regions of different tasks unless
// both are shared, and any overlap with kernel regions.
func (img *Image) validateSharing(kernelRegion map[uint16]bool) []error {
	var errs []error
	for i := range img.Tasks {
		for _, ra := range img.Tasks[i].Regions {
			if int(ra) >= len(img.Regions) {
				continue
			}
			a := img.Regions[ra]
			for kr := range kernelRegion {
				if kr != ra && a.Overlaps(img.Regions[kr].Region) {
					errs = append(errs, fmt.Errorf("task %q: region %q overlaps kernel region %q",
						img.Tasks[i].Name, a.Name, img.Regions[kr].Name))
				}
			}
			for j := i + 1; j < len(img.Tasks); j++ {
				for _, rb := range img.Tasks[j].Regions {
					if int(rb) >= len(img.Regions) {
						continue
					}
					b := img.Regions[rb]
					if ra != rb && !a.Overlaps(b.Region) {
						continue
					}
					if a.Attr&abi.AttrShared != 0 && b.Attr&abi.AttrShared != 0 {
						continue
					}
					errs = append(errs, fmt.Errorf("tasks %q and %q: regions %q and %q overlap without being shared",
						img.Tasks[i].Name, img.Tasks[j].Name, a.Name, b.Name))
				}
			}
		}
	}
	return errs
}

func (img *Image) validateRoles() []error {
	var errs []error

	idle := -1
	for i := range img.Tasks {
		if !img.Tasks[i].Idle {
			continue
		}
		if idle >= 0 {
			errs = append(errs, fmt.Errorf("tasks %q and %q are both idle", img.Tasks[idle].Name, img.Tasks[i].Name))
			continue
		}
		idle = i
	}
	switch {
	case idle < 0:
		errs = append(errs, errors.New("no idle task"))
	case img.Idle != idle:
		errs = append(errs, fmt.Errorf("idle index %d does not match idle task %q", img.Idle, img.Tasks[idle].Name))
	default:
		t := &img.Tasks[idle]
		if !t.Start {
			errs = append(errs, fmt.Errorf("idle task %q must start at boot", t.Name))
		}
		if t.Policy != RestartAlways {
			errs = append(errs, fmt.Errorf("idle task %q must be restartable", t.Name))
		}
		for i := range img.Tasks {
			if i != idle && img.Tasks[i].Priority >= t.Priority {
				errs = append(errs, fmt.Errorf("idle task %q must have the lowest priority; %q has %d",
					t.Name, img.Tasks[i].Name, img.Tasks[i].Priority))
			}
		}
	}

	if img.Supervisor != NoSupervisor {
		switch {
		case img.Supervisor < 0 || img.Supervisor >= len(img.Tasks):
			errs = append(errs, fmt.Errorf("supervisor index %d out of range", img.Supervisor))
		case img.Supervisor == idle:
			errs = append(errs, errors.New("the idle task cannot supervise"))
		case img.SupervisorBits == 0:
			errs = append(errs, errors.New("supervisor has no fault notification"))
		case !img.Tasks[img.Supervisor].Start:
			errs = append(errs, fmt.Errorf("supervisor %q must start at boot", img.Tasks[img.Supervisor].Name))
		case img.Tasks[img.Supervisor].Policy != RestartAlways:
			errs = append(errs, fmt.Errorf("supervisor %q must be restartable", img.Tasks[img.Supervisor].Name))
		}
	}
	return errs
}
