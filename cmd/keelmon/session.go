package main

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"

	"keel/hal"
	"keel/keelos/abi"
	"keel/keelos/cpu"
	"keel/keelos/image"
	"keel/keelos/tasks"
)

// maxRunSteps bounds a single run command.
const maxRunSteps = 1_000_000

var errUsage = errors.New("bad arguments")

// session is a machine driven one command at a time.
type session struct {
	img *image.Image
	m   *cpu.Machine
}

func newSession(img *image.Image, out hal.Logger, cyclesPerTick uint64) (*session, error) {
	m, err := cpu.New(img, cpu.Config{
		Programs:      tasks.Programs(out),
		Logger:        out,
		CyclesPerTick: cyclesPerTick,
	})
	if err != nil {
		return nil, err
	}
	return &session{img: img, m: m}, nil
}

func (s *session) close() { s.m.Close() }

func (s *session) summary() string {
	snap := s.m.Snapshot()
	return fmt.Sprintf("t=%d steps=%d switches=%d running %s",
		snap.Now, snap.Steps, snap.Switches, s.img.Tasks[snap.Current].Name)
}

// step [N]
func (s *session) step(args []string) (string, error) {
	n := 1
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			return "", fmt.Errorf("%w: step count %q", errUsage, args[0])
		}
		n = v
	}
	ran := s.m.RunSteps(n)
	return fmt.Sprintf("ran %d steps: %s", ran, s.summary()), nil
}

// run TICKS
func (s *session) run(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%w: run TICKS", errUsage)
	}
	ticks, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		return "", fmt.Errorf("%w: ticks %q", errUsage, args[0])
	}
	until := s.m.Snapshot().Now + ticks
	steps := 0
	for s.m.Snapshot().Now < until && steps < maxRunSteps {
		if !s.m.Step() {
			break
		}
		steps++
	}
	return fmt.Sprintf("ran %d steps: %s", steps, s.summary()), nil
}

// irq LINE
func (s *session) irq(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%w: irq LINE", errUsage)
	}
	line, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		return "", fmt.Errorf("%w: irq line %q", errUsage, args[0])
	}
	for _, b := range s.img.IRQs {
		if b.Line != uint32(line) {
			continue
		}
		if !s.m.Interrupt(uint32(line)) {
			return "", fmt.Errorf("irq %d: queue full", line)
		}
		return fmt.Sprintf("irq %d raised for %s", line, s.img.Tasks[b.Task].Name), nil
	}
	return "", fmt.Errorf("irq %d is not bound to any task", line)
}

func (s *session) tasks() string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tNAME\tSTATE\tPRIO\tGEN\tFAULTS\tBLOCKED\tLAST FAULT")
	snap := s.m.Snapshot()
	for _, t := range snap.Tasks {
		mark := ""
		if t.Index == snap.Current {
			mark = "*"
		}
		blocked := "-"
		if t.Blocked != abi.AnySender {
			blocked = t.Blocked.String()
		}
		last := "-"
		if t.Faults > 0 {
			last = t.LastFault.String()
		}
		fmt.Fprintf(w, "%s%d\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			mark, t.Index, t.Name, t.State, t.Priority, t.Generation, t.Faults, blocked, last)
	}
	_ = w.Flush()
	return buf.String()
}

// regions [TASK]
func (s *session) regions(args []string) (string, error) {
	idx := make([]uint16, 0, len(s.img.Regions))
	if len(args) > 0 {
		i, err := s.task(args[0])
		if err != nil {
			return "", err
		}
		idx = append(idx, s.img.Tasks[i].Regions...)
	} else {
		for i := range s.img.Regions {
			idx = append(idx, uint16(i))
		}
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tBASE\tSIZE\tATTR\tOWNERS")
	for _, ri := range idx {
		r := s.img.Regions[ri]
		var owners []string
		for _, t := range s.img.Tasks {
			for _, tr := range t.Regions {
				if tr == ri {
					owners = append(owners, t.Name)
				}
			}
		}
		fmt.Fprintf(w, "%s\t%#08x\t%#x\t%s\t%v\n", r.Name, r.Base, r.Size, r.Attr, owners)
	}
	_ = w.Flush()
	return buf.String(), nil
}

func (s *session) mpu() string {
	mpu := s.m.MPU()
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "SLOT\tRBAR\tRASR\tREGION\n")
	for slot := 0; slot < mpu.Slots(); slot++ {
		rbar, rasr := mpu.Registers(slot)
		region := "-"
		if r, ok := hal.DecodeARMv7M(rbar, rasr); ok {
			region = fmt.Sprintf("%#08x+%#x %s", r.Base, r.Size, r.Attr)
		}
		fmt.Fprintf(w, "%d\t%#08x\t%#08x\t%s\n", slot, rbar, rasr, region)
	}
	_ = w.Flush()
	fmt.Fprintf(&buf, "mapped: %d regions for %s\n", len(s.m.Snapshot().MPU), s.img.Tasks[s.m.Snapshot().Current].Name)
	return buf.String()
}

// restart TASK [stopped]
func (s *session) restart(args []string) (string, error) {
	if len(args) == 0 || len(args) > 2 || (len(args) == 2 && args[1] != "stopped") {
		return "", fmt.Errorf("%w: restart TASK [stopped]", errUsage)
	}
	i, err := s.task(args[0])
	if err != nil {
		return "", err
	}
	if err := s.m.Kernel().Restart(i, len(args) == 1); err != nil {
		return "", err
	}
	return fmt.Sprintf("restarted %s as %s", s.img.Tasks[i].Name, s.m.Kernel().TaskID(i)), nil
}

// inject TASK REASON
func (s *session) inject(args []string) (string, error) {
	if len(args) != 2 {
		return "", fmt.Errorf("%w: inject TASK REASON", errUsage)
	}
	i, err := s.task(args[0])
	if err != nil {
		return "", err
	}
	reason, err := strconv.ParseUint(args[1], 0, 32)
	if err != nil {
		return "", fmt.Errorf("%w: reason %q", errUsage, args[1])
	}
	info := abi.FaultInfo{Kind: abi.FaultInjected, Source: abi.KernelID, Reason: uint32(reason)}
	if err := s.m.Kernel().Inject(i, info); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s: %s", s.img.Tasks[i].Name, s.m.Kernel().State(i)), nil
}

// task resolves a task name or index.
func (s *session) task(arg string) (abi.TaskIndex, error) {
	if i, ok := s.img.TaskByName(arg); ok {
		return abi.TaskIndex(i), nil
	}
	if i, err := strconv.Atoi(arg); err == nil && i >= 0 && i < len(s.img.Tasks) {
		return abi.TaskIndex(i), nil
	}
	return 0, fmt.Errorf("no task %q", arg)
}
