package cpu

import (
	"context"
	"encoding/binary"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"keel/keelos/abi"
	"keel/keelos/image"
	"keel/keelos/kernel"
	"keel/keelos/userlib"
)

const (
	ramBase  = 0x2000_0000
	slotSize = 0x1000
)

type taskSpec struct {
	name       string
	prio       uint8
	singleShot bool
	notes      []string
}

// buildImage gives every task one RAM slot and appends an idle task.
func buildImage(supervisor string, specs ...taskSpec) *image.Image {
	img := &image.Image{
		Name:       "cpu-test",
		Target:     image.TargetARMv7M,
		MPUSlots:   image.DefaultMPUSlots,
		Supervisor: image.NoSupervisor,
	}
	specs = append(specs, taskSpec{name: "idle", prio: 255})
	for i, s := range specs {
		img.Regions = append(img.Regions, image.Region{
			Name:   s.name + "-ram",
			Region: abi.Region{Base: ramBase + uint32(i)*slotSize, Size: slotSize, Attr: abi.AttrRead | abi.AttrWrite},
		})
		t := image.Task{
			Name:          s.name,
			Priority:      s.prio,
			Regions:       []uint16{uint16(i)},
			Start:         true,
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

func idle(sys *userlib.Sys) {
	for {
		sys.Idle()
	}
}

// park blocks the task for good.
func park(sys *userlib.Sys) {
	for {
		sys.RecvFrom(abi.KernelID, nil, 0)
	}
}

func newMachine(t *testing.T, img *image.Image, cfg Config) *Machine {
	t.Helper()
	require.NoError(t, img.Validate())
	if cfg.Programs["idle"] == nil {
		cfg.Programs["idle"] = idle
	}
	m, err := New(img, cfg)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func heap(img *image.Image, name string) uint32 {
	i, _ := img.TaskByName(name)
	return img.Regions[img.Tasks[i].Regions[0]].Base + abi.TaskReserve
}

func readRAM(t *testing.T, m *Machine, addr uint32, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	require.NoError(t, m.RAM().Read(addr, buf))
	return buf
}

func word(t *testing.T, m *Machine, addr uint32) uint32 {
	return binary.LittleEndian.Uint32(readRAM(t, m, addr, 4))
}

func status(m *Machine, name string) kernel.TaskStatus {
	for _, s := range m.Snapshot().Tasks {
		if s.Name == name {
			return s
		}
	}
	return kernel.TaskStatus{}
}

func TestMissingProgram(t *testing.T) {
	img := buildImage("", taskSpec{name: "a", prio: 1})
	_, err := New(img, Config{Programs: map[string]userlib.Program{"idle": idle}})
	require.ErrorIs(t, err, ErrMissingProgram)
	require.ErrorContains(t, err, `task a`)
}

func TestSendReceiveBetweenPrograms(t *testing.T) {
	img := buildImage("",
		taskSpec{name: "server", prio: 1},
		taskSpec{name: "client", prio: 2},
	)
	m := newMachine(t, img, Config{Programs: map[string]userlib.Program{
		"server": func(sys *userlib.Sys) {
			var buf [32]byte
			for {
				msg := sys.Recv(buf[:], 0)
				out := make([]byte, len(msg.Data))
				for i, c := range msg.Data {
					out[i] = c - 'a' + 'A'
				}
				sys.Reply(msg.Sender, msg.Op+1, out)
			}
		},
		"client": func(sys *userlib.Sys) {
			server, ok := sys.Task("server")
			if !ok {
				sys.Panic("no server")
			}
			var reply [32]byte
			code, n := sys.Send(server, 41, []byte("hello"), reply[:])
			h := sys.Heap().Base
			sys.Write32(h, code)
			sys.Store(h+4, reply[:n])
			park(sys)
		},
	}})

	m.RunSteps(200)
	h := heap(img, "client")
	require.Equal(t, uint32(42), word(t, m, h))
	require.Equal(t, "HELLO", string(readRAM(t, m, h+4, 5)))
	require.Equal(t, abi.StateInRecv, status(m, "client").State)
	require.Equal(t, abi.StateInRecv, status(m, "server").State)

	snap := m.Snapshot()
	require.Equal(t, abi.TaskIndex(img.Idle), snap.Current)
	require.Equal(t, img.TaskRegions(img.Idle), snap.MPU)
	require.NotZero(t, snap.Switches)
}

func TestMemoryFaultRestartsProgram(t *testing.T) {
	var starts atomic.Int32
	img := buildImage("", taskSpec{name: "wild", prio: 1})
	m := newMachine(t, img, Config{Programs: map[string]userlib.Program{
		"wild": func(sys *userlib.Sys) {
			starts.Add(1)
			var b [4]byte
			sys.Load(ramBase+slotSize, b[:]) // the idle task's RAM
			park(sys)
		},
	}})

	m.RunSteps(10)
	st := status(m, "wild")
	require.GreaterOrEqual(t, st.Faults, uint32(2))
	require.Equal(t, abi.FaultInfo{Kind: abi.FaultMemory, Addr: ramBase + slotSize, Prior: abi.StateRunning}, st.LastFault)
	require.EqualValues(t, st.Faults, starts.Load())
}

func TestProgramErrorsBecomeFaults(t *testing.T) {
	tests := []struct {
		name string
		prog userlib.Program
		want abi.FaultKind
	}{
		{
			name: "divide by zero",
			prog: func(sys *userlib.Sys) {
				h := sys.Heap().Base
				d := sys.Read32(h)
				sys.Write32(h, 10/d)
			},
			want: abi.FaultArithmetic,
		},
		{
			name: "index out of range",
			prog: func(sys *userlib.Sys) {
				var table []uint32
				h := sys.Heap().Base
				sys.Write32(h, table[sys.Read32(h)])
			},
			want: abi.FaultIllegal,
		},
		{
			name: "panic",
			prog: func(sys *userlib.Sys) { panic("boom") },
			want: abi.FaultPanic,
		},
		{
			name: "panic syscall",
			prog: func(sys *userlib.Sys) { sys.Panic("giving up") },
			want: abi.FaultPanic,
		},
		{
			name: "return",
			prog: func(sys *userlib.Sys) {},
			want: abi.FaultExit,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := buildImage("", taskSpec{name: "t", prio: 1, singleShot: true})
			m := newMachine(t, img, Config{Programs: map[string]userlib.Program{"t": tt.prog}})
			m.RunSteps(20)
			st := status(m, "t")
			require.Equal(t, abi.StateDead, st.State)
			require.Equal(t, tt.want, st.LastFault.Kind)
		})
	}
}

func TestPanicHandler(t *testing.T) {
	var got []PanicInfo
	SetPanicHandler(func(info PanicInfo) { got = append(got, info) })
	t.Cleanup(func() { SetPanicHandler(func(PanicInfo) {}) })

	img := buildImage("", taskSpec{name: "t", prio: 1, singleShot: true})
	m := newMachine(t, img, Config{Programs: map[string]userlib.Program{
		"t": func(sys *userlib.Sys) { panic(errors.New("broken invariant")) },
	}})
	m.RunSteps(5)

	require.Len(t, got, 1)
	require.Equal(t, "t", got[0].Name)
	require.EqualError(t, got[0].Value.(error), "broken invariant")
	require.Equal(t, abi.FaultPanic, got[0].Fault.Kind)
	require.NotEmpty(t, got[0].Stack)
}

func TestSleepAdvancesVirtualTime(t *testing.T) {
	img := buildImage("", taskSpec{name: "sleeper", prio: 1, notes: []string{"timer"}})
	m := newMachine(t, img, Config{
		CyclesPerTick: 100,
		Programs: map[string]userlib.Program{
			"sleeper": func(sys *userlib.Sys) {
				bit := sys.Notification("timer")
				h := sys.Heap().Base
				for i := uint32(0); i < 3; i++ {
					sys.SleepFor(5, bit)
					sys.Write32(h+4*i, uint32(sys.Now()))
				}
				park(sys)
			},
		},
	})

	m.RunSteps(500)
	h := heap(img, "sleeper")
	t0, t1, t2 := word(t, m, h), word(t, m, h+4), word(t, m, h+8)
	require.GreaterOrEqual(t, t0, uint32(5))
	require.GreaterOrEqual(t, t1, t0+5)
	require.GreaterOrEqual(t, t2, t1+5)
	require.GreaterOrEqual(t, m.Snapshot().Now, uint64(t2))
}

func TestInterruptWakesDriver(t *testing.T) {
	img := buildImage("", taskSpec{name: "driver", prio: 1, notes: []string{"rx"}})
	img.IRQs = []image.IRQ{{Line: 3, Task: 0, Bits: 1}}
	m := newMachine(t, img, Config{Programs: map[string]userlib.Program{
		"driver": func(sys *userlib.Sys) {
			bit := sys.Notification("rx")
			h := sys.Heap().Base
			for n := uint32(1); ; n++ {
				sys.RecvFrom(abi.KernelID, nil, bit)
				sys.Write32(h, n)
				sys.IRQControl(bit, true)
			}
		},
	}})

	h := heap(img, "driver")
	m.RunSteps(20)
	require.Zero(t, word(t, m, h))

	require.True(t, m.Interrupt(3))
	m.RunSteps(20)
	require.Equal(t, uint32(1), word(t, m, h))
	require.True(t, m.Kernel().IRQEnabled(3))

	require.True(t, m.Interrupt(3))
	m.RunSteps(20)
	require.Equal(t, uint32(2), word(t, m, h))
}

func TestSupervisorRestartsFaultedProgram(t *testing.T) {
	var starts atomic.Int32
	img := buildImage("supervisor",
		taskSpec{name: "supervisor", prio: 0, notes: []string{"fault"}},
		taskSpec{name: "worker", prio: 1},
	)
	m := newMachine(t, img, Config{Programs: map[string]userlib.Program{
		"supervisor": func(sys *userlib.Sys) {
			for {
				sys.RecvFrom(abi.KernelID, nil, sys.Notification("fault"))
				for {
					i, ok := sys.FindFaulted(0)
					if !ok {
						break
					}
					sys.RestartTask(i, true)
				}
			}
		},
		"worker": func(sys *userlib.Sys) {
			if starts.Add(1) == 1 {
				panic("first run fails")
			}
			park(sys)
		},
	}})

	m.RunSteps(50)
	st := status(m, "worker")
	require.Equal(t, abi.StateInRecv, st.State)
	require.Equal(t, uint32(1), st.Faults)
	require.Equal(t, abi.Generation(1), st.Generation)
	require.EqualValues(t, 2, starts.Load())
}

func TestLeasesThroughRuntime(t *testing.T) {
	img := buildImage("",
		taskSpec{name: "server", prio: 1},
		taskSpec{name: "client", prio: 2},
	)
	m := newMachine(t, img, Config{Programs: map[string]userlib.Program{
		"server": func(sys *userlib.Sys) {
			var buf [8]byte
			for {
				msg := sys.Recv(buf[:], 0)
				attr, n, _ := sys.BorrowInfo(msg.Sender, 0)
				got := make([]byte, 3)
				sys.BorrowRead(msg.Sender, 0, 0, got)
				sys.BorrowWrite(msg.Sender, 0, 3, []byte{got[2], got[1], got[0]})
				var resp [8]byte
				binary.LittleEndian.PutUint32(resp[0:4], uint32(attr))
				binary.LittleEndian.PutUint32(resp[4:8], n)
				sys.Reply(msg.Sender, 0, resp[:])
			}
		},
		"client": func(sys *userlib.Sys) {
			h := sys.Heap().Base
			sys.Store(h, []byte("abc"))
			server, _ := sys.Task("server")
			var reply [8]byte
			code, n := sys.Send(server, 1, nil, reply[:],
				userlib.Lease{Attr: abi.LeaseRead | abi.LeaseWrite, Addr: h, Len: 16})
			sys.Write32(h+16, code)
			sys.Write32(h+20, uint32(n))
			sys.Store(h+24, reply[:])
			park(sys)
		},
	}})

	m.RunSteps(200)
	h := heap(img, "client")
	require.Equal(t, "abccba", string(readRAM(t, m, h, 6)))
	require.Zero(t, word(t, m, h+16))
	require.Equal(t, uint32(8), word(t, m, h+20))
	require.Equal(t, uint32(abi.LeaseRead|abi.LeaseWrite), word(t, m, h+24))
	require.Equal(t, uint32(16), word(t, m, h+28))
}

func TestExternalClockWaitsWhenIdle(t *testing.T) {
	ticks := make(chan uint64, 4)
	img := buildImage("", taskSpec{name: "sleeper", prio: 1, notes: []string{"timer"}})
	m := newMachine(t, img, Config{
		Ticks: ticks,
		Programs: map[string]userlib.Program{
			"sleeper": func(sys *userlib.Sys) {
				sys.SleepFor(2, 1)
				sys.Write32(sys.Heap().Base, 0xC0DE)
				park(sys)
			},
		},
	})

	require.Less(t, m.RunSteps(100), 100)
	require.True(t, m.Snapshot().Waiting)
	require.Zero(t, m.Snapshot().Now)

	ticks <- 1
	m.RunSteps(100)
	require.Equal(t, uint64(1), m.Snapshot().Now)
	require.Zero(t, word(t, m, heap(img, "sleeper")))

	ticks <- 2
	m.RunSteps(100)
	require.Equal(t, uint64(2), m.Snapshot().Now)
	require.Equal(t, uint32(0xC0DE), word(t, m, heap(img, "sleeper")))
}

func TestRunStopsOnCancel(t *testing.T) {
	ticks := make(chan uint64)
	img := buildImage("", taskSpec{name: "a", prio: 1})
	m := newMachine(t, img, Config{
		Ticks:    ticks,
		Programs: map[string]userlib.Program{"a": park},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	ticks <- 1
	ticks <- 2
	require.Eventually(t, func() bool { return m.Snapshot().Now == 2 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
