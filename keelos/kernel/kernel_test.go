package kernel

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"keel/keelos/abi"
	"keel/keelos/image"
)

func TestBootRunsHighestPriority(t *testing.T) {
	h := newHarness(t, buildImage("",
		taskSpec{name: "low", prio: 5},
		taskSpec{name: "high", prio: 1},
		taskSpec{name: "off", prio: 0, stopped: true},
	))
	require.Equal(t, "high", h.current())
	require.Equal(t, abi.StateStopped, h.state("off"))
	require.Equal(t, abi.StateRunnable, h.state("low"))
	require.False(t, h.mpu.Permits(h.base("low"), 4, abi.AttrRead))
	require.True(t, h.mpu.Permits(h.base("high"), 4, abi.AttrRead|abi.AttrWrite))
}

func TestSendReceiveReplyRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, n := range []int{0, 1, 17, 128, abi.MaxMessage} {
		h := newHarness(t, buildImage("",
			taskSpec{name: "server", prio: 1},
			taskSpec{name: "client", prio: 2},
		))
		payload := make([]byte, n)
		rng.Read(payload)

		h.recv("server", abi.AnySender, 0)
		require.Equal(t, abi.StateInRecv, h.state("server"))
		require.Equal(t, "client", h.current())

		h.send("client", h.id("server"), 7, payload)
		require.Equal(t, abi.StateInReply, h.state("client"))
		require.Equal(t, "server", h.current())

		r := h.regs("server")
		require.Equal(t, abi.ResponseOK, r[0])
		require.Equal(t, uint32(h.id("client")), r[1])
		require.Equal(t, uint32(7), r[2])
		require.Equal(t, uint32(n), r[3])
		require.Equal(t, uint32(abi.MaxMessage), r[4])
		require.Equal(t, payload, h.read("server", offRecv, uint32(n)))

		answer := bytes.Clone(payload)
		for i, j := 0, len(answer)-1; i < j; i, j = i+1, j-1 {
			answer[i], answer[j] = answer[j], answer[i]
		}
		h.reply("server", abi.TaskID(r[1]), 42, answer)
		require.Equal(t, abi.StateRunnable, h.state("client"))
		h.recv("server", abi.AnySender, 0)

		require.Equal(t, "client", h.current())
		r = h.regs("client")
		require.Equal(t, uint32(42), r[0])
		require.Equal(t, uint32(n), r[1])
		require.Equal(t, answer, h.read("client", offReply, uint32(n)))
	}
}

func TestReceiveTruncatesLongMessage(t *testing.T) {
	h := newHarness(t, buildImage("",
		taskSpec{name: "server", prio: 1},
		taskSpec{name: "client", prio: 2},
	))
	h.syscall("server", abi.SysRecv, h.base("server")+offRecv, 4, 0, uint32(abi.AnySender))
	h.send("client", h.id("server"), 1, []byte("abcdefgh"))

	r := h.regs("server")
	require.Equal(t, uint32(8), r[3])
	require.Equal(t, []byte("abcd\x00"), h.read("server", offRecv, 5))
}

func TestPeerDeathReleasesSender(t *testing.T) {
	h := newHarness(t, buildImage("",
		taskSpec{name: "b", prio: 1, notes: []string{"wake"}},
		taskSpec{name: "a", prio: 2},
	))
	h.recv("b", abi.KernelID, 1)
	h.send("a", h.id("b"), 1, []byte("hi"))
	require.Equal(t, abi.StateInSend, h.state("a"))
	require.Equal(t, "idle", h.current())

	h.syscall("idle", abi.SysPost, uint32(h.id("b")), 1)
	require.Equal(t, "b", h.current())
	h.crash("b")

	// Without a supervisor the kernel restarts b at once.
	require.Equal(t, abi.Generation(1), h.id("b").Generation())
	require.Equal(t, abi.StateRunning, h.state("b"))
	require.Equal(t, abi.StateRunnable, h.state("a"))
	gen, dead := abi.DeadGeneration(h.regs("a")[0])
	require.True(t, dead)
	require.Equal(t, abi.Generation(1), gen)

	// A stale id never reaches the new incarnation.
	h.recv("b", abi.AnySender, 0)
	h.send("a", abi.NewTaskID(h.idx("b"), 0), 1, nil)
	require.Equal(t, abi.DeadCode(1), h.regs("a")[0])
	require.Equal(t, abi.StateInRecv, h.state("b"))
}

func TestPeerDeathReleasesBlockedReceiver(t *testing.T) {
	h := newHarness(t, buildImage("",
		taskSpec{name: "a", prio: 1},
		taskSpec{name: "b", prio: 2},
	))
	h.recv("a", h.id("b"), 0)
	require.Equal(t, abi.StateInRecv, h.state("a"))
	h.crash("b")
	require.Equal(t, abi.DeadCode(1), h.regs("a")[0])
	require.Equal(t, "a", h.current())
}

func TestSupervisorRestartsFaultedTask(t *testing.T) {
	h := newHarness(t, buildImage("sup",
		taskSpec{name: "sup", prio: 0, notes: []string{"fault"}},
		taskSpec{name: "b", prio: 1, notes: []string{"wake"}},
		taskSpec{name: "a", prio: 2},
	))
	h.recv("sup", abi.KernelID, 1)
	h.recv("b", abi.KernelID, 1)
	h.send("a", h.id("b"), 1, []byte("x"))
	h.syscall("idle", abi.SysPost, uint32(h.id("b")), 1)
	h.crash("b")

	require.Equal(t, abi.StateFaulted, h.state("b"))
	require.Equal(t, abi.DeadCode(1), h.regs("a")[0])
	require.Equal(t, "sup", h.current())
	r := h.regs("sup")
	require.Equal(t, uint32(abi.KernelID), r[1])
	require.Equal(t, uint32(1), r[2])

	code, resp := h.kipc("sup", abi.KipcFindFaulted, 0)
	require.Equal(t, abi.ResponseOK, code)
	require.Equal(t, uint32(h.idx("b"))+1, binary.LittleEndian.Uint32(resp))

	code, resp = h.kipc("sup", abi.KipcFaultInfo, uint32(h.idx("b")))
	require.Equal(t, abi.ResponseOK, code)
	info, ok := abi.DecodeFaultInfo(resp)
	require.True(t, ok)
	require.Equal(t, abi.FaultUsage, info.Kind)
	require.Equal(t, abi.UsageBadSyscall, info.Usage)
	require.Equal(t, abi.StateRunning, info.Prior)

	code, resp = h.kipc("sup", abi.KipcReadTaskStatus, uint32(h.idx("b")))
	require.Equal(t, abi.ResponseOK, code)
	require.Equal(t, uint32(abi.StateFaulted), binary.LittleEndian.Uint32(resp[0:4]))
	require.Equal(t, uint32(1), binary.LittleEndian.Uint32(resp[4:8]))
	require.Equal(t, uint32(1), binary.LittleEndian.Uint32(resp[8:12]))

	code, _ = h.kipc("sup", abi.KipcRestartTask, uint32(h.idx("b")), 1)
	require.Equal(t, abi.ResponseOK, code)
	require.Equal(t, abi.StateRunnable, h.state("b"))
	require.Equal(t, uint32(1), h.k.Incarnation(h.idx("b")))

	code, resp = h.kipc("sup", abi.KipcFindFaulted, 0)
	require.Equal(t, abi.ResponseOK, code)
	require.Zero(t, binary.LittleEndian.Uint32(resp))

	code, _ = h.kipc("sup", abi.KipcReadTaskStatus, 99)
	require.Equal(t, abi.KipcErrNoSuchTask, code)
	code, _ = h.kipc("sup", abi.KipcFaultInfo)
	require.Equal(t, abi.KipcErrBadMessage, code)
}

func TestRestartTaskRequiresSupervisor(t *testing.T) {
	h := newHarness(t, buildImage("sup",
		taskSpec{name: "sup", prio: 0, notes: []string{"fault"}},
		taskSpec{name: "a", prio: 1},
	))
	h.recv("sup", abi.KernelID, 1)
	h.kipc("a", abi.KipcRestartTask, 0, 1)

	require.Equal(t, abi.StateFaulted, h.state("a"))
	require.Equal(t, abi.UsageNotSupervisor, h.status("a").LastFault.Usage)
	require.Equal(t, "sup", h.current())
}

func TestLeaseOutsideSenderRegionsFaultsSender(t *testing.T) {
	tests := []struct {
		name   string
		leases func(h *harness) []lease
	}{
		{"other task", func(h *harness) []lease {
			return []lease{{abi.LeaseRead, h.base("server") + 0x10, 4}}
		}},
		{"past end", func(h *harness) []lease {
			return []lease{{abi.LeaseRead, h.base("client") + slotSize - 2, 4}}
		}},
		{"second of two", func(h *harness) []lease {
			return []lease{
				{abi.LeaseRead, h.base("client") + offData, 4},
				{abi.LeaseRead, 0x1000_0000, 4},
			}
		}},
		{"write to read-only", func(h *harness) []lease {
			return []lease{{abi.LeaseWrite, flashBase + uint32(h.idx("client"))*slotSize, 4}}
		}},
		{"no access", func(h *harness) []lease {
			return []lease{{0, h.base("client") + offData, 4}}
		}},
		{"too many", func(h *harness) []lease {
			ls := make([]lease, abi.MaxLeases+1)
			for i := range ls {
				ls[i] = lease{abi.LeaseRead, h.base("client") + offData, 4}
			}
			return ls
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, buildImage("",
				taskSpec{name: "server", prio: 1},
				taskSpec{name: "client", prio: 2},
			))
			h.recv("server", abi.AnySender, 0)
			h.send("client", h.id("server"), 1, []byte("x"), tt.leases(h)...)

			st := h.status("client")
			require.Equal(t, abi.FaultUsage, st.LastFault.Kind)
			require.Equal(t, abi.UsageBadLease, st.LastFault.Usage)
			require.Equal(t, uint32(1), st.Faults)
			require.Equal(t, abi.Generation(1), st.Generation)
			// The receiver never saw the message.
			require.Equal(t, abi.StateInRecv, h.state("server"))
		})
	}
}

func TestRestartResetsContext(t *testing.T) {
	h := newHarness(t, buildImage("",
		taskSpec{name: "worker", prio: 1, notes: []string{"timer", "self"}},
	))
	boot := []byte("boot contents")
	require.NoError(t, h.ram.Load(h.base("worker")+offData, boot))

	const n = 5
	for i := 1; i <= n; i++ {
		h.write("worker", offData, []byte("scribbled over"))
		h.syscall("worker", abi.SysSetTimer, 1, 100, 0, 1)
		h.syscall("worker", abi.SysPost, uint32(h.id("worker")), 2)
		require.Equal(t, uint32(2), h.status("worker").Notes)
		h.crash("worker")

		st := h.status("worker")
		require.Equal(t, abi.Generation(i), st.Generation)
		require.Equal(t, uint32(i), st.Faults)
		require.Equal(t, uint32(i), st.Incarnation)
		require.Zero(t, st.Notes)
		require.Equal(t, abi.Regs{}, h.regs("worker"))
		require.Equal(t, boot, h.read("worker", offData, uint32(len(boot))))
		require.Equal(t, make([]byte, 16), h.read("worker", offData+uint32(len(boot)), 16))

		h.syscall("worker", abi.SysGetTimer)
		require.Zero(t, h.regs("worker")[2], "timer still armed")
	}
}

func TestSendersServedInArrivalOrder(t *testing.T) {
	h := newHarness(t, buildImage("",
		taskSpec{name: "server", prio: 1, notes: []string{"go"}},
		taskSpec{name: "c3", prio: 3, notes: []string{"timer"}},
		taskSpec{name: "c5", prio: 5},
	))
	h.recv("server", abi.KernelID, 1)

	// c3 sleeps so that the lower priority c5 sends first.
	h.syscall("c3", abi.SysSetTimer, 1, 2, 0, 1)
	h.recv("c3", abi.KernelID, 1)
	h.send("c5", h.id("server"), 5, []byte("from c5"))
	require.Equal(t, "idle", h.current())

	h.k.Tick()
	h.check()
	require.Equal(t, "idle", h.current())
	h.k.Tick()
	h.check()
	require.Equal(t, "c3", h.current())
	h.send("c3", h.id("server"), 3, []byte("from c3"))
	require.Equal(t, abi.StateInSend, h.state("c3"))
	require.Equal(t, abi.StateInSend, h.state("c5"))

	h.syscall("idle", abi.SysPost, uint32(h.id("server")), 1)
	require.Equal(t, "server", h.current())
	require.Equal(t, uint32(abi.KernelID), h.regs("server")[1])

	h.recv("server", abi.AnySender, 0)
	r := h.regs("server")
	require.Equal(t, uint32(h.id("c5")), r[1])
	require.Equal(t, []byte("from c5"), h.read("server", offRecv, r[3]))
	require.Equal(t, abi.StateInReply, h.state("c5"))
	require.Equal(t, abi.StateInSend, h.state("c3"))

	h.reply("server", h.id("c5"), 0, nil)
	require.Equal(t, abi.StateRunnable, h.state("c5"))
	require.Equal(t, abi.StateInSend, h.state("c3"))

	h.recv("server", abi.AnySender, 0)
	require.Equal(t, uint32(h.id("c3")), h.regs("server")[1])
}

func TestSingleShotTaskStaysDead(t *testing.T) {
	h := newHarness(t, buildImage("",
		taskSpec{name: "flaky", prio: 1, singleShot: true},
		taskSpec{name: "client", prio: 2},
	))
	stale := h.id("flaky")
	h.crash("flaky")
	require.Equal(t, abi.StateDead, h.state("flaky"))
	require.Equal(t, "client", h.current())

	for i := 0; i < 3; i++ {
		h.send("client", stale, 1, []byte("ping"))
		require.Equal(t, abi.DeadCode(1), h.regs("client")[0])

		h.syscall("client", abi.SysRefreshTaskID, uint32(stale))
		fresh := abi.TaskID(h.regs("client")[0])
		require.Equal(t, abi.Generation(1), fresh.Generation())
		h.send("client", fresh, 1, []byte("ping"))
		require.Equal(t, abi.DeadCode(1), h.regs("client")[0])

		h.syscall("client", abi.SysPost, uint32(fresh), 1)
		require.Equal(t, abi.DeadCode(1), h.regs("client")[0])

		h.k.Tick()
		h.check()
		require.Equal(t, abi.StateDead, h.state("flaky"))
	}
	require.ErrorIs(t, h.k.Restart(h.idx("flaky"), true), ErrTaskDead)
}

func TestBorrow(t *testing.T) {
	h := newHarness(t, buildImage("",
		taskSpec{name: "server", prio: 1},
		taskSpec{name: "client", prio: 2},
	))
	cb, sb := h.base("client"), h.base("server")
	h.recv("server", abi.AnySender, 0)
	h.write("client", offData, []byte("hello lease"))
	h.send("client", h.id("server"), 1, nil,
		lease{abi.LeaseRead, cb + offData, 11},
		lease{abi.LeaseWrite, cb + offData + 0x40, 8},
	)
	require.Equal(t, uint32(2), h.regs("server")[5])
	client := h.id("client")

	h.syscall("server", abi.SysBorrowInfo, uint32(client), 0)
	r := h.regs("server")
	require.Equal(t, abi.ResponseOK, r[0])
	require.Equal(t, uint32(abi.LeaseRead), r[1])
	require.Equal(t, uint32(11), r[2])

	h.syscall("server", abi.SysBorrowRead, uint32(client), 0, 6, sb+offData, 32)
	require.Equal(t, uint32(5), h.regs("server")[1])
	require.Equal(t, []byte("lease"), h.read("server", offData, 5))

	h.write("server", offOut, []byte("written!"))
	h.syscall("server", abi.SysBorrowWrite, uint32(client), 1, 0, sb+offOut, 8)
	require.Equal(t, uint32(8), h.regs("server")[1])
	require.Equal(t, []byte("written!"), h.read("client", offData+0x40, 8))

	h.reply("server", client, 0, nil)
	h.syscall("server", abi.SysBorrowInfo, uint32(client), 0)
	require.Equal(t, abi.UsageNotInReply, h.status("server").LastFault.Usage)
}

func TestBorrowWrongDirectionFaultsServer(t *testing.T) {
	h := newHarness(t, buildImage("",
		taskSpec{name: "server", prio: 1},
		taskSpec{name: "client", prio: 2},
	))
	h.recv("server", abi.AnySender, 0)
	h.send("client", h.id("server"), 1, nil, lease{abi.LeaseWrite, h.base("client") + offData, 8})
	h.syscall("server", abi.SysBorrowRead, uint32(h.id("client")), 0, 0, h.base("server")+offData, 8)

	require.Equal(t, abi.UsageBadLease, h.status("server").LastFault.Usage)
	// The client is released with the server's new generation.
	require.Equal(t, abi.DeadCode(1), h.regs("client")[0])
}

func TestBorrowFromRestartedSender(t *testing.T) {
	h := newHarness(t, buildImage("",
		taskSpec{name: "server", prio: 1},
		taskSpec{name: "client", prio: 2},
	))
	h.recv("server", abi.AnySender, 0)
	h.send("client", h.id("server"), 1, nil, lease{abi.LeaseRead, h.base("client") + offData, 8})
	stale := h.id("client")
	require.NoError(t, h.k.Inject(h.idx("client"), abi.FaultInfo{Kind: abi.FaultInjected, Source: abi.KernelID}))

	h.syscall("server", abi.SysBorrowRead, uint32(stale), 0, 0, h.base("server")+offData, 8)
	require.Equal(t, abi.DeadCode(1), h.regs("server")[0])
	require.Zero(t, h.status("server").Faults)

	h.reply("server", stale, 0, []byte("late"))
	require.Zero(t, h.status("server").Faults)
	require.Equal(t, abi.Regs{}, h.regs("client"))
}

func TestReplyTooLargeFaultsReplier(t *testing.T) {
	h := newHarness(t, buildImage("",
		taskSpec{name: "server", prio: 1},
		taskSpec{name: "client", prio: 2},
	))
	h.recv("server", abi.AnySender, 0)
	h.sendCap("client", h.id("server"), 1, nil, 4)
	h.reply("server", h.id("client"), 0, []byte("too long"))

	require.Equal(t, abi.UsageReplyTooLarge, h.status("server").LastFault.Usage)
	require.Equal(t, abi.DeadCode(1), h.regs("client")[0])
}

func TestReplyWithDeadCodeFaultsReplier(t *testing.T) {
	h := newHarness(t, buildImage("",
		taskSpec{name: "server", prio: 1},
		taskSpec{name: "client", prio: 2},
	))
	h.recv("server", abi.AnySender, 0)
	h.send("client", h.id("server"), 1, nil)
	h.reply("server", h.id("client"), abi.DeadCode(7), nil)

	require.Equal(t, abi.UsageBadResponse, h.status("server").LastFault.Usage)
	gen, dead := abi.DeadGeneration(h.regs("client")[0])
	require.True(t, dead)
	require.Equal(t, abi.Generation(1), gen)
	require.Equal(t, gen, h.status("server").Generation)
}

func TestSupervisorDeathLeavesNoTaskStranded(t *testing.T) {
	h := newHarness(t, buildImage("sup",
		taskSpec{name: "sup", prio: 0, notes: []string{"fault"}},
		taskSpec{name: "worker", prio: 1},
	))
	// Images that pass validation cannot produce this; force it.
	h.img.Tasks[h.idx("sup")].Policy = image.RestartSingleShot
	h.crash("sup")
	require.Equal(t, abi.StateDead, h.state("sup"))
	require.Equal(t, "worker", h.current())

	h.crash("worker")
	require.Equal(t, abi.StateRunning, h.state("worker"))
	require.Equal(t, abi.Generation(1), h.status("worker").Generation)
	require.Equal(t, uint32(1), h.k.Incarnation(h.idx("worker")))
	require.Zero(t, h.status("sup").Notes)
}

func TestSupervisorDeathReleasesWaitingTasks(t *testing.T) {
	h := newHarness(t, buildImage("sup",
		taskSpec{name: "sup", prio: 0, notes: []string{"fault"}},
		taskSpec{name: "worker", prio: 1},
	))
	h.img.Tasks[h.idx("sup")].Policy = image.RestartSingleShot
	require.NoError(t, h.k.Inject(h.idx("worker"), abi.FaultInfo{Kind: abi.FaultInjected}))
	h.check()
	require.Equal(t, abi.StateFaulted, h.state("worker"))

	h.crash("sup")
	require.Equal(t, abi.StateDead, h.state("sup"))
	require.Equal(t, abi.StateRunning, h.state("worker"))
	require.Equal(t, uint32(1), h.k.Incarnation(h.idx("worker")))
}

func TestReplyIsOneShot(t *testing.T) {
	h := newHarness(t, buildImage("",
		taskSpec{name: "server", prio: 1},
		taskSpec{name: "client", prio: 2},
	))
	h.recv("server", abi.AnySender, 0)
	h.send("client", h.id("server"), 1, nil)
	h.reply("server", h.id("client"), 1, []byte("one"))
	h.reply("server", h.id("client"), 2, []byte("two"))

	require.Zero(t, h.status("server").Faults)
	require.Equal(t, uint32(1), h.regs("client")[0])
	require.Equal(t, []byte("one"), h.read("client", offReply, 3))
}

func TestOpenReceivePrefersSenders(t *testing.T) {
	h := newHarness(t, buildImage("",
		taskSpec{name: "client", prio: 2},
		taskSpec{name: "server", prio: 3, notes: []string{"n"}},
	))
	h.syscall("client", abi.SysPost, uint32(h.id("server")), 1)
	h.send("client", h.id("server"), 9, []byte("msg"))

	h.recv("server", abi.AnySender, 1)
	r := h.regs("server")
	require.Equal(t, uint32(h.id("client")), r[1])
	require.Equal(t, uint32(9), r[2])

	h.reply("server", h.id("client"), 0, nil)
	require.Equal(t, "client", h.current())
	h.recv("client", abi.KernelID, 0)

	h.recv("server", abi.AnySender, 1)
	r = h.regs("server")
	require.Equal(t, uint32(abi.KernelID), r[1])
	require.Equal(t, uint32(1), r[2])
	require.Zero(t, h.status("server").Notes)
}

func TestClosedReceiveIgnoresOthers(t *testing.T) {
	h := newHarness(t, buildImage("",
		taskSpec{name: "server", prio: 1, notes: []string{"n"}},
		taskSpec{name: "a", prio: 2},
		taskSpec{name: "b", prio: 3},
	))
	h.recv("server", h.id("b"), 1)
	h.send("a", h.id("server"), 1, nil)
	h.syscall("b", abi.SysPost, uint32(h.id("server")), 1)
	require.Equal(t, abi.StateInRecv, h.state("server"))

	h.send("b", h.id("server"), 2, nil)
	require.Equal(t, "server", h.current())
	require.Equal(t, uint32(h.id("b")), h.regs("server")[1])
	require.Equal(t, abi.StateInSend, h.state("a"))
}

func TestTimerWakesTask(t *testing.T) {
	h := newHarness(t, buildImage("",
		taskSpec{name: "sleeper", prio: 1, notes: []string{"timer"}},
	))
	h.syscall("sleeper", abi.SysSetTimer, 1, 2, 0, 1)
	h.recv("sleeper", abi.KernelID, 1)
	h.k.Tick()
	h.check()
	require.Equal(t, abi.StateInRecv, h.state("sleeper"))
	h.k.Tick()
	h.check()
	require.Equal(t, "sleeper", h.current())
	require.Equal(t, uint32(1), h.regs("sleeper")[2])

	h.syscall("sleeper", abi.SysGetTimer)
	r := h.regs("sleeper")
	require.Equal(t, uint32(2), r[0])
	require.Zero(t, r[2])

	// A deadline in the past fires at once.
	h.syscall("sleeper", abi.SysSetTimer, 1, 1, 0, 1)
	require.Equal(t, uint32(1), h.status("sleeper").Notes)
}

func TestWatchdog(t *testing.T) {
	h := newHarness(t, buildImage("",
		taskSpec{name: "spin", prio: 1, watchdog: 3},
	))
	h.k.Tick()
	h.k.Tick()
	h.syscall("spin", abi.SysGetTimer)
	h.k.Tick()
	h.k.Tick()
	require.Zero(t, h.status("spin").Faults)

	h.k.Tick()
	h.check()
	st := h.status("spin")
	require.Equal(t, uint32(1), st.Faults)
	require.Equal(t, abi.FaultTimeout, st.LastFault.Kind)
	require.Equal(t, "spin", h.current())
}

func TestInterruptMaskAndLatch(t *testing.T) {
	img := buildImage("", taskSpec{name: "drv", prio: 1, notes: []string{"irq"}})
	img.IRQs = []image.IRQ{{Line: 7, Task: 0, Bits: 1}}
	h := newHarness(t, img)

	h.recv("drv", abi.KernelID, 1)
	h.k.Interrupt(7)
	h.check()
	require.Equal(t, "drv", h.current())
	require.Equal(t, uint32(1), h.regs("drv")[2])
	require.False(t, h.k.IRQEnabled(7))

	// Fires while masked: latched, not lost.
	h.k.Interrupt(7)
	require.Zero(t, h.status("drv").Notes)
	h.syscall("drv", abi.SysIRQControl, 1, 1)
	require.Equal(t, uint32(1), h.status("drv").Notes)
	require.False(t, h.k.IRQEnabled(7))

	h.recv("drv", abi.KernelID, 1)
	require.Equal(t, "drv", h.current())
	h.syscall("drv", abi.SysIRQControl, 1, 1)
	require.True(t, h.k.IRQEnabled(7))

	h.k.Interrupt(99)
	require.Contains(t, h.log.lines[len(h.log.lines)-1], "spurious irq 99")
}

func TestTickRotatesEqualPriorities(t *testing.T) {
	h := newHarness(t, buildImage("",
		taskSpec{name: "a", prio: 2},
		taskSpec{name: "b", prio: 2},
	))
	require.Equal(t, "a", h.current())
	h.syscall("a", abi.SysGetTimer)
	require.Equal(t, "a", h.current())

	h.k.Tick()
	h.check()
	require.Equal(t, "b", h.current())
	h.k.Tick()
	h.check()
	require.Equal(t, "a", h.current())
	require.Equal(t, uint64(2), h.k.Switches())
}

func TestUsageFaults(t *testing.T) {
	tests := []struct {
		name string
		do   func(h *harness)
		want abi.UsageError
	}{
		{"bad syscall", func(h *harness) { h.crash("a") }, abi.UsageBadSyscall},
		{"send to self", func(h *harness) { h.send("a", h.id("a"), 1, nil) }, abi.UsageSendToSelf},
		{"bad index", func(h *harness) { h.send("a", abi.NewTaskID(40, 0), 1, nil) }, abi.UsageBadTaskIndex},
		{"message too large", func(h *harness) {
			h.syscall("a", abi.SysSend, uint32(h.id("b")), 1, h.base("a"), abi.MaxMessage+1, 0, 0, 0, 0)
		}, abi.UsageMessageTooLarge},
		{"buffer outside regions", func(h *harness) {
			h.syscall("a", abi.SysRecv, h.base("b"), 16, 0, uint32(abi.AnySender))
		}, abi.UsageBadBuffer},
		{"reply buffer read-only", func(h *harness) {
			h.syscall("a", abi.SysSend, uint32(h.id("b")), 1, 0, 0, flashBase, 16, 0, 0)
		}, abi.UsageBadBuffer},
		{"unknown kernel op", func(h *harness) { h.send("a", abi.KernelID, 0x99, nil) }, abi.UsageBadKernelMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, buildImage("",
				taskSpec{name: "a", prio: 1},
				taskSpec{name: "b", prio: 2},
			))
			tt.do(h)
			st := h.status("a")
			require.Equal(t, uint32(1), st.Faults)
			require.Equal(t, abi.FaultUsage, st.LastFault.Kind)
			require.Equal(t, tt.want, st.LastFault.Usage)
		})
	}
}

func TestReplyFault(t *testing.T) {
	h := newHarness(t, buildImage("",
		taskSpec{name: "server", prio: 1},
		taskSpec{name: "client", prio: 2},
	))
	h.recv("server", abi.AnySender, 0)
	h.send("client", h.id("server"), 1, []byte("garbage"))
	h.syscall("server", abi.SysReplyFault, uint32(h.id("client")), 3)

	st := h.status("client")
	require.Equal(t, abi.FaultInjected, st.LastFault.Kind)
	require.Equal(t, h.id("server"), st.LastFault.Source)
	require.Equal(t, uint32(3), st.LastFault.Reason)
	require.Equal(t, abi.StateInReply, st.LastFault.Prior)
	require.Zero(t, h.status("server").Faults)
}

func TestIdleMayNotBlock(t *testing.T) {
	h := newHarness(t, buildImage("", taskSpec{name: "a", prio: 1}))
	h.recv("a", abi.KernelID, 1)
	h.recv("idle", abi.KernelID, 1)
	require.Equal(t, "idle", h.current())
	st := h.status("idle")
	require.Equal(t, uint32(1), st.Faults)
	require.Equal(t, abi.StateRunning, st.State)
}

func TestStoppedTaskStartedBySupervisor(t *testing.T) {
	h := newHarness(t, buildImage("sup",
		taskSpec{name: "sup", prio: 0, notes: []string{"fault"}},
		taskSpec{name: "server", prio: 1, stopped: true},
		taskSpec{name: "client", prio: 2},
	))
	h.recv("sup", abi.KernelID, 1)
	h.send("client", h.id("server"), 1, []byte("queued"))
	require.Equal(t, abi.StateInSend, h.state("client"))

	require.NoError(t, h.k.Restart(h.idx("server"), true))
	h.check()
	require.Equal(t, "server", h.current())
	require.Equal(t, abi.Generation(0), h.id("server").Generation())
	h.recv("server", abi.AnySender, 0)
	require.Equal(t, []byte("queued"), h.read("server", offRecv, 6))
}
